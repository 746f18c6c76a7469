package postgres

import (
	"context"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testDB holds the containerized database for one test.
type testDB struct {
	container testcontainers.Container
	db        *DB
}

// setupTestDB starts a PostgreSQL container and applies the schema. Tests
// calling it must be guarded by testing.Short.
func setupTestDB(t *testing.T) *testDB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("stepflow_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("starting postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("getting connection string: %v", err)
	}

	db, err := NewFromDSN(connStr)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("connecting: %v", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		container.Terminate(ctx)
		t.Fatalf("migrating: %v", err)
	}

	td := &testDB{container: container, db: db}
	t.Cleanup(func() {
		td.db.Close()
		td.container.Terminate(context.Background())
	})
	return td
}
