package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

// TestCaseRepository implements domain.TestCaseRepository with PostgreSQL.
type TestCaseRepository struct {
	db *sqlx.DB
}

// NewTestCaseRepository creates a test case repository.
func NewTestCaseRepository(db *sqlx.DB) *TestCaseRepository {
	return &TestCaseRepository{db: db}
}

type testCaseRow struct {
	ID                 uuid.UUID `db:"id"`
	Name               string    `db:"name"`
	FeatureDescription string    `db:"feature_description"`
	RecordedAt         time.Time `db:"recorded_at"`
	Steps              []byte    `db:"steps"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (r *testCaseRow) toDomain() (*domain.TestCase, error) {
	tc := &domain.TestCase{
		ID:                 r.ID,
		Name:               r.Name,
		FeatureDescription: r.FeatureDescription,
		RecordedAt:         r.RecordedAt,
	}
	if r.Steps != nil {
		if err := json.Unmarshal(r.Steps, &tc.Steps); err != nil {
			return nil, err
		}
	}
	return tc, nil
}

// Save upserts a test case by name, replacing the stored steps.
func (r *TestCaseRepository) Save(ctx context.Context, tc *domain.TestCase) error {
	if err := tc.Validate(); err != nil {
		return err
	}

	steps := tc.Steps
	if steps == nil {
		steps = []domain.Step{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO test_cases (id, name, feature_description, recorded_at, steps, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (name) DO UPDATE
		SET feature_description = EXCLUDED.feature_description,
		    recorded_at = EXCLUDED.recorded_at,
		    steps = EXCLUDED.steps,
		    updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		tc.ID,
		tc.Name,
		tc.FeatureDescription,
		tc.RecordedAt,
		stepsJSON,
		time.Now().UTC(),
	)
	return err
}

// GetByName retrieves a test case by its recorded name.
func (r *TestCaseRepository) GetByName(ctx context.Context, name string) (*domain.TestCase, error) {
	query := `
		SELECT id, name, feature_description, recorded_at, steps, created_at, updated_at
		FROM test_cases
		WHERE name = $1
	`

	var row testCaseRow
	if err := r.db.GetContext(ctx, &row, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundError("test case", name)
		}
		return nil, err
	}

	return row.toDomain()
}

// List retrieves all stored test cases ordered by name.
func (r *TestCaseRepository) List(ctx context.Context) ([]*domain.TestCase, error) {
	query := `
		SELECT id, name, feature_description, recorded_at, steps, created_at, updated_at
		FROM test_cases
		ORDER BY name
	`

	var rows []testCaseRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	cases := make([]*domain.TestCase, len(rows))
	for i, row := range rows {
		tc, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		cases[i] = tc
	}
	return cases, nil
}

// Delete removes a stored test case.
func (r *TestCaseRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM test_cases WHERE name = $1`, name)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.NotFoundError("test case", name)
	}
	return nil
}
