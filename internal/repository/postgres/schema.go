package postgres

import (
	"context"
	"fmt"
)

// schema is applied at startup. Statements are idempotent so repeated
// migration is safe.
const schema = `
CREATE TABLE IF NOT EXISTS test_cases (
    id                  UUID NOT NULL,
    name                TEXT PRIMARY KEY,
    feature_description TEXT NOT NULL DEFAULT '',
    recorded_at         TIMESTAMPTZ NOT NULL,
    steps               JSONB NOT NULL DEFAULT '[]',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS test_runs (
    run_id           UUID PRIMARY KEY,
    test_name        TEXT NOT NULL,
    status           TEXT NOT NULL,
    message          TEXT NOT NULL DEFAULT '',
    fail_fast        BOOLEAN NOT NULL DEFAULT true,
    steps_executed   INTEGER NOT NULL DEFAULT 0,
    failed_step      INTEGER,
    healing_attempts INTEGER NOT NULL DEFAULT 0,
    healed_steps     INTEGER NOT NULL DEFAULT 0,
    started_at       TIMESTAMPTZ NOT NULL,
    completed_at     TIMESTAMPTZ NOT NULL,
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    payload          JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_test_runs_test_name
    ON test_runs (test_name, started_at DESC);
`

// Migrate applies the schema.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
