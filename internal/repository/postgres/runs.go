package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

// RunRepository implements domain.ExecutionResultRepository with
// PostgreSQL. The full result is stored as one JSONB payload; scalar
// columns mirror the queryable fields.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository creates a run repository.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Save inserts a finished run. Saving the same run id twice replaces the
// stored result.
func (r *RunRepository) Save(ctx context.Context, result *domain.ExecutionResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO test_runs (
			run_id, test_name, status, message, fail_fast,
			steps_executed, failed_step, healing_attempts, healed_steps,
			started_at, completed_at, duration_seconds, payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_id) DO UPDATE
		SET status = EXCLUDED.status,
		    message = EXCLUDED.message,
		    steps_executed = EXCLUDED.steps_executed,
		    failed_step = EXCLUDED.failed_step,
		    healing_attempts = EXCLUDED.healing_attempts,
		    healed_steps = EXCLUDED.healed_steps,
		    completed_at = EXCLUDED.completed_at,
		    duration_seconds = EXCLUDED.duration_seconds,
		    payload = EXCLUDED.payload
	`

	_, err = r.db.ExecContext(ctx, query,
		result.RunID,
		result.TestName,
		string(result.Status),
		result.Message,
		result.FailFast,
		result.StepsExecuted,
		result.FailedStep,
		result.HealingAttempts,
		result.HealedSteps,
		result.StartedAt,
		result.CompletedAt,
		result.DurationSeconds,
		payload,
	)
	return err
}

// GetByRunID retrieves a run result by its id.
func (r *RunRepository) GetByRunID(ctx context.Context, runID uuid.UUID) (*domain.ExecutionResult, error) {
	var payload []byte
	err := r.db.GetContext(ctx, &payload, `SELECT payload FROM test_runs WHERE run_id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError("run", runID)
	}
	if err != nil {
		return nil, err
	}

	var result domain.ExecutionResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListByTestName retrieves all runs of the named test, newest first.
func (r *RunRepository) ListByTestName(ctx context.Context, testName string) ([]*domain.ExecutionResult, error) {
	var payloads [][]byte
	query := `SELECT payload FROM test_runs WHERE test_name = $1 ORDER BY started_at DESC`
	if err := r.db.SelectContext(ctx, &payloads, query, testName); err != nil {
		return nil, err
	}

	results := make([]*domain.ExecutionResult, len(payloads))
	for i, payload := range payloads {
		var result domain.ExecutionResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, err
		}
		results[i] = &result
	}
	return results, nil
}
