package recorder

import (
	"context"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

// Reviser rewrites a step list from natural-language feedback.
type Reviser interface {
	ReviseSteps(ctx context.Context, tc *domain.TestCase, feedback string) ([]domain.Step, error)
}

// ApplyRevision replaces the test case's steps with the reviser's output.
// The whole case is revalidated first; on any error the case is left
// untouched.
func ApplyRevision(ctx context.Context, r Reviser, tc *domain.TestCase, feedback string) error {
	steps, err := r.ReviseSteps(ctx, tc, feedback)
	if err != nil {
		return err
	}

	revised := *tc
	revised.Steps = steps
	if err := revised.Validate(); err != nil {
		return err
	}
	for i := range steps {
		if err := steps[i].Validate(); err != nil {
			return err
		}
	}

	tc.Steps = steps
	return nil
}
