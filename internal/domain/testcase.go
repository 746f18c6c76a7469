package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TestCase is an ordered, immutable sequence of recorded steps plus the
// metadata needed to replay and report on them. The JSON form is the wire
// contract between the recorder and the executor and round-trips losslessly.
type TestCase struct {
	// ID is runtime identity only; the file wire format addresses test cases
	// by name
	ID uuid.UUID `json:"-" db:"id"`

	// Name is the unique test name
	Name string `json:"test_name" db:"name"`

	// FeatureDescription is the free-text description of the covered journey
	FeatureDescription string `json:"feature_description" db:"feature_description"`

	// RecordedAt is the capture timestamp (UTC, ISO-8601 on the wire)
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`

	// Steps in replay order; step ids are 1-based and contiguous
	Steps []Step `json:"steps"`
}

// NewTestCase creates an empty test case owned by the recording session.
func NewTestCase(name, featureDescription string) *TestCase {
	return &TestCase{
		ID:                 uuid.New(),
		Name:               name,
		FeatureDescription: featureDescription,
		RecordedAt:         time.Now().UTC(),
	}
}

// NextStepID returns the id the next recorded step must carry.
func (tc *TestCase) NextStepID() int {
	return len(tc.Steps) + 1
}

// AppendStep validates the step and enforces the contiguous id invariant
// before adding it.
func (tc *TestCase) AppendStep(step Step) error {
	if step.StepID != tc.NextStepID() {
		return ErrInvalidStep(step.StepID, fmt.Sprintf("expected step_id %d", tc.NextStepID()))
	}
	if err := step.Validate(); err != nil {
		return err
	}
	tc.Steps = append(tc.Steps, step)
	return nil
}

// Validate checks the whole-case invariants: non-empty name and strictly
// contiguous 1-based step ids.
func (tc *TestCase) Validate() error {
	if strings.TrimSpace(tc.Name) == "" {
		return ErrInvalidStep(0, "test_name must not be empty")
	}
	for i, step := range tc.Steps {
		if step.StepID != i+1 {
			return ErrInvalidStep(step.StepID, fmt.Sprintf("step ids must be contiguous, expected %d", i+1))
		}
	}
	return nil
}

// UnmarshalJSON decodes a test case and rejects broken step sequences at
// parse time. Individual steps validate themselves during decode.
func (tc *TestCase) UnmarshalJSON(data []byte) error {
	type alias TestCase
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*tc = TestCase(a)
	return tc.Validate()
}

// SafeName returns the test name reduced to filesystem-safe characters,
// used for file names and evidence paths.
func (tc *TestCase) SafeName() string {
	return SafeName(tc.Name)
}

// SafeName maps a test name onto [A-Za-z0-9_-] for use in paths.
func SafeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}

// TestCaseRepository persists test cases by name.
type TestCaseRepository interface {
	Save(ctx context.Context, tc *TestCase) error
	GetByName(ctx context.Context, name string) (*TestCase, error)
	List(ctx context.Context) ([]*TestCase, error)
	Delete(ctx context.Context, name string) error
}
