package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StepStatus is the per-step outcome of a replay.
type StepStatus string

const (
	StepStatusPassed StepStatus = "passed"
	StepStatusFailed StepStatus = "failed"
	// StepStatusHealed - the recorded selector failed but the self-healer
	// found a replacement and the step then passed. Distinct from passed so
	// callers see the drift signal.
	StepStatusHealed  StepStatus = "healed-passed"
	StepStatusSkipped StepStatus = "skipped"
)

// RunStatus is the aggregate outcome of a test case run.
type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusPassed  RunStatus = "passed"
	RunStatusFailed  RunStatus = "failed"
	RunStatusHealed  RunStatus = "healed-passed"
)

// ConsoleEntry is one captured browser console message.
type ConsoleEntry struct {
	Level     string    `json:"level"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Evidence references the artifacts captured for a step.
type Evidence struct {
	ScreenshotPath string         `json:"screenshot_path,omitempty"`
	ConsoleTail    []ConsoleEntry `json:"console_tail,omitempty"`
}

// Visual check statuses.
const (
	VisualCheckPassed          = "passed"
	VisualCheckFailed          = "failed"
	VisualCheckLLMOverride     = "passed_llm_override"
	VisualCheckBaselineCreated = "baseline_created"
)

// VisualCheck records one visual baseline comparison, whether it passed on
// pixels, on judge override, or seeded a missing baseline.
type VisualCheck struct {
	StepID               int     `json:"step_id"`
	BaselineID           string  `json:"baseline_id"`
	Status               string  `json:"status"`
	PixelDifferenceRatio float64 `json:"pixel_difference_ratio"`
	MismatchedPixels     int     `json:"mismatched_pixels"`
	PixelThreshold       float64 `json:"pixel_threshold"`
	LLMOverride          bool    `json:"llm_override,omitempty"`
	LLMReasoning         string  `json:"llm_reasoning,omitempty"`
	DiffImagePath        string  `json:"diff_image_path,omitempty"`
}

// Passed reports whether the comparison counts as a pass.
func (v *VisualCheck) Passed() bool {
	switch v.Status {
	case VisualCheckPassed, VisualCheckLLMOverride, VisualCheckBaselineCreated:
		return true
	}
	return false
}

// StepResult is the outcome of replaying one step.
type StepResult struct {
	StepID         int        `json:"step_id"`
	Action         Action     `json:"action"`
	Status         StepStatus `json:"status"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	HealedSelector string     `json:"healed_selector,omitempty"`
	Evidence       *Evidence  `json:"evidence,omitempty"`
	DurationMS     int64      `json:"duration_ms"`
}

// ExecutionResult aggregates a full replay of one test case.
type ExecutionResult struct {
	RunID    uuid.UUID `json:"run_id" db:"run_id"`
	TestName string    `json:"test_name" db:"test_name"`
	Status   RunStatus `json:"status" db:"status"`
	Message  string    `json:"message,omitempty" db:"message"`

	// FailFast records the halt policy the run executed under, so results
	// are never silently inconsistent across runs
	FailFast bool `json:"fail_fast" db:"fail_fast"`

	StepResults     []StepResult `json:"step_results"`
	StepsExecuted   int          `json:"steps_executed" db:"steps_executed"`
	FailedStep      *int         `json:"failed_step,omitempty" db:"failed_step"`
	HealingAttempts int          `json:"healing_attempts" db:"healing_attempts"`
	HealedSteps     int          `json:"healed_steps_count" db:"healed_steps"`

	ScreenshotOnFailure string         `json:"screenshot_on_failure,omitempty"`
	ConsoleOnFailure    []ConsoleEntry `json:"console_messages_on_failure,omitempty"`
	ConsoleLog          []ConsoleEntry `json:"all_console_messages,omitempty"`

	VisualChecks []VisualCheck `json:"visual_check_results,omitempty"`

	StartedAt       time.Time `json:"started_at" db:"started_at"`
	CompletedAt     time.Time `json:"completed_at" db:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds" db:"duration_seconds"`
}

// NewExecutionResult starts a result for one run of the named test.
func NewExecutionResult(testName string) *ExecutionResult {
	return &ExecutionResult{
		RunID:     uuid.New(),
		TestName:  testName,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// RecordStep appends a step outcome and keeps the aggregate counters in sync.
func (r *ExecutionResult) RecordStep(sr StepResult) {
	r.StepResults = append(r.StepResults, sr)
	if sr.Status != StepStatusSkipped {
		r.StepsExecuted++
	}
	if sr.Status == StepStatusHealed {
		r.HealedSteps++
	}
	if sr.Status == StepStatusFailed && r.FailedStep == nil {
		id := sr.StepID
		r.FailedStep = &id
		r.Message = sr.FailureReason
		if sr.Evidence != nil {
			r.ScreenshotOnFailure = sr.Evidence.ScreenshotPath
			r.ConsoleOnFailure = sr.Evidence.ConsoleTail
		}
	}
}

// RecordVisualCheck appends a visual comparison record.
func (r *ExecutionResult) RecordVisualCheck(vc VisualCheck) {
	r.VisualChecks = append(r.VisualChecks, vc)
}

// Finalize stamps timing and derives the aggregate status: failed when any
// step failed, healed-passed when everything passed but at least one step
// healed, passed otherwise.
func (r *ExecutionResult) Finalize() {
	r.CompletedAt = time.Now().UTC()
	r.DurationSeconds = r.CompletedAt.Sub(r.StartedAt).Seconds()

	switch {
	case r.FailedStep != nil:
		r.Status = RunStatusFailed
	case r.HealedSteps > 0:
		r.Status = RunStatusHealed
		if r.Message == "" {
			r.Message = "passed with healed selectors"
		}
	default:
		r.Status = RunStatusPassed
	}
}

// Passed reports whether the run succeeded, healed or not.
func (r *ExecutionResult) Passed() bool {
	return r.Status == RunStatusPassed || r.Status == RunStatusHealed
}

// ExecutionResultRepository persists run results.
type ExecutionResultRepository interface {
	Save(ctx context.Context, result *ExecutionResult) error
	GetByRunID(ctx context.Context, runID uuid.UUID) (*ExecutionResult, error)
	ListByTestName(ctx context.Context, testName string) ([]*ExecutionResult, error)
}
