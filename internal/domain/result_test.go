package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewExecutionResult(t *testing.T) {
	r := NewExecutionResult("login flow")

	if r.RunID == uuid.Nil {
		t.Error("RunID should not be nil")
	}
	if r.TestName != "login flow" {
		t.Errorf("TestName = %q", r.TestName)
	}
	if r.Status != RunStatusRunning {
		t.Errorf("Status = %v, want %v", r.Status, RunStatusRunning)
	}
	if r.StartedAt.IsZero() {
		t.Error("StartedAt should not be zero")
	}
}

func TestExecutionResult_RecordStep(t *testing.T) {
	r := NewExecutionResult("t")

	r.RecordStep(StepResult{StepID: 1, Action: ActionNavigate, Status: StepStatusPassed})
	r.RecordStep(StepResult{StepID: 2, Action: ActionClick, Status: StepStatusHealed, HealedSelector: "#new"})
	r.RecordStep(StepResult{
		StepID: 3, Action: ActionAssertVisible, Status: StepStatusFailed,
		FailureReason: "element not visible",
		Evidence:      &Evidence{ScreenshotPath: "output/failure_t_step3.png"},
	})
	r.RecordStep(StepResult{StepID: 4, Action: ActionClick, Status: StepStatusSkipped})

	if r.StepsExecuted != 3 {
		t.Errorf("StepsExecuted = %d, want 3 (skipped steps do not count)", r.StepsExecuted)
	}
	if r.HealedSteps != 1 {
		t.Errorf("HealedSteps = %d, want 1", r.HealedSteps)
	}
	if r.FailedStep == nil || *r.FailedStep != 3 {
		t.Errorf("FailedStep = %v, want 3", r.FailedStep)
	}
	if r.Message != "element not visible" {
		t.Errorf("Message = %q", r.Message)
	}
	if r.ScreenshotOnFailure != "output/failure_t_step3.png" {
		t.Errorf("ScreenshotOnFailure = %q", r.ScreenshotOnFailure)
	}
}

func TestExecutionResult_Finalize_Failed(t *testing.T) {
	r := NewExecutionResult("t")
	r.RecordStep(StepResult{StepID: 1, Status: StepStatusPassed})
	r.RecordStep(StepResult{StepID: 2, Status: StepStatusFailed, FailureReason: "boom"})
	r.Finalize()

	if r.Status != RunStatusFailed {
		t.Errorf("Status = %v, want %v", r.Status, RunStatusFailed)
	}
	if r.Passed() {
		t.Error("failed run should not report Passed")
	}
	if r.CompletedAt.IsZero() {
		t.Error("CompletedAt should be set")
	}
	if r.DurationSeconds < 0 {
		t.Errorf("DurationSeconds = %v", r.DurationSeconds)
	}
}

func TestExecutionResult_Finalize_HealedBeatsPassed(t *testing.T) {
	r := NewExecutionResult("t")
	r.RecordStep(StepResult{StepID: 1, Status: StepStatusPassed})
	r.RecordStep(StepResult{StepID: 2, Status: StepStatusHealed})
	r.Finalize()

	if r.Status != RunStatusHealed {
		t.Errorf("Status = %v, want %v (healing must stay visible)", r.Status, RunStatusHealed)
	}
	if !r.Passed() {
		t.Error("healed run should still report Passed")
	}
}

func TestExecutionResult_Finalize_AllPassed(t *testing.T) {
	r := NewExecutionResult("t")
	r.RecordStep(StepResult{StepID: 1, Status: StepStatusPassed})
	r.Finalize()

	if r.Status != RunStatusPassed {
		t.Errorf("Status = %v, want %v", r.Status, RunStatusPassed)
	}
	if !r.Passed() {
		t.Error("passing run should report Passed")
	}
}

func TestExecutionResult_FailedBeatsHealed(t *testing.T) {
	r := NewExecutionResult("t")
	r.RecordStep(StepResult{StepID: 1, Status: StepStatusHealed})
	r.RecordStep(StepResult{StepID: 2, Status: StepStatusFailed, FailureReason: "assert failed"})
	r.Finalize()

	if r.Status != RunStatusFailed {
		t.Errorf("Status = %v, want %v", r.Status, RunStatusFailed)
	}
}
