// Package report renders finished runs as human-readable reports: a
// structured summary model plus a standalone HTML document.
package report

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

// Summary is the render model for one finished run.
type Summary struct {
	RunID       string
	TestName    string
	Feature     string
	Status      string
	Message     string
	GeneratedAt time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    string

	StepsTotal    int
	StepsExecuted int
	Passed        int
	Failed        int
	Healed        int
	Skipped       int

	HealingAttempts int

	Steps        []StepLine
	HealedSteps  []HealedStep
	VisualChecks []VisualLine

	FailureScreenshot string
	ConsoleTail       []ConsoleLine
}

// StepLine is one row of the per-step table.
type StepLine struct {
	StepID      int
	Action      string
	Description string
	Status      string
	Reason      string
	Selector    string
	DurationMS  int64
	Screenshot  string
}

// HealedStep pairs a drifted recorded selector with its replacement.
type HealedStep struct {
	StepID           int
	Description      string
	RecordedSelector string
	HealedSelector   string
}

// VisualLine is one visual baseline comparison.
type VisualLine struct {
	StepID     int
	BaselineID string
	Status     string
	DiffRatio  float64
	Threshold  float64
	Overridden bool
	Reasoning  string
	DiffImage  string
}

// ConsoleLine is one captured browser console message.
type ConsoleLine struct {
	Level string
	Text  string
}

// BuildSummary derives the render model from a finished result. tc supplies
// recorded descriptions and selectors; it may be nil when the run is viewed
// without its test case, in which case those columns stay empty.
func BuildSummary(tc *domain.TestCase, result *domain.ExecutionResult) *Summary {
	s := &Summary{
		RunID:           result.RunID.String(),
		TestName:        result.TestName,
		Status:          string(result.Status),
		Message:         result.Message,
		GeneratedAt:     time.Now().UTC(),
		StartedAt:       result.StartedAt,
		CompletedAt:     result.CompletedAt,
		Duration:        formatDuration(result.DurationSeconds),
		StepsExecuted:   result.StepsExecuted,
		HealingAttempts: result.HealingAttempts,

		FailureScreenshot: result.ScreenshotOnFailure,
	}

	recorded := map[int]domain.Step{}
	if tc != nil {
		s.Feature = tc.FeatureDescription
		s.StepsTotal = len(tc.Steps)
		for _, step := range tc.Steps {
			recorded[step.StepID] = step
		}
	}

	for _, sr := range result.StepResults {
		rec, known := recorded[sr.StepID]

		line := StepLine{
			StepID:     sr.StepID,
			Action:     string(sr.Action),
			Status:     string(sr.Status),
			Reason:     sr.FailureReason,
			DurationMS: sr.DurationMS,
		}
		if known {
			line.Description = rec.Description
			line.Selector = rec.PrimarySelector()
		}
		if sr.HealedSelector != "" {
			line.Selector = sr.HealedSelector
		}
		if sr.Evidence != nil {
			line.Screenshot = sr.Evidence.ScreenshotPath
		}
		s.Steps = append(s.Steps, line)

		switch sr.Status {
		case domain.StepStatusPassed:
			s.Passed++
		case domain.StepStatusFailed:
			s.Failed++
		case domain.StepStatusSkipped:
			s.Skipped++
		case domain.StepStatusHealed:
			s.Healed++
			healed := HealedStep{
				StepID:         sr.StepID,
				HealedSelector: sr.HealedSelector,
			}
			if known {
				healed.Description = rec.Description
				healed.RecordedSelector = rec.PrimarySelector()
			}
			s.HealedSteps = append(s.HealedSteps, healed)
		}
	}

	for _, vc := range result.VisualChecks {
		s.VisualChecks = append(s.VisualChecks, VisualLine{
			StepID:     vc.StepID,
			BaselineID: vc.BaselineID,
			Status:     vc.Status,
			DiffRatio:  vc.PixelDifferenceRatio,
			Threshold:  vc.PixelThreshold,
			Overridden: vc.LLMOverride,
			Reasoning:  vc.LLMReasoning,
			DiffImage:  vc.DiffImagePath,
		})
	}

	for _, entry := range result.ConsoleOnFailure {
		s.ConsoleTail = append(s.ConsoleTail, ConsoleLine{Level: entry.Level, Text: entry.Text})
	}

	return s
}

// Path returns the report file location for a run:
// <dir>/report_<safe_test_name>_<run_id>.html.
func Path(dir, testName, runID string) string {
	return filepath.Join(dir, fmt.Sprintf("report_%s_%s.html", domain.SafeName(testName), runID))
}

func formatDuration(seconds float64) string {
	if seconds < 60 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	whole := int(seconds)
	return fmt.Sprintf("%dm %02ds", whole/60, whole%60)
}
