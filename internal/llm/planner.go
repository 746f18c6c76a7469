package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

// ActionFinish is the planner's signal that the feature has been exercised
// and verified and no further steps are needed. It is never recorded as a
// step.
const ActionFinish = "finish"

// PlannedAction is one decision from the planner. Element-targeting actions
// reference the page context by index; the recorder resolves the index to a
// live element and synthesizes selectors itself.
type PlannedAction struct {
	Action      string        `json:"action"`
	Parameters  domain.Params `json:"parameters"`
	Description string        `json:"description"`
	Reasoning   string        `json:"reasoning,omitempty"`
}

// Finished reports whether the planner declared the session complete.
func (a *PlannedAction) Finished() bool {
	return a.Action == ActionFinish
}

// ElementIndex returns the page-context index the action targets, if any.
func (a *PlannedAction) ElementIndex() (int, bool) {
	idx, ok := a.Parameters.Int("index")
	if !ok || idx < 0 {
		return 0, false
	}
	return idx, true
}

// PlanRequest carries everything the planner sees for one decision.
type PlanRequest struct {
	// Feature is the natural-language description of what to test.
	Feature string

	// URL is the page the browser is currently on.
	URL string

	// Context is the rendered interactive-element listing of the current
	// page.
	Context string

	// History holds one line per step already recorded.
	History []string

	StepsRecorded int
	MaxSteps      int
}

// Planner turns a feature description into browser steps, one at a time.
type Planner struct {
	client *ClaudeClient
	logger *zap.Logger
}

// NewPlanner creates a planner backed by the given client.
func NewPlanner(client *ClaudeClient, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{client: client, logger: logger}
}

const plannerSystemPrompt = `You plan automated browser test steps one at a time. Given a feature to test, the page's interactive elements, and the steps already taken, decide the single next step.

Rules:
1. Reference elements ONLY by their [index] from the element listing. Never invent CSS selectors or XPath expressions.
2. Take the smallest action that makes progress. One step per response.
3. Once the feature has been exercised, add at least one assertion that proves it worked, then finish.
4. "description" is a short imperative sentence a human would write in a test plan, for example "Type the username into the login form".

Respond with a single JSON object:
{"action": "...", "parameters": {...}, "description": "...", "reasoning": "..."}

Actions and their parameters:
- navigate: {"url": "https://..."}
- click: {"index": N}
- type: {"index": N, "text": "..."}
- select: {"index": N, "option_label": "..."} (or "option_value" / "option_index")
- check: {"index": N}
- uncheck: {"index": N}
- hover: {"index": N}
- scroll: {"direction": "up" | "down" | "top" | "bottom"} (optional "pixels": N)
- wait_for_load_state: {"state": "load" | "domcontentloaded" | "networkidle"}
- wait_for_selector: {"index": N, "state": "visible" | "hidden", "timeout_ms": N}
- assert_visible: {"index": N}
- assert_hidden: {"index": N}
- assert_text_contains: {"index": N, "expected_text": "..."}
- assert_text_equals: {"index": N, "expected_text": "..."}
- assert_attribute_equals: {"index": N, "attribute_name": "...", "expected_value": "..."}
- assert_checked: {"index": N}
- assert_not_checked: {"index": N}
- assert_enabled: {"index": N}
- assert_disabled: {"index": N}
- assert_element_count: {"selector": ".item", "expected_count": N} (the one action that takes a raw CSS selector, because it counts a set of elements rather than targeting one)
- assert_passed_verification: {} (state the condition to verify in "description"; a vision model will judge a screenshot against it)
- finish: {} (the feature is exercised and verified)`

// PlanNextStep asks for the next action given the current page context and
// recording history.
func (p *Planner) PlanNextStep(ctx context.Context, req PlanRequest) (*PlannedAction, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Feature to test: %s\n\n", req.Feature)
	fmt.Fprintf(&sb, "Current URL: %s\n", req.URL)
	fmt.Fprintf(&sb, "Steps recorded so far: %d of %d allowed\n\n", req.StepsRecorded, req.MaxSteps)

	if len(req.History) > 0 {
		sb.WriteString("Steps taken:\n")
		for _, line := range req.History {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}

	sb.WriteString("Interactive elements on the current page:\n")
	sb.WriteString(req.Context)

	var action PlannedAction
	if _, err := p.client.CompleteJSON(ctx, plannerSystemPrompt, sb.String(), &action); err != nil {
		return nil, fmt.Errorf("planning next step: %w", err)
	}

	if err := validatePlannedAction(&action); err != nil {
		return nil, err
	}

	p.logger.Debug("planned action",
		zap.String("action", action.Action),
		zap.String("description", action.Description),
		zap.String("reasoning", truncateString(action.Reasoning, 150)))

	return &action, nil
}

func validatePlannedAction(a *PlannedAction) error {
	if a.Action == ActionFinish {
		return nil
	}
	if !domain.Action(a.Action).Valid() {
		return fmt.Errorf("planner returned unknown action %q", a.Action)
	}
	if strings.TrimSpace(a.Description) == "" {
		return fmt.Errorf("planner returned %s without a description", a.Action)
	}
	return nil
}

const reviseSystemPrompt = `You revise automated browser test steps. You receive the current steps of a test case as JSON and feedback describing what to change. Return the COMPLETE revised step list, not a diff.

Rules:
1. Keep steps you were not asked to change exactly as they are, including their selectors and fallbacks.
2. New or changed steps follow the same schema as the existing ones.
3. Renumber step_id sequentially from 1.

Respond with a single JSON object: {"steps": [...]}`

// ReviseSteps rewrites a test case's step list according to feedback. The
// returned list replaces the old one wholesale; every step has been
// validated.
func (p *Planner) ReviseSteps(ctx context.Context, tc *domain.TestCase, feedback string) ([]domain.Step, error) {
	current, err := json.MarshalIndent(tc.Steps, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling steps: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Test case: %s\n", tc.Name)
	fmt.Fprintf(&sb, "Feature: %s\n\n", tc.FeatureDescription)
	sb.WriteString("Current steps:\n")
	sb.Write(current)
	sb.WriteString("\n\nFeedback:\n")
	sb.WriteString(feedback)

	var revised struct {
		Steps []domain.Step `json:"steps"`
	}
	if _, err := p.client.CompleteJSON(ctx, reviseSystemPrompt, sb.String(), &revised); err != nil {
		return nil, fmt.Errorf("revising steps: %w", err)
	}
	if len(revised.Steps) == 0 {
		return nil, fmt.Errorf("revision returned no steps")
	}

	p.logger.Info("steps revised",
		zap.String("test", tc.Name),
		zap.Int("before", len(tc.Steps)),
		zap.Int("after", len(revised.Steps)))

	return revised.Steps, nil
}
