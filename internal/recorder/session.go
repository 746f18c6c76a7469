// Package recorder drives recording sessions. The planning model picks the
// next action against rendered page context; the session grounds each pick
// in a live element, synthesizes its selectors, and executes it so the page
// advances before the next decision.
package recorder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stepflow-hq/stepflow/internal/browser"
	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/dom"
	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/llm"
	"github.com/stepflow-hq/stepflow/internal/selector"
)

// maxConsecutiveFailures bounds re-planning after rejected or failed steps
// before the session gives up.
const maxConsecutiveFailures = 3

// Planner is the planning surface the session needs.
type Planner interface {
	PlanNextStep(ctx context.Context, req llm.PlanRequest) (*llm.PlannedAction, error)
}

// Deps are the session collaborators.
type Deps struct {
	Driver      browser.Driver
	Planner     Planner
	Synthesizer *selector.Synthesizer

	// OnStep, when set, observes every step the moment it is recorded.
	// Called from the recording goroutine.
	OnStep func(step domain.Step)

	Logger *zap.Logger
}

// Session records one test case against a live browser.
type Session struct {
	drv               browser.Driver
	planner           Planner
	synth             *selector.Synthesizer
	cfg               config.RecorderConfig
	actionTimeout     time.Duration
	navigationTimeout time.Duration
	onStep            func(step domain.Step)
	logger            *zap.Logger
}

// NewSession creates a recording session. Timeouts come from the executor
// config so recording and replay share one action budget.
func NewSession(cfg config.RecorderConfig, timeouts config.ExecutorConfig, deps Deps) *Session {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 40
	}
	if cfg.DefaultWaitAfter < 0 {
		cfg.DefaultWaitAfter = 0
	}
	actionTimeout := timeouts.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = 5 * time.Second
	}
	navigationTimeout := timeouts.NavigationTimeout
	if navigationTimeout <= 0 {
		navigationTimeout = 30 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		drv:               deps.Driver,
		planner:           deps.Planner,
		synth:             deps.Synthesizer,
		cfg:               cfg,
		actionTimeout:     actionTimeout,
		navigationTimeout: navigationTimeout,
		onStep:            deps.OnStep,
		logger:            logger,
	}
}

// Record captures a test case for the feature starting at startURL. The
// returned case always begins with the recorded navigation; steps the
// planner proposed but that could not be grounded or executed are fed back
// as history instead of being recorded.
func (s *Session) Record(ctx context.Context, name, feature, startURL string) (*domain.TestCase, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("test name must not be empty")
	}
	if startURL == "" {
		return nil, fmt.Errorf("start url must not be empty")
	}

	tc := domain.NewTestCase(name, feature)

	s.logger.Info("recording started",
		zap.String("test", name),
		zap.String("url", startURL),
		zap.Int("max_steps", s.cfg.MaxSteps))

	nav := domain.Step{
		StepID:      tc.NextStepID(),
		Action:      domain.ActionNavigate,
		Description: "Navigate to " + startURL,
		Params:      domain.Params{"url": startURL},
		WaitAfter:   s.cfg.DefaultWaitAfter,
	}
	if err := s.executeLive(ctx, &nav); err != nil {
		return nil, fmt.Errorf("opening start url: %w", err)
	}
	if err := tc.AppendStep(nav); err != nil {
		return nil, err
	}
	s.notifyStep(nav)

	history := []string{describeStep(&nav)}
	failures := 0
	finished := false

	for len(tc.Steps) < s.cfg.MaxSteps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tree, err := dom.Capture(ctx, s.drv, s.synth.Classifier())
		if err != nil {
			return nil, fmt.Errorf("capturing page context: %w", err)
		}
		rendered, _ := dom.RenderContext(tree, dom.RenderOptions{Mode: dom.ModeAction})

		planned, err := s.planner.PlanNextStep(ctx, llm.PlanRequest{
			Feature:       feature,
			URL:           s.drv.URL(),
			Context:       rendered,
			History:       history,
			StepsRecorded: len(tc.Steps),
			MaxSteps:      s.cfg.MaxSteps,
		})
		if err != nil {
			return nil, err
		}
		if planned.Finished() {
			finished = true
			break
		}

		step, err := s.buildStep(tc.NextStepID(), planned, tree)
		if err != nil {
			failures++
			history = append(history, fmt.Sprintf("Proposed %q but it was rejected: %v", planned.Description, err))
			s.logger.Warn("planned step rejected",
				zap.String("action", planned.Action),
				zap.Error(err))
			if failures >= maxConsecutiveFailures {
				return nil, fmt.Errorf("recording stalled after %d rejected plans: %w", failures, err)
			}
			continue
		}

		if err := s.executeLive(ctx, step); err != nil {
			failures++
			history = append(history, fmt.Sprintf("Tried %q but it failed: %v", step.Description, err))
			s.logger.Warn("live step failed during recording",
				zap.Int("step", step.StepID),
				zap.String("action", string(step.Action)),
				zap.Error(err))
			if failures >= maxConsecutiveFailures {
				return nil, fmt.Errorf("recording stalled after %d failed steps: %w", failures, err)
			}
			continue
		}

		if err := tc.AppendStep(*step); err != nil {
			return nil, err
		}
		s.notifyStep(*step)
		history = append(history, describeStep(step))
		failures = 0
	}

	if !finished {
		s.logger.Warn("step budget exhausted before the planner finished",
			zap.String("test", name),
			zap.Int("max_steps", s.cfg.MaxSteps))
	}

	s.logger.Info("recording finished",
		zap.String("test", name),
		zap.Int("steps", len(tc.Steps)),
		zap.Bool("planner_finished", finished))

	return tc, nil
}

// buildStep grounds a planned action in the captured tree: the element
// index becomes synthesized selector candidates plus the recorded
// descriptor, and the step is validated before anything executes.
func (s *Session) buildStep(id int, planned *llm.PlannedAction, tree *dom.Tree) (*domain.Step, error) {
	step := &domain.Step{
		StepID:      id,
		Action:      domain.Action(planned.Action),
		Description: planned.Description,
		Params:      cloneParams(planned.Parameters),
		WaitAfter:   s.cfg.DefaultWaitAfter,
	}

	switch {
	case step.Action == domain.ActionAssertElementCount:
		// The one action that carries a raw selector: it counts a set, so
		// there is no single element to ground it in.
		sel, _ := step.Params.String("selector")
		if sel == "" {
			return nil, fmt.Errorf("assert_element_count needs a selector parameter")
		}
		delete(step.Params, "selector")
		step.Selector = &sel

	case step.Action.RequiresSelector():
		idx, ok := planned.ElementIndex()
		if !ok {
			return nil, fmt.Errorf("%s needs an element index", planned.Action)
		}
		node, ok := tree.ByInteractiveIndex(idx)
		if !ok {
			return nil, fmt.Errorf("element [%d] is not on the current page", idx)
		}
		frame := tree.OwnerFrame(node)
		if frame == nil || frame != tree.Main() {
			return nil, fmt.Errorf("element [%d] lives in a child frame and cannot be targeted", idx)
		}
		cands := frame.Candidates(node, s.synth)
		if len(cands) == 0 {
			return nil, fmt.Errorf("element [%d] offers no stable selector", idx)
		}

		delete(step.Params, "index")
		step.Selector = &cands[0].Selector
		if len(cands) > 1 {
			step.Fallbacks = cands[1:]
		}
		desc := node.Descriptor
		step.Target = &desc
	}

	if err := step.Validate(); err != nil {
		return nil, err
	}
	return step, nil
}

// executeLive performs the step on the browser. Driving actions advance the
// page; read-only assertions are checked immediately so a step that does
// not hold right now is never recorded.
func (s *Session) executeLive(ctx context.Context, step *domain.Step) error {
	timeout := s.actionTimeout
	if step.Action == domain.ActionNavigate || step.Action == domain.ActionWaitForLoadState {
		timeout = s.navigationTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sel := step.PrimarySelector()
	var err error
	switch step.Action {
	case domain.ActionNavigate:
		err = s.drv.Navigate(actx, step.URL())
	case domain.ActionClick:
		err = s.drv.Click(actx, sel)
	case domain.ActionType:
		err = s.drv.Type(actx, sel, step.Text())
	case domain.ActionSelect:
		err = s.drv.Select(actx, sel, selectOption(step))
	case domain.ActionCheck:
		err = s.drv.SetChecked(actx, sel, true)
	case domain.ActionUncheck:
		err = s.drv.SetChecked(actx, sel, false)
	case domain.ActionHover:
		err = s.drv.Hover(actx, sel)
	case domain.ActionScroll:
		dir, px := step.ScrollTarget()
		err = s.drv.Scroll(actx, dir, int(px))
	case domain.ActionWaitForLoadState:
		err = s.drv.WaitForLoadState(actx, step.LoadState())
	case domain.ActionWaitForSelector:
		waitTimeout := step.WaitTimeout()
		if waitTimeout <= 0 {
			waitTimeout = s.actionTimeout
		}
		err = s.drv.WaitForSelector(actx, sel, waitTimeout)
	default:
		if step.Action.IsAssertion() {
			err = s.checkAssertion(actx, step)
		} else {
			err = fmt.Errorf("unsupported action %q", step.Action)
		}
	}
	if err != nil {
		return err
	}

	s.waitAfter(ctx, step)
	return nil
}

// checkAssertion evaluates a read-only assertion against the live page.
// Visual and vision assertions are judged at replay time and recorded as
// written.
func (s *Session) checkAssertion(ctx context.Context, step *domain.Step) error {
	sel := step.PrimarySelector()
	switch step.Action {
	case domain.ActionAssertVisible:
		n, err := s.drv.CountVisible(ctx, sel)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("element %q is not visible right now", sel)
		}
	case domain.ActionAssertHidden:
		visible, err := s.drv.IsVisible(ctx, sel)
		if err != nil {
			return err
		}
		if visible {
			return fmt.Errorf("element %q is still visible", sel)
		}
	case domain.ActionAssertTextContains:
		got, err := s.drv.InnerText(ctx, sel)
		if err != nil {
			return err
		}
		if !strings.Contains(strings.TrimSpace(got), step.ExpectedText()) {
			return fmt.Errorf("text of %q does not contain %q right now", sel, step.ExpectedText())
		}
	case domain.ActionAssertTextEquals:
		got, err := s.drv.InnerText(ctx, sel)
		if err != nil {
			return err
		}
		if strings.TrimSpace(got) != strings.TrimSpace(step.ExpectedText()) {
			return fmt.Errorf("text of %q is %q right now, not %q", sel, strings.TrimSpace(got), step.ExpectedText())
		}
	case domain.ActionAssertAttributeEquals:
		name, want := step.AttributeExpectation()
		got, err := s.drv.Attribute(ctx, sel, name)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("attribute %q of %q is %q right now, not %q", name, sel, got, want)
		}
	case domain.ActionAssertElementCount:
		n, err := s.drv.CountVisible(ctx, sel)
		if err != nil {
			return err
		}
		if n != step.ExpectedCount() {
			return fmt.Errorf("selector %q matches %d visible elements right now, not %d", sel, n, step.ExpectedCount())
		}
	case domain.ActionAssertChecked, domain.ActionAssertNotChecked:
		checked, err := s.drv.IsChecked(ctx, sel)
		if err != nil {
			return err
		}
		if want := step.Action == domain.ActionAssertChecked; checked != want {
			return fmt.Errorf("element %q checked state is %t right now", sel, checked)
		}
	case domain.ActionAssertEnabled, domain.ActionAssertDisabled:
		enabled, err := s.drv.IsEnabled(ctx, sel)
		if err != nil {
			return err
		}
		if want := step.Action == domain.ActionAssertEnabled; enabled != want {
			return fmt.Errorf("element %q enabled state is %t right now", sel, enabled)
		}
	}
	return nil
}

func (s *Session) notifyStep(step domain.Step) {
	if s.onStep != nil {
		s.onStep(step)
	}
}

func (s *Session) waitAfter(ctx context.Context, step *domain.Step) {
	if step.WaitAfter <= 0 {
		return
	}
	select {
	case <-time.After(time.Duration(step.WaitAfter * float64(time.Second))):
	case <-ctx.Done():
	}
}

func describeStep(step *domain.Step) string {
	return fmt.Sprintf("Step %d: %s", step.StepID, step.Description)
}

func cloneParams(p domain.Params) domain.Params {
	if len(p) == 0 {
		return nil
	}
	out := make(domain.Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func selectOption(step *domain.Step) browser.SelectOption {
	by, value, idx := step.SelectOption()
	opt := browser.SelectOption{By: by, Index: idx}
	switch by {
	case domain.SelectByLabel:
		opt.Label = value
	case domain.SelectByValue:
		opt.Value = value
	}
	return opt
}
