package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stepflow-hq/stepflow/internal/browser"
	"github.com/stepflow-hq/stepflow/internal/dom"
	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/vision"
)

// perform runs one step. Selector-less steps and steps with special
// resolution semantics dispatch first; everything else resolves exactly one
// visible element and acts on it.
func (e *Executor) perform(ctx context.Context, drv browser.Driver, testName string, step *domain.Step, sr *domain.StepResult, result *domain.ExecutionResult) error {
	switch step.Action {
	case domain.ActionNavigate:
		return e.navigate(ctx, drv, step)
	case domain.ActionScroll:
		return e.scroll(ctx, drv, step)
	case domain.ActionWaitForLoadState:
		return e.waitForLoadState(ctx, drv, step)
	case domain.ActionWaitForSelector:
		return e.waitForSelector(ctx, drv, testName, step, sr, result)
	case domain.ActionAssertHidden:
		// Hidden means no unique visible match can exist, so the usual
		// resolution path would contradict the assertion.
		return e.assertHidden(ctx, drv, step)
	case domain.ActionAssertElementCount:
		// Counting targets a set; resolution to a single element does not
		// apply and healing is undefined for it.
		return e.assertElementCount(ctx, drv, step)
	case domain.ActionAssertVisualMatch:
		return e.assertVisualMatch(ctx, drv, step, result)
	case domain.ActionAssertPassedVerification:
		return e.assertVerification(ctx, drv, step)
	}

	sel, err := e.resolveTarget(ctx, drv, testName, step, sr, result)
	if err != nil {
		return err
	}

	actx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	switch step.Action {
	case domain.ActionClick:
		return e.wrapAction(step, e.cfg.ActionTimeout, drv.Click(actx, sel))
	case domain.ActionType:
		return e.wrapAction(step, e.cfg.ActionTimeout, drv.Type(actx, sel, step.Text()))
	case domain.ActionSelect:
		return e.wrapAction(step, e.cfg.ActionTimeout, drv.Select(actx, sel, selectOption(step)))
	case domain.ActionCheck:
		return e.wrapAction(step, e.cfg.ActionTimeout, drv.SetChecked(actx, sel, true))
	case domain.ActionUncheck:
		return e.wrapAction(step, e.cfg.ActionTimeout, drv.SetChecked(actx, sel, false))
	case domain.ActionHover:
		return e.wrapAction(step, e.cfg.ActionTimeout, drv.Hover(actx, sel))
	case domain.ActionAssertVisible:
		// Resolution already proved a unique visible match.
		return nil
	case domain.ActionAssertTextContains, domain.ActionAssertTextEquals:
		return e.assertText(actx, drv, step, sel)
	case domain.ActionAssertAttributeEquals:
		return e.assertAttribute(actx, drv, step, sel)
	case domain.ActionAssertChecked:
		return e.assertChecked(actx, drv, step, sel, true)
	case domain.ActionAssertNotChecked:
		return e.assertChecked(actx, drv, step, sel, false)
	case domain.ActionAssertEnabled:
		return e.assertEnabled(actx, drv, step, sel, true)
	case domain.ActionAssertDisabled:
		return e.assertEnabled(actx, drv, step, sel, false)
	}

	return domain.ErrInvalidStep(step.StepID, fmt.Sprintf("unsupported action %q", step.Action))
}

// resolveTarget finds the live selector for the step. Healing engagement is
// counted whether or not it succeeds; healed selectors surface on the step
// result but never rewrite the step.
func (e *Executor) resolveTarget(ctx context.Context, drv browser.Driver, testName string, step *domain.Step, sr *domain.StepResult, result *domain.ExecutionResult) (string, error) {
	res, err := e.resolver.Resolve(ctx, drv, testName, step)
	if err != nil {
		if step.Action.Healable() && domain.KindOf(err) == domain.ErrKindSelectorUnresolved {
			result.HealingAttempts++
		}
		return "", err
	}
	if res.Healed {
		result.HealingAttempts++
		sr.HealedSelector = res.Selector
	}
	return res.Selector, nil
}

// wrapAction maps browser errors onto engine failure kinds.
func (e *Executor) wrapAction(step *domain.Step, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if browser.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrActionTimeout(step.Action, timeout).WithStep(step.StepID).WithCause(err)
	}
	return domain.ErrFatalBrowser(err).WithStep(step.StepID)
}

func (e *Executor) navigate(ctx context.Context, drv browser.Driver, step *domain.Step) error {
	nctx, cancel := context.WithTimeout(ctx, e.cfg.NavigationTimeout)
	defer cancel()
	return e.wrapAction(step, e.cfg.NavigationTimeout, drv.Navigate(nctx, step.URL()))
}

func (e *Executor) scroll(ctx context.Context, drv browser.Driver, step *domain.Step) error {
	dir, px := step.ScrollTarget()
	actx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()
	return e.wrapAction(step, e.cfg.ActionTimeout, drv.Scroll(actx, dir, int(px)))
}

func (e *Executor) waitForLoadState(ctx context.Context, drv browser.Driver, step *domain.Step) error {
	nctx, cancel := context.WithTimeout(ctx, e.cfg.NavigationTimeout)
	defer cancel()
	return e.wrapAction(step, e.cfg.NavigationTimeout, drv.WaitForLoadState(nctx, step.LoadState()))
}

func (e *Executor) waitForSelector(ctx context.Context, drv browser.Driver, testName string, step *domain.Step, sr *domain.StepResult, result *domain.ExecutionResult) error {
	state, _ := step.Params.String("state")
	if state == "" {
		state = "visible"
	}
	timeout := step.WaitTimeout()
	if timeout <= 0 {
		timeout = e.cfg.ActionTimeout
	}

	if state == "hidden" {
		return e.waitHidden(ctx, drv, step, timeout)
	}

	// The recorded budget gets first shot; only when it runs out does the
	// resolver take over with fallbacks and healing.
	if err := drv.WaitForSelector(ctx, step.PrimarySelector(), timeout); err == nil {
		return nil
	}
	_, err := e.resolveTarget(ctx, drv, testName, step, sr, result)
	return err
}

func (e *Executor) waitHidden(ctx context.Context, drv browser.Driver, step *domain.Step, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		visible, err := drv.IsVisible(ctx, step.PrimarySelector())
		if err != nil {
			return domain.ErrFatalBrowser(err).WithStep(step.StepID)
		}
		if !visible {
			return nil
		}
		if time.Now().After(deadline) {
			return domain.ErrActionTimeout(step.Action, timeout).WithStep(step.StepID)
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return domain.ErrActionTimeout(step.Action, timeout).WithStep(step.StepID).WithCause(ctx.Err())
		}
	}
}

func (e *Executor) assertHidden(ctx context.Context, drv browser.Driver, step *domain.Step) error {
	actx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()
	visible, err := drv.IsVisible(actx, step.PrimarySelector())
	if err != nil {
		return domain.ErrFatalBrowser(err).WithStep(step.StepID)
	}
	if visible {
		return domain.ErrAssertionMismatch(fmt.Sprintf("element %q is visible, expected hidden", step.PrimarySelector())).WithStep(step.StepID)
	}
	return nil
}

func (e *Executor) assertElementCount(ctx context.Context, drv browser.Driver, step *domain.Step) error {
	actx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()
	n, err := drv.CountVisible(actx, step.PrimarySelector())
	if err != nil {
		return domain.ErrFatalBrowser(err).WithStep(step.StepID)
	}
	if want := step.ExpectedCount(); n != want {
		return domain.ErrAssertionMismatch(fmt.Sprintf("selector %q matched %d visible elements, want %d", step.PrimarySelector(), n, want)).WithStep(step.StepID)
	}
	return nil
}

func (e *Executor) assertText(ctx context.Context, drv browser.Driver, step *domain.Step, sel string) error {
	text, err := drv.InnerText(ctx, sel)
	if err != nil {
		return e.wrapAction(step, e.cfg.ActionTimeout, err)
	}
	got := strings.TrimSpace(text)
	want := step.ExpectedText()

	switch step.Action {
	case domain.ActionAssertTextContains:
		if !strings.Contains(got, want) {
			return domain.ErrAssertionMismatch(fmt.Sprintf("text of %q does not contain %q (got %q)", sel, want, clipName(got, 120))).WithStep(step.StepID)
		}
	case domain.ActionAssertTextEquals:
		if got != strings.TrimSpace(want) {
			return domain.ErrAssertionMismatch(fmt.Sprintf("text of %q is %q, want %q", sel, clipName(got, 120), want)).WithStep(step.StepID)
		}
	}
	return nil
}

func (e *Executor) assertAttribute(ctx context.Context, drv browser.Driver, step *domain.Step, sel string) error {
	name, want := step.AttributeExpectation()
	got, err := drv.Attribute(ctx, sel, name)
	if err != nil {
		return e.wrapAction(step, e.cfg.ActionTimeout, err)
	}
	if got != want {
		return domain.ErrAssertionMismatch(fmt.Sprintf("attribute %q of %q is %q, want %q", name, sel, got, want)).WithStep(step.StepID)
	}
	return nil
}

func (e *Executor) assertChecked(ctx context.Context, drv browser.Driver, step *domain.Step, sel string, want bool) error {
	checked, err := drv.IsChecked(ctx, sel)
	if err != nil {
		return e.wrapAction(step, e.cfg.ActionTimeout, err)
	}
	if checked != want {
		if want {
			return domain.ErrAssertionMismatch(fmt.Sprintf("element %q is not checked", sel)).WithStep(step.StepID)
		}
		return domain.ErrAssertionMismatch(fmt.Sprintf("element %q is checked, expected unchecked", sel)).WithStep(step.StepID)
	}
	return nil
}

func (e *Executor) assertEnabled(ctx context.Context, drv browser.Driver, step *domain.Step, sel string, want bool) error {
	enabled, err := drv.IsEnabled(ctx, sel)
	if err != nil {
		return e.wrapAction(step, e.cfg.ActionTimeout, err)
	}
	if enabled != want {
		if want {
			return domain.ErrAssertionMismatch(fmt.Sprintf("element %q is disabled, expected enabled", sel)).WithStep(step.StepID)
		}
		return domain.ErrAssertionMismatch(fmt.Sprintf("element %q is enabled, expected disabled", sel)).WithStep(step.StepID)
	}
	return nil
}

func (e *Executor) assertVisualMatch(ctx context.Context, drv browser.Driver, step *domain.Step, result *domain.ExecutionResult) error {
	if e.comparer == nil {
		return domain.ErrAssertionMismatch("visual comparison is not configured").WithStep(step.StepID)
	}
	shot, err := drv.Screenshot(ctx)
	if err != nil {
		return domain.ErrFatalBrowser(err).WithStep(step.StepID)
	}

	check, err := e.comparer.Compare(ctx, step.StepID, step.BaselineID(), vision.Capture{
		Image:        shot,
		URL:          drv.URL(),
		ViewportSize: e.viewport,
	})
	if err != nil {
		return domain.ErrAssertionMismatch("visual comparison failed: " + err.Error()).WithStep(step.StepID)
	}

	result.RecordVisualCheck(*check)
	if !check.Passed() {
		return domain.ErrAssertionMismatch(vision.MismatchReason(check)).WithStep(step.StepID)
	}
	return nil
}

func (e *Executor) assertVerification(ctx context.Context, drv browser.Driver, step *domain.Step) error {
	if e.verifier == nil {
		return domain.ErrVisionVerificationFailed("vision verifier is not configured").WithStep(step.StepID)
	}
	shot, err := drv.Screenshot(ctx)
	if err != nil {
		return domain.ErrFatalBrowser(err).WithStep(step.StepID)
	}

	// The rendered page context is advisory; verification can proceed on
	// pixels alone when capture fails.
	domContext := ""
	if e.classifier != nil {
		if tree, err := dom.Capture(ctx, drv, e.classifier); err == nil {
			domContext, _ = dom.RenderContext(tree, dom.RenderOptions{Mode: dom.ModeVerification})
		} else {
			e.logger.Debug("verification context capture failed", zap.Error(err))
		}
	}

	err = e.verifier.Verify(ctx, vision.Request{
		Condition:  step.Description,
		PageURL:    drv.URL(),
		DOMContext: domContext,
		Screenshot: shot,
	})
	if err != nil {
		if ee, ok := domain.AsEngineError(err); ok {
			return ee.WithStep(step.StepID)
		}
		return err
	}
	return nil
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
