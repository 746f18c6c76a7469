// Package executor replays recorded test cases against a live browser
// session, resolving selectors through the self-healer and delegating
// visual checks to the vision judge.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/stepflow-hq/stepflow/internal/browser"
	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/healing"
	"github.com/stepflow-hq/stepflow/internal/selector"
	"github.com/stepflow-hq/stepflow/internal/vision"
)

// Deps are the collaborators a replay needs. Verifier and Comparer may be
// nil when vision is not configured; their steps then fail as assertions
// instead of crashing the run.
type Deps struct {
	Resolver   *healing.Resolver
	Verifier   *vision.Verifier
	Comparer   *vision.Comparer
	Classifier *selector.Classifier

	// Viewport, as "WxH", recorded into seeded baseline metadata.
	Viewport string

	// OnStep, when set, observes every recorded step result as the run
	// progresses. Called from the run goroutine.
	OnStep func(sr domain.StepResult)

	Logger *zap.Logger
}

// Executor replays test cases step by step.
type Executor struct {
	cfg        config.ExecutorConfig
	outputDir  string
	resolver   *healing.Resolver
	verifier   *vision.Verifier
	comparer   *vision.Comparer
	classifier *selector.Classifier
	viewport   string
	onStep     func(sr domain.StepResult)
	logger     *zap.Logger
}

// New creates an executor. Zero config values fall back to the documented
// defaults.
func New(cfg config.ExecutorConfig, artifacts config.ArtifactsConfig, deps Deps) *Executor {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 5 * time.Second
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.ConsoleTailSize <= 0 {
		cfg.ConsoleTailSize = 5
	}
	outputDir := artifacts.OutputDir
	if outputDir == "" {
		outputDir = "output"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:        cfg,
		outputDir:  outputDir,
		resolver:   deps.Resolver,
		verifier:   deps.Verifier,
		comparer:   deps.Comparer,
		classifier: deps.Classifier,
		viewport:   deps.Viewport,
		onStep:     deps.OnStep,
		logger:     logger,
	}
}

// Run replays tc in the given browser session and returns the aggregated
// result. A non-nil error means the run could not start at all; failures
// during the run land in the result.
//
// Halt policy: non-assertion failures always stop the run. Assertion
// failures stop it too unless continue-on-assert is configured, in which
// case later steps still execute and every failure is recorded.
func (e *Executor) Run(ctx context.Context, drv browser.Driver, tc *domain.TestCase) (*domain.ExecutionResult, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	if len(tc.Steps) == 0 {
		return nil, fmt.Errorf("test case %q has no steps", tc.Name)
	}

	result := domain.NewExecutionResult(tc.Name)
	result.FailFast = !e.cfg.ContinueOnAssert

	e.logger.Info("run started",
		zap.String("test", tc.Name),
		zap.String("run_id", result.RunID.String()),
		zap.Int("steps", len(tc.Steps)),
		zap.Bool("fail_fast", result.FailFast))

	skipRemaining := false
	cancelled := false

	for i := range tc.Steps {
		step := &tc.Steps[i]

		if !skipRemaining && ctx.Err() != nil {
			skipRemaining = true
			cancelled = true
		}
		if skipRemaining {
			skipped := domain.StepResult{
				StepID: step.StepID,
				Action: step.Action,
				Status: domain.StepStatusSkipped,
			}
			result.RecordStep(skipped)
			e.notifyStep(skipped)
			continue
		}

		sr, stepErr := e.executeStep(ctx, drv, tc.Name, step, result)
		result.RecordStep(sr)
		e.notifyStep(sr)

		if stepErr != nil {
			switch {
			case domain.IsFatal(stepErr):
				skipRemaining = true
			case !domain.IsAssertionFailure(stepErr):
				skipRemaining = true
			case result.FailFast:
				skipRemaining = true
			}
		}
	}

	// The last executed step carries closing evidence even when it passed;
	// failed steps already captured theirs.
	if !skipRemaining && len(result.StepResults) > 0 {
		last := &result.StepResults[len(result.StepResults)-1]
		if last.Evidence == nil {
			last.Evidence = e.captureEvidence(ctx, drv, tc.Name, &tc.Steps[len(tc.Steps)-1], "final")
		}
	}

	result.ConsoleLog = drv.ConsoleMessages()
	result.Finalize()
	if cancelled {
		result.Status = domain.RunStatusFailed
		if result.Message == "" {
			result.Message = "run cancelled"
		}
	}

	e.logger.Info("run finished",
		zap.String("test", tc.Name),
		zap.String("run_id", result.RunID.String()),
		zap.String("status", string(result.Status)),
		zap.Int("healed_steps", result.HealedSteps),
		zap.Float64("duration_s", result.DurationSeconds))

	return result, nil
}

func (e *Executor) notifyStep(sr domain.StepResult) {
	if e.onStep != nil {
		e.onStep(sr)
	}
}

func (e *Executor) executeStep(ctx context.Context, drv browser.Driver, testName string, step *domain.Step, result *domain.ExecutionResult) (domain.StepResult, error) {
	start := time.Now()
	sr := domain.StepResult{StepID: step.StepID, Action: step.Action}

	e.logger.Debug("executing step",
		zap.Int("step", step.StepID),
		zap.String("action", string(step.Action)),
		zap.String("description", step.Description))

	err := e.perform(ctx, drv, testName, step, &sr, result)
	sr.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		sr.Status = domain.StepStatusFailed
		sr.FailureReason = domain.FailureReason(err)
		sr.Evidence = e.captureEvidence(ctx, drv, testName, step, "failure")
		e.logger.Warn("step failed",
			zap.Int("step", step.StepID),
			zap.String("action", string(step.Action)),
			zap.String("reason", sr.FailureReason))
		return sr, err
	}

	if sr.HealedSelector != "" {
		sr.Status = domain.StepStatusHealed
		e.logger.Info("step passed with healed selector",
			zap.Int("step", step.StepID),
			zap.String("selector", sr.HealedSelector))
	} else {
		sr.Status = domain.StepStatusPassed
	}

	e.waitAfter(ctx, step)
	return sr, nil
}

// waitAfter honors the recorded post-action settle time.
func (e *Executor) waitAfter(ctx context.Context, step *domain.Step) {
	if step.WaitAfter <= 0 {
		return
	}
	select {
	case <-time.After(time.Duration(step.WaitAfter * float64(time.Second))):
	case <-ctx.Done():
	}
}

// captureEvidence snapshots the page and console tail for a step. It runs
// on a detached context so evidence survives run cancellation.
func (e *Executor) captureEvidence(ctx context.Context, drv browser.Driver, testName string, step *domain.Step, prefix string) *domain.Evidence {
	ev := &domain.Evidence{ConsoleTail: e.consoleTail(drv)}

	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	shot, err := drv.Screenshot(shotCtx)
	if err != nil {
		e.logger.Warn("evidence screenshot unavailable", zap.Error(err))
		return ev
	}

	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		e.logger.Warn("creating output dir failed", zap.Error(err))
		return ev
	}
	name := fmt.Sprintf("%s_%s_step%d_%s.png",
		prefix, clipName(domain.SafeName(testName), 50), step.StepID, time.Now().Format("20060102_150405"))
	path := filepath.Join(e.outputDir, name)
	if err := os.WriteFile(path, shot, 0o644); err != nil {
		e.logger.Warn("writing failure screenshot failed", zap.Error(err))
		return ev
	}
	ev.ScreenshotPath = path
	return ev
}

func (e *Executor) consoleTail(drv browser.Driver) []domain.ConsoleEntry {
	msgs := drv.ConsoleMessages()
	if n := e.cfg.ConsoleTailSize; len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs
}

func clipName(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
