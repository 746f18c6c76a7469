package healing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/dom"
	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/selector"
)

// Prober is the slice of the browser driver resolution needs: probing
// selectors and snapshotting the page for a healing pass.
type Prober interface {
	dom.Snapshotter
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	CountVisible(ctx context.Context, selector string) (int, error)
}

// Resolution is a successful selector resolution. Healed resolutions
// carry provenance so runs surface drift instead of hiding it.
type Resolution struct {
	Selector   string
	Healed     bool
	HealedFrom string
	Similarity float64
	ViaHint    bool
	Attempts   int
}

type probeResult int

const (
	probeMiss probeResult = iota
	probeHit
	probeAmbiguous
)

// Resolver turns a step's recorded selectors into one live, uniquely
// visible selector. When every recorded candidate fails it rebuilds
// the context tree and searches it for the recorded element by
// structural similarity.
type Resolver struct {
	cfg           config.HealingConfig
	actionTimeout time.Duration
	synth         *selector.Synthesizer
	hints         HintStore
	logger        *zap.Logger
}

// NewResolver builds a resolver. actionTimeout budgets the first
// candidate's wait; later candidates and healed validations use the
// shorter healing validation timeout.
func NewResolver(cfg config.HealingConfig, actionTimeout time.Duration, synth *selector.Synthesizer, hints HintStore, logger *zap.Logger) *Resolver {
	if actionTimeout <= 0 {
		actionTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cfg:           cfg,
		actionTimeout: actionTimeout,
		synth:         synth,
		hints:         hints,
		logger:        logger,
	}
}

func (r *Resolver) validationTimeout() time.Duration {
	if r.cfg.ValidationTimeout > 0 {
		return r.cfg.ValidationTimeout
	}
	return 2 * time.Second
}

// Resolve finds a live selector for the step. Candidates are tried in
// recorded score order, then the hint store, then structural healing.
// The first candidate gets the full action timeout so slow pages can
// settle; everything after is probed with the validation timeout.
func (r *Resolver) Resolve(ctx context.Context, drv Prober, testName string, step *domain.Step) (*Resolution, error) {
	candidates := step.SelectorStrings()
	if len(candidates) == 0 {
		return nil, domain.ErrInvalidStep(step.StepID, "step carries no selector")
	}

	attempts := 0
	for i, sel := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		timeout := r.validationTimeout()
		if i == 0 {
			timeout = r.actionTimeout
		}
		attempts++
		switch r.probe(ctx, drv, sel, timeout) {
		case probeHit:
			if i > 0 {
				r.logger.Info("resolved via fallback candidate",
					zap.String("test", testName),
					zap.Int("step", step.StepID),
					zap.String("selector", sel))
			}
			return &Resolution{Selector: sel, Attempts: attempts}, nil
		case probeAmbiguous:
			r.logger.Warn("selector matched multiple visible elements",
				zap.String("test", testName),
				zap.Int("step", step.StepID),
				zap.String("selector", sel))
		}
	}

	if res := r.tryHint(ctx, drv, testName, step, candidates, &attempts); res != nil {
		return res, nil
	}

	if r.cfg.Enabled && step.Action.Healable() && step.Target != nil {
		if res, err := r.heal(ctx, drv, testName, step, &attempts); err != nil {
			return nil, err
		} else if res != nil {
			return res, nil
		}
	}

	return nil, domain.ErrSelectorUnresolvedAfterHealing(step.PrimarySelector()).WithStep(step.StepID)
}

func (r *Resolver) tryHint(ctx context.Context, drv Prober, testName string, step *domain.Step, candidates []string, attempts *int) *Resolution {
	if r.hints == nil || ctx.Err() != nil {
		return nil
	}
	hint, err := r.hints.Hint(ctx, testName, step.StepID)
	if err != nil {
		r.logger.Warn("hint store lookup failed", zap.Error(err))
		return nil
	}
	if hint == "" {
		return nil
	}
	for _, sel := range candidates {
		if sel == hint {
			return nil
		}
	}

	*attempts++
	if r.probe(ctx, drv, hint, r.validationTimeout()) != probeHit {
		return nil
	}
	r.logger.Info("resolved via healing hint",
		zap.String("test", testName),
		zap.Int("step", step.StepID),
		zap.String("selector", hint))
	return &Resolution{
		Selector:   hint,
		Healed:     true,
		HealedFrom: step.PrimarySelector(),
		ViaHint:    true,
		Attempts:   *attempts,
	}
}

// heal rebuilds the context tree and searches the main frame for the
// best structural match of the recorded descriptor. A nil, nil return
// means healing found nothing acceptable.
func (r *Resolver) heal(ctx context.Context, drv Prober, testName string, step *domain.Step, attempts *int) (*Resolution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tree, err := dom.Capture(ctx, drv, r.synth.Classifier())
	if err != nil {
		r.logger.Warn("healing capture failed", zap.Error(err))
		return nil, nil
	}
	frame := tree.Main()
	if frame == nil {
		return nil, nil
	}

	var best *dom.Node
	bestScore := 0.0
	for _, node := range frame.Nodes {
		if !node.Visible {
			continue
		}
		score := Similarity(*step.Target, node.Descriptor)
		if score > bestScore {
			best, bestScore = node, score
		}
	}
	if best == nil || bestScore < r.cfg.SimilarityThreshold {
		r.logger.Info("healing found no acceptable match",
			zap.String("test", testName),
			zap.Int("step", step.StepID),
			zap.Float64("best_score", bestScore),
			zap.Float64("threshold", r.cfg.SimilarityThreshold))
		return nil, nil
	}

	for _, cand := range frame.Candidates(best, r.synth) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		*attempts++
		switch r.probe(ctx, drv, cand.Selector, r.validationTimeout()) {
		case probeHit:
			r.rememberHint(ctx, testName, step.StepID, cand.Selector)
			r.logger.Info("healed selector",
				zap.String("test", testName),
				zap.Int("step", step.StepID),
				zap.String("from", step.PrimarySelector()),
				zap.String("to", cand.Selector),
				zap.Float64("similarity", bestScore))
			return &Resolution{
				Selector:   cand.Selector,
				Healed:     true,
				HealedFrom: step.PrimarySelector(),
				Similarity: bestScore,
				Attempts:   *attempts,
			}, nil
		case probeAmbiguous:
			r.logger.Warn("healed candidate is ambiguous, rejected",
				zap.String("test", testName),
				zap.Int("step", step.StepID),
				zap.String("selector", cand.Selector))
		}
	}
	return nil, nil
}

func (r *Resolver) rememberHint(ctx context.Context, testName string, stepID int, sel string) {
	if r.hints == nil {
		return
	}
	if err := r.hints.Remember(ctx, testName, stepID, sel); err != nil {
		r.logger.Warn("hint store write failed", zap.Error(err))
	}
}

// probe reports whether sel resolves to exactly one visible element
// within timeout. Probe errors count as misses; a dead browser will
// surface on the action itself.
func (r *Resolver) probe(ctx context.Context, drv Prober, sel string, timeout time.Duration) probeResult {
	if err := drv.WaitForSelector(ctx, sel, timeout); err != nil {
		return probeMiss
	}
	n, err := drv.CountVisible(ctx, sel)
	if err != nil || n == 0 {
		return probeMiss
	}
	if n > 1 {
		return probeAmbiguous
	}
	return probeHit
}
