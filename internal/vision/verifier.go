// Package vision implements screenshot-based verification: free-form
// condition checks judged by a vision model, and pixel-level baseline
// comparison with judge escalation for perceptual equivalence.
package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/llm"
	"github.com/stepflow-hq/stepflow/internal/resilience"
)

// Judge renders a pass/fail verdict over screenshots. *llm.ClaudeClient
// implements it.
type Judge interface {
	JudgeScreenshot(ctx context.Context, prompt string, images ...[]byte) (*llm.Verdict, error)
}

// Verifier runs assert_passed_verification checks. Every call is bounded by
// the configured timeout so a slow model cannot stall a replay.
type Verifier struct {
	judge   Judge
	enabled bool
	timeout time.Duration
	logger  *zap.Logger
}

// NewVerifier creates a verifier. A nil logger defaults to no-op.
func NewVerifier(judge Judge, cfg config.VisionConfig, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		judge:   judge,
		enabled: cfg.Enabled,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Request carries what the verifier needs for one check. DOMContext is the
// rendered element listing of the current page and may be empty when
// capture failed; the judge then works from pixels alone.
type Request struct {
	Condition  string
	PageURL    string
	DOMContext string
	Screenshot []byte
}

// Verify judges whether the current page satisfies the condition. A nil
// return means the check passed. Failures, timeouts and judge outages all
// come back as vision verification errors so replay policy can treat them
// as assertion failures rather than crashes.
func (v *Verifier) Verify(ctx context.Context, req Request) error {
	if !v.enabled {
		return domain.ErrVisionVerificationFailed("vision verification is disabled")
	}
	if len(req.Screenshot) == 0 {
		return domain.ErrVisionVerificationFailed("no screenshot captured")
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	verdict, err := v.judge.JudgeScreenshot(ctx, v.buildPrompt(req), req.Screenshot)
	if err != nil {
		return v.mapJudgeError(err)
	}

	if !verdict.Passed {
		v.logger.Info("vision verification failed",
			zap.String("condition", req.Condition),
			zap.String("rationale", verdict.Rationale))
		return domain.ErrVisionVerificationFailed(verdict.Rationale)
	}

	v.logger.Debug("vision verification passed",
		zap.String("condition", req.Condition))
	return nil
}

func (v *Verifier) buildPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("Verify the following condition against the screenshot and page context.\n\n")
	fmt.Fprintf(&sb, "Condition: %s\n", req.Condition)
	if req.PageURL != "" {
		fmt.Fprintf(&sb, "Current URL: %s\n", req.PageURL)
	}
	if req.DOMContext != "" {
		sb.WriteString("\nPage context rendered from the DOM (prioritize it over pixel details when they disagree):\n")
		sb.WriteString(req.DOMContext)
	}
	return sb.String()
}

// mapJudgeError converts judge failures into verification outcomes. The
// timeout message and the fast-fail on an open breaker are both part of the
// replay contract.
func (v *Verifier) mapJudgeError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrVisionVerificationTimedOut()
	case errors.Is(err, resilience.ErrCircuitOpen):
		return domain.ErrVisionVerificationFailed("vision judge unavailable: " + err.Error())
	default:
		return domain.ErrVisionVerificationFailed("vision verdict unavailable").WithCause(err)
	}
}
