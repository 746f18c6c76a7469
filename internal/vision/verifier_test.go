package vision

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/llm"
	"github.com/stepflow-hq/stepflow/internal/resilience"
)

type fakeJudge struct {
	verdict *llm.Verdict
	err     error

	// blockUntilCancel makes the judge wait for ctx cancellation, returning
	// ctx.Err(), to exercise the timeout path.
	blockUntilCancel bool

	gotPrompt string
	gotImages [][]byte
	calls     int
}

func (f *fakeJudge) JudgeScreenshot(ctx context.Context, prompt string, images ...[]byte) (*llm.Verdict, error) {
	f.calls++
	f.gotPrompt = prompt
	f.gotImages = images
	if f.blockUntilCancel {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

func visionConfig() config.VisionConfig {
	return config.VisionConfig{
		Enabled:            true,
		Timeout:            5 * time.Second,
		PixelDiffThreshold: 0.02,
	}
}

var testScreenshot = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

func TestVerifier_Pass(t *testing.T) {
	judge := &fakeJudge{verdict: &llm.Verdict{Passed: true, Rationale: "the cart shows one item"}}
	v := NewVerifier(judge, visionConfig(), nil)

	err := v.Verify(context.Background(), Request{
		Condition:  "The cart contains one item",
		PageURL:    "https://shop.example.test/cart",
		DOMContext: "[0] <span class=cart-badge>1</span>",
		Screenshot: testScreenshot,
	})
	require.NoError(t, err)

	assert.Contains(t, judge.gotPrompt, "Condition: The cart contains one item")
	assert.Contains(t, judge.gotPrompt, "Current URL: https://shop.example.test/cart")
	assert.Contains(t, judge.gotPrompt, "cart-badge")
	require.Len(t, judge.gotImages, 1)
}

func TestVerifier_Fail(t *testing.T) {
	judge := &fakeJudge{verdict: &llm.Verdict{Passed: false, Rationale: "the error banner is still visible"}}
	v := NewVerifier(judge, visionConfig(), nil)

	err := v.Verify(context.Background(), Request{
		Condition:  "Login succeeded",
		Screenshot: testScreenshot,
	})
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindVisionVerificationFailed, domain.KindOf(err))
	assert.Equal(t, "the error banner is still visible", domain.FailureReason(err))
}

func TestVerifier_Timeout(t *testing.T) {
	judge := &fakeJudge{blockUntilCancel: true}
	cfg := visionConfig()
	cfg.Timeout = 30 * time.Millisecond
	v := NewVerifier(judge, cfg, nil)

	start := time.Now()
	err := v.Verify(context.Background(), Request{
		Condition:  "Dashboard loaded",
		Screenshot: testScreenshot,
	})
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindVisionVerificationFailed, domain.KindOf(err))
	assert.Equal(t, "vision verification timed out", domain.FailureReason(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestVerifier_BreakerOpen(t *testing.T) {
	judge := &fakeJudge{err: resilience.ErrCircuitOpen}
	v := NewVerifier(judge, visionConfig(), nil)

	start := time.Now()
	err := v.Verify(context.Background(), Request{
		Condition:  "Dashboard loaded",
		Screenshot: testScreenshot,
	})
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindVisionVerificationFailed, domain.KindOf(err))
	assert.Contains(t, domain.FailureReason(err), "vision judge unavailable")
	// An open breaker must fail fast, not wait out the vision timeout.
	assert.Less(t, time.Since(start), time.Second)
}

func TestVerifier_UnclearVerdict(t *testing.T) {
	judge := &fakeJudge{err: fmt.Errorf("unclear verdict: The page might be loading")}
	v := NewVerifier(judge, visionConfig(), nil)

	err := v.Verify(context.Background(), Request{
		Condition:  "Checkout completed",
		Screenshot: testScreenshot,
	})
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindVisionVerificationFailed, domain.KindOf(err))
	assert.True(t, domain.IsAssertionFailure(err))
}

func TestVerifier_Disabled(t *testing.T) {
	cfg := visionConfig()
	cfg.Enabled = false
	judge := &fakeJudge{verdict: &llm.Verdict{Passed: true}}
	v := NewVerifier(judge, cfg, nil)

	err := v.Verify(context.Background(), Request{
		Condition:  "anything",
		Screenshot: testScreenshot,
	})
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindVisionVerificationFailed, domain.KindOf(err))
	assert.Zero(t, judge.calls)
}

func TestVerifier_NoScreenshot(t *testing.T) {
	judge := &fakeJudge{verdict: &llm.Verdict{Passed: true}}
	v := NewVerifier(judge, visionConfig(), nil)

	err := v.Verify(context.Background(), Request{Condition: "anything"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindVisionVerificationFailed, domain.KindOf(err))
	assert.Zero(t, judge.calls)
}
