package api

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/report"
	"github.com/stepflow-hq/stepflow/internal/storage"
)

// notifyingStore signals every saved result so tests can wait for the
// worker without sleeping.
type notifyingStore struct {
	*storage.FileResultStore
	saved chan *domain.ExecutionResult
}

func newNotifyingStore(t *testing.T) *notifyingStore {
	t.Helper()
	return &notifyingStore{
		FileResultStore: storage.NewFileResultStore(t.TempDir()),
		saved:           make(chan *domain.ExecutionResult, 8),
	}
}

func (s *notifyingStore) Save(ctx context.Context, result *domain.ExecutionResult) error {
	err := s.FileResultStore.Save(ctx, result)
	s.saved <- result
	return err
}

func (s *notifyingStore) waitSaved(t *testing.T) *domain.ExecutionResult {
	t.Helper()
	select {
	case result := <-s.saved:
		return result
	case <-time.After(5 * time.Second):
		t.Fatal("no result saved before timeout")
		return nil
	}
}

func loginCase(t *testing.T) *domain.TestCase {
	t.Helper()
	tc := domain.NewTestCase("login flow", "user signs in with valid credentials")
	require.NoError(t, tc.AppendStep(domain.Step{
		StepID:      1,
		Action:      domain.ActionNavigate,
		Description: "Open the login page",
		Params:      domain.Params{"url": "https://app.example.com/login"},
	}))
	sel := "#login-button"
	require.NoError(t, tc.AppendStep(domain.Step{
		StepID:      2,
		Action:      domain.ActionClick,
		Description: "Submit the form",
		Selector:    &sel,
	}))
	return tc
}

func passingExecute(ctx context.Context, tc *domain.TestCase) (*domain.ExecutionResult, error) {
	result := domain.NewExecutionResult(tc.Name)
	for _, step := range tc.Steps {
		result.RecordStep(domain.StepResult{
			StepID:     step.StepID,
			Action:     step.Action,
			Status:     domain.StepStatusPassed,
			DurationMS: 40,
		})
	}
	result.Finalize()
	return result, nil
}

func TestRunner_ExecutesQueuedRun(t *testing.T) {
	results := newNotifyingStore(t)
	outputDir := t.TempDir()
	renderer, err := report.NewRenderer()
	require.NoError(t, err)

	runner := NewRunner(RunnerConfig{
		Execute:   passingExecute,
		Results:   results,
		Renderer:  renderer,
		OutputDir: outputDir,
		QueueSize: 4,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	tc := loginCase(t)
	runID, err := runner.Enqueue(ctx, tc)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, runID)

	saved := results.waitSaved(t)
	// The stored result carries the id handed out at enqueue time, not the
	// one the executor generated.
	assert.Equal(t, runID, saved.RunID)
	assert.Equal(t, domain.RunStatusPassed, saved.Status)
	assert.Equal(t, 2, saved.StepsExecuted)

	loaded, err := results.GetByRunID(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, runID, loaded.RunID)

	require.Eventually(t, func() bool {
		_, tracked := runner.Status(runID)
		return !tracked
	}, 2*time.Second, 10*time.Millisecond, "finished run still tracked in memory")

	reportPath := report.Path(outputDir, saved.TestName, runID.String())
	require.Eventually(t, func() bool {
		_, err := os.Stat(reportPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "report file not written")
}

func TestRunner_AbortedRunStillGetsResult(t *testing.T) {
	results := newNotifyingStore(t)
	runner := NewRunner(RunnerConfig{
		Execute: func(ctx context.Context, tc *domain.TestCase) (*domain.ExecutionResult, error) {
			return nil, errors.New("browser launch failed")
		},
		Results: results,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	runID, err := runner.Enqueue(ctx, loginCase(t))
	require.NoError(t, err)

	saved := results.waitSaved(t)
	assert.Equal(t, runID, saved.RunID)
	assert.Equal(t, domain.RunStatusFailed, saved.Status)
	assert.Equal(t, "browser launch failed", saved.Message)
	assert.False(t, saved.CompletedAt.IsZero())
}

func TestRunner_QueueFull(t *testing.T) {
	gate := make(chan struct{})
	results := newNotifyingStore(t)
	runner := NewRunner(RunnerConfig{
		Execute: func(ctx context.Context, tc *domain.TestCase) (*domain.ExecutionResult, error) {
			<-gate
			return passingExecute(ctx, tc)
		},
		Results:   results,
		QueueSize: 1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	tc := loginCase(t)

	// First run is picked up by the worker and blocks on the gate; the
	// second fills the queue slot.
	first, err := runner.Enqueue(ctx, tc)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		status, ok := runner.Status(first)
		return ok && status == domain.RunStatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	second, err := runner.Enqueue(ctx, tc)
	require.NoError(t, err)

	third, err := runner.Enqueue(ctx, tc)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uuid.Nil, third)

	status, ok := runner.Status(second)
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusPending, status)

	close(gate)
	results.waitSaved(t)
	results.waitSaved(t)
}

func TestRunner_StatusLifecycle(t *testing.T) {
	gate := make(chan struct{})
	results := newNotifyingStore(t)
	runner := NewRunner(RunnerConfig{
		Execute: func(ctx context.Context, tc *domain.TestCase) (*domain.ExecutionResult, error) {
			<-gate
			return passingExecute(ctx, tc)
		},
		Results: results,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	runID, err := runner.Enqueue(ctx, loginCase(t))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, ok := runner.Status(runID)
		return ok && status == domain.RunStatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	close(gate)
	results.waitSaved(t)

	require.Eventually(t, func() bool {
		_, tracked := runner.Status(runID)
		return !tracked
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunner_SerializesRuns(t *testing.T) {
	var active, maxActive int32
	results := newNotifyingStore(t)
	runner := NewRunner(RunnerConfig{
		Execute: func(ctx context.Context, tc *domain.TestCase) (*domain.ExecutionResult, error) {
			n := atomic.AddInt32(&active, 1)
			if n > atomic.LoadInt32(&maxActive) {
				atomic.StoreInt32(&maxActive, n)
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return passingExecute(ctx, tc)
		},
		Results:   results,
		QueueSize: 8,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	tc := loginCase(t)
	for i := 0; i < 4; i++ {
		_, err := runner.Enqueue(ctx, tc)
		require.NoError(t, err)
	}
	for i := 0; i < 4; i++ {
		results.waitSaved(t)
	}

	// One browser session means one run at a time, no matter how deep the
	// queue is.
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestRunner_StatusUnknownRun(t *testing.T) {
	runner := NewRunner(RunnerConfig{Execute: passingExecute, Results: newNotifyingStore(t)})
	_, ok := runner.Status(uuid.New())
	assert.False(t, ok)
}
