package api

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/observability"
	"github.com/stepflow-hq/stepflow/internal/report"
)

// ErrQueueFull is returned when the run queue cannot take another run.
var ErrQueueFull = errors.New("run queue is full")

// ExecuteFunc replays one stored test case and returns its result. The
// server wires in the browser-backed executor; tests substitute fakes.
type ExecuteFunc func(ctx context.Context, tc *domain.TestCase) (*domain.ExecutionResult, error)

// StatusCache mirrors run status into an external cache. *redis.Cache
// satisfies it; nil disables mirroring.
type StatusCache interface {
	SetRunStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus) error
	SetResult(ctx context.Context, result *domain.ExecutionResult) error
}

// Archiver mirrors finished run artifacts into object storage.
// *storage.MinIOStore satisfies it; nil disables archiving.
type Archiver interface {
	ArchiveRun(ctx context.Context, result *domain.ExecutionResult) ([]string, error)
	UploadReport(ctx context.Context, runID uuid.UUID, html []byte) (string, error)
}

type runJob struct {
	id uuid.UUID
	tc *domain.TestCase
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Execute   ExecuteFunc
	Results   domain.ExecutionResultRepository
	Cache     StatusCache
	Archiver  Archiver
	Metrics   *observability.Metrics
	Renderer  *report.Renderer
	OutputDir string
	QueueSize int
	Logger    *zap.Logger
}

// Runner executes queued runs one at a time. The single worker is what
// serializes access to the browser session: a run owns it exclusively from
// dequeue to finish.
type Runner struct {
	execute   ExecuteFunc
	results   domain.ExecutionResultRepository
	cache     StatusCache
	archiver  Archiver
	metrics   *observability.Metrics
	renderer  *report.Renderer
	outputDir string
	logger    *zap.Logger

	queue    chan runJob
	statuses sync.Map // uuid.UUID -> domain.RunStatus, in-flight runs only

	wg sync.WaitGroup
}

// NewRunner builds a runner. Execute and Results are required; everything
// else is optional.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "output"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		execute:   cfg.Execute,
		results:   cfg.Results,
		cache:     cfg.Cache,
		archiver:  cfg.Archiver,
		metrics:   cfg.Metrics,
		renderer:  cfg.Renderer,
		outputDir: cfg.OutputDir,
		logger:    logger,
		queue:     make(chan runJob, cfg.QueueSize),
	}
}

// Start launches the worker. It drains until ctx is cancelled; Wait blocks
// until the in-flight run finishes.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-r.queue:
				r.gaugeDepth()
				r.run(ctx, job)
			}
		}
	}()
}

// Wait blocks until the worker has stopped.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Enqueue queues a run for tc and returns its run id immediately. The run
// executes when the browser session frees up.
func (r *Runner) Enqueue(ctx context.Context, tc *domain.TestCase) (uuid.UUID, error) {
	id := uuid.New()
	r.statuses.Store(id, domain.RunStatusPending)

	select {
	case r.queue <- runJob{id: id, tc: tc}:
	default:
		r.statuses.Delete(id)
		return uuid.Nil, ErrQueueFull
	}

	r.gaugeDepth()
	r.mirrorStatus(ctx, id, domain.RunStatusPending)
	return id, nil
}

// Status reports an in-flight run's state. Finished runs are served from
// the result store instead and report false here.
func (r *Runner) Status(runID uuid.UUID) (domain.RunStatus, bool) {
	v, ok := r.statuses.Load(runID)
	if !ok {
		return "", false
	}
	return v.(domain.RunStatus), true
}

func (r *Runner) run(ctx context.Context, job runJob) {
	r.statuses.Store(job.id, domain.RunStatusRunning)
	r.mirrorStatus(ctx, job.id, domain.RunStatusRunning)

	result, err := r.execute(ctx, job.tc)
	if err != nil || result == nil {
		result = abortedResult(job.tc.Name, err)
		r.logger.Error("run aborted",
			zap.String("test", job.tc.Name),
			zap.String("run_id", job.id.String()),
			zap.Error(err))
	}
	// The queue owns the public run id; the result adopts it.
	result.RunID = job.id

	// Persistence survives shutdown: a run cancelled mid-flight still gets
	// its result written before the worker exits.
	ctx = context.WithoutCancel(ctx)

	if err := r.results.Save(ctx, result); err != nil {
		r.logger.Error("saving run result", zap.String("run_id", job.id.String()), zap.Error(err))
	}
	if r.cache != nil {
		if err := r.cache.SetResult(ctx, result); err != nil {
			r.logger.Warn("caching run result", zap.Error(err))
		}
	}
	r.mirrorStatus(ctx, job.id, result.Status)
	if r.metrics != nil {
		r.metrics.RecordRun(result)
	}

	r.archive(ctx, job.tc, result)

	// The result store answers from here on.
	r.statuses.Delete(job.id)
}

// archive renders the HTML report and mirrors artifacts to object storage.
// All of it is best effort; the run result is already saved.
func (r *Runner) archive(ctx context.Context, tc *domain.TestCase, result *domain.ExecutionResult) {
	var html []byte
	if r.renderer != nil {
		var buf bytes.Buffer
		if err := r.renderer.Render(&buf, report.BuildSummary(tc, result)); err != nil {
			r.logger.Warn("rendering run report", zap.Error(err))
		} else {
			html = buf.Bytes()
			path := report.Path(r.outputDir, result.TestName, result.RunID.String())
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
				if err := os.WriteFile(path, html, 0o644); err != nil {
					r.logger.Warn("writing run report", zap.String("path", path), zap.Error(err))
				}
			}
		}
	}

	if r.archiver == nil {
		return
	}
	if _, err := r.archiver.ArchiveRun(ctx, result); err != nil {
		r.logger.Warn("archiving run artifacts", zap.Error(err))
	}
	if html != nil {
		if _, err := r.archiver.UploadReport(ctx, result.RunID, html); err != nil {
			r.logger.Warn("uploading run report", zap.Error(err))
		}
	}
}

func (r *Runner) mirrorStatus(ctx context.Context, id uuid.UUID, status domain.RunStatus) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetRunStatus(ctx, id, status); err != nil {
		r.logger.Warn("mirroring run status", zap.String("run_id", id.String()), zap.Error(err))
	}
}

func (r *Runner) gaugeDepth() {
	if r.metrics != nil {
		r.metrics.RunQueueDepth.Set(float64(len(r.queue)))
	}
}

// abortedResult stands in when the executor could not produce a result at
// all, so polling clients still get a terminal answer.
func abortedResult(testName string, err error) *domain.ExecutionResult {
	result := domain.NewExecutionResult(testName)
	result.Status = domain.RunStatusFailed
	result.Message = "run could not start"
	if err != nil {
		result.Message = err.Error()
	}
	result.CompletedAt = time.Now().UTC()
	result.DurationSeconds = result.CompletedAt.Sub(result.StartedAt).Seconds()
	return result
}
