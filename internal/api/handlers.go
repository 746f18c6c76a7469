package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/pkg/httputil"
)

// TestsHandler serves the stored test case library.
type TestsHandler struct {
	tests   domain.TestCaseRepository
	results domain.ExecutionResultRepository
	logger  *zap.Logger
}

func NewTestsHandler(tests domain.TestCaseRepository, results domain.ExecutionResultRepository, logger *zap.Logger) *TestsHandler {
	return &TestsHandler{tests: tests, results: results, logger: logger}
}

type testSummary struct {
	TestName           string    `json:"test_name"`
	FeatureDescription string    `json:"feature_description"`
	RecordedAt         time.Time `json:"recorded_at"`
	StepCount          int       `json:"step_count"`
}

func toTestSummary(tc *domain.TestCase) testSummary {
	return testSummary{
		TestName:           tc.Name,
		FeatureDescription: tc.FeatureDescription,
		RecordedAt:         tc.RecordedAt,
		StepCount:          len(tc.Steps),
	}
}

// List handles GET /api/v1/tests.
func (h *TestsHandler) List(w http.ResponseWriter, r *http.Request) {
	cases, err := h.tests.List(r.Context())
	if err != nil {
		h.logger.Error("listing test cases", zap.Error(err))
		httputil.ErrorFromDomain(w, err)
		return
	}

	summaries := make([]testSummary, 0, len(cases))
	for _, tc := range cases {
		summaries = append(summaries, toTestSummary(tc))
	}
	httputil.JSONWithMeta(w, http.StatusOK, summaries, &httputil.Meta{Total: len(summaries)})
}

// Get handles GET /api/v1/tests/{name} and returns the full step sequence.
func (h *TestsHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	tc, err := h.tests.GetByName(r.Context(), name)
	if err != nil {
		httputil.ErrorFromDomain(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, tc)
}

// ListRuns handles GET /api/v1/tests/{name}/runs, newest first.
func (h *TestsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if _, err := h.tests.GetByName(r.Context(), name); err != nil {
		httputil.ErrorFromDomain(w, err)
		return
	}
	runs, err := h.results.ListByTestName(r.Context(), name)
	if err != nil {
		h.logger.Error("listing runs", zap.String("test", name), zap.Error(err))
		httputil.ErrorFromDomain(w, err)
		return
	}
	httputil.JSONWithMeta(w, http.StatusOK, runs, &httputil.Meta{Total: len(runs)})
}

// RunsHandler queues replays and serves their results.
type RunsHandler struct {
	tests   domain.TestCaseRepository
	results domain.ExecutionResultRepository
	runner  *Runner
	logger  *zap.Logger
}

func NewRunsHandler(tests domain.TestCaseRepository, results domain.ExecutionResultRepository, runner *Runner, logger *zap.Logger) *RunsHandler {
	return &RunsHandler{tests: tests, results: results, runner: runner, logger: logger}
}

type createRunRequest struct {
	TestName string `json:"test_name"`
}

type runQueuedResponse struct {
	RunID    uuid.UUID        `json:"run_id"`
	TestName string           `json:"test_name"`
	Status   domain.RunStatus `json:"status"`
}

type runStatusResponse struct {
	RunID  uuid.UUID        `json:"run_id"`
	Status domain.RunStatus `json:"status"`
}

// Create handles POST /api/v1/runs. The run is queued, not executed inline;
// clients poll GET /api/v1/runs/{id} for the outcome.
func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.TestName == "" {
		httputil.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "test_name is required")
		return
	}

	tc, err := h.tests.GetByName(r.Context(), req.TestName)
	if err != nil {
		httputil.ErrorFromDomain(w, err)
		return
	}

	runID, err := h.runner.Enqueue(r.Context(), tc)
	if err != nil {
		if errors.Is(err, ErrQueueFull) {
			httputil.JSONError(w, http.StatusServiceUnavailable, "QUEUE_FULL", "run queue is full, retry later")
			return
		}
		h.logger.Error("queueing run", zap.String("test", req.TestName), zap.Error(err))
		httputil.ErrorFromDomain(w, err)
		return
	}

	h.logger.Info("run queued", zap.String("test", tc.Name), zap.String("run_id", runID.String()))
	httputil.JSON(w, http.StatusAccepted, runQueuedResponse{
		RunID:    runID,
		TestName: tc.Name,
		Status:   domain.RunStatusPending,
	})
}

// Get handles GET /api/v1/runs/{id}. Finished runs return the full result;
// queued and in-flight runs return just the status.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "INVALID_ID", "run id must be a UUID")
		return
	}

	result, err := h.results.GetByRunID(r.Context(), runID)
	if err == nil {
		httputil.JSON(w, http.StatusOK, result)
		return
	}
	if !errors.Is(err, domain.ErrNotFound) {
		h.logger.Error("loading run result", zap.String("run_id", runID.String()), zap.Error(err))
		httputil.ErrorFromDomain(w, err)
		return
	}

	// Not stored yet; it may still be queued or running.
	if status, ok := h.runner.Status(runID); ok {
		httputil.JSON(w, http.StatusOK, runStatusResponse{RunID: runID, Status: status})
		return
	}
	httputil.ErrorFromDomain(w, domain.NotFoundError("run", runID.String()))
}
