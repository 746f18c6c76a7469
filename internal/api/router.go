// Package api exposes the replay engine over HTTP: queueing runs, polling
// their results and browsing the stored test library. Runs never execute
// inline in a request; they go through the Runner's bounded queue so a
// single browser session is never shared between concurrent replays.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/stepflow-hq/stepflow/internal/api/middleware"
	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/observability"
	"github.com/stepflow-hq/stepflow/pkg/httputil"
)

// HealthCheck probes one dependency for the /healthz endpoint.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Router holds the HTTP router and its dependencies.
type Router struct {
	chi.Router
	logger *zap.Logger
}

// RouterConfig contains everything the HTTP surface needs.
type RouterConfig struct {
	Tests   domain.TestCaseRepository
	Results domain.ExecutionResultRepository
	Runner  *Runner
	Metrics *observability.Metrics
	Logger  *zap.Logger

	CORSAllowedOrigins []string
	MaxRequestSize     int64
	HealthChecks       []HealthCheck
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()

	// Base middleware stack
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(cfg.Logger).Handler)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Handler)
	if cfg.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(cfg.Metrics).Handler)
	}
	r.Use(chimw.Timeout(60 * time.Second))
	if cfg.MaxRequestSize > 0 {
		r.Use(chimw.RequestSize(cfg.MaxRequestSize))
	}

	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", healthHandler(cfg.HealthChecks))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	testsHandler := NewTestsHandler(cfg.Tests, cfg.Results, cfg.Logger)
	runsHandler := NewRunsHandler(cfg.Tests, cfg.Results, cfg.Runner, cfg.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tests", func(r chi.Router) {
			r.Get("/", testsHandler.List)
			r.Get("/{name}", testsHandler.Get)
			r.Get("/{name}/runs", testsHandler.ListRuns)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", runsHandler.Create)
			r.Get("/{id}", runsHandler.Get)
		})
	})

	return &Router{
		Router: r,
		logger: cfg.Logger,
	}
}

// healthHandler probes every registered dependency and reports 503 when
// any of them fails.
func healthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]string, len(checks))
		healthy := true

		for _, c := range checks {
			if err := c.Check(r.Context()); err != nil {
				results[c.Name] = "unhealthy: " + err.Error()
				healthy = false
			} else {
				results[c.Name] = "healthy"
			}
		}

		status := http.StatusOK
		statusText := "healthy"
		if !healthy {
			status = http.StatusServiceUnavailable
			statusText = "unhealthy"
		}

		httputil.JSON(w, status, map[string]any{
			"status": statusText,
			"checks": results,
		})
	}
}
