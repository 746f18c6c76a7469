// Package observability exposes the engine's Prometheus metrics: HTTP
// traffic, run outcomes, healing activity and Claude API usage.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/llm"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsActive  prometheus.Gauge

	// Run metrics
	RunsTotal     *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	StepsTotal    *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	RunQueueDepth prometheus.Gauge

	// Healing metrics
	HealingAttemptsTotal prometheus.Counter
	HealedStepsTotal     prometheus.Counter

	// Visual check metrics
	VisualChecksTotal *prometheus.CounterVec

	factory promauto.Factory
}

// NewMetrics registers the engine's collectors on the default registry.
func NewMetrics(namespace string) *Metrics {
	return newMetrics(namespace, prometheus.DefaultRegisterer)
}

func newMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "stepflow"
	}
	factory := promauto.With(reg)

	return &Metrics{
		factory: factory,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_active",
				Help:      "Number of HTTP requests currently being served",
			},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of finished test runs",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of finished test runs",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		StepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of replayed steps",
			},
			[]string{"action", "status"},
		),
		StepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of individual replayed steps",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"action"},
		),
		RunQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_queue_depth",
				Help:      "Number of runs waiting for the browser session",
			},
		),

		HealingAttemptsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "healing_attempts_total",
				Help:      "Total number of self-healing attempts",
			},
		),
		HealedStepsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "healed_steps_total",
				Help:      "Total number of steps that passed through a healed selector",
			},
		),

		VisualChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "visual_checks_total",
				Help:      "Total number of visual baseline comparisons",
			},
			[]string{"status"},
		),
	}
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRun folds a finished execution result into the run, step, healing
// and visual check collectors.
func (m *Metrics) RecordRun(result *domain.ExecutionResult) {
	status := string(result.Status)
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(result.DurationSeconds)

	for _, sr := range result.StepResults {
		action := string(sr.Action)
		m.StepsTotal.WithLabelValues(action, string(sr.Status)).Inc()
		m.StepDuration.WithLabelValues(action).Observe(float64(sr.DurationMS) / 1000)
	}

	m.HealingAttemptsTotal.Add(float64(result.HealingAttempts))
	m.HealedStepsTotal.Add(float64(result.HealedSteps))

	for _, vc := range result.VisualChecks {
		m.VisualChecksTotal.WithLabelValues(vc.Status).Inc()
	}
}

// RegisterLLMUsage exposes the Claude client's internal usage counters as
// Prometheus counters. snapshot is invoked on every scrape.
func (m *Metrics) RegisterLLMUsage(namespace string, snapshot func() llm.Metrics) {
	if namespace == "" {
		namespace = "stepflow"
	}

	counter := func(name, help string, labels prometheus.Labels, value func(llm.Metrics) float64) {
		m.factory.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        name,
				Help:        help,
				ConstLabels: labels,
			},
			func() float64 { return value(snapshot()) },
		)
	}

	counter("llm_requests_total", "Total number of Claude API requests",
		prometheus.Labels{"outcome": "success"},
		func(u llm.Metrics) float64 { return float64(u.SuccessRequests) })
	counter("llm_requests_total", "Total number of Claude API requests",
		prometheus.Labels{"outcome": "failed"},
		func(u llm.Metrics) float64 { return float64(u.FailedRequests) })
	counter("llm_tokens_total", "Total number of Claude API tokens",
		prometheus.Labels{"direction": "input"},
		func(u llm.Metrics) float64 { return float64(u.TotalTokensIn) })
	counter("llm_tokens_total", "Total number of Claude API tokens",
		prometheus.Labels{"direction": "output"},
		func(u llm.Metrics) float64 { return float64(u.TotalTokensOut) })
	counter("llm_cache_lookups_total", "Total number of response cache lookups",
		prometheus.Labels{"result": "hit"},
		func(u llm.Metrics) float64 { return float64(u.CacheHits) })
	counter("llm_cache_lookups_total", "Total number of response cache lookups",
		prometheus.Labels{"result": "miss"},
		func(u llm.Metrics) float64 { return float64(u.CacheMisses) })
	counter("llm_cost_usd_total", "Estimated Claude API spend in USD",
		nil,
		func(u llm.Metrics) float64 { return u.TotalCost })
}
