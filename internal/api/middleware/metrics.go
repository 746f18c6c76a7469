package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stepflow-hq/stepflow/internal/observability"
)

// MetricsMiddleware records request counters and latencies. The path label
// is the chi route pattern, so run ids in URLs do not explode cardinality.
type MetricsMiddleware struct {
	metrics *observability.Metrics
}

// NewMetricsMiddleware creates a metrics middleware.
func NewMetricsMiddleware(metrics *observability.Metrics) *MetricsMiddleware {
	return &MetricsMiddleware{metrics: metrics}
}

// Handler returns the middleware handler.
func (m *MetricsMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.metrics.HTTPRequestsActive.Inc()
		defer m.metrics.HTTPRequestsActive.Dec()

		start := time.Now()
		rw := newResponseWriter(w)

		next.ServeHTTP(rw, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}
		m.metrics.RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
