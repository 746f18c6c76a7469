package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/stepflow-hq/stepflow/internal/observability"
)

func TestMetricsMiddleware(t *testing.T) {
	metrics := observability.NewMetrics("mwtest")

	r := chi.NewRouter()
	r.Use(NewMetricsMiddleware(metrics).Handler)
	r.Get("/api/v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/api/v1/tests", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	for _, id := range []string{"aaa", "bbb", "ccc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+id, nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/tests", nil))

	// Three different run ids land on the one route pattern label.
	byPattern := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/runs/{id}", "200")
	assert.Equal(t, float64(3), testutil.ToFloat64(byPattern))

	failed := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/tests", "500")
	assert.Equal(t, float64(1), testutil.ToFloat64(failed))

	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.HTTPRequestsActive))
}
