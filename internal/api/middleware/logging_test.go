package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func loggedRouter(logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(NewLoggingMiddleware(logger).Handler)
	r.Get("/tests", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return r
}

func TestLoggingMiddleware_Fields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := loggedRouter(zap.New(core))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/tests", nil))

	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, zap.InfoLevel, entry.Level)
	assert.Equal(t, "http request", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/tests", fields["path"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
	assert.Equal(t, int64(2), fields["bytes"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestLoggingMiddleware_Levels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := loggedRouter(zap.New(core))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/broken", nil))

	entries := logs.TakeAll()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
}

func TestLoggingMiddleware_DefaultsTo200(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := NewLoggingMiddleware(zap.New(core)).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Neither WriteHeader nor Write called.
		}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(http.StatusOK), entries[0].ContextMap()["status"])
}

func TestRecoveryMiddleware(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	handler := NewRecoveryMiddleware(zap.New(core)).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("template exploded")
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tests", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Equal(t, "panic recovered", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "template exploded", fields["error"])
	assert.NotEmpty(t, fields["stack"])
}
