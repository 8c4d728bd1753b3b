package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMetrics_ClampObserverFeedsCounter(t *testing.T) {
	m := NewMetrics()
	observe := m.ClampObserver()

	observe("revert", "ana", 100)
	observe("revert", "bia", 50)
	observe("apply", "ana", 7)

	assert.Equal(t, 150.0, m.ClampedPoints("revert"))
	assert.Equal(t, 7.0, m.ClampedPoints("apply"))
	assert.Equal(t, 0.0, m.ClampedPoints("move"))
}

func TestMetrics_Operations(t *testing.T) {
	m := NewMetrics()

	m.ObserveOperation("upsert", time.Millisecond, nil)
	m.ObserveOperation("upsert", time.Millisecond, errors.New("x"))
	m.ObserveOperation("upsert", time.Millisecond, nil)

	assert.Equal(t, 2.0, m.Operations("upsert", "ok"))
	assert.Equal(t, 1.0, m.Operations("upsert", "error"))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.IncrStoreError("get")
	a.SetBreakerOpen("store", true)

	n, err := testutil.GatherAndCount(a.Registry, "points_store_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = testutil.GatherAndCount(b.Registry, "points_store_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestZapLoggerMiddleware_LevelsByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	handler := ZapLoggerMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/broken":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))

	for _, path := range []string{"/ok", "/missing", "/broken"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, int64(http.StatusServiceUnavailable), entries[2].ContextMap()["status"])
}

func TestTracingMiddleware_PassesThrough(t *testing.T) {
	called := false
	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, called)
}
