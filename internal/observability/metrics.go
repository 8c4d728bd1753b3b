package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/warp/points-engine/ledger"
)

// Metrics holds all Prometheus metrics for the points engine.
type Metrics struct {
	// Registry owns these metrics; /metrics serves it.
	Registry *prometheus.Registry

	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	clampedPoints *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
}

// NewMetrics registers every metric in a private registry, so tests can
// build as many as they like.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "points_ledger_operations_total",
				Help: "Ledger operations by name and result.",
			},
			[]string{"op", "result"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "points_ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		clampedPoints: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "points_ledger_clamped_points_total",
				Help: "Points dropped to keep balances non-negative.",
			},
			[]string{"op"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "points_store_errors_total",
				Help: "Document store failures by operation.",
			},
			[]string{"op"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "points_store_breaker_open",
				Help: "1 while the store circuit breaker is open.",
			},
			[]string{"breaker"},
		),
	}
}

// ObserveOperation records one finished operation.
func (m *Metrics) ObserveOperation(op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

// IncrStoreError counts a failed store call.
func (m *Metrics) IncrStoreError(op string) {
	m.storeErrors.WithLabelValues(op).Inc()
}

// SetBreakerOpen publishes the breaker state.
func (m *Metrics) SetBreakerOpen(name string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.breakerState.WithLabelValues(name).Set(v)
}

// ClampObserver adapts the clamped-points counter to the ledger.
func (m *Metrics) ClampObserver() ledger.ClampObserver {
	return func(op string, _ ledger.AccountHolderID, dropped int64) {
		m.clampedPoints.WithLabelValues(op).Add(float64(dropped))
	}
}

// ClampedPoints returns the cumulative points dropped by op.
func (m *Metrics) ClampedPoints(op string) float64 {
	return counterValue(m.clampedPoints, op)
}

// Operations returns how many times op finished with result.
func (m *Metrics) Operations(op, result string) float64 {
	return counterValue(m.operations, op, result)
}

func counterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	pb := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(pb); err != nil {
		return 0
	}
	if pb.Counter != nil && pb.Counter.Value != nil {
		return *pb.Counter.Value
	}
	return 0
}
