package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments every storage operation (SPEC_FULL §2 C2), ported
// from the teacher's internal/storage/metrics.go pattern and renamed from
// its alert_history namespace to this module's own.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	BackendType       *prometheus.GaugeVec
}

// NewMetrics registers the storage metric family under namespace
// "deployctl" against registry. registry may be nil, in which case the
// metrics are constructed but not registered anywhere (grounded in the
// teacher's pkg/metrics.NewWebhookMetrics(nil) pattern) — tests that call
// NewMetrics more than once in the same package binary pass nil to avoid
// duplicate-registration panics against the default registerer.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "deployctl",
				Subsystem: "storage",
				Name:      "operations_total",
				Help:      "Total storage operations by backend, operation and outcome",
			},
			[]string{"backend", "operation", "outcome"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "deployctl",
				Subsystem: "storage",
				Name:      "operation_duration_seconds",
				Help:      "Duration of storage operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		),
		BackendType: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "deployctl",
				Subsystem: "storage",
				Name:      "backend_info",
				Help:      "Set to 1 for the active storage backend",
			},
			[]string{"backend"},
		),
	}
}

// Observe records one operation's duration and outcome.
func (m *Metrics) Observe(backend, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.OperationsTotal.WithLabelValues(backend, operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}
