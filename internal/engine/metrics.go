package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments deployment runs (SPEC_FULL §2 C4), grounded in
// internal/storage's metrics pattern and exposed only for internal
// scraping — the spec's Non-goals exclude a /metrics HTTP endpoint, so
// nothing in this package registers an HTTP handler.
type Metrics struct {
	RunsTotal    *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	BuildRetries prometheus.Counter
}

// NewMetrics registers the engine metric family under namespace
// "deployctl" against registry. registry may be nil (grounded in the
// teacher's pkg/metrics.NewWebhookMetrics(nil) pattern), in which case the
// metrics are constructed but not registered anywhere — the shape tests
// want, since a shared *prometheus.Registry would make every test in a
// package that calls NewMetrics more than once panic on duplicate
// registration.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "deployctl",
				Subsystem: "engine",
				Name:      "runs_total",
				Help:      "Total deployment runs by final status",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "deployctl",
				Subsystem: "engine",
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of one deployment run, enter to finalize",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		BuildRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "deployctl",
				Subsystem: "engine",
				Name:      "run_call_retries_total",
				Help:      "Total retries issued by the job-mutating HTTP retry policy",
			},
		),
	}
}

// Observe records one completed run.
func (m *Metrics) Observe(status string, start time.Time) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}
