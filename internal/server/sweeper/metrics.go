package sweeper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes sweep counters. A fresh Registerer per instance keeps
// tests from tripping over duplicate registration.
type Metrics struct {
	SweepRuns     prometheus.Counter
	SweepDuration prometheus.Histogram
	Expired       prometheus.Counter
	Deleted       prometheus.Counter
	Notified      prometheus.Counter
	Errors        prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		SweepRuns: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cipherdrop_sweep_runs_total",
			Help: "Number of completed sweep passes.",
		}),
		SweepDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "cipherdrop_sweep_duration_seconds",
			Help:    "Wall time of a single sweep pass.",
			Buckets: prometheus.DefBuckets,
		}),
		Expired: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cipherdrop_sweep_expired_records_total",
			Help: "Expired records discovered by sweep passes.",
		}),
		Deleted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cipherdrop_sweep_deleted_records_total",
			Help: "Records soft-deleted by sweep passes.",
		}),
		Notified: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cipherdrop_sweep_notifications_total",
			Help: "Pre-expiry notifications emitted.",
		}),
		Errors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cipherdrop_sweep_errors_total",
			Help: "Per-record errors encountered during sweeps.",
		}),
	}
}
