package services

import "github.com/prometheus/client_golang/prometheus"

// ReaperMetrics counts reaper outcomes.
type ReaperMetrics struct {
	passes    prometheus.Counter
	deleted   prometheus.Counter
	skipped   *prometheus.CounterVec
	failures  *prometheus.CounterVec
	deleteDur prometheus.Histogram
}

// NewReaperMetrics registers the reaper collectors on reg.
func NewReaperMetrics(reg prometheus.Registerer) *ReaperMetrics {
	m := &ReaperMetrics{
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reaper_passes_total",
			Help: "Total number of reap passes",
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reaper_instances_deleted_total",
			Help: "Total number of instances deleted after exceeding their ttl",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reaper_instances_skipped_total",
			Help: "Total number of matching instances left in place",
		}, []string{"reason"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reaper_failures_total",
			Help: "Total number of reaper failures by stage",
		}, []string{"stage"}),
		deleteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reaper_delete_duration_seconds",
			Help:    "Time from delete request to operation completion",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	reg.MustRegister(m.passes, m.deleted, m.skipped, m.failures, m.deleteDur)
	return m
}

func (m *ReaperMetrics) pass() {
	if m != nil {
		m.passes.Inc()
	}
}

func (m *ReaperMetrics) deletion(seconds float64) {
	if m != nil {
		m.deleted.Inc()
		m.deleteDur.Observe(seconds)
	}
}

func (m *ReaperMetrics) skip(reason string) {
	if m != nil {
		m.skipped.WithLabelValues(reason).Inc()
	}
}

func (m *ReaperMetrics) failure(stage string) {
	if m != nil {
		m.failures.WithLabelValues(stage).Inc()
	}
}
