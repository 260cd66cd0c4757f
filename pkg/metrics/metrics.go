// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is
// safe to use; every method no-ops.
type Metrics struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	reviews      *prometheus.CounterVec
	runDuration  prometheus.Histogram
}

// New creates pipeline metrics and registers them with reg. A nil reg
// selects the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reviewkit",
			Subsystem: "ingestion",
			Name:      "runs_started_total",
			Help:      "Ingestion runs started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewkit",
			Subsystem: "ingestion",
			Name:      "runs_finished_total",
			Help:      "Ingestion runs finished, by terminal status.",
		}, []string{"status"}),
		reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewkit",
			Subsystem: "ingestion",
			Name:      "reviews_processed_total",
			Help:      "Reviews processed, by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reviewkit",
			Subsystem: "ingestion",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of ingestion runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	reg.MustRegister(m.runsStarted, m.runsFinished, m.reviews, m.runDuration)
	return m
}

// RunStarted records a run start.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
}

// RunFinished records a run reaching a terminal status.
func (m *Metrics) RunFinished(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(status).Inc()
	m.runDuration.Observe(durationSeconds)
}

// ReviewOutcome records one processed review by outcome
// (created, updated, skipped, duplicate, error).
func (m *Metrics) ReviewOutcome(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reviews.WithLabelValues(outcome).Add(float64(n))
}
