// Package metrics holds the Prometheus instruments for the scoring
// pipeline: per-recalculation counters and latency, batch run outcomes,
// queue depth, and summary-cache effectiveness.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all pipescore metrics.
type Registry struct {
	// Per-deal recalculation metrics
	RecalcTotal    *prometheus.CounterVec
	RecalcDuration *prometheus.HistogramVec

	// Batch run metrics
	BatchRuns      *prometheus.CounterVec
	BatchDuration  *prometheus.HistogramVec
	BatchErrorRate *prometheus.GaugeVec

	// Event queue depth, refreshed on each drain
	QueueDepth prometheus.Gauge

	// Summary cache effectiveness
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// NewRegistry creates and registers all metrics against reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry so parallel suites never collide.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		RecalcTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipescore_recalc_total",
				Help: "Total deal recalculations by trigger source and outcome",
			},
			[]string{"trigger", "outcome"},
		),

		RecalcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipescore_recalc_duration_seconds",
				Help:    "Duration of one deal recalculation (assemble, compute, write)",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"trigger"},
		),

		BatchRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipescore_batch_runs_total",
				Help: "Total batch runs by run type and outcome",
			},
			[]string{"run_type", "outcome"},
		),

		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipescore_batch_duration_seconds",
				Help:    "Wall-clock duration of a full batch operation",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"run_type"},
		),

		BatchErrorRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipescore_batch_error_rate",
				Help: "failed/processed ratio of the most recent batch run (0.0 to 1.0)",
			},
			[]string{"run_type"},
		),

		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipescore_score_event_queue_depth",
				Help: "Unprocessed rows in the score event queue at last drain",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipescore_cache_hits_total",
				Help: "Total cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipescore_cache_misses_total",
				Help: "Total cache misses by cache type",
			},
			[]string{"cache_type"},
		),
	}

	reg.MustRegister(
		r.RecalcTotal,
		r.RecalcDuration,
		r.BatchRuns,
		r.BatchDuration,
		r.BatchErrorRate,
		r.QueueDepth,
		r.CacheHits,
		r.CacheMisses,
	)

	return r
}

// ObserveRecalc records one recalculation outcome.
func (r *Registry) ObserveRecalc(trigger, outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.RecalcTotal.WithLabelValues(trigger, outcome).Inc()
	r.RecalcDuration.WithLabelValues(trigger).Observe(seconds)
}

// ObserveBatch records a completed batch operation.
func (r *Registry) ObserveBatch(runType, outcome string, seconds, errorRate float64) {
	if r == nil {
		return
	}
	r.BatchRuns.WithLabelValues(runType, outcome).Inc()
	r.BatchDuration.WithLabelValues(runType).Observe(seconds)
	r.BatchErrorRate.WithLabelValues(runType).Set(errorRate)
}

// SetQueueDepth publishes the current event-queue depth.
func (r *Registry) SetQueueDepth(depth int64) {
	if r == nil {
		return
	}
	r.QueueDepth.Set(float64(depth))
}

// RecordCacheHit records a cache hit for the given cache type.
func (r *Registry) RecordCacheHit(cacheType string) {
	if r == nil {
		return
	}
	r.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss for the given cache type.
func (r *Registry) RecordCacheMiss(cacheType string) {
	if r == nil {
		return
	}
	r.CacheMisses.WithLabelValues(cacheType).Inc()
}
