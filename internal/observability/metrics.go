// Package observability provides the Prometheus metrics catalog for the
// pipeline.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Heimdall Prometheus metrics.
type Metrics struct {
	// Stage metrics
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
	StageRuns     *prometheus.CounterVec

	// Satellite metrics
	SatellitesProcessed *prometheus.CounterVec
	SatellitesDropped   *prometheus.CounterVec
	SamplesComputed     *prometheus.CounterVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Pool metrics
	PoolVisibleCount *prometheus.GaugeVec
	PoolCoverageRate *prometheus.GaugeVec

	// Event metrics
	HandoverEvents *prometheus.CounterVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetMetrics returns the global metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = initializeMetrics()
	})
	return globalMetrics
}

func initializeMetrics() *Metrics {
	m := &Metrics{}

	m.StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "heimdall",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	m.StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heimdall",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Total stage failures by reason class",
		},
		[]string{"stage", "reason"},
	)

	m.StageRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heimdall",
			Subsystem: "pipeline",
			Name:      "stage_runs_total",
			Help:      "Total stage executions",
		},
		[]string{"stage"},
	)

	m.SatellitesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heimdall",
			Subsystem: "satellites",
			Name:      "processed_total",
			Help:      "Satellites processed per stage",
		},
		[]string{"stage", "constellation"},
	)

	m.SatellitesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heimdall",
			Subsystem: "satellites",
			Name:      "dropped_total",
			Help:      "Satellites dropped after consecutive invalid samples",
		},
		[]string{"stage", "constellation"},
	)

	m.SamplesComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heimdall",
			Subsystem: "satellites",
			Name:      "samples_total",
			Help:      "Per-sample computations per stage",
		},
		[]string{"stage"},
	)

	m.CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heimdall",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Content-hash cache hits",
		},
		[]string{"stage"},
	)

	m.CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heimdall",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Content-hash cache misses",
		},
		[]string{"stage"},
	)

	m.PoolVisibleCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "heimdall",
			Subsystem: "pool",
			Name:      "visible_mean",
			Help:      "Mean visible satellite count per constellation",
		},
		[]string{"constellation"},
	)

	m.PoolCoverageRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "heimdall",
			Subsystem: "pool",
			Name:      "coverage_rate",
			Help:      "Fraction of grid points with visible count in the target band",
		},
		[]string{"constellation"},
	)

	m.HandoverEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heimdall",
			Subsystem: "events",
			Name:      "detected_total",
			Help:      "Handover events detected by kind",
		},
		[]string{"kind", "constellation"},
	)

	return m
}
