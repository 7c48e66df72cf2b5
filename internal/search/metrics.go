package search

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// engineMetrics holds the Prometheus instruments owned by the hybrid engine.
// A single instance is created in NewEngine and registered against the
// caller-supplied registry so unit tests stay hermetic.
type engineMetrics struct {
	// searchTotal counts completed searches, partitioned by outcome:
	// "ok", "degraded" (keyword-only fallback), "invalid", or "error".
	searchTotal *prometheus.CounterVec

	// searchDuration records the wall-clock duration of each search.
	searchDuration *prometheus.HistogramVec

	// indexedChunks is the number of chunks covered by the current BM25
	// statistics snapshot.
	indexedChunks prometheus.Gauge
}

// newEngineMetrics registers all engine metrics against reg. promauto.With
// is used so each call registers into the provided registry rather than the
// global default.
func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	factory := promauto.With(reg)

	return &engineMetrics{
		searchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbase",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of hybrid searches completed, partitioned by outcome.",
		}, []string{"outcome"}),

		searchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbase",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of hybrid searches.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15},
		}, []string{"outcome"}),

		indexedChunks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kbase",
			Subsystem: "search",
			Name:      "indexed_chunks",
			Help:      "Number of chunks covered by the current BM25 statistics snapshot.",
		}),
	}
}

// observe records one completed search with its outcome and duration.
func (m *engineMetrics) observe(outcome string, elapsed time.Duration) {
	m.searchTotal.WithLabelValues(outcome).Inc()
	m.searchDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
