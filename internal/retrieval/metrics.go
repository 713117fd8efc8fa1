package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistant",
			Name:      "retrieval_searches_total",
			Help:      "Retrieval searches by outcome",
		},
		[]string{"result"}, // "ok", "empty", "no_index", "timeout", "unavailable", "cancelled"
	)

	searchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "assistant",
			Name:      "retrieval_duration_seconds",
			Help:      "Duration of retrieval searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	searchResultsCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "assistant",
			Name:      "retrieval_results_count",
			Help:      "Passages returned per retrieval search",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10},
		},
	)
)
