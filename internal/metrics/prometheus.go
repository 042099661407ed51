package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphrag_query_duration_seconds",
			Help:    "End-to-end query processing duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"strategy"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphrag_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"strategy", "status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphrag_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		},
		[]string{"stage", "outcome"},
	)

	FallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphrag_stage_fallback_total",
			Help: "Total stage fallbacks substituted",
		},
		[]string{"stage"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "graphrag_confidence_score",
			Help:    "Response confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	SearchResultsCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphrag_search_results_count",
			Help:    "Number of results per search by source",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"source"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphrag_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphrag_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	EmbeddingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphrag_embedding_requests_total",
			Help: "Embedding service calls by outcome",
		},
		[]string{"status"},
	)
)

var initOnce sync.Once

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(QueryDuration)
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(StageDuration)
		prometheus.MustRegister(FallbackTotal)
		prometheus.MustRegister(ConfidenceScore)
		prometheus.MustRegister(SearchResultsCount)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(EmbeddingRequests)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
