package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search and embedding Prometheus metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lapidary",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "modality", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lapidary",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "modality"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lapidary",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lapidary",
			Name:      "search_requests_total",
			Help:      "Total number of search requests",
		},
		[]string{"shape", "status"}, // shape: text / image / image_text / audio
	)

	SearchStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lapidary",
			Name:      "search_stage_duration_seconds",
			Help:      "Duration of individual search pipeline stages",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"}, // route / transcribe / describe / embed / fuse / retrieve / rerank / package
	)

	FusionConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lapidary",
			Name:      "fusion_conflicts_total",
			Help:      "Material conflicts detected between user text and AI captions",
		},
	)

	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lapidary",
			Name:      "fallbacks_total",
			Help:      "Graceful degradations per external service",
		},
		[]string{"service"}, // translate / transcribe / describe / rerank / copy
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers the search metrics. Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestDuration)
	prometheus.MustRegister(EmbeddingCacheTotal)
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchStageDuration)
	prometheus.MustRegister(FusionConflictsTotal)
	prometheus.MustRegister(FallbacksTotal)
	searchMetricsRegistered = true
}
