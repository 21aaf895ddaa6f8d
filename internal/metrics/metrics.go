package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recall_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	MemoriesCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recall_memories_created_total",
			Help: "Total number of memories inserted.",
		},
	)

	DedupHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recall_dedup_hits_total",
			Help: "Total number of writes resolved to an existing memory by content hash.",
		},
	)

	SearchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recall_searches_total",
			Help: "Total number of semantic searches executed.",
		},
	)

	VotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_votes_total",
			Help: "Total number of effectiveness votes recorded.",
		},
		[]string{"vote"},
	)

	EmbeddingCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_embedding_cache_hits_total",
			Help: "Embedding cache hits by tier (process, persistent).",
		},
		[]string{"tier"},
	)

	EmbeddingProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_embedding_provider_requests_total",
			Help: "Embedding provider batch requests by outcome.",
		},
		[]string{"outcome"},
	)

	AdmissionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_admission_rejections_total",
			Help: "Requests rejected by the rate limiter, by window.",
		},
		[]string{"window"},
	)

	SweptMemoriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recall_swept_memories_total",
			Help: "Expired memories removed by the TTL sweeper.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		MemoriesCreatedTotal,
		DedupHitsTotal,
		SearchesTotal,
		VotesTotal,
		EmbeddingCacheHitsTotal,
		EmbeddingProviderRequestsTotal,
		AdmissionRejectionsTotal,
		SweptMemoriesTotal,
	)
}
