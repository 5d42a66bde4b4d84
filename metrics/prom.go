package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quickbin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteViewed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quickbin_paste_viewed_total",
		Help: "no. of view-consuming reads served",
	})
	PasteBurned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickbin_paste_burned_total",
			Help: "no. of pastes lazily deleted on detected expiry",
		},
		[]string{"reason"},
	)
	PasteDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quickbin_paste_deleted_total",
		Help: "no. of pastes explicitly deleted",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quickbin_cache_hits_total",
		Help: "no. of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quickbin_cache_misses_total",
		Help: "no. of cache misses",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quickbin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)

func Init() {
}
