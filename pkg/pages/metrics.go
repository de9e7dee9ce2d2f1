package pages

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PageRequests tracks GetPage outcomes
	PageRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_page_requests_total",
			Help: "Total number of page requests by result",
		},
		[]string{"result"}, // "derived_hit", "canonical_hit", "store", "not_found", "error"
	)

	// PrewarmResults tracks prewarmed currencies by outcome
	PrewarmResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_prewarm_total",
			Help: "Total number of prewarmed derived pages by result",
		},
		[]string{"result"}, // "ok", "failed", "superseded"
	)

	// ProjectionDuration observes the time spent projecting a page
	ProjectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagecache_projection_duration_seconds",
			Help:    "Time spent projecting a canonical page into another currency",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)
)
