package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by tier
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_cache_hits_total",
			Help: "Total number of shared cache hits",
		},
		[]string{"tier"}, // "redis"
	)

	// CacheMisses tracks cache misses by tier
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_cache_misses_total",
			Help: "Total number of shared cache misses",
		},
		[]string{"tier"}, // "redis"
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "version", "decode"
	)

	// VersionBumps tracks cache version bumps
	VersionBumps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagecache_version_bumps_total",
			Help: "Total number of cache version bumps",
		},
	)
)

// ConditionalResponses tracks requests answered with 304 Not Modified
var ConditionalResponses = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "pagecache_304_responses_total",
		Help: "Total number of 304 Not Modified responses",
	},
)
