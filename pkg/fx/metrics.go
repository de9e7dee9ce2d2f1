package fx

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for FX resolution.
var (
	// RateResolutions counts resolved rates by the tier that produced them
	RateResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fx_rate_resolutions_total",
		Help: "Total FX rate resolutions by source",
	}, []string{"source"}) // "shared", "local", "provider", "stale", "static", "override", "identity"

	// ProviderRequests counts provider lookups by provider and outcome
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fx_provider_requests_total",
		Help: "Total FX provider requests by provider and status",
	}, []string{"provider", "status"})

	// ProviderDuration observes provider lookup latency
	ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fx_provider_request_duration_seconds",
		Help:    "FX provider request duration in seconds by provider",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"provider"})

	// RetriesTotal counts provider retries by error class
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fx_retries_total",
		Help: "Total number of FX provider retry attempts by error class",
	}, []string{"error_class"})

	// Degraded counts resolutions that ended at the static fallback
	Degraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fx_degraded_total",
		Help: "Total number of FX resolutions served from the static fallback",
	})
)
