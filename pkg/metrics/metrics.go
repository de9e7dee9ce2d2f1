// Package metrics exposes the Prometheus metrics of the page cache.
// All metrics are defined in their respective packages (cache, fx, pages)
// to maintain modularity and avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry scraped by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - pagecache_cache_hits_total{tier="redis"} (Counter): Shared cache hits
//   - pagecache_cache_misses_total{tier="redis"} (Counter): Shared cache misses
//   - pagecache_cache_errors_total{operation} (Counter): get, set, delete, version, decode errors
//   - pagecache_version_bumps_total (Counter): Cache version bumps
//   - pagecache_304_responses_total (Counter): Conditional GETs answered with 304
//
// FX Metrics (pkg/fx):
//   - fx_rate_resolutions_total{source} (Counter): shared, local, provider, stale, static, override, identity
//   - fx_provider_requests_total{provider, status} (Counter): Provider lookups by outcome
//   - fx_provider_request_duration_seconds{provider} (Histogram): Provider latency
//   - fx_retries_total{error_class} (Counter): Provider retries by error class
//   - fx_degraded_total (Counter): Resolutions that reached the static fallback
//
// Page Metrics (pkg/pages):
//   - pagecache_page_requests_total{result} (Counter): derived_hit, canonical_hit, store, not_found, error
//   - pagecache_prewarm_total{result} (Counter): ok, failed, superseded
//   - pagecache_projection_duration_seconds (Histogram): Time spent projecting a page
//
// Example Prometheus Queries:
//
//   # Derived page hit rate
//   sum(rate(pagecache_page_requests_total{result="derived_hit"}[5m])) /
//   sum(rate(pagecache_page_requests_total[5m]))
//
//   # Degraded FX resolutions
//   increase(fx_degraded_total[1h]) > 0
//
//   # P95 provider latency
//   histogram_quantile(0.95, rate(fx_provider_request_duration_seconds_bucket[5m]))
