// Package cache provides the shared key-value tier used by the page cache
// and the FX resolver, with a Redis backend.
//
// The package offers:
//
// - A narrow Store contract (get, set with TTL, delete) on byte values
// - A Redis implementation with a bounded per-operation timeout
// - BestEffort, a wrapper that turns every store failure into a log line
// - Versioned keys: bumping the version makes all older keys unreachable
// - Process-local and Redis-backed version sources
// - ETag helpers for conditional responses
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	store := cache.NewRedisStore(redisClient, 500*time.Millisecond)
//	safe := cache.NewBestEffort(store, logger)
//
//	key := cache.Key{
//		Namespace: "pages",
//		ID:        "letei-space",
//		Currency:  "KES",
//		Version:   versions.Current(ctx),
//	}
//
//	// A miss and an unreachable Redis look the same to the caller
//	data, ok := safe.Get(ctx, key.String())
//
// # Versioning
//
// Every page key embeds a version token. LocalVersion keeps the token in
// process memory; SharedVersion keeps it under version:{namespace} in Redis
// so that a bump is seen by every process sharing the cache. Old keys are
// never swept, they expire through their TTL.
//
// # Metrics
//
//   - pagecache_cache_hits_total{tier} - Cache hits
//   - pagecache_cache_misses_total{tier} - Cache misses
//   - pagecache_cache_errors_total{operation} - Cache operation errors
//   - pagecache_version_bumps_total - Version bumps
package cache
