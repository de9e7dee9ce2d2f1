// Package pages serves content pages in any currency from a canonical copy.
//
// A page is stored once, in the base currency, in a Store (the system of
// record). The Manager keeps two kinds of entries in the shared cache:
//
//	pages:{id}:{BASE}:{version}      canonical page
//	pages:{id}:{CUR}:{version}       derived page, projected at one FX rate
//
// Derived pages are always produced from the canonical page, never from
// another derived page. Bumping the cache version makes every existing entry
// unreachable at once; entries are reclaimed by their TTL.
//
// After an upsert the Manager prewarms the derived pages of a configured
// currency list in the background. Each currency is projected and written
// independently; a failing currency is logged and does not affect the others
// or the caller.
//
// # Metrics
//
//   - pagecache_page_requests_total{result} - GetPage outcomes
//   - pagecache_prewarm_total{result} - Prewarmed currencies by outcome
//   - pagecache_projection_duration_seconds - Time spent projecting pages
package pages
