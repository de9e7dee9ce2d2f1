package cache

import (
	"time"
)

// Entry is a value with an absolute expiry, used by process-local tiers.
type Entry[T any] struct {
	// Value is the cached value
	Value T

	// Expires is when the entry becomes stale
	Expires time.Time

	// CachedAt is when the entry was written
	CachedAt time.Time
}

// NewEntry creates an entry that expires ttl from now.
func NewEntry[T any](value T, ttl time.Duration) Entry[T] {
	now := time.Now()
	return Entry[T]{
		Value:    value,
		Expires:  now.Add(ttl),
		CachedAt: now,
	}
}

// IsExpired returns true if the cache entry has expired.
func (e Entry[T]) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// Age returns how long ago the entry was written.
func (e Entry[T]) Age() time.Duration {
	return time.Since(e.CachedAt)
}
