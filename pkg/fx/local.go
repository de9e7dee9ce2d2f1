package fx

import (
	"sync"
	"time"

	"github.com/letei/pagecache/pkg/cache"
)

// localRates is the process-local fallback tier. Entries are kept past their
// expiry so the stale re-check can still find them.
type localRates struct {
	mu      sync.Mutex
	entries map[string]cache.Entry[float64]
}

func newLocalRates() *localRates {
	return &localRates{entries: make(map[string]cache.Entry[float64])}
}

// get returns the unexpired rate under key.
func (l *localRates) get(key string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || entry.IsExpired() {
		return 0, false
	}
	return entry.Value, true
}

// stale returns the entry under key if it expired no earlier than grace ago.
func (l *localRates) stale(key string, grace time.Duration) (cache.Entry[float64], bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || time.Since(entry.Expires) > grace {
		return cache.Entry[float64]{}, false
	}
	return entry, true
}

func (l *localRates) set(key string, rate float64, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[key] = cache.NewEntry(rate, ttl)
}
