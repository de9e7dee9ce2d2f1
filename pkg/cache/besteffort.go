package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// BestEffort wraps a Store so that no failure reaches the caller.
// A failed read is reported as a miss; failed writes and deletes are logged.
// A nil Store behaves as an always-empty cache.
type BestEffort struct {
	store  Store
	logger zerolog.Logger
}

// NewBestEffort wraps store.
func NewBestEffort(store Store, logger zerolog.Logger) *BestEffort {
	return &BestEffort{
		store:  store,
		logger: logger,
	}
}

// Get returns the value under key and whether it was found.
func (b *BestEffort) Get(ctx context.Context, key string) ([]byte, bool) {
	if b.store == nil {
		return nil, false
	}

	data, err := b.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			b.logger.Warn().Err(err).Str("key", key).Msg("cache get failed, treating as miss")
		}
		return nil, false
	}
	return data, true
}

// Set stores value under key for ttl.
func (b *BestEffort) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if b.store == nil {
		return
	}

	if err := b.store.Set(ctx, key, value, ttl); err != nil {
		b.logger.Warn().Err(err).Str("key", key).Dur("ttl", ttl).Msg("cache set failed")
		return
	}
	b.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("cache write")
}

// Delete removes keys.
func (b *BestEffort) Delete(ctx context.Context, keys ...string) {
	if b.store == nil || len(keys) == 0 {
		return
	}

	if err := b.store.Delete(ctx, keys...); err != nil {
		b.logger.Warn().Err(err).Strs("keys", keys).Msg("cache delete failed")
	}
}
