package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// VersionSource supplies the cache version token embedded in every page key.
type VersionSource interface {
	// Current returns the token to use for key computation.
	Current(ctx context.Context) string

	// Bump replaces the token and returns the new one.
	Bump(ctx context.Context) (string, error)
}

var lastToken atomic.Int64

// NewVersionToken returns a fresh timestamp-derived token. Tokens are
// strictly increasing within the process.
func NewVersionToken() string {
	for {
		prev := lastToken.Load()
		next := time.Now().UnixNano()
		if next <= prev {
			next = prev + 1
		}
		if lastToken.CompareAndSwap(prev, next) {
			return "v" + strconv.FormatInt(next, 10)
		}
	}
}

// LocalVersion keeps the version token in process memory.
// A bump is not seen by other processes.
type LocalVersion struct {
	mu      sync.RWMutex
	version string
}

// NewLocalVersion creates a process-local version source seeded with seed.
func NewLocalVersion(seed string) *LocalVersion {
	if seed == "" {
		seed = "v1"
	}
	return &LocalVersion{version: seed}
}

// Current returns the current token.
func (v *LocalVersion) Current(_ context.Context) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// Bump installs a new token. It never fails.
func (v *LocalVersion) Bump(_ context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	next := NewVersionToken()
	v.version = next
	VersionBumps.Inc()
	return next, nil
}

func (v *LocalVersion) set(token string) {
	v.mu.Lock()
	v.version = token
	v.mu.Unlock()
}

// SharedVersion keeps the version token in Redis under version:{namespace},
// so every process sharing the cache computes the same keys.
// When Redis is unreachable it serves the last token it saw.
type SharedVersion struct {
	redis     *redis.Client
	key       string
	seed      string
	opTimeout time.Duration
	last      *LocalVersion
	logger    zerolog.Logger
}

// NewSharedVersion creates a Redis-backed version source.
func NewSharedVersion(redisClient *redis.Client, namespace, seed string, opTimeout time.Duration, logger zerolog.Logger) *SharedVersion {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	if seed == "" {
		seed = "v1"
	}
	return &SharedVersion{
		redis:     redisClient,
		key:       VersionKey(namespace),
		seed:      seed,
		opTimeout: opTimeout,
		last:      NewLocalVersion(seed),
		logger:    logger,
	}
}

// Current reads the shared token. The first reader of an empty namespace
// installs the seed.
func (v *SharedVersion) Current(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, v.opTimeout)
	defer cancel()

	token, err := v.redis.Get(ctx, v.key).Result()
	if errors.Is(err, redis.Nil) {
		if err := v.redis.SetNX(ctx, v.key, v.seed, 0).Err(); err != nil {
			return v.fallback(err)
		}
		token, err = v.redis.Get(ctx, v.key).Result()
	}
	if err != nil {
		return v.fallback(err)
	}

	v.last.set(token)
	return token
}

// Bump writes a new token to Redis. On failure the token is still adopted
// locally and the error is returned.
func (v *SharedVersion) Bump(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, v.opTimeout)
	defer cancel()

	next := NewVersionToken()
	v.last.set(next)
	VersionBumps.Inc()

	if err := v.redis.Set(ctx, v.key, next, 0).Err(); err != nil {
		CacheErrors.WithLabelValues("version").Inc()
		return next, fmt.Errorf("redis set version: %w", err)
	}
	return next, nil
}

func (v *SharedVersion) fallback(err error) string {
	CacheErrors.WithLabelValues("version").Inc()
	token := v.last.Current(context.Background())
	v.logger.Warn().Err(err).Str("version", token).Msg("shared version unavailable, using last known")
	return token
}
