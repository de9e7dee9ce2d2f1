package fx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/letei/pagecache/pkg/cache"
)

// Default resolver settings.
const (
	DefaultRateTTL      = time.Hour
	DefaultFallbackRate = 130.0

	// DefaultFetchTimeout bounds one shared provider lookup across all providers
	DefaultFetchTimeout = 15 * time.Second
)

// Pair is a currency pair.
type Pair struct {
	Base   string
	Target string
}

// String returns BASE->TARGET.
func (p Pair) String() string {
	return p.Base + "->" + p.Target
}

// Config holds the resolver configuration.
type Config struct {
	// Store is the shared cache tier; nil runs with the local tier only
	Store cache.Store

	// Providers are queried in order until one yields a rate
	Providers []Provider

	// RateTTL is the refresh interval and the TTL of both tiers
	RateTTL time.Duration

	// FallbackRate is returned when every tier failed; <= 0 disables it
	FallbackRate float64

	// StaleGrace is the extra age accepted by the stale re-check
	StaleGrace time.Duration

	// FetchTimeout bounds a provider lookup shared by concurrent callers.
	// It runs detached from any single caller's context.
	FetchTimeout time.Duration
}

// Resolver resolves FX rates through the fallback ladder:
// shared cache, local map, providers in order, stale local map, static fallback.
type Resolver struct {
	shared       *cache.BestEffort
	local        *localRates
	providers    []Provider
	ttl          time.Duration
	fallback     float64
	staleGrace   time.Duration
	fetchTimeout time.Duration
	group        singleflight.Group
	logger       zerolog.Logger
}

// NewResolver creates a resolver.
func NewResolver(cfg Config, logger zerolog.Logger) (*Resolver, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one fx provider is required")
	}
	if cfg.RateTTL <= 0 {
		cfg.RateTTL = DefaultRateTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.StaleGrace < 0 {
		return nil, fmt.Errorf("stale grace must be >= 0 (got %s)", cfg.StaleGrace)
	}

	logger = logger.With().Str("component", "fx-resolver").Logger()

	return &Resolver{
		shared:       cache.NewBestEffort(cfg.Store, logger),
		local:        newLocalRates(),
		providers:    cfg.Providers,
		ttl:          cfg.RateTTL,
		fallback:     cfg.FallbackRate,
		staleGrace:   cfg.StaleGrace,
		fetchTimeout: cfg.FetchTimeout,
		logger:       logger,
	}, nil
}

// GetRate returns the rate of target per one unit of base.
// It returns an error only when every tier failed and no positive static
// fallback is configured, when the pair is invalid, or when ctx ends while a
// provider lookup is pending (ErrContextCancelled).
func (r *Resolver) GetRate(ctx context.Context, base, target string) (float64, error) {
	return r.resolve(ctx, base, target, false)
}

// RefreshRate drops the cached rate and resolves it again from the providers.
// The rest of the ladder still applies if they fail.
func (r *Resolver) RefreshRate(ctx context.Context, base, target string) (float64, error) {
	pair, err := normalizePair(base, target)
	if err != nil {
		return 0, err
	}

	r.shared.Delete(ctx, cache.RateKey(pair.Base, pair.Target))
	r.logger.Info().Str("base", pair.Base).Str("target", pair.Target).Msg("Refreshing FX rate")

	return r.resolve(ctx, pair.Base, pair.Target, true)
}

// SetRate writes a rate to both tiers without asking a provider.
// A ttl <= 0 uses the configured refresh interval.
func (r *Resolver) SetRate(ctx context.Context, base, target string, rate float64, ttl time.Duration) error {
	pair, err := normalizePair(base, target)
	if err != nil {
		return err
	}
	if !validRate(rate) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}
	if ttl <= 0 {
		ttl = r.ttl
	}

	r.store(ctx, pair, rate, ttl)
	RateResolutions.WithLabelValues("override").Inc()

	r.logger.Info().
		Str("base", pair.Base).
		Str("target", pair.Target).
		Float64("rate", rate).
		Dur("ttl", ttl).
		Msg("Manually set FX rate")
	return nil
}

// Preload resolves pairs once, logging instead of failing.
func (r *Resolver) Preload(ctx context.Context, pairs ...Pair) {
	for _, pair := range pairs {
		rate, err := r.GetRate(ctx, pair.Base, pair.Target)
		if err != nil {
			r.logger.Warn().Err(err).Str("pair", pair.String()).Msg("FX preload failed")
			continue
		}
		r.logger.Info().Str("pair", pair.String()).Float64("rate", rate).Msg("FX preloaded")
	}
}

func (r *Resolver) resolve(ctx context.Context, base, target string, skipCache bool) (float64, error) {
	pair, err := normalizePair(base, target)
	if err != nil {
		return 0, err
	}
	if pair.Base == pair.Target {
		RateResolutions.WithLabelValues("identity").Inc()
		return 1, nil
	}

	key := cache.RateKey(pair.Base, pair.Target)
	log := r.logger.With().Str("base", pair.Base).Str("target", pair.Target).Logger()

	if !skipCache {
		// 1) Shared cache
		if data, ok := r.shared.Get(ctx, key); ok {
			if rate, ok := parseStoredRate(data); ok {
				// Mirror into the local tier for a later shared-cache outage
				r.local.set(key, rate, r.ttl)
				RateResolutions.WithLabelValues("shared").Inc()
				log.Debug().Float64("rate", rate).Msg("FX hit (shared)")
				return rate, nil
			}
			log.Warn().Str("key", key).Msg("Ignoring unusable cached FX rate")
		}

		// 2) Local fallback map
		if rate, ok := r.local.get(key); ok {
			RateResolutions.WithLabelValues("local").Inc()
			log.Debug().Float64("rate", rate).Msg("FX hit (local)")
			return rate, nil
		}
	}

	// 3-5) Providers in order; concurrent lookups of one pair share a call
	v, err := r.sharedFetch(ctx, key, pair)
	if err != nil && ctx.Err() != nil {
		return 0, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
	}
	if err == nil {
		rate := v
		RateResolutions.WithLabelValues("provider").Inc()
		return rate, nil
	}
	log.Warn().Err(err).Msg("All FX providers failed")

	// 6) Stale local entry, possibly written by a concurrent resolution
	if entry, ok := r.local.stale(key, r.staleGrace); ok {
		RateResolutions.WithLabelValues("stale").Inc()
		log.Warn().Float64("rate", entry.Value).Dur("age", entry.Age()).Msg("stale fallback used")
		return entry.Value, nil
	}

	// 7) Static fallback
	Degraded.Inc()
	if !validRate(r.fallback) {
		log.Error().Float64("fallback", r.fallback).Msg("No FX rate available and no usable static fallback")
		return 0, fmt.Errorf("%w: %s", ErrRateUnavailable, pair)
	}
	RateResolutions.WithLabelValues("static").Inc()
	log.Error().Float64("rate", r.fallback).Msg("No FX rate available, returning static fallback")
	return r.fallback, nil
}

// sharedFetch joins or starts the provider lookup of key. The lookup runs on
// a context detached from every caller, so one caller giving up does not fail
// the others; each caller still stops waiting when its own ctx ends.
func (r *Resolver) sharedFetch(ctx context.Context, key string, pair Pair) (float64, error) {
	ch := r.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()
		return r.fetch(fetchCtx, pair)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(float64), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *Resolver) fetch(ctx context.Context, pair Pair) (float64, error) {
	var errs []error
	for _, provider := range r.providers {
		rate, err := provider.FetchRate(ctx, pair.Base, pair.Target)
		if err == nil && validRate(rate) {
			r.store(ctx, pair, rate, r.ttl)
			return rate, nil
		}
		if err == nil {
			err = &ProviderError{Provider: provider.Name(), Class: ErrorClassData, Message: "non-positive rate"}
		}
		r.logger.Warn().Err(err).
			Str("provider", provider.Name()).
			Str("base", pair.Base).
			Str("target", pair.Target).
			Msg("FX provider failed")
		errs = append(errs, err)
	}
	return 0, errors.Join(errs...)
}

func (r *Resolver) store(ctx context.Context, pair Pair, rate float64, ttl time.Duration) {
	key := cache.RateKey(pair.Base, pair.Target)
	r.local.set(key, rate, ttl)
	r.shared.Set(ctx, key, []byte(strconv.FormatFloat(rate, 'f', -1, 64)), ttl)
}

func normalizePair(base, target string) (Pair, error) {
	pair := Pair{
		Base:   cache.NormalizeCurrency(base),
		Target: cache.NormalizeCurrency(target),
	}
	if !cache.ValidCurrency(pair.Base) || !cache.ValidCurrency(pair.Target) {
		return Pair{}, fmt.Errorf("%w: %q -> %q", ErrInvalidPair, base, target)
	}
	return pair, nil
}

func parseStoredRate(data []byte) (float64, bool) {
	rate, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, false
	}
	return rate, validRate(rate)
}

func validRate(rate float64) bool {
	return rate > 0 && !math.IsInf(rate, 0) && !math.IsNaN(rate)
}
