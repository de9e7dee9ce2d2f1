package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for provider cooldowns.
var (
	cooldownsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fx_provider_cooldowns_total",
		Help: "Total number of cooldowns started after a provider answered 429",
	}, []string{"provider"})

	blockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fx_provider_blocked_total",
		Help: "Total number of provider requests skipped during a cooldown",
	}, []string{"provider"})
)

// Tracker records provider cooldowns in Redis and gates requests.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new cooldown tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Tracker{
		redis:  redisClient,
		logger: logger.With().Str("component", "fx-ratelimit").Logger(),
	}
}

// GetState returns the cooldown state of provider, or nil when there is none.
func (t *Tracker) GetState(ctx context.Context, provider string) (*CooldownState, error) {
	data, err := t.redis.Get(ctx, RedisKey(provider)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cooldown: %w", err)
	}

	var state CooldownState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse cooldown: %w", err)
	}
	return &state, nil
}

// TripFromResponse starts a cooldown for provider using the Retry-After
// header of a 429 response.
func (t *Tracker) TripFromResponse(ctx context.Context, provider string, headers http.Header) error {
	d, ok := ParseRetryAfter(headers.Get("Retry-After"), time.Now())
	if !ok {
		d = DefaultCooldown
	}
	return t.Trip(ctx, provider, d)
}

// Trip starts a cooldown of d for provider. The key expires with the cooldown.
func (t *Tracker) Trip(ctx context.Context, provider string, d time.Duration) error {
	d = clampCooldown(d)
	now := time.Now()
	state := CooldownState{
		Provider:  provider,
		Until:     now.Add(d),
		TrippedAt: now,
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal cooldown: %w", err)
	}
	if err := t.redis.Set(ctx, RedisKey(provider), data, d).Err(); err != nil {
		return fmt.Errorf("store cooldown in redis: %w", err)
	}

	cooldownsTotal.WithLabelValues(provider).Inc()
	t.logger.Warn().
		Str("provider", provider).
		Dur("cooldown", d).
		Time("until", state.Until).
		Msg("FX provider rate limited, cooling down")
	return nil
}

// ShouldAllowRequest reports whether provider may be called now, and how long
// the caller would have to wait otherwise. If Redis is unreachable the
// request is allowed and the error returned.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, provider string) (bool, time.Duration, error) {
	state, err := t.GetState(ctx, provider)
	if err != nil {
		return true, 0, fmt.Errorf("get cooldown state: %w", err)
	}
	if !state.Active() {
		return true, 0, nil
	}

	blockedTotal.WithLabelValues(provider).Inc()
	t.logger.Debug().
		Str("provider", provider).
		Dur("wait_duration", state.Remaining()).
		Msg("FX provider cooling down - skipping request")
	return false, state.Remaining(), nil
}

// ParseRetryAfter parses a Retry-After value given either in seconds or as an
// HTTP date relative to now.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}
