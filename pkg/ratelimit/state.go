// Package ratelimit tracks upstream FX provider rate limits and gates requests.
// A 429 answer puts the provider into a cooldown that is shared through Redis,
// so every process backs off until the provider's Retry-After has passed.
package ratelimit

import (
	"time"
)

// RedisKeyPrefix prefixes the per-provider cooldown keys.
const RedisKeyPrefix = "fx:cooldown:"

// Cooldown bounds.
const (
	// DefaultCooldown applies when a 429 carries no usable Retry-After.
	DefaultCooldown = 60 * time.Second

	// MaxCooldown caps a Retry-After announced by a provider.
	MaxCooldown = time.Hour
)

// CooldownState is the rate limit state of one provider.
// This state is shared across all processes via Redis.
type CooldownState struct {
	// Provider is the provider name.
	Provider string `json:"provider"`

	// Until is when requests to the provider may resume.
	Until time.Time `json:"until"`

	// TrippedAt is when the provider last answered 429.
	TrippedAt time.Time `json:"tripped_at"`
}

// RedisKey returns the cooldown key of provider.
func RedisKey(provider string) string {
	return RedisKeyPrefix + provider
}

// Active reports whether the cooldown is still running.
func (s *CooldownState) Active() bool {
	return s != nil && time.Now().Before(s.Until)
}

// Remaining returns the time left in the cooldown, or 0 once it has passed.
func (s *CooldownState) Remaining() time.Duration {
	if s == nil {
		return 0
	}
	d := time.Until(s.Until)
	if d < 0 {
		return 0
	}
	return d
}

// clampCooldown keeps d within (0, MaxCooldown].
func clampCooldown(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultCooldown
	}
	if d > MaxCooldown {
		return MaxCooldown
	}
	return d
}
