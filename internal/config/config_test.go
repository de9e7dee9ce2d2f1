package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(zerolog.Nop(), filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, "pages", cfg.Cache.Namespace)
	assert.Equal(t, time.Hour, cfg.Cache.CacheTTL())
	assert.Equal(t, "v1", cfg.Cache.Version)
	assert.False(t, cfg.Cache.SharedVersion)
	assert.Equal(t, 500*time.Millisecond, cfg.Cache.OpTimeout)
	assert.Equal(t, "USD", cfg.Cache.BaseCurrency)
	assert.Equal(t, []string{"KES"}, cfg.Prewarm.Currencies)
	assert.Equal(t, 4, cfg.Prewarm.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Prewarm.Timeout)
	assert.Equal(t, time.Hour, cfg.FX.RateTTL())
	assert.Equal(t, 130.0, cfg.FX.FallbackRate)
	assert.Zero(t, cfg.FX.StaleGrace)
	assert.Equal(t, 15*time.Second, cfg.FX.FetchTimeout)
	assert.Equal(t, 2, cfg.FX.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.FX.HTTPTimeout)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_TTL_SECONDS", "60")
	t.Setenv("CACHE_SHARED_VERSION", "true")
	t.Setenv("PREWARM_CURRENCIES", "KES,NGN,EUR")
	t.Setenv("FX_FALLBACK_RATE", "0")
	t.Setenv("FX_STALE_GRACE", "10m")

	cfg, err := Load(zerolog.Nop(), filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, time.Minute, cfg.Cache.CacheTTL())
	assert.True(t, cfg.Cache.SharedVersion)
	assert.Equal(t, []string{"KES", "NGN", "EUR"}, cfg.Prewarm.Currencies)
	assert.Zero(t, cfg.FX.FallbackRate)
	assert.Equal(t, 10*time.Minute, cfg.FX.StaleGrace)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CACHE_NAMESPACE=pricing\nCACHE_VERSION=v7\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("CACHE_NAMESPACE")
		os.Unsetenv("CACHE_VERSION")
	})

	cfg, err := Load(zerolog.Nop(), path)
	require.NoError(t, err)

	assert.Equal(t, "pricing", cfg.Cache.Namespace)
	assert.Equal(t, "v7", cfg.Cache.Version)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad port", "PORT", "70000"},
		{"zero cache ttl", "CACHE_TTL_SECONDS", "0"},
		{"zero rate ttl", "FX_RATE_TTL_SECONDS", "-5"},
		{"not a number", "FX_FALLBACK_RATE", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load(zerolog.Nop(), filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}

func TestRedisOptions(t *testing.T) {
	cfg := &Config{RedisURL: "redis://:secret@cache:6380/2"}
	opts, err := cfg.RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	cfg.RedisURL = "not a url"
	_, err = cfg.RedisOptions()
	assert.Error(t, err)
}

func TestMasking(t *testing.T) {
	assert.Equal(t, "", maskValue(""))
	assert.Equal(t, "****", maskValue("abc"))
	assert.Equal(t, "ab****yz", maskValue("abcdefxyz"))

	assert.Equal(t, "postgres://app:****@db:5432/pages", maskURL("postgres://app:hunter2@db:5432/pages"))
	assert.Equal(t, "redis://localhost:6379/0", maskURL("redis://localhost:6379/0"))
}
