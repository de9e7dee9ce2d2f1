// Package config loads the page cache server configuration from the
// environment, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config is the full server configuration.
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	RedisURL    string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`

	Cache   CacheConfig
	Prewarm PrewarmConfig
	FX      FXConfig

	RevalidateURL    string `envconfig:"NEXT_REVALIDATE_URL"`
	RevalidateSecret string `envconfig:"REVALIDATE_SECRET"`
}

// CacheConfig holds page cache settings.
type CacheConfig struct {
	Namespace     string        `envconfig:"CACHE_NAMESPACE" default:"pages"`
	TTLSeconds    int           `envconfig:"CACHE_TTL_SECONDS" default:"3600"`
	Version       string        `envconfig:"CACHE_VERSION" default:"v1"`
	SharedVersion bool          `envconfig:"CACHE_SHARED_VERSION" default:"false"`
	OpTimeout     time.Duration `envconfig:"CACHE_OP_TIMEOUT" default:"500ms"`
	BaseCurrency  string        `envconfig:"BASE_CURRENCY" default:"USD"`
}

// PrewarmConfig holds background prewarm settings.
type PrewarmConfig struct {
	Currencies  []string      `envconfig:"PREWARM_CURRENCIES" default:"KES"`
	Concurrency int           `envconfig:"PREWARM_CONCURRENCY" default:"4"`
	Timeout     time.Duration `envconfig:"PREWARM_TIMEOUT" default:"30s"`
}

// FXConfig holds exchange rate settings.
type FXConfig struct {
	RateTTLSeconds int           `envconfig:"FX_RATE_TTL_SECONDS" default:"3600"`
	FallbackRate   float64       `envconfig:"FX_FALLBACK_RATE" default:"130"`
	StaleGrace     time.Duration `envconfig:"FX_STALE_GRACE" default:"0s"`
	FetchTimeout   time.Duration `envconfig:"FX_FETCH_TIMEOUT" default:"15s"`
	APIKey         string        `envconfig:"EXCHANGE_RATE_API_KEY"`
	PrimaryURL     string        `envconfig:"FX_PRIMARY_URL" default:"https://v6.exchangerate-api.com/v6"`
	SecondaryURL   string        `envconfig:"FX_SECONDARY_URL" default:"https://open.er-api.com/v6/latest"`
	HTTPTimeout    time.Duration `envconfig:"FX_HTTP_TIMEOUT" default:"5s"`
	MaxAttempts    int           `envconfig:"FX_MAX_ATTEMPTS" default:"2"`
}

// CacheTTL returns the page cache TTL.
func (c CacheConfig) CacheTTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RateTTL returns the FX refresh interval.
func (c FXConfig) RateTTL() time.Duration {
	return time.Duration(c.RateTTLSeconds) * time.Second
}

// RedisOptions parses RedisURL.
func (c *Config) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return opts, nil
}

// Load reads the first existing env file (or ./.env when none is given)
// and then fills a Config from the environment. Variables already set in
// the environment win over the file.
func Load(logger zerolog.Logger, envFiles ...string) (*Config, error) {
	loadEnvFile(logger, envFiles)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Int("port", cfg.Port).
		Str("redis", maskURL(cfg.RedisURL)).
		Str("database", maskURL(cfg.DatabaseURL)).
		Str("namespace", cfg.Cache.Namespace).
		Str("version", cfg.Cache.Version).
		Bool("shared_version", cfg.Cache.SharedVersion).
		Str("base", cfg.Cache.BaseCurrency).
		Strs("prewarm", cfg.Prewarm.Currencies).
		Float64("fallback_rate", cfg.FX.FallbackRate).
		Str("fx_api_key", maskValue(cfg.FX.APIKey)).
		Str("revalidate_secret", maskValue(cfg.RevalidateSecret)).
		Msg("Config loaded")

	return &cfg, nil
}

func loadEnvFile(logger zerolog.Logger, paths []string) {
	if len(paths) == 0 {
		if err := godotenv.Load(); err != nil {
			logger.Debug().Msg("No .env file found, using environment")
		}
		return
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			logger.Debug().Str("path", path).Msg("Env file not found")
			continue
		}
		if err := godotenv.Load(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to load env file")
			continue
		}
		logger.Info().Str("path", path).Msg("Loaded env file")
		return
	}
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive, got %d", c.Cache.TTLSeconds)
	}
	if c.FX.RateTTLSeconds <= 0 {
		return fmt.Errorf("FX_RATE_TTL_SECONDS must be positive, got %d", c.FX.RateTTLSeconds)
	}
	if strings.TrimSpace(c.Cache.Namespace) == "" {
		return fmt.Errorf("CACHE_NAMESPACE must not be empty")
	}
	if c.Prewarm.Concurrency < 1 {
		c.Prewarm.Concurrency = 1
	}
	if c.FX.MaxAttempts < 1 {
		c.FX.MaxAttempts = 1
	}
	return nil
}

func maskValue(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 6 {
		return "****"
	}
	return v[:2] + "****" + v[len(v)-2:]
}

// maskURL hides the password of a connection URL.
func maskURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	userinfo := raw[scheme+3 : at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		userinfo = userinfo[:colon] + ":****"
	}
	return raw[:scheme+3] + userinfo + raw[at:]
}
