// Command page-cache-server serves content pages in the currency a reader
// asks for, backed by Redis and an optional PostgreSQL page store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/letei/pagecache/internal/config"
	"github.com/letei/pagecache/internal/pagestore"
	"github.com/letei/pagecache/pkg/cache"
	"github.com/letei/pagecache/pkg/fx"
	"github.com/letei/pagecache/pkg/logging"
	"github.com/letei/pagecache/pkg/pages"
	"github.com/letei/pagecache/pkg/ratelimit"
	"github.com/letei/pagecache/pkg/revalidate"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger := logging.NewLogger("main")
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context) error {
	bootLogger := logging.Setup(logging.DefaultConfig())

	cfg, err := config.Load(bootLogger)
	if err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.LogLevel),
		Pretty:  cfg.LogPretty,
		Output:  os.Stderr,
		Service: "page-cache",
	})

	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return err
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	kv := cache.NewRedisStore(redisClient, cfg.Cache.OpTimeout)
	if err := kv.Ping(ctx); err != nil {
		// Pages are still served from the store while Redis is down
		logger.Warn().Err(err).Str("addr", redisOpts.Addr).Msg("Redis unavailable at startup")
	} else {
		logger.Info().Str("addr", redisOpts.Addr).Msg("Connected to Redis")
	}

	checks := map[string]readinessCheck{"redis": kv.Ping}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	if pg, ok := store.(*pagestore.Postgres); ok {
		checks["postgres"] = pg.Ping
	}

	resolver, err := newResolver(cfg, kv, ratelimit.NewTracker(redisClient, logger), logger)
	if err != nil {
		return err
	}

	var versions cache.VersionSource = cache.NewLocalVersion(cfg.Cache.Version)
	if cfg.Cache.SharedVersion {
		versions = cache.NewSharedVersion(redisClient, cfg.Cache.Namespace, cfg.Cache.Version, cfg.Cache.OpTimeout, logger)
	}

	manager, err := pages.NewManager(pages.Config{
		Store:              store,
		Rates:              resolver,
		Cache:              kv,
		Versions:           versions,
		Namespace:          cfg.Cache.Namespace,
		BaseCurrency:       cfg.Cache.BaseCurrency,
		TTL:                cfg.Cache.CacheTTL(),
		PrewarmCurrencies:  cfg.Prewarm.Currencies,
		PrewarmConcurrency: cfg.Prewarm.Concurrency,
		PrewarmTimeout:     cfg.Prewarm.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("create page manager: %w", err)
	}

	pairs := make([]fx.Pair, 0, len(manager.PrewarmCurrencies()))
	for _, currency := range manager.PrewarmCurrencies() {
		pairs = append(pairs, fx.Pair{Base: manager.BaseCurrency(), Target: currency})
	}
	resolver.Preload(ctx, pairs...)

	notifier := revalidate.New(revalidate.Config{
		URL:    cfg.RevalidateURL,
		Secret: cfg.RevalidateSecret,
	}, logger)

	srv := newServer(manager, resolver, notifier, checks, logger)
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Starting page cache server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}
	srv.wait()
	manager.Wait()

	logger.Info().Msg("Server stopped")
	return nil
}

// openStore returns the Postgres store when DATABASE_URL is set and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (pages.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, pages are kept in memory")
		return pages.NewMemoryStore(), func() {}, nil
	}

	pool, err := pagestore.Connect(ctx, cfg.DatabaseURL, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("connect page store: %w", err)
	}

	store := pagestore.NewPostgres(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	logger.Info().Msg("Connected to PostgreSQL page store")
	return store, pool.Close, nil
}

// newResolver builds the FX resolver with the primary provider, then the
// secondary one.
func newResolver(cfg *config.Config, kv cache.Store, limiter fx.Limiter, logger zerolog.Logger) (*fx.Resolver, error) {
	retry := fx.DefaultRetryConfig()
	retry.MaxAttempts = cfg.FX.MaxAttempts

	primary, err := fx.NewHTTPProvider(fx.HTTPProviderConfig{
		Name:     "primary",
		BuildURL: fx.PrimaryURL(cfg.FX.PrimaryURL, cfg.FX.APIKey),
		Timeout:  cfg.FX.HTTPTimeout,
		Retry:    retry,
		Limiter:  limiter,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create primary provider: %w", err)
	}

	secondary, err := fx.NewHTTPProvider(fx.HTTPProviderConfig{
		Name:     "secondary",
		BuildURL: fx.SecondaryURL(cfg.FX.SecondaryURL),
		Timeout:  cfg.FX.HTTPTimeout,
		Retry:    retry,
		Limiter:  limiter,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create secondary provider: %w", err)
	}

	resolver, err := fx.NewResolver(fx.Config{
		Store:        kv,
		Providers:    []fx.Provider{primary, secondary},
		RateTTL:      cfg.FX.RateTTL(),
		FallbackRate: cfg.FX.FallbackRate,
		StaleGrace:   cfg.FX.StaleGrace,
		FetchTimeout: cfg.FX.FetchTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create fx resolver: %w", err)
	}
	return resolver, nil
}
