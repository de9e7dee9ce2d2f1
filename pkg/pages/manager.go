package pages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/letei/pagecache/pkg/cache"
	"github.com/letei/pagecache/pkg/projection"
)

// RateResolver returns the rate of target per one unit of base.
type RateResolver interface {
	GetRate(ctx context.Context, base, target string) (float64, error)
}

// Config holds the manager configuration.
type Config struct {
	// Store is the system of record (REQUIRED)
	Store Store

	// Rates resolves FX rates (REQUIRED)
	Rates RateResolver

	// Cache is the shared cache; nil disables caching
	Cache cache.Store

	// Versions supplies the cache version; defaults to a process-local "v1"
	Versions cache.VersionSource

	// Namespace prefixes every page key
	Namespace string

	// BaseCurrency is the currency canonical pages are stored in
	BaseCurrency string

	// TTL of canonical and derived entries
	TTL time.Duration

	// PrewarmCurrencies are derived right after an upsert
	PrewarmCurrencies []string

	// PrewarmConcurrency bounds parallel prewarm work
	PrewarmConcurrency int

	// PrewarmTimeout bounds one prewarm batch
	PrewarmTimeout time.Duration
}

// DefaultConfig returns the default configuration around the given collaborators.
func DefaultConfig(store Store, rates RateResolver, kv cache.Store) Config {
	return Config{
		Store:              store,
		Rates:              rates,
		Cache:              kv,
		Namespace:          "pages",
		BaseCurrency:       "USD",
		TTL:                time.Hour,
		PrewarmCurrencies:  []string{"KES"},
		PrewarmConcurrency: 4,
		PrewarmTimeout:     30 * time.Second,
	}
}

// Manager owns the canonical/derived page cache protocol.
type Manager struct {
	store    Store
	rates    RateResolver
	cache    *cache.BestEffort
	versions cache.VersionSource
	config   Config
	locks    *keyLock
	genMu    sync.Mutex
	gens     map[string]uint64
	prewarm  *prewarmer
	inflight sync.WaitGroup
	logger   zerolog.Logger
}

// NewManager creates a page cache manager.
func NewManager(cfg Config, logger zerolog.Logger) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("page store is required")
	}
	if cfg.Rates == nil {
		return nil, fmt.Errorf("rate resolver is required")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "pages"
	}
	if strings.TrimSpace(cfg.BaseCurrency) == "" {
		cfg.BaseCurrency = "USD"
	}
	base, err := NormalizeCurrency(cfg.BaseCurrency)
	if err != nil {
		return nil, fmt.Errorf("base currency: %w", err)
	}
	cfg.BaseCurrency = base
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Versions == nil {
		cfg.Versions = cache.NewLocalVersion("v1")
	}
	cfg.PrewarmCurrencies = normalizeCurrencies(cfg.PrewarmCurrencies, cfg.BaseCurrency)

	logger = logger.With().Str("component", "page-cache").Logger()

	m := &Manager{
		store:    cfg.Store,
		rates:    cfg.Rates,
		cache:    cache.NewBestEffort(cfg.Cache, logger),
		versions: cfg.Versions,
		config:   cfg,
		locks:    newKeyLock(),
		gens:     make(map[string]uint64),
		logger:   logger,
	}
	m.prewarm = newPrewarmer(m, cfg.PrewarmConcurrency, cfg.PrewarmTimeout)
	return m, nil
}

// BaseCurrency returns the canonical currency.
func (m *Manager) BaseCurrency() string {
	return m.config.BaseCurrency
}

// PrewarmCurrencies returns the configured prewarm list.
func (m *Manager) PrewarmCurrencies() []string {
	return append([]string(nil), m.config.PrewarmCurrencies...)
}

// GetPage returns page id in currency, or nil when the page does not exist.
// An empty currency means the base currency.
func (m *Manager) GetPage(ctx context.Context, id, currency string) (Page, error) {
	id, err := NormalizeID(id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(currency) == "" {
		currency = m.config.BaseCurrency
	}
	currency, err = NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}

	version := m.versions.Current(ctx)
	derivedKey := m.key(id, currency, version)

	if currency != m.config.BaseCurrency {
		if page, ok := m.readPage(ctx, derivedKey); ok {
			PageRequests.WithLabelValues("derived_hit").Inc()
			return page, nil
		}
	}

	canonical, err := m.loadCanonical(ctx, id, version)
	if err != nil {
		PageRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	if canonical == nil {
		PageRequests.WithLabelValues("not_found").Inc()
		return nil, nil
	}

	if currency == m.config.BaseCurrency {
		return canonical, nil
	}

	derived, err := m.derive(ctx, id, canonical, currency)
	if err != nil {
		PageRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	m.writePage(ctx, derivedKey, derived)
	return derived, nil
}

// UpsertPage creates or updates page id and returns the new canonical page.
// Derived pages of the prewarm list are rebuilt in the background.
func (m *Manager) UpsertPage(ctx context.Context, id string, data Page) (Page, error) {
	id, err := NormalizeID(id)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	record, err := m.save(ctx, id, data)
	if err != nil {
		return nil, err
	}

	canonical := m.canonicalFrom(record)
	version := m.versions.Current(ctx)
	gen := m.nextGeneration(id)

	m.writePage(ctx, m.key(id, m.config.BaseCurrency, version), canonical)

	// The prewarm is scheduled first but held until the old entries are gone,
	// so everything it writes comes from this canonical.
	gate := make(chan struct{})
	m.schedulePrewarm(ctx, id, gen, canonical, version, gate)

	m.evict(ctx, id, version)
	close(gate)

	m.logger.Info().
		Str("id", id).
		Str("version", version).
		Strs("prewarm", m.config.PrewarmCurrencies).
		Msg("Page upserted")

	return canonical, nil
}

// DeletePage removes page id from the store and evicts its cached entries.
// It returns the deleted page, or nil when there was none.
func (m *Manager) DeletePage(ctx context.Context, id string) (Page, error) {
	id, err := NormalizeID(id)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	deleted, err := m.store.Delete(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("delete page %s: %w", id, err)
	}

	// Pending prewarms of id must not bring the page back
	m.nextGeneration(id)
	m.evict(ctx, id, m.versions.Current(ctx))

	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}

	m.logger.Info().Str("id", id).Msg("Page deleted")
	return deleted, nil
}

// InvalidateCurrencies drops the cached pages of id in the given currencies.
// Entries that are not cached are ignored.
func (m *Manager) InvalidateCurrencies(ctx context.Context, id string, currencies []string) error {
	id, err := NormalizeID(id)
	if err != nil {
		return err
	}

	version := m.versions.Current(ctx)
	keys := make([]string, 0, len(currencies))
	for _, code := range currencies {
		if strings.TrimSpace(code) == "" {
			continue
		}
		currency, err := NormalizeCurrency(code)
		if err != nil {
			return err
		}
		keys = append(keys, m.key(id, currency, version))
	}
	m.cache.Delete(ctx, keys...)

	m.logger.Info().
		Str("id", id).
		Strs("currencies", currencies).
		Msg("Invalidated cached currencies")
	return nil
}

// BumpCacheVersion replaces the cache version, making every cached page
// unreachable. The new version is returned even when publishing it to a
// shared version store failed.
func (m *Manager) BumpCacheVersion(ctx context.Context) (string, error) {
	version, err := m.versions.Bump(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Str("version", version).Msg("Cache version bumped locally only")
		return version, err
	}

	m.logger.Info().Str("version", version).Msg("Cache version bumped")
	return version, nil
}

// Wait blocks until background prewarms have finished.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

func (m *Manager) key(id, currency, version string) string {
	return cache.Key{
		Namespace: m.config.Namespace,
		ID:        id,
		Currency:  currency,
		Version:   version,
	}.String()
}

// save creates or updates id depending on whether it exists.
func (m *Manager) save(ctx context.Context, id string, data Page) (Page, error) {
	if data == nil {
		data = Page{}
	}

	_, err := m.store.FindByID(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		record, err := m.store.Create(ctx, id, data)
		if err != nil {
			return nil, fmt.Errorf("create page %s: %w", id, err)
		}
		return record, nil
	case err != nil:
		return nil, fmt.Errorf("find page %s: %w", id, err)
	}

	record, err := m.store.Update(ctx, id, data)
	if err != nil {
		return nil, fmt.Errorf("update page %s: %w", id, err)
	}
	return record, nil
}

// loadCanonical returns the canonical page from the cache or the store.
// A page missing from the store yields nil, nil.
func (m *Manager) loadCanonical(ctx context.Context, id, version string) (Page, error) {
	canonicalKey := m.key(id, m.config.BaseCurrency, version)

	if page, ok := m.readPage(ctx, canonicalKey); ok {
		PageRequests.WithLabelValues("canonical_hit").Inc()
		return page, nil
	}

	record, err := m.store.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find page %s: %w", id, err)
	}

	PageRequests.WithLabelValues("store").Inc()
	canonical := m.canonicalFrom(record)
	m.writePage(ctx, canonicalKey, canonical)
	return canonical, nil
}

func (m *Manager) canonicalFrom(record Page) Page {
	canonical := Normalize(record)
	canonical[FieldCurrency] = m.config.BaseCurrency
	canonical[FieldBackendCurrency] = m.config.BaseCurrency
	canonical[FieldConversionRate] = 1.0
	canonical[FieldConverted] = false
	return canonical
}

// derive resolves the rate for currency and projects canonical with it.
func (m *Manager) derive(ctx context.Context, id string, canonical Page, currency string) (Page, error) {
	rate, err := m.rates.GetRate(ctx, m.config.BaseCurrency, currency)
	if err != nil {
		m.logger.Error().Err(err).
			Str("id", id).
			Str("base", m.config.BaseCurrency).
			Str("target", currency).
			Msg("Failed to get FX rate")
		return nil, fmt.Errorf("rate %s->%s: %w", m.config.BaseCurrency, currency, err)
	}
	if !(rate > 0) {
		return nil, fmt.Errorf("invalid fx rate %s->%s: %v", m.config.BaseCurrency, currency, rate)
	}

	start := time.Now()
	projected := projection.ProjectWith(map[string]any(canonical), rate, projection.Options{Currency: currency})
	ProjectionDuration.Observe(time.Since(start).Seconds())

	derived := Page(projected.(map[string]any))
	derived[FieldCurrency] = currency
	derived[FieldBackendCurrency] = m.config.BaseCurrency
	derived[FieldConversionRate] = rate
	derived[FieldConverted] = true
	return derived, nil
}

// nextGeneration marks every earlier write of id as superseded.
func (m *Manager) nextGeneration(id string) uint64 {
	m.genMu.Lock()
	defer m.genMu.Unlock()
	m.gens[id]++
	return m.gens[id]
}

func (m *Manager) generation(id string) uint64 {
	m.genMu.Lock()
	defer m.genMu.Unlock()
	return m.gens[id]
}

// writeIfCurrent caches page unless a later upsert or delete of id happened.
// It holds id's write lock so the check and the write are not interleaved
// with an upsert's eviction.
func (m *Manager) writeIfCurrent(ctx context.Context, id string, gen uint64, key string, page Page) bool {
	unlock := m.locks.Lock(id)
	defer unlock()

	if m.generation(id) != gen {
		return false
	}
	m.writePage(ctx, key, page)
	return true
}

// evict drops the canonical entry and every prewarm-list entry of id.
func (m *Manager) evict(ctx context.Context, id, version string) {
	keys := make([]string, 0, len(m.config.PrewarmCurrencies)+1)
	keys = append(keys, m.key(id, m.config.BaseCurrency, version))
	for _, currency := range m.config.PrewarmCurrencies {
		keys = append(keys, m.key(id, currency, version))
	}
	m.cache.Delete(ctx, keys...)
}

func (m *Manager) readPage(ctx context.Context, key string) (Page, bool) {
	data, ok := m.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}

	page, err := decodePage(data)
	if err != nil {
		cache.CacheErrors.WithLabelValues("decode").Inc()
		m.logger.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cache entry")
		return nil, false
	}
	return page, true
}

// decodePage decodes a cached page; anything but a JSON object is an
// ErrInvalidEntry.
func decodePage(data []byte) (Page, error) {
	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("%w: %v", cache.ErrInvalidEntry, err)
	}
	if page == nil {
		return nil, fmt.Errorf("%w: not an object", cache.ErrInvalidEntry)
	}
	return page, nil
}

func (m *Manager) writePage(ctx context.Context, key string, page Page) {
	data, err := json.Marshal(page)
	if err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Failed to encode page for cache")
		return
	}
	m.cache.Set(ctx, key, data, m.config.TTL)
}

// normalizeCurrencies upper-cases codes and drops invalid codes, duplicates and base.
func normalizeCurrencies(codes []string, base string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		code = cache.NormalizeCurrency(code)
		if !cache.ValidCurrency(code) || code == base || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out
}
