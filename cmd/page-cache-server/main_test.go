package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letei/pagecache/internal/testutil"
	"github.com/letei/pagecache/pkg/cache"
	"github.com/letei/pagecache/pkg/fx"
	"github.com/letei/pagecache/pkg/pages"
)

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) Notify(_ context.Context, id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
}

func (n *recordingNotifier) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ids...)
}

type testEnv struct {
	handler  http.Handler
	srv      *server
	manager  *pages.Manager
	store    *pages.MemoryStore
	mr       *miniredis.Miniredis
	upstream *testutil.MockFX
	notifier *recordingNotifier
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	kv := cache.NewRedisStore(client, 200*time.Millisecond)

	upstream := testutil.NewMockFX()
	t.Cleanup(upstream.Close)
	upstream.SetRate("USD", "KES", 130.0)

	provider, err := fx.NewHTTPProvider(fx.HTTPProviderConfig{
		Name:     "secondary",
		BuildURL: fx.SecondaryURL(upstream.URL()),
		Timeout:  time.Second,
		Retry:    fx.RetryConfig{MaxAttempts: 1},
	}, zerolog.Nop())
	require.NoError(t, err)

	resolver, err := fx.NewResolver(fx.Config{
		Store:        kv,
		Providers:    []fx.Provider{provider},
		RateTTL:      time.Hour,
		FallbackRate: 0,
	}, zerolog.Nop())
	require.NoError(t, err)

	store := pages.NewMemoryStore()
	cfg := pages.DefaultConfig(store, resolver, kv)
	cfg.PrewarmCurrencies = nil
	manager, err := pages.NewManager(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(manager.Wait)

	notifier := &recordingNotifier{}
	srv := newServer(manager, resolver, notifier, map[string]readinessCheck{"redis": kv.Ping}, zerolog.Nop())

	return &testEnv{
		handler:  srv.routes(),
		srv:      srv,
		manager:  manager,
		store:    store,
		mr:       mr,
		upstream: upstream,
		notifier: notifier,
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := setupServer(t)

	rec := env.do(t, "GET", "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["redis"])

	env.mr.Close()

	rec = env.do(t, "GET", "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEqual(t, "ok", decode(t, rec)["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupServer(t)

	rec := env.do(t, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fx_degraded_total")
}

func TestGetPage_NotFound(t *testing.T) {
	env := setupServer(t)

	rec := env.do(t, "GET", "/pages/missing?currency=KES", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, env.upstream.GetRequestCount(), "no FX lookup for a missing page")
}

func TestUpsertAndGetPage(t *testing.T) {
	env := setupServer(t)

	rec := env.do(t, "PUT", "/pages/pricing", map[string]any{"title": "Pricing", "priceAmount": 100})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	canonical := decode(t, rec)
	assert.Equal(t, "USD", canonical["currency"])
	assert.Equal(t, 100.0, canonical["priceAmount"])

	rec = env.do(t, "GET", "/pages/pricing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "USD", decode(t, rec)["currency"])

	rec = env.do(t, "GET", "/pages/pricing?currency=kes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	derived := decode(t, rec)
	assert.Equal(t, "KES", derived["currency"])
	assert.Equal(t, 13000.0, derived["priceAmount"])
	assert.Equal(t, 130.0, derived["conversionRate"])
	assert.Equal(t, true, derived["converted"])

	env.srv.wait()
	assert.Equal(t, []string{"pricing"}, env.notifier.calls())
}

func TestGetPage_ETag(t *testing.T) {
	env := setupServer(t)
	env.do(t, "POST", "/pages/pricing", map[string]any{"minCost": 10})

	rec := env.do(t, "GET", "/pages/pricing?currency=KES", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = env.do(t, "GET", "/pages/pricing?currency=KES", nil, "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = env.do(t, "GET", "/pages/pricing?currency=KES", nil, "If-None-Match", `"other"`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetPage_RateUnavailable(t *testing.T) {
	env := setupServer(t)
	env.do(t, "POST", "/pages/pricing", map[string]any{"minCost": 10})

	rec := env.do(t, "GET", "/pages/pricing?currency=NGN", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, "GET", "/pages/pricing", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "base reads are unaffected")
}

func TestGetPage_InvalidCurrency(t *testing.T) {
	env := setupServer(t)
	env.do(t, "POST", "/pages/pricing", map[string]any{"minCost": 10})

	for _, currency := range []string{"B:C", "KESX", "K3S", "usd:v2"} {
		rec := env.do(t, "GET", "/pages/pricing?currency="+url.QueryEscape(currency), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, currency)
	}
	assert.Zero(t, env.upstream.GetRequestCount(), "no FX lookup for a rejected currency")

	rec := env.do(t, "PUT", "/pages/a:B", map[string]any{"a": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "ids may not contain ':'")
}

func TestUpsertPage_InvalidBody(t *testing.T) {
	env := setupServer(t)

	rec := env.do(t, "POST", "/pages/pricing", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "POST", "/pages/%20", map[string]any{"a": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeletePage(t *testing.T) {
	env := setupServer(t)

	rec := env.do(t, "DELETE", "/pages/pricing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.do(t, "POST", "/pages/pricing", map[string]any{"title": "Pricing"})

	rec = env.do(t, "DELETE", "/pages/pricing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Pricing", decode(t, rec)["title"])

	rec = env.do(t, "GET", "/pages/pricing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidate(t *testing.T) {
	env := setupServer(t)
	env.do(t, "POST", "/pages/pricing", map[string]any{"minCost": 10})
	env.do(t, "GET", "/pages/pricing?currency=KES", nil)

	rec := env.do(t, "POST", "/pages/cache/invalidate", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "POST", "/pages/cache/invalidate", map[string]any{"id": "pricing", "currencies": []string{"KES"}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["invalidated"])
	assert.NotContains(t, body, "version")

	rec = env.do(t, "POST", "/pages/cache/invalidate", map[string]any{"bumpVersion": true})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.NotEqual(t, "v1", body["version"])
	assert.NotEmpty(t, body["version"])

	rec = env.do(t, "GET", "/pages/pricing?currency=KES", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.srv.wait()
	assert.Contains(t, env.notifier.calls(), "")
}

func TestAdminFX(t *testing.T) {
	env := setupServer(t)
	env.do(t, "POST", "/pages/pricing", map[string]any{"minCost": 10})

	rec := env.do(t, "POST", "/admin/fx/set", map[string]any{"base": "usd", "target": "kes", "rate": 150, "ttlSeconds": 60})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "KES", decode(t, rec)["target"])

	rec = env.do(t, "GET", "/pages/pricing?currency=KES", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1500.0, decode(t, rec)["minCost"])

	rec = env.do(t, "POST", "/admin/fx/set", map[string]any{"base": "USD", "target": "KES", "rate": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "POST", "/admin/fx/refresh", map[string]any{"base": "USD", "target": "KES"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 130.0, decode(t, rec)["rate"])

	rec = env.do(t, "POST", "/admin/fx/refresh", map[string]any{"base": "", "target": "KES"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
