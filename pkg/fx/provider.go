package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Limiter gates provider requests while a provider is rate limited.
// It is satisfied by ratelimit.Tracker.
type Limiter interface {
	ShouldAllowRequest(ctx context.Context, provider string) (bool, time.Duration, error)
	TripFromResponse(ctx context.Context, provider string, headers http.Header) error
}

// Provider returns the rate of target per one unit of base.
type Provider interface {
	Name() string
	FetchRate(ctx context.Context, base, target string) (float64, error)
}

// Default provider endpoints.
const (
	DefaultPrimaryURL   = "https://v6.exchangerate-api.com/v6"
	DefaultKeylessURL   = "https://api.exchangerate.host/latest"
	DefaultSecondaryURL = "https://open.er-api.com/v6/latest"

	maxResponseBytes = 1 << 20
)

// HTTPProviderConfig holds the configuration of an HTTP rate provider.
type HTTPProviderConfig struct {
	// Name identifies the provider in logs and metrics
	Name string

	// BuildURL returns the lookup URL for a pair
	BuildURL func(base, target string) string

	// HTTPClient is optional; a client with Timeout is created when nil
	HTTPClient *http.Client

	// Timeout bounds a single HTTP request
	Timeout time.Duration

	// Retry controls retries of server and network failures
	Retry RetryConfig

	// Limiter is optional; when set, a 429 pauses the provider for its Retry-After
	Limiter Limiter
}

// HTTPProvider fetches rates from a JSON endpoint returning a "rates" or
// "conversion_rates" map keyed by currency code.
type HTTPProvider struct {
	name       string
	buildURL   func(base, target string) string
	httpClient *http.Client
	retry      RetryConfig
	limiter    Limiter
	logger     zerolog.Logger
}

// NewHTTPProvider creates an HTTP rate provider.
func NewHTTPProvider(cfg HTTPProviderConfig, logger zerolog.Logger) (*HTTPProvider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if cfg.BuildURL == nil {
		return nil, fmt.Errorf("provider %s: url builder is required", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &HTTPProvider{
		name:       cfg.Name,
		buildURL:   cfg.BuildURL,
		httpClient: httpClient,
		retry:      cfg.Retry,
		limiter:    cfg.Limiter,
		logger:     logger.With().Str("provider", cfg.Name).Logger(),
	}, nil
}

// PrimaryURL returns the URL builder of the primary provider. With an API key
// it targets exchangerate-api.com v6; without one it uses the keyless
// exchangerate.host endpoint.
func PrimaryURL(baseURL, apiKey string) func(base, target string) string {
	if apiKey == "" {
		return func(base, target string) string {
			q := url.Values{}
			q.Set("base", base)
			q.Set("symbols", target)
			return DefaultKeylessURL + "?" + q.Encode()
		}
	}
	if baseURL == "" {
		baseURL = DefaultPrimaryURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return func(base, _ string) string {
		return baseURL + "/" + url.PathEscape(apiKey) + "/latest/" + url.PathEscape(base)
	}
}

// SecondaryURL returns the URL builder of the open.er-api.com fallback provider.
func SecondaryURL(baseURL string) func(base, target string) string {
	if baseURL == "" {
		baseURL = DefaultSecondaryURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return func(base, _ string) string {
		return baseURL + "/" + url.PathEscape(base)
	}
}

// Name returns the provider name.
func (p *HTTPProvider) Name() string {
	return p.name
}

// FetchRate queries the provider for base and extracts target's rate.
func (p *HTTPProvider) FetchRate(ctx context.Context, base, target string) (float64, error) {
	endpoint := p.buildURL(base, target)

	startTime := time.Now()
	defer func() {
		ProviderDuration.WithLabelValues(p.name).Observe(time.Since(startTime).Seconds())
	}()

	var rate float64
	err := retryWithBackoff(ctx, p.retry, p.logger, func() error {
		r, err := p.fetchOnce(ctx, endpoint, target)
		if err != nil {
			ProviderRequests.WithLabelValues(p.name, string(classOf(err))).Inc()
			return err
		}
		ProviderRequests.WithLabelValues(p.name, "ok").Inc()
		rate = r
		return nil
	})
	if err != nil {
		return 0, err
	}

	return rate, nil
}

func (p *HTTPProvider) fetchOnce(ctx context.Context, endpoint, target string) (float64, error) {
	if err := p.checkLimiter(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, &ProviderError{Provider: p.name, Class: ErrorClassClient, Message: "create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, &ProviderError{Provider: p.name, Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests && p.limiter != nil {
		if err := p.limiter.TripFromResponse(ctx, p.name, resp.Header); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to record provider cooldown")
		}
	}

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return 0, &ProviderError{
			Provider:   p.name,
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, &ProviderError{Provider: p.name, StatusCode: resp.StatusCode, Class: ErrorClassNetwork, Message: "read body", Err: err}
	}

	rate, err := extractRate(body, target)
	if err != nil {
		return 0, &ProviderError{Provider: p.name, StatusCode: resp.StatusCode, Class: ErrorClassData, Message: "extract rate", Err: err}
	}

	p.logger.Info().
		Str("target", target).
		Float64("rate", rate).
		Msg("Fetched FX rate")

	return rate, nil
}

// checkLimiter fails fast while the provider is cooling down.
// A limiter that cannot be read lets the request through.
func (p *HTTPProvider) checkLimiter(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	allowed, wait, err := p.limiter.ShouldAllowRequest(ctx, p.name)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Cooldown state unavailable")
		return nil
	}
	if allowed {
		return nil
	}
	return &ProviderError{
		Provider:   p.name,
		StatusCode: http.StatusTooManyRequests,
		Class:      ErrorClassRateLimit,
		Message:    fmt.Sprintf("cooling down for %s", wait.Round(time.Second)),
		Err:        ErrCoolingDown,
	}
}

func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

type ratesResponse struct {
	Rates           map[string]json.RawMessage `json:"rates"`
	ConversionRates map[string]json.RawMessage `json:"conversion_rates"`
}

// extractRate reads rates[target], falling back to conversion_rates[target].
// String values are coerced to numbers; a value <= 0 counts as missing.
func extractRate(body []byte, target string) (float64, error) {
	var data ratesResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	for _, rates := range []map[string]json.RawMessage{data.Rates, data.ConversionRates} {
		raw, ok := rates[target]
		if !ok {
			continue
		}
		if rate, ok := parseRate(raw); ok {
			return rate, nil
		}
	}

	return 0, fmt.Errorf("no usable rate for %s", target)
}

func parseRate(raw json.RawMessage) (float64, bool) {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	}
	return n, validRate(n)
}
