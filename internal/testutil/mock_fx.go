// Package testutil provides testing utilities for the page cache.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockFXResponse defines the behavior for a mock provider response.
type MockFXResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockFX is a configurable mock FX rate provider for testing.
// By default it serves GET /{BASE} with the rates set through SetRate in the
// open.er-api.com response shape.
type MockFX struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	rates    map[string]map[string]any

	// Tracking
	RequestCount int
	LastPath     string
}

// NewMockFX creates a new mock provider server.
func NewMockFX() *MockFX {
	mock := &MockFX{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		rates:    make(map[string]map[string]any),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastPath = r.URL.Path
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockFX) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockFX) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockFX) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastPath = ""
}

// SetRate makes the default handler report rate for base->target.
// rate may be a number or a string, as some providers send strings.
func (m *MockFX) SetRate(base, target string, rate any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rates[base] == nil {
		m.rates[base] = make(map[string]any)
	}
	m.rates[base][target] = rate
}

// SetHandler sets a custom handler for a specific path.
// A nil handler restores the default one.
func (m *MockFX) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if handler == nil {
		delete(m.handlers, path)
		return
	}
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockFX) SetResponse(path string, resp MockFXResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockFX) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// defaultHandler answers /{BASE} from the configured rates.
func (m *MockFX) defaultHandler(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	m.mu.RLock()
	configured, ok := m.rates[base]
	rates := make(map[string]any, len(configured))
	for target, rate := range configured {
		rates[target] = rate
	}
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"result":"error","error-type":"unsupported-code"}`))
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"result":    "success",
		"base_code": base,
		"rates":     rates,
	})
}

// NewRatesResponse creates a 200 OK response with a "rates" map.
func NewRatesResponse(base string, rates map[string]any) MockFXResponse {
	return newJSONResponse(http.StatusOK, map[string]any{"base": base, "rates": rates})
}

// NewConversionRatesResponse creates a 200 OK response in the
// exchangerate-api.com v6 shape.
func NewConversionRatesResponse(base string, rates map[string]any) MockFXResponse {
	return newJSONResponse(http.StatusOK, map[string]any{"base_code": base, "conversion_rates": rates})
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
// A non-empty retryAfter is sent as the Retry-After header.
func NewRateLimitResponse(retryAfter ...string) MockFXResponse {
	resp := MockFXResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
	if len(retryAfter) > 0 && retryAfter[0] != "" {
		resp.Headers["Retry-After"] = retryAfter[0]
	}
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockFXResponse {
	return MockFXResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewUnauthorizedResponse creates a 403 response as sent for an invalid key.
func NewUnauthorizedResponse() MockFXResponse {
	return MockFXResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"result":"error","error-type":"invalid-key"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func newJSONResponse(status int, body map[string]any) MockFXResponse {
	data, _ := json.Marshal(body)
	return MockFXResponse{
		StatusCode: status,
		Body:       string(data),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
