package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/letei/pagecache/pkg/cache"
	"github.com/letei/pagecache/pkg/fx"
	"github.com/letei/pagecache/pkg/metrics"
	"github.com/letei/pagecache/pkg/pages"
)

const maxBodyBytes = 1 << 20

// rateAdmin is the part of fx.Resolver used by the admin endpoints.
type rateAdmin interface {
	RefreshRate(ctx context.Context, base, target string) (float64, error)
	SetRate(ctx context.Context, base, target string, rate float64, ttl time.Duration) error
}

// revalidator is satisfied by revalidate.Notifier.
type revalidator interface {
	Notify(ctx context.Context, id string)
}

// readinessCheck pings one dependency.
type readinessCheck func(ctx context.Context) error

type server struct {
	pages      *pages.Manager
	rates      rateAdmin
	revalidate revalidator
	checks     map[string]readinessCheck
	logger     zerolog.Logger

	background sync.WaitGroup
}

func newServer(manager *pages.Manager, rates rateAdmin, notifier revalidator, checks map[string]readinessCheck, logger zerolog.Logger) *server {
	return &server{
		pages:      manager,
		rates:      rates,
		revalidate: notifier,
		checks:     checks,
		logger:     logger.With().Str("component", "http").Logger(),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /pages/{id}", s.handleGetPage)
	mux.HandleFunc("POST /pages/{id}", s.handleUpsertPage)
	mux.HandleFunc("PUT /pages/{id}", s.handleUpsertPage)
	mux.HandleFunc("DELETE /pages/{id}", s.handleDeletePage)
	mux.HandleFunc("POST /pages/cache/invalidate", s.handleInvalidate)

	mux.HandleFunc("POST /admin/fx/refresh", s.handleRefreshRate)
	mux.HandleFunc("POST /admin/fx/set", s.handleSetRate)

	return mux
}

// wait blocks until background revalidations have finished.
func (s *server) wait() {
	s.background.Wait()
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	ready := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			ready = false
			continue
		}
		status[name] = "ok"
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	currency := r.URL.Query().Get("currency")

	page, err := s.pages.GetPage(r.Context(), id, currency)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if page == nil {
		writeJSON(w, http.StatusNotFound, errorBody("page not found"))
		return
	}

	body, err := json.Marshal(page)
	if err != nil {
		s.writeError(w, err)
		return
	}

	etag := cache.ETag(body)
	w.Header().Set("ETag", etag)
	if cache.NotModified(r, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *server) handleUpsertPage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var data pages.Page
	if !decodeBody(w, r, &data) {
		return
	}

	page, err := s.pages.UpsertPage(r.Context(), id, data)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.notify(r.Context(), id)
	writeJSON(w, http.StatusOK, page)
}

func (s *server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	page, err := s.pages.DeletePage(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if page == nil {
		writeJSON(w, http.StatusNotFound, errorBody("page not found"))
		return
	}

	s.notify(r.Context(), id)
	writeJSON(w, http.StatusOK, page)
}

type invalidateRequest struct {
	ID          string   `json:"id"`
	Currencies  []string `json:"currencies"`
	BumpVersion bool     `json:"bumpVersion"`
}

type invalidateResponse struct {
	ID          string   `json:"id,omitempty"`
	Currencies  []string `json:"currencies,omitempty"`
	Version     string   `json:"version,omitempty"`
	Warning     string   `json:"warning,omitempty"`
	Invalidated bool     `json:"invalidated"`
}

func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" && !req.BumpVersion {
		writeJSON(w, http.StatusBadRequest, errorBody("id or bumpVersion is required"))
		return
	}

	resp := invalidateResponse{ID: req.ID}

	if req.ID != "" {
		currencies := req.Currencies
		if len(currencies) == 0 {
			currencies = append([]string{s.pages.BaseCurrency()}, s.pages.PrewarmCurrencies()...)
		}
		if err := s.pages.InvalidateCurrencies(r.Context(), req.ID, currencies); err != nil {
			s.writeError(w, err)
			return
		}
		resp.Currencies = currencies
	}

	if req.BumpVersion {
		version, err := s.pages.BumpCacheVersion(r.Context())
		if err != nil {
			resp.Warning = "version bumped in this process only: " + err.Error()
		}
		resp.Version = version
	}

	resp.Invalidated = true
	s.notify(r.Context(), req.ID)
	writeJSON(w, http.StatusOK, resp)
}

type rateRequest struct {
	Base       string  `json:"base"`
	Target     string  `json:"target"`
	Rate       float64 `json:"rate"`
	TTLSeconds int     `json:"ttlSeconds"`
}

type rateResponse struct {
	Base   string  `json:"base"`
	Target string  `json:"target"`
	Rate   float64 `json:"rate"`
}

func newRateResponse(req rateRequest, rate float64) rateResponse {
	return rateResponse{
		Base:   cache.NormalizeCurrency(req.Base),
		Target: cache.NormalizeCurrency(req.Target),
		Rate:   rate,
	}
}

func (s *server) handleRefreshRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rate, err := s.rates.RefreshRate(r.Context(), req.Base, req.Target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRateResponse(req, rate))
}

func (s *server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := s.rates.SetRate(r.Context(), req.Base, req.Target, req.Rate, ttl); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRateResponse(req, req.Rate))
}

// notify runs the revalidation hook without holding up the response.
func (s *server) notify(ctx context.Context, id string) {
	if s.revalidate == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.revalidate.Notify(ctx, id)
	}()
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", code).Msg("Request failed")
	}
	writeJSON(w, code, errorBody(err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pages.ErrInvalidID),
		errors.Is(err, pages.ErrInvalidCurrency),
		errors.Is(err, fx.ErrInvalidPair),
		errors.Is(err, fx.ErrInvalidRate):
		return http.StatusBadRequest
	case errors.Is(err, pages.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fx.ErrRateUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
