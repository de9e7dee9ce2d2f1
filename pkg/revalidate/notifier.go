// Package revalidate asks the frontend to rebuild statically generated pages
// after their cached content changed.
package revalidate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the notifier configuration.
type Config struct {
	// URL is the frontend revalidation endpoint; empty disables notifications
	URL string

	// Secret is passed as the "secret" query parameter
	Secret string

	// Timeout bounds one notification
	Timeout time.Duration
}

// Notifier posts revalidation requests. Failures are logged, never returned.
type Notifier struct {
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a notifier. With an empty URL or secret it only logs.
func New(cfg Config, logger zerolog.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	logger = logger.With().Str("component", "revalidate").Logger()

	n := &Notifier{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
	if cfg.URL == "" || cfg.Secret == "" {
		return n
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		logger.Warn().Err(err).Msg("Invalid revalidation URL, notifications disabled")
		return n
	}
	q := u.Query()
	q.Set("secret", cfg.Secret)
	u.RawQuery = q.Encode()
	n.endpoint = u.String()
	return n
}

// Enabled reports whether notifications are sent.
func (n *Notifier) Enabled() bool {
	return n.endpoint != ""
}

// Notify requests revalidation of page id. An empty id asks for every page.
func (n *Notifier) Notify(ctx context.Context, id string) {
	if !n.Enabled() {
		n.logger.Warn().Str("id", id).Msg("Revalidation skipped (missing env vars)")
		return
	}

	if err := n.post(ctx, id); err != nil {
		n.logger.Error().Err(err).Str("id", id).Msg("Revalidation failed")
		return
	}
	n.logger.Info().Str("id", id).Msg("Revalidation requested")
}

func (n *Notifier) post(ctx context.Context, id string) error {
	payload := map[string]string{}
	if id != "" {
		payload["slug"] = id
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("revalidate responded %d", resp.StatusCode)
	}
	return nil
}
