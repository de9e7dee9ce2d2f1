package pages

import (
	"context"
	"errors"
	"sync"
	"time"
)

// errSuperseded reports a prewarm result dropped because id changed again.
var errSuperseded = errors.New("superseded by a later write")

// prewarmResult is the outcome of prewarming one currency.
type prewarmResult struct {
	Currency string
	Error    error
}

// prewarmer derives the pages of the prewarm list with a bounded worker pool.
type prewarmer struct {
	manager        *Manager
	maxConcurrency int
	timeout        time.Duration
}

func newPrewarmer(m *Manager, maxConcurrency int, timeout time.Duration) *prewarmer {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &prewarmer{
		manager:        m,
		maxConcurrency: maxConcurrency,
		timeout:        timeout,
	}
}

// schedulePrewarm starts a background prewarm of id that begins once gate is
// closed. It outlives ctx's cancellation but keeps its values.
func (m *Manager) schedulePrewarm(ctx context.Context, id string, gen uint64, canonical Page, version string, gate <-chan struct{}) {
	if len(m.config.PrewarmCurrencies) == 0 {
		return
	}

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.prewarm.timeout)
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		defer cancel()

		select {
		case <-gate:
		case <-bg.Done():
			return
		}

		m.prewarm.run(bg, id, gen, canonical, version, m.config.PrewarmCurrencies)
	}()
}

// run rewrites the canonical entry, then derives every currency. Each
// currency runs to completion or failure on its own.
func (p *prewarmer) run(ctx context.Context, id string, gen uint64, canonical Page, version string, currencies []string) {
	m := p.manager
	start := time.Now()

	if !m.writeIfCurrent(ctx, id, gen, m.key(id, m.config.BaseCurrency, version), canonical) {
		PrewarmResults.WithLabelValues("superseded").Add(float64(len(currencies)))
		m.logger.Debug().Str("id", id).Msg("Prewarm superseded before start")
		return
	}

	queue := make(chan string, len(currencies))
	results := make(chan prewarmResult, len(currencies))

	for _, currency := range currencies {
		queue <- currency
	}
	close(queue)

	workers := p.maxConcurrency
	if workers > len(currencies) {
		workers = len(currencies)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, id, gen, canonical, version, queue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	failed := 0
	for result := range results {
		if errors.Is(result.Error, errSuperseded) {
			PrewarmResults.WithLabelValues("superseded").Inc()
			continue
		}
		if result.Error != nil {
			failed++
			PrewarmResults.WithLabelValues("failed").Inc()
			m.logger.Warn().
				Err(result.Error).
				Str("id", id).
				Str("currency", result.Currency).
				Msg("Prewarm failed")
			continue
		}
		PrewarmResults.WithLabelValues("ok").Inc()
	}

	m.logger.Info().
		Str("id", id).
		Str("version", version).
		Int("currencies", len(currencies)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Prewarm complete")
}

// worker processes currencies from the queue
func (p *prewarmer) worker(ctx context.Context, id string, gen uint64, canonical Page, version string, queue <-chan string, results chan<- prewarmResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	m := p.manager

	for currency := range queue {
		select {
		case <-ctx.Done():
			m.logger.Debug().
				Int("worker_id", workerID).
				Str("currency", currency).
				Msg("Prewarm worker stopping (context done)")
			results <- prewarmResult{Currency: currency, Error: ctx.Err()}
			continue
		default:
		}

		derived, err := m.derive(ctx, id, canonical, currency)
		if err == nil && !m.writeIfCurrent(ctx, id, gen, m.key(id, currency, version), derived) {
			err = errSuperseded
		}
		results <- prewarmResult{Currency: currency, Error: err}
	}
}
