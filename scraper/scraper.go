// Package scraper fetches category result pages politely: cached pages are
// served without network access, robots.txt and the hourly quota are
// consulted before any attempt, and failed renders are retried with
// exponential backoff on a fresh identity.
package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-price-harvester/cache"
	"github.com/aluiziolira/go-price-harvester/clock"
	"github.com/aluiziolira/go-price-harvester/models"
	"github.com/aluiziolira/go-price-harvester/policy"
)

// Gate admits outbound requests.
type Gate interface {
	IsAllowed(ctx context.Context, rawURL string) bool
	Admit(ctx context.Context) error
}

// Cache stores page bodies by normalized request identity.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Put(ctx context.Context, key, content string) error
}

// Identities supplies an identity per attempt.
type Identities interface {
	Next(ctx context.Context) (models.Identity, error)
	ReportFailure(id models.Identity)
}

// Renderer turns a URL into raw markup using the given identity.
type Renderer interface {
	Render(ctx context.Context, rawURL string, id models.Identity) (string, error)
}

// FetcherConfig tunes retry backoff.
type FetcherConfig struct {
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
}

// Fetcher runs the cache, policy, identity and render steps for one page.
// It is safe for concurrent use; all shared state lives in its collaborators.
type Fetcher struct {
	gate       Gate
	cache      Cache
	identities Identities
	renderer   Renderer
	clock      clock.Clock
	cfg        FetcherConfig
	Metrics    *Metrics
}

// NewFetcher wires a fetcher. cache may be nil to disable caching.
func NewFetcher(gate Gate, c Cache, identities Identities, renderer Renderer, cfg FetcherConfig, clk clock.Clock, metrics *Metrics) *Fetcher {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Fetcher{
		gate:       gate,
		cache:      c,
		identities: identities,
		renderer:   renderer,
		clock:      clk,
		cfg:        cfg,
		Metrics:    metrics,
	}
}

// Fetch returns the markup for req. Cache and robots.txt are checked once;
// each of at most maxRetries attempts is admitted by the gate and uses a
// freshly drawn identity.
func (f *Fetcher) Fetch(ctx context.Context, req models.FetchRequest, maxRetries int) (string, error) {
	key := cache.Key(req.URL)
	if f.cache != nil {
		if content, ok := f.cache.Get(ctx, key); ok {
			f.Metrics.IncRequest("cache_hit")
			slog.Debug("page served from cache",
				slog.String("category", req.Category),
				slog.Int("page", req.Page),
			)
			return content, nil
		}
	}

	if !f.gate.IsAllowed(ctx, req.URL) {
		f.Metrics.IncPolicyDenial("robots")
		return "", &PolicyDeniedError{URL: req.URL, Reason: "disallowed by robots.txt"}
	}

	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if err := f.gate.Admit(ctx); err != nil {
			if errors.Is(err, policy.ErrQuotaExhausted) {
				f.Metrics.IncPolicyDenial("quota")
				return "", &PolicyDeniedError{URL: req.URL, Reason: "hourly quota exhausted", Err: err}
			}
			return "", err
		}

		id, err := f.identities.Next(ctx)
		if err != nil {
			return "", err
		}

		start := f.clock.Now()
		f.Metrics.IncRequest("started")
		content, err := f.renderer.Render(ctx, req.URL, id)
		f.Metrics.ObserveDuration(f.clock.Now().Sub(start))
		if err == nil {
			f.Metrics.IncRequest("completed")
			if f.cache != nil {
				if err := f.cache.Put(ctx, key, content); err != nil {
					slog.Warn("cache store failed", slog.String("url", req.URL), slog.Any("error", err))
				}
			}
			return content, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		lastErr = err
		label := ErrorLabel(err)
		f.Metrics.IncError(label)
		slog.Warn("fetch attempt failed",
			slog.String("category", req.Category),
			slog.Int("page", req.Page),
			slog.Int("attempt", attempt),
			slog.Int("identity", id.ID),
			slog.String("error_type", label),
			slog.Any("error", err),
		)
		f.identities.ReportFailure(id)

		if attempt == maxRetries {
			break
		}
		f.Metrics.IncRetries()
		if err := f.clock.Sleep(ctx, f.backoff(attempt)); err != nil {
			return "", err
		}
	}

	return "", &FetchExhaustedError{URL: req.URL, Attempts: maxRetries, Err: lastErr}
}

// backoff returns base*2^(attempt-1), capped at the configured maximum.
func (f *Fetcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := f.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := f.cfg.RetryBackoffMax; max > 0 && (delay > max || delay <= 0) {
		delay = max
	}
	return delay
}
