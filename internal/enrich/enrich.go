// Package enrich visits each item's detail page and extracts best-effort
// metadata. Failures are scoped to the item and never abort a batch.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/starford/rankwatch/internal/browser"
	"github.com/starford/rankwatch/internal/models"
)

// Opener opens pages isolated from the listing page.
type Opener interface {
	OpenIsolated(ctx context.Context) (browser.Page, error)
}

// Config configures an Enricher.
type Config struct {
	Timeout      time.Duration
	WaitStrategy browser.WaitStrategy
	// SettleDelay is waited after navigation before reading the page.
	SettleDelay time.Duration
	// Interval is the minimum spacing between detail page fetches.
	Interval time.Duration

	Parse ParseOptions
}

// Error reports a detail page that could not be read.
type Error struct {
	Link string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("enrich: %s: %v", e.Link, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Enricher fetches and parses detail pages.
type Enricher struct {
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter
}

// New creates an Enricher.
func New(cfg Config, logger *slog.Logger) *Enricher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.WaitStrategy == "" {
		cfg.WaitStrategy = browser.WaitDOMContentLoaded
	}
	cfg.Parse.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &Enricher{cfg: cfg, logger: logger, limiter: rate.NewLimiter(limit, 1)}
}

// Enrich reads one detail page. The isolated page is closed on every path.
func (e *Enricher) Enrich(ctx context.Context, opener Opener, link string) (models.Detail, error) {
	page, err := opener.OpenIsolated(ctx)
	if err != nil {
		return models.Detail{}, &Error{Link: link, Err: err}
	}
	defer page.Close()

	if err := page.Navigate(ctx, link, e.cfg.WaitStrategy, e.cfg.Timeout); err != nil {
		return models.Detail{}, &Error{Link: link, Err: err}
	}
	if e.cfg.SettleDelay > 0 {
		timer := time.NewTimer(e.cfg.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return models.Detail{}, &Error{Link: link, Err: ctx.Err()}
		case <-timer.C:
		}
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return models.Detail{}, &Error{Link: link, Err: err}
	}
	return ParseDetail(html, link, e.cfg.Parse), nil
}

// EnrichAll enriches records in order. Item failures are logged and leave
// that item's detail empty; only cancellation stops the walk.
func (e *Enricher) EnrichAll(ctx context.Context, opener Opener, records []models.RawRecord) ([]models.Merged, error) {
	out := make([]models.Merged, 0, len(records))
	failed := 0
	for i, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("enrich: rate limiter: %w", err)
		}

		d, err := e.Enrich(ctx, opener, r.Link)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			e.logger.Warn("enrich: detail page failed",
				slog.String("link", r.Link),
				slog.Int("position", i+1),
				slog.String("error", err.Error()))
		}
		out = append(out, models.Merged{Raw: r, Detail: d})
	}
	e.logger.Info("enrich: finished", slog.Int("records", len(out)), slog.Int("failed", failed))
	return out, nil
}

// Skip pairs records with empty details when enrichment is disabled.
func Skip(records []models.RawRecord) []models.Merged {
	out := make([]models.Merged, len(records))
	for i, r := range records {
		out[i] = models.Merged{Raw: r}
	}
	return out
}
