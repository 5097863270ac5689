// Package extract reads the ranked list of catalog cards from a listing page.
//
// Two pagination strategies are supported and selected by configuration:
// infinite scroll and click-to-advance carousels. Both return records
// deduplicated by canonical URL, each carrying a rank token and its 1-based
// position.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/starford/rankwatch/internal/browser"
	"github.com/starford/rankwatch/internal/models"
)

// Kind selects a pagination strategy.
type Kind string

// Strategy kinds.
const (
	KindScroll Kind = "scroll"
	KindClick  Kind = "click"
)

// Selectors locate card fields. Empty optional selectors disable the field
// or fall back to a heuristic.
type Selectors struct {
	Card        string
	Name        string
	Description string
	Avatar      string
	Price       string
	Author      string
	Rank        string
}

// ScrollConfig tunes the infinite-scroll strategy.
type ScrollConfig struct {
	Delay                 time.Duration
	MaxAttempts           int
	NoNewContentThreshold int
	// IdleTimeout bounds the optional network-idle wait after each scroll. Zero skips it.
	IdleTimeout time.Duration
}

// ClickConfig tunes the click-pagination strategy.
type ClickConfig struct {
	// BatchSize is the number of items a window advances by (K).
	BatchSize      int
	MaxClicks      int
	PollInterval   time.Duration
	AdvanceTimeout time.Duration
	// StablePolls is how many consecutive identical changed reads confirm an advance.
	StablePolls int
}

// Config configures an Extractor.
type Config struct {
	Kind      Kind
	BaseURL   string
	Selectors Selectors
	Scroll    ScrollConfig
	Click     ClickConfig
	// EmptyRetryWait is waited once when the first read finds no cards.
	EmptyRetryWait time.Duration
}

// ItemError reports a card that could not be turned into a record.
type ItemError struct {
	Position int
	Reason   string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("extract: item %d: %s", e.Position, e.Reason)
}

// Clock abstracts time for the polling loops.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}

// Extractor runs the configured strategy against a page.
type Extractor struct {
	kind   Kind
	scroll *ScrollStrategy
	click  *ClickStrategy
}

// New builds an Extractor for cfg.Kind.
func New(cfg Config, logger *slog.Logger) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("extract: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Selectors.Card == "" {
		return nil, fmt.Errorf("extract: card selector is required")
	}

	p := &cardParser{base: base, sel: cfg.Selectors, logger: logger}
	e := &Extractor{kind: cfg.Kind}
	switch cfg.Kind {
	case KindScroll, "":
		e.kind = KindScroll
		e.scroll = NewScrollStrategy(cfg.Scroll, cfg.EmptyRetryWait, p, logger, nil)
	case KindClick:
		e.click = NewClickStrategy(cfg.Click, cfg.EmptyRetryWait, p, logger, nil)
	default:
		return nil, fmt.Errorf("extract: unknown strategy %q", cfg.Kind)
	}
	return e, nil
}

// Kind returns the selected strategy.
func (e *Extractor) Kind() Kind { return e.kind }

// Extract reads every card reachable through the strategy's pagination.
func (e *Extractor) Extract(ctx context.Context, page browser.Page) ([]models.RawRecord, error) {
	switch e.kind {
	case KindClick:
		return e.click.Extract(ctx, NewPageCarousel(page, e.click.parser.sel))
	default:
		return e.scroll.Extract(ctx, page)
	}
}
