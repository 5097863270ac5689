package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/rankwatch/internal/models"
)

// ScrollSurface is what the scroll strategy needs from a page.
type ScrollSurface interface {
	Count(ctx context.Context, selector string) (int, error)
	ScrollToBottom(ctx context.Context) error
	WaitIdle(ctx context.Context, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
}

// ScrollStrategy scrolls until the card count stops growing, then parses
// every card once. Rank tokens are DOM positions.
type ScrollStrategy struct {
	cfg       ScrollConfig
	emptyWait time.Duration
	parser    *cardParser
	logger    *slog.Logger
	clock     Clock
}

// NewScrollStrategy creates a ScrollStrategy. A nil clock uses wall time.
func NewScrollStrategy(cfg ScrollConfig, emptyWait time.Duration, p *cardParser, logger *slog.Logger, clock Clock) *ScrollStrategy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 50
	}
	if cfg.NoNewContentThreshold <= 0 {
		cfg.NoNewContentThreshold = 3
	}
	if clock == nil {
		clock = realClock{}
	}
	return &ScrollStrategy{cfg: cfg, emptyWait: emptyWait, parser: p, logger: logger, clock: clock}
}

// Extract scrolls s to exhaustion and parses the resulting cards.
func (st *ScrollStrategy) Extract(ctx context.Context, s ScrollSurface) ([]models.RawRecord, error) {
	sel := st.parser.sel.Card

	count, err := s.Count(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("extract: count cards: %w", err)
	}
	if count == 0 {
		st.logger.Info("extract: no cards yet, waiting once", slog.Duration("wait", st.emptyWait))
		if err := sleep(ctx, st.clock, st.emptyWait); err != nil {
			return nil, err
		}
		if count, err = s.Count(ctx, sel); err != nil {
			return nil, fmt.Errorf("extract: count cards: %w", err)
		}
		if count == 0 {
			st.logger.Warn("extract: no cards found")
			return nil, nil
		}
	}

	noGrowth := 0
	for attempt := 1; attempt <= st.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		before, err := s.Count(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("extract: count cards: %w", err)
		}
		if err := s.ScrollToBottom(ctx); err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		if err := sleep(ctx, st.clock, st.cfg.Delay); err != nil {
			return nil, err
		}
		if st.cfg.IdleTimeout > 0 {
			_ = s.WaitIdle(ctx, st.cfg.IdleTimeout)
		}
		after, err := s.Count(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("extract: count cards: %w", err)
		}

		if after > before {
			noGrowth = 0
			st.logger.Debug("extract: scroll found new cards",
				slog.Int("attempt", attempt), slog.Int("count", after))
			continue
		}
		noGrowth++
		st.logger.Debug("extract: scroll found nothing new",
			slog.Int("attempt", attempt),
			slog.Int("no_growth", noGrowth),
			slog.Int("threshold", st.cfg.NoNewContentThreshold))
		if noGrowth >= st.cfg.NoNewContentThreshold {
			break
		}
	}

	html, err := s.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	records, err := st.parser.parseDocument(html)
	if err != nil {
		return nil, err
	}
	st.logger.Info("extract: scroll finished", slog.Int("records", len(records)))
	return records, nil
}
