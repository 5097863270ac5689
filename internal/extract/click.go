package extract

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/starford/rankwatch/internal/models"
	"github.com/starford/rankwatch/internal/parser"
)

// VisibleItem is one card currently rendered in the carousel window.
type VisibleItem struct {
	URL      string `json:"url"`
	RankText string `json:"rankText"`
	HTML     string `json:"html"`
}

// AdvanceResult describes an attempt to click the carousel's advance control.
type AdvanceResult string

// Advance results.
const (
	AdvanceClicked  AdvanceResult = "clicked"
	AdvanceNone     AdvanceResult = "none"
	AdvanceDisabled AdvanceResult = "disabled"
)

// Carousel is what the click strategy needs from a page.
type Carousel interface {
	Visible(ctx context.Context) ([]VisibleItem, error)
	Advance(ctx context.Context) (AdvanceResult, error)
}

// ClickStrategy walks a fixed-size carousel window by clicking its advance
// control, capturing each newly revealed batch of up to K items.
type ClickStrategy struct {
	cfg       ClickConfig
	emptyWait time.Duration
	parser    *cardParser
	logger    *slog.Logger
	clock     Clock
}

// NewClickStrategy creates a ClickStrategy. A nil clock uses wall time.
func NewClickStrategy(cfg ClickConfig, emptyWait time.Duration, p *cardParser, logger *slog.Logger, clock Clock) *ClickStrategy {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 4
	}
	if cfg.MaxClicks <= 0 {
		cfg.MaxClicks = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.AdvanceTimeout <= 0 {
		cfg.AdvanceTimeout = 5 * time.Second
	}
	if cfg.StablePolls <= 0 {
		cfg.StablePolls = 2
	}
	if clock == nil {
		clock = realClock{}
	}
	return &ClickStrategy{cfg: cfg, emptyWait: emptyWait, parser: p, logger: logger, clock: clock}
}

type rankedItem struct {
	VisibleItem
	link string
	rank int
}

type clickState struct {
	seen    map[string]struct{}
	maxRank int
	records []models.RawRecord
}

// Extract captures carousel windows until no new items appear, the control
// is missing or disabled, an advance does not settle, or MaxClicks is reached.
func (cs *ClickStrategy) Extract(ctx context.Context, c Carousel) ([]models.RawRecord, error) {
	visible, err := c.Visible(ctx)
	if err != nil {
		return nil, err
	}
	if len(visible) == 0 {
		cs.logger.Info("extract: carousel empty, waiting once", slog.Duration("wait", cs.emptyWait))
		if err := sleep(ctx, cs.clock, cs.emptyWait); err != nil {
			return nil, err
		}
		if visible, err = c.Visible(ctx); err != nil {
			return nil, err
		}
		if len(visible) == 0 {
			cs.logger.Warn("extract: no cards found")
			return nil, nil
		}
	}

	st := &clickState{seen: make(map[string]struct{})}
	clicks := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		added := cs.capture(ctx, st, visible)
		if added == 0 {
			cs.logger.Debug("extract: window yielded nothing new", slog.Int("clicks", clicks))
			break
		}
		if clicks >= cs.cfg.MaxClicks {
			cs.logger.Info("extract: max clicks reached", slog.Int("clicks", clicks))
			break
		}

		res, err := c.Advance(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			cs.logger.Warn("extract: advance failed", slog.String("error", err.Error()))
			break
		}
		if res != AdvanceClicked {
			cs.logger.Debug("extract: advance control unavailable", slog.String("result", string(res)))
			break
		}
		clicks++

		next, ok, err := cs.awaitChange(ctx, c, urlsOf(visible))
		if err != nil {
			return nil, err
		}
		if !ok {
			cs.logger.Info("extract: carousel did not advance before timeout", slog.Int("clicks", clicks))
			break
		}
		visible = next
	}

	cs.logger.Info("extract: carousel finished",
		slog.Int("records", len(st.records)), slog.Int("clicks", clicks))
	return st.records, nil
}

// capture drops already captured items, selects the next window from the
// rest and appends it.
func (cs *ClickStrategy) capture(ctx context.Context, st *clickState, visible []VisibleItem) int {
	items := make([]rankedItem, 0, len(visible))
	for i, v := range visible {
		link, err := Canonicalize(cs.parser.base, v.URL)
		if err != nil {
			cs.logger.Warn("extract: card skipped",
				slog.String("error", (&ItemError{Position: len(st.records) + i + 1, Reason: err.Error()}).Error()))
			continue
		}
		if _, ok := st.seen[link]; ok {
			continue
		}
		// Unlabelled cards rank after everything captured so far.
		rank, ok := parser.FirstInt(v.RankText)
		if !ok {
			rank = st.maxRank + len(items) + 1
		}
		items = append(items, rankedItem{VisibleItem: v, link: link, rank: rank})
	}

	window := selectWindow(items, len(st.records) > 0, st.maxRank, cs.cfg.BatchSize)

	added := 0
	for _, it := range window {
		if ctx.Err() != nil {
			return added
		}
		if _, ok := st.seen[it.link]; ok {
			continue
		}
		rec, err := cs.parser.parseFragment(it.HTML)
		if err != nil || rec.Link != it.link {
			rec = models.RawRecord{Link: it.link}
		}
		rec.Position = len(st.records) + 1
		// Without a rank label the mapper falls back to Position.
		rec.RankToken = it.RankText
		st.seen[it.link] = struct{}{}
		if it.rank > st.maxRank {
			st.maxRank = it.rank
		}
		st.records = append(st.records, rec)
		added++
	}
	return added
}

// selectWindow returns the K smallest-ranked items on the first window and,
// afterwards, the K smallest items ranked above maxRank.
func selectWindow(items []rankedItem, captured bool, maxRank, k int) []rankedItem {
	var pool []rankedItem
	if !captured {
		pool = append(pool, items...)
	} else {
		for _, it := range items {
			if it.rank > maxRank {
				pool = append(pool, it)
			}
		}
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].rank < pool[j].rank })
	if len(pool) > k {
		pool = pool[:k]
	}
	return pool
}

// awaitChange polls until the visible set has changed and the change is
// confirmed, or the advance timeout elapses.
func (cs *ClickStrategy) awaitChange(ctx context.Context, c Carousel, baseline []string) ([]VisibleItem, bool, error) {
	deadline := cs.clock.Now().Add(cs.cfg.AdvanceTimeout)
	tracker := newStability(baseline, cs.cfg.StablePolls)
	for {
		if err := sleep(ctx, cs.clock, cs.cfg.PollInterval); err != nil {
			return nil, false, err
		}
		visible, err := c.Visible(ctx)
		if err == nil && tracker.Observe(urlsOf(visible)) == Confirmed {
			return visible, true, nil
		}
		if !cs.clock.Now().Before(deadline) {
			return nil, false, nil
		}
	}
}

func urlsOf(items []VisibleItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.URL)
	}
	return out
}
