// Package crawl runs one end-to-end extraction: browser session, list
// extraction, detail enrichment, field mapping and reconciliation.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/rankwatch/internal/browser"
	"github.com/starford/rankwatch/internal/enrich"
	"github.com/starford/rankwatch/internal/mapper"
	"github.com/starford/rankwatch/internal/models"
	"github.com/starford/rankwatch/internal/sse"
	"github.com/starford/rankwatch/internal/store"
)

var (
	// ErrCancelled is returned when a run is interrupted. The batch is
	// discarded and nothing is reconciled.
	ErrCancelled = errors.New("crawl: cancelled")
	// ErrEmptyBatch is returned when no valid record survived mapping.
	// Reconciling it would deactivate the whole catalog.
	ErrEmptyBatch = errors.New("crawl: no records extracted")
)

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// OutcomeOf maps a Run error to its outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrCancelled):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

// Session is the part of a browser session the pipeline drives.
type Session interface {
	Page() browser.Page
	Navigate(ctx context.Context, url string) error
	OpenIsolated(ctx context.Context) (browser.Page, error)
	Release() error
}

// SessionFactory acquires a fresh session for one run.
type SessionFactory func(ctx context.Context) (Session, error)

// BrowserSessions returns a factory that launches Chrome with cfg.
func BrowserSessions(cfg browser.Config) SessionFactory {
	return func(ctx context.Context) (Session, error) {
		s, err := browser.Acquire(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// ListExtractor reads the ranked listing from the main page.
type ListExtractor interface {
	Extract(ctx context.Context, page browser.Page) ([]models.RawRecord, error)
}

// DetailEnricher merges detail page metadata into list records.
type DetailEnricher interface {
	EnrichAll(ctx context.Context, opener enrich.Opener, records []models.RawRecord) ([]models.Merged, error)
}

// Reconciler persists a batch and reports catalog statistics.
type Reconciler interface {
	Reconcile(ctx context.Context, batch []models.Record, crawlTime time.Time) (*store.ReconcileResult, error)
	Statistics(ctx context.Context) (*models.Statistics, error)
}

// Archiver keeps a copy of each mapped batch.
type Archiver interface {
	Write(crawlTime time.Time, records []models.Record) (string, error)
}

// Notifier receives the report of a successful run.
type Notifier interface {
	Notify(ctx context.Context, report models.CrawlReport) error
}

// EventSink receives live pipeline events.
type EventSink interface {
	Publish(event sse.Event)
}

// Config holds the per-site pipeline settings.
type Config struct {
	BaseURL string
	// SortLabel is clicked before extraction when present, e.g. "Most used".
	SortLabel    string
	SortSelector string
	SortTimeout  time.Duration
}

// Deps are the collaborators of a Service. Enricher, Archive, Notifier and
// Events are optional.
type Deps struct {
	Sessions  SessionFactory
	Extractor ListExtractor
	Enricher  DetailEnricher
	Mapper    *mapper.Mapper
	Store     Reconciler
	Archive   Archiver
	Notifier  Notifier
	Events    EventSink
	Logger    *slog.Logger
}

// Result is the outcome of a successful run.
type Result struct {
	CrawlTime   time.Time         `json:"crawl_time"`
	Records     []models.Record   `json:"records"`
	Stats       models.Statistics `json:"stats"`
	Added       []models.Record   `json:"added"`
	Removed     []models.Agent    `json:"removed"`
	Reactivated []string          `json:"reactivated"`
	Updated     int               `json:"updated"`
	Snapshot    string            `json:"snapshot,omitempty"`
}

// Report converts r for notifiers.
func (r *Result) Report() models.CrawlReport {
	return models.CrawlReport{
		CrawlTime: r.CrawlTime,
		Records:   len(r.Records),
		Stats:     r.Stats,
		Added:     r.Added,
		Removed:   r.Removed,
	}
}

// Service runs crawls.
type Service struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

// NewService validates deps and builds a Service.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Sessions == nil || deps.Extractor == nil || deps.Store == nil {
		return nil, fmt.Errorf("crawl: sessions, extractor and store are required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("crawl: base url is required")
	}
	if cfg.SortSelector == "" {
		cfg.SortSelector = "button, a, [role=tab]"
	}
	if cfg.SortTimeout <= 0 {
		cfg.SortTimeout = 5 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Mapper == nil {
		deps.Mapper = mapper.New(deps.Logger)
	}
	return &Service{cfg: cfg, deps: deps, now: time.Now}, nil
}

// Run executes one crawl. The browser is released on every path. A
// cancelled run returns an error matching ErrCancelled.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	log := s.deps.Logger
	started := s.now()
	s.publish(sse.TypeCrawlStarted, map[string]string{"url": s.cfg.BaseURL})
	log.Info("crawl: started", slog.String("url", s.cfg.BaseURL))

	res, err := s.run(ctx)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		s.publish(sse.TypeCrawlFailed, map[string]string{
			"error":   err.Error(),
			"outcome": string(OutcomeOf(err)),
		})
		log.Error("crawl: failed",
			slog.String("outcome", string(OutcomeOf(err))),
			slog.Duration("elapsed", s.now().Sub(started)),
			slog.String("error", err.Error()))
		return nil, err
	}

	log.Info("crawl: completed",
		slog.Int("records", len(res.Records)),
		slog.Int("added", len(res.Added)),
		slog.Int("removed", len(res.Removed)),
		slog.Int("updated", res.Updated),
		slog.Int("active", res.Stats.ActiveAgents),
		slog.Duration("elapsed", s.now().Sub(started)))

	s.announce(res)
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.Notify(ctx, res.Report()); err != nil {
			log.Warn("crawl: notify failed", slog.String("error", err.Error()))
		}
	}
	return res, nil
}

func (s *Service) run(ctx context.Context) (*Result, error) {
	log := s.deps.Logger

	sess, err := s.deps.Sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("crawl: acquire browser: %w", err)
	}
	defer func() {
		if err := sess.Release(); err != nil {
			log.Warn("crawl: release browser", slog.String("error", err.Error()))
		}
	}()

	if err := sess.Navigate(ctx, s.cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("crawl: open listing: %w", err)
	}
	s.selectSort(ctx, sess.Page())

	raw, err := s.deps.Extractor.Extract(ctx, sess.Page())
	if err != nil {
		return nil, fmt.Errorf("crawl: extract: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	log.Info("crawl: listing extracted", slog.Int("items", len(raw)))

	var merged []models.Merged
	if s.deps.Enricher != nil {
		merged, err = s.deps.Enricher.EnrichAll(ctx, sess, raw)
		if err != nil {
			return nil, fmt.Errorf("crawl: enrich: %w", err)
		}
	} else {
		merged = enrich.Skip(raw)
	}

	records := s.deps.Mapper.Map(merged)
	if len(records) == 0 {
		return nil, ErrEmptyBatch
	}

	crawlTime := s.now().UTC()
	res := &Result{CrawlTime: crawlTime, Records: records}

	if s.deps.Archive != nil {
		path, err := s.deps.Archive.Write(crawlTime, records)
		if err != nil {
			log.Warn("crawl: archive snapshot", slog.String("error", err.Error()))
		} else {
			res.Snapshot = path
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	rec, err := s.deps.Store.Reconcile(ctx, records, crawlTime)
	if err != nil {
		return nil, err
	}
	res.Added = rec.Added
	res.Removed = rec.Removed
	res.Reactivated = rec.Reactivated
	res.Updated = rec.Updated

	stats, err := s.deps.Store.Statistics(ctx)
	if err != nil {
		log.Warn("crawl: read statistics", slog.String("error", err.Error()))
	} else {
		res.Stats = *stats
	}
	return res, nil
}

// selectSort clicks the configured sort control. A missing control is not
// an error.
func (s *Service) selectSort(ctx context.Context, page browser.Page) {
	if s.cfg.SortLabel == "" {
		return
	}
	log := s.deps.Logger
	ok, err := page.ClickText(ctx, s.cfg.SortSelector, s.cfg.SortLabel, s.cfg.SortTimeout)
	switch {
	case err != nil:
		log.Warn("crawl: sort control", slog.String("label", s.cfg.SortLabel), slog.String("error", err.Error()))
	case !ok:
		log.Warn("crawl: sort control not found", slog.String("label", s.cfg.SortLabel))
	default:
		log.Debug("crawl: sort selected", slog.String("label", s.cfg.SortLabel))
	}
}

func (s *Service) publish(typ string, data any) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.Publish(sse.Event{Type: typ, Data: data})
}

func (s *Service) announce(res *Result) {
	if s.deps.Events == nil {
		return
	}
	for _, r := range res.Added {
		s.deps.Events.Publish(sse.AgentAdded(r.Link, r.Name))
	}
	for _, a := range res.Removed {
		s.deps.Events.Publish(sse.AgentRemoved(a.Link, a.Name))
	}
	s.publish(sse.TypeCrawlCompleted, map[string]any{
		"crawl_time": res.CrawlTime,
		"records":    len(res.Records),
		"added":      len(res.Added),
		"removed":    len(res.Removed),
		"updated":    res.Updated,
	})
}
