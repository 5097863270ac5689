package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/starford/rankwatch/internal/archive"
	"github.com/starford/rankwatch/internal/crawl"
	"github.com/starford/rankwatch/internal/enrich"
	"github.com/starford/rankwatch/internal/extract"
	"github.com/starford/rankwatch/internal/mapper"
	"github.com/starford/rankwatch/internal/notify"
	"github.com/starford/rankwatch/internal/store"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.logOutput == nil {
		app.logOutput = os.Stdout
	}
	app.level = new(slog.LevelVar)
	app.level.Set(app.config.App.LogLevel)
	return app, nil
}

// logger builds the structured JSON logger and makes it the default.
func (a *application) logger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.level,
	}))
	slog.SetDefault(logger)
	return logger
}

// pipeline holds the crawl collaborators built from configuration.
type pipeline struct {
	db       *store.DB
	archive  *archive.FS
	feishu   *notify.Feishu
	nats     *notify.NATS
	notifier *notify.Multi
	service  *crawl.Service
}

func openStore(cfg *Config) (*store.DB, error) {
	db, err := store.OpenDriver(cfg.Database.Driver, cfg.Database.Source())
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return db, nil
}

func openArchive(cfg *Config) (*archive.FS, error) {
	if cfg.Archive.Path == "" {
		return nil, nil
	}
	a, err := archive.NewFS(cfg.Archive.Path, cfg.Archive.Keep)
	if err != nil {
		return nil, fmt.Errorf("init archive: %w", err)
	}
	return a, nil
}

// buildPipeline opens the store and wires the crawl service. events may be nil.
func buildPipeline(cfg *Config, logger *slog.Logger, events crawl.EventSink) (*pipeline, error) {
	p := &pipeline{}
	var err error

	if p.db, err = openStore(cfg); err != nil {
		return nil, err
	}
	if p.archive, err = openArchive(cfg); err != nil {
		p.Close()
		return nil, err
	}

	extractor, err := extract.New(cfg.Crawler.ExtractConfig(), logger)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("init extractor: %w", err)
	}

	var notifiers []notify.Notifier
	if p.feishu = notify.NewFeishu(cfg.Notify.FeishuWebhookURL, cfg.Notify.Timeout); p.feishu != nil {
		if cfg.Scheduler.Enabled {
			p.feishu.NextRun = fmt.Sprintf("in %dh", cfg.Scheduler.IntervalHours)
		}
		notifiers = append(notifiers, p.feishu)
	}
	if cfg.Notify.NATS.URL != "" {
		if p.nats, err = notify.NewNATS(cfg.Notify.NATSOptions()); err != nil {
			logger.Warn("NATS notifier disabled", slog.String("error", err.Error()))
		} else {
			notifiers = append(notifiers, p.nats)
		}
	}
	p.notifier = notify.NewMulti(logger, notifiers...)

	deps := crawl.Deps{
		Sessions:  crawl.BrowserSessions(cfg.Crawler.BrowserConfig(logger)),
		Extractor: extractor,
		Mapper:    mapper.New(logger),
		Store:     p.db,
		Notifier:  p.notifier,
		Logger:    logger,
	}
	if cfg.Enrich.Enabled {
		deps.Enricher = enrich.New(cfg.Enrich.EnricherConfig(), logger)
	}
	if p.archive != nil {
		deps.Archive = p.archive
	}
	if events != nil {
		deps.Events = events
	}

	if p.service, err = crawl.NewService(cfg.Crawler.CrawlConfig(), deps); err != nil {
		p.Close()
		return nil, fmt.Errorf("init crawl service: %w", err)
	}

	logger.Info("Pipeline ready",
		slog.String("base_url", cfg.Crawler.BaseURL),
		slog.String("strategy", cfg.Crawler.Strategy),
		slog.String("database", cfg.Database.Driver),
		slog.Bool("enrich", cfg.Enrich.Enabled),
		slog.Bool("archive", p.archive != nil),
		slog.Int("notifiers", p.notifier.Len()))
	return p, nil
}

// Close releases the store and the message bus connection.
func (p *pipeline) Close() error {
	var errs []error
	if p.nats != nil {
		errs = append(errs, p.nats.Close())
	}
	if p.db != nil {
		errs = append(errs, p.db.Close())
	}
	return errors.Join(errs...)
}

const shutdownTimeout = 10 * time.Second
