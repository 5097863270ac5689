package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/rankwatch/internal/archive"
	"github.com/starford/rankwatch/internal/crawl"
	"github.com/starford/rankwatch/internal/mcpserver"
	"github.com/starford/rankwatch/internal/store"
	"github.com/starford/rankwatch/internal/tasks"
)

// Crawl runs a single crawl and returns its result.
func Crawl(ctx context.Context, opts ...Option) (*crawl.Result, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	logger := app.logger()

	p, err := buildPipeline(app.config, logger, nil)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	runner := crawl.NewRunner(ctx, p.service, tasks.NewRegistry(1), logger)
	task, res, err := runner.Run(ctx, "cli")
	if err != nil {
		return nil, fmt.Errorf("crawl %s %s: %w", task.ID, crawl.OutcomeOf(err), err)
	}
	return res, nil
}

// ServeMCP serves the catalog tools over stdio until the client disconnects.
// Crawls started through the tools run in this process.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()

	p, err := buildPipeline(app.config, logger, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	runner := crawl.NewRunner(ctx, p.service, tasks.NewRegistry(0), logger)
	defer runner.Wait()
	defer runner.CancelCurrent()

	mcpOpts := []mcpserver.Option{mcpserver.WithCrawls(runner)}
	if p.archive != nil {
		mcpOpts = append(mcpOpts, mcpserver.WithSnapshots(p.archive))
	}
	srv := mcpserver.New(p.db, mcpOpts...)

	logger.Info("MCP server starting on stdio")
	return srv.ServeStdio()
}

// Replay reconciles an archived snapshot into the store. file is a path, or
// a snapshot name inside the configured archive.
func Replay(ctx context.Context, file string, opts ...Option) (*store.ReconcileResult, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	logger := app.logger()

	snap, err := readSnapshot(app.config, file)
	if err != nil {
		return nil, err
	}

	db, err := openStore(app.config)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	res, err := db.Reconcile(ctx, snap.Records, snap.CrawlTime)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", file, err)
	}
	logger.Info("Snapshot replayed",
		slog.String("file", file),
		slog.Time("crawl_time", snap.CrawlTime),
		slog.Int("records", len(snap.Records)),
		slog.Int("added", len(res.Added)),
		slog.Int("removed", len(res.Removed)))
	return res, nil
}

func readSnapshot(cfg *Config, file string) (*archive.Snapshot, error) {
	if snap, err := archive.ReadFile(file); err == nil {
		return snap, nil
	} else if cfg.Archive.Path == "" {
		return nil, err
	}
	a, err := openArchive(cfg)
	if err != nil {
		return nil, err
	}
	return a.Read(file)
}

// OpenCatalog opens the configured store for read-only queries.
func OpenCatalog(opts ...Option) (*store.DB, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	return openStore(app.config)
}
