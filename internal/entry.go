// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/rankwatch/internal/api"
	"github.com/starford/rankwatch/internal/confwatch"
	"github.com/starford/rankwatch/internal/crawl"
	"github.com/starford/rankwatch/internal/schedule"
	"github.com/starford/rankwatch/internal/sse"
	"github.com/starford/rankwatch/internal/tasks"
	pkgconfig "github.com/starford/rankwatch/pkg/config"
)

// Run starts the API server and the crawl scheduler with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("archive_path", cfg.Archive.Path),
		slog.Bool("scheduler_enabled", cfg.Scheduler.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	p, err := buildPipeline(cfg, logger, broker)
	if err != nil {
		return err
	}
	defer p.Close()

	g, gCtx := errgroup.WithContext(ctx)

	// Background crawls are cancelled on shutdown.
	runner := crawl.NewRunner(gCtx, p.service, tasks.NewRegistry(0), logger)

	sched, err := schedule.New(cfg.Scheduler.ScheduleConfig(), func(ctx context.Context) error {
		_, _, err := runner.Run(ctx, "scheduler")
		return err
	}, logger)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	// Build API handler and router.
	h := api.NewHandler(p.db, runner, sched)
	apiRouter := api.NewRouter(h, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := p.db.Statistics(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	// Start the crawl scheduler.
	g.Go(func() error {
		return sched.Run(gCtx)
	})

	// Watch the config file for scheduler and log level changes.
	if app.configFile != "" {
		g.Go(func() error {
			err := confwatch.Watch(gCtx, app.configFile, confwatch.DefaultDebounce, logger, func(context.Context) error {
				next := NewDefaultConfig()
				if err := pkgconfig.Load(app.configFile, next); err != nil {
					return err
				}
				app.level.Set(next.App.LogLevel)
				return sched.UpdateConfig(next.Scheduler.ScheduleConfig())
			})
			if err != nil {
				logger.Warn("config watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		var sigErr error
		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			sigErr = errShutdown
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return sigErr
	})

	err = g.Wait()
	runner.Wait()
	if err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group when a signal arrives.
var errShutdown = errors.New("shutdown requested")
