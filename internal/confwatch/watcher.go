// Package confwatch reloads settings when the configuration file changes.
package confwatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 200 * time.Millisecond

// ReloadFunc is called once per debounced change of the watched file.
type ReloadFunc func(ctx context.Context) error

// Watch observes file until ctx is cancelled and calls reload after each
// change. The parent directory is watched so that atomic replace-on-save
// (rename over the file) is seen as well.
func Watch(ctx context.Context, file string, debounce time.Duration, logger *slog.Logger, reload ReloadFunc) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return fmt.Errorf("confwatch: resolve %s: %w", file, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("confwatch: watch %s: %w", filepath.Dir(abs), err)
	}

	logger.Info("confwatch: started", slog.String("file", abs))

	var timer *time.Timer
	var fire <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("confwatch: stopped")
			return nil

		case <-fire:
			if err := reload(ctx); err != nil {
				logger.Warn("confwatch: reload failed", slog.String("file", abs), slog.String("error", err.Error()))
				continue
			}
			logger.Info("confwatch: reloaded", slog.String("file", abs))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				logger.Debug("confwatch: change detected", slog.String("op", ev.Op.String()))
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("confwatch: error", slog.String("error", watchErr.Error()))
		}
	}
}
