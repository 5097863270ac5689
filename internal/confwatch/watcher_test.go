package confwatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	_ = os.WriteFile(file, []byte("scheduler:\n  interval: 24h\n"), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, file, 50*time.Millisecond, testLogger(), func(context.Context) error {
			reloads.Add(1)
			return nil
		})
	}()
	time.Sleep(100 * time.Millisecond)

	// A burst of writes is debounced into one reload.
	for i := 0; i < 3; i++ {
		_ = os.WriteFile(file, []byte("scheduler:\n  interval: 12h\n"), 0o644)
	}

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return reloads.Load() >= 1
	}, "config change not reloaded")
	time.Sleep(200 * time.Millisecond)
	if n := reloads.Load(); n != 1 {
		t.Errorf("reloads = %d, want 1 (debounced)", n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop")
	}
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	_ = os.WriteFile(file, []byte("a: 1\n"), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	go Watch(ctx, file, 30*time.Millisecond, testLogger(), func(context.Context) error {
		reloads.Add(1)
		return nil
	})
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b: 2\n"), 0o644)
	time.Sleep(200 * time.Millisecond)
	if n := reloads.Load(); n != 0 {
		t.Errorf("reloads = %d, want 0", n)
	}
}

func TestWatch_ReloadErrorKeepsWatching(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	_ = os.WriteFile(file, []byte("a: 1\n"), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	go Watch(ctx, file, 30*time.Millisecond, testLogger(), func(context.Context) error {
		reloads.Add(1)
		return errors.New("invalid yaml")
	})
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(file, []byte("a: [\n"), 0o644)
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool { return reloads.Load() == 1 }, "first reload missing")

	_ = os.WriteFile(file, []byte("a: 2\n"), 0o644)
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool { return reloads.Load() == 2 }, "watcher stopped after reload error")
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "config.yaml"), 0, testLogger(), nil)
	if err == nil {
		t.Error("expected error for missing directory")
	}
}
