// Package testutil provides shared test helpers for setting up stores and archives.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/starford/rankwatch/internal/archive"
	"github.com/starford/rankwatch/internal/models"
	"github.com/starford/rankwatch/internal/store"
)

// TestStore creates a temporary SQLite store that is automatically cleaned up.
func TestStore(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "rankwatch-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestArchive creates a temporary snapshot archive.
func TestArchive(t *testing.T) *archive.FS {
	t.Helper()
	a, err := archive.NewFS(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

// Seed reconciles one batch per crawl time, in order.
func Seed(t *testing.T, db *store.DB, start time.Time, batches ...[]models.Record) {
	t.Helper()
	for i, batch := range batches {
		at := start.Add(time.Duration(i) * time.Hour)
		if _, err := db.Reconcile(context.Background(), batch, at); err != nil {
			t.Fatalf("seed batch %d: %v", i, err)
		}
	}
}

// Logger returns a logger that discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
