//go:build sqlite_fts5

package store

import (
	"context"
	"testing"
	"time"

	"github.com/starford/rankwatch/internal/models"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM agents_fts`).Scan(&count); err != nil {
		t.Fatalf("agents_fts table missing: %v", err)
	}
}

func TestFTSQuery_QuotesTerms(t *testing.T) {
	if got := ftsQuery(`chibi "sticker`); got != `"chibi"* """sticker"*` {
		t.Errorf("ftsQuery = %s", got)
	}
}

func TestFTS5_SnippetHighlights(t *testing.T) {
	db := testDB(t)
	seedSearch(t, db)
	res, err := db.Search(context.Background(), "selfies", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].Snippet == "" {
		t.Fatalf("res = %+v", res)
	}
}

func TestFTS5_ReindexOnUpdate(t *testing.T) {
	db := testDB(t)
	seedSearch(t, db)
	ctx := context.Background()
	renamed := rec("https://x.test/@b/writer", "Cover Letter Writer", 1)
	if _, err := db.Reconcile(ctx, []models.Record{renamed}, searchT0.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	res, _ := db.Search(ctx, "resume", 10)
	if len(res) != 0 {
		t.Errorf("stale fts row: %+v", res)
	}
	res, _ = db.Search(ctx, "letter", 10)
	if len(res) != 1 {
		t.Errorf("renamed agent not found: %+v", res)
	}
}
