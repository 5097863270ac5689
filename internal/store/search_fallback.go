//go:build !sqlite_fts5

package store

import (
	"context"
	"database/sql"

	"github.com/starford/rankwatch/internal/models"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE on the agents table.
	return nil
}

func ftsIndex(_ context.Context, _ *sql.Tx, _ models.Record) error { return nil }

func (db *DB) searchSQLite(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	return db.searchLike(ctx, "LIKE", query, limit)
}
