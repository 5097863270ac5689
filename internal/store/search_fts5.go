//go:build sqlite_fts5

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/rankwatch/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS agents_fts USING fts5(
			link UNINDEXED,
			name,
			description,
			author,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsIndex(ctx context.Context, tx *sql.Tx, r models.Record) error {
	_, _ = tx.ExecContext(ctx, `DELETE FROM agents_fts WHERE link = ?`, r.Link)
	_, err := tx.ExecContext(ctx, `INSERT INTO agents_fts (link, name, description, author, tags) VALUES (?, ?, ?, ?, ?)`,
		r.Link, r.Name, r.Description, r.Author, strings.Join(r.Tags, " "))
	if err != nil {
		return fmt.Errorf("store: index fts: %w", err)
	}
	return nil
}

// ftsQuery turns free text into prefix terms that are all required.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"*`
	}
	return strings.Join(fields, " ")
}

func (db *DB) searchSQLite(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT a.link,
		       a.name,
		       a.rank,
		       a.is_active,
		       snippet(agents_fts, 2, '<b>', '</b>', '...', 32)
		FROM agents_fts
		JOIN agents a ON a.link = agents_fts.link
		WHERE agents_fts MATCH ?
		ORDER BY a.is_active DESC, a.rank ASC
		LIMIT ?
	`, ftsQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	return scanSearch(rows)
}
