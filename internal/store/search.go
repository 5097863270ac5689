package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/starford/rankwatch/internal/models"
)

const defaultSearchLimit = 20

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search matches agents by name, description, author and tags. Active agents
// come first, then by rank.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.SearchResult{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if db.driver == DriverSQLite {
		return db.searchSQLite(ctx, query, limit)
	}
	return db.searchLike(ctx, "ILIKE", query, limit)
}

// searchLike is the portable substring search.
func (db *DB) searchLike(ctx context.Context, op, query string, limit int) ([]models.SearchResult, error) {
	like := "%" + likeEscaper.Replace(query) + "%"
	rows, err := db.conn.QueryContext(ctx, db.rebind(fmt.Sprintf(`
		SELECT link, name, rank, is_active, substr(description, 1, 200)
		FROM agents
		WHERE name %[1]s ? ESCAPE '\'
		   OR description %[1]s ? ESCAPE '\'
		   OR author %[1]s ? ESCAPE '\'
		   OR tags %[1]s ? ESCAPE '\'
		ORDER BY is_active DESC, rank ASC
		LIMIT ?`, op)), like, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	return scanSearch(rows)
}

type searchRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanSearch(rows searchRows) ([]models.SearchResult, error) {
	defer rows.Close()
	out := []models.SearchResult{}
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.Link, &r.Name, &r.Rank, &r.IsActive, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
