package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/starford/rankwatch/internal/apperr"
	"github.com/starford/rankwatch/internal/models"
)

const agentColumns = `link, name, description, avatar_url, price, author, rank, tags, stats,
	version, last_updated_text, external_links, is_active, first_seen, last_updated`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanAgent(s rowScanner) (models.Agent, error) {
	var (
		a                          models.Agent
		tagsJSON, statsJSON, extJS string
	)
	err := s.Scan(&a.Link, &a.Name, &a.Description, &a.AvatarURL, &a.Price, &a.Author, &a.Rank,
		&tagsJSON, &statsJSON, &a.Version, &a.LastUpdatedText, &extJS,
		&a.IsActive, &a.FirstSeen, &a.LastUpdated)
	if err != nil {
		return a, err
	}
	_ = json.Unmarshal([]byte(tagsJSON), &a.Tags)
	_ = json.Unmarshal([]byte(statsJSON), &a.Stats)
	_ = json.Unmarshal([]byte(extJS), &a.ExternalLinks)
	a.FirstSeen = a.FirstSeen.UTC()
	a.LastUpdated = a.LastUpdated.UTC()
	return a, nil
}

func (db *DB) queryAgents(ctx context.Context, q queryer, query string, args ...any) ([]models.Agent, error) {
	rows, err := q.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

// ActiveAgents returns active agents ordered by ascending rank.
// A non-positive limit returns all of them.
func (db *DB) ActiveAgents(ctx context.Context, limit int) ([]models.Agent, error) {
	out, err := db.queryAgents(ctx, db.conn,
		`SELECT `+agentColumns+` FROM agents WHERE is_active = ? ORDER BY rank ASC, link ASC`+limitClause(limit), true)
	if err != nil {
		return nil, fmt.Errorf("store: active agents: %w", err)
	}
	return out, nil
}

// AllAgents returns every agent, active first, each group ordered by rank.
func (db *DB) AllAgents(ctx context.Context, limit int) ([]models.Agent, error) {
	out, err := db.queryAgents(ctx, db.conn,
		`SELECT `+agentColumns+` FROM agents ORDER BY is_active DESC, rank ASC, link ASC`+limitClause(limit))
	if err != nil {
		return nil, fmt.Errorf("store: all agents: %w", err)
	}
	return out, nil
}

// GetAgent returns one agent by link, or apperr.ErrNotFound.
func (db *DB) GetAgent(ctx context.Context, link string) (*models.Agent, error) {
	return db.getAgent(ctx, db.conn, link)
}

func (db *DB) getAgent(ctx context.Context, q queryer, link string) (*models.Agent, error) {
	row := q.QueryRowContext(ctx, db.rebind(`SELECT `+agentColumns+` FROM agents WHERE link = ?`), link)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: agent %s: %w", link, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get agent: %w", err)
	}
	return &a, nil
}

// RankHistory returns every rank sample of link ordered by ascending crawl time.
// An unknown link yields an empty slice.
func (db *DB) RankHistory(ctx context.Context, link string) ([]models.RankSample, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(
		`SELECT agent_link, rank, crawl_time FROM rank_history WHERE agent_link = ? ORDER BY crawl_time ASC, id ASC`), link)
	if err != nil {
		return nil, fmt.Errorf("store: rank history: %w", err)
	}
	defer rows.Close()

	out := []models.RankSample{}
	for rows.Next() {
		var s models.RankSample
		if err := rows.Scan(&s.AgentLink, &s.Rank, &s.CrawlTime); err != nil {
			return nil, err
		}
		s.CrawlTime = s.CrawlTime.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// Statistics summarises the catalog.
func (db *DB) Statistics(ctx context.Context) (*models.Statistics, error) {
	var st models.Statistics
	err := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT
			COALESCE(SUM(CASE WHEN is_active = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_active = ? THEN 0 ELSE 1 END), 0)
		FROM agents`), true, true).Scan(&st.ActiveAgents, &st.InactiveAgents)
	if err != nil {
		return nil, fmt.Errorf("store: agent counts: %w", err)
	}

	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(DISTINCT crawl_time) FROM rank_history`).Scan(&st.TotalCrawls); err != nil {
		return nil, fmt.Errorf("store: crawl count: %w", err)
	}

	// ORDER BY + LIMIT keeps the column's declared type, so the driver still
	// returns a time.Time.
	var latest time.Time
	err = db.conn.QueryRowContext(ctx, `SELECT crawl_time FROM rank_history ORDER BY crawl_time DESC LIMIT 1`).Scan(&latest)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("store: latest crawl: %w", err)
	default:
		latest = latest.UTC()
		st.LatestCrawl = &latest
	}

	return &st, nil
}

// RankChanges compares ranks between the two most recent crawls and returns
// the largest movers first. Items missing from either crawl are skipped.
func (db *DB) RankChanges(ctx context.Context, limit int) ([]models.RankChange, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT DISTINCT crawl_time FROM rank_history ORDER BY crawl_time DESC LIMIT 2`)
	if err != nil {
		return nil, fmt.Errorf("store: recent crawls: %w", err)
	}
	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return nil, err
		}
		times = append(times, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(times) < 2 {
		return []models.RankChange{}, nil
	}

	rows, err = db.conn.QueryContext(ctx, db.rebind(`
		SELECT h.agent_link, a.name, h.rank, h.crawl_time
		FROM rank_history h
		JOIN agents a ON a.link = h.agent_link
		WHERE h.crawl_time IN (?, ?)`), times[0], times[1])
	if err != nil {
		return nil, fmt.Errorf("store: rank changes: %w", err)
	}
	defer rows.Close()

	latest := times[0].UTC()
	byLink := make(map[string]*models.RankChange)
	seen := make(map[string]int)
	for rows.Next() {
		var (
			link, name string
			rank       int
			ct         time.Time
		)
		if err := rows.Scan(&link, &name, &rank, &ct); err != nil {
			return nil, err
		}
		c, ok := byLink[link]
		if !ok {
			c = &models.RankChange{Link: link, Name: name}
			byLink[link] = c
		}
		if ct.UTC().Equal(latest) {
			c.LatestRank = rank
		} else {
			c.PreviousRank = rank
		}
		seen[link]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.RankChange, 0, len(byLink))
	for link, c := range byLink {
		if seen[link] < 2 {
			continue
		}
		c.Change = c.PreviousRank - c.LatestRank
		if c.Change == 0 {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := abs(out[i].Change), abs(out[j].Change)
		if ai != aj {
			return ai > aj
		}
		if out[i].LatestRank != out[j].LatestRank {
			return out[i].LatestRank < out[j].LatestRank
		}
		return out[i].Link < out[j].Link
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
