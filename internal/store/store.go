// Package store persists the catalog (agents and their rank history) in SQLite
// or PostgreSQL through database/sql.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/rankwatch/internal/models"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS agents (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	link              TEXT NOT NULL UNIQUE,
	name              TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	avatar_url        TEXT NOT NULL DEFAULT '',
	price             TEXT NOT NULL DEFAULT '',
	author            TEXT NOT NULL DEFAULT '',
	rank              INTEGER NOT NULL,
	tags              TEXT NOT NULL DEFAULT '[]',
	stats             TEXT NOT NULL DEFAULT '{}',
	version           TEXT NOT NULL DEFAULT '',
	last_updated_text TEXT NOT NULL DEFAULT '',
	external_links    TEXT NOT NULL DEFAULT '[]',
	content_hash      TEXT NOT NULL DEFAULT '',
	is_active         BOOLEAN NOT NULL DEFAULT 1,
	first_seen        DATETIME NOT NULL,
	last_updated      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rank_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_link TEXT NOT NULL REFERENCES agents(link),
	rank       INTEGER NOT NULL,
	crawl_time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agents_rank ON agents(rank);
CREATE INDEX IF NOT EXISTS idx_agents_is_active ON agents(is_active);
CREATE INDEX IF NOT EXISTS idx_rank_history_agent_link ON rank_history(agent_link);
CREATE INDEX IF NOT EXISTS idx_rank_history_crawl_time ON rank_history(crawl_time);
`

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS agents (
	id                BIGSERIAL PRIMARY KEY,
	link              TEXT NOT NULL UNIQUE,
	name              TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	avatar_url        TEXT NOT NULL DEFAULT '',
	price             TEXT NOT NULL DEFAULT '',
	author            TEXT NOT NULL DEFAULT '',
	rank              INTEGER NOT NULL,
	tags              TEXT NOT NULL DEFAULT '[]',
	stats             TEXT NOT NULL DEFAULT '{}',
	version           TEXT NOT NULL DEFAULT '',
	last_updated_text TEXT NOT NULL DEFAULT '',
	external_links    TEXT NOT NULL DEFAULT '[]',
	content_hash      TEXT NOT NULL DEFAULT '',
	is_active         BOOLEAN NOT NULL DEFAULT TRUE,
	first_seen        TIMESTAMPTZ NOT NULL,
	last_updated      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rank_history (
	id         BIGSERIAL PRIMARY KEY,
	agent_link TEXT NOT NULL REFERENCES agents(link),
	rank       INTEGER NOT NULL,
	crawl_time TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agents_rank ON agents(rank);
CREATE INDEX IF NOT EXISTS idx_agents_is_active ON agents(is_active);
CREATE INDEX IF NOT EXISTS idx_rank_history_agent_link ON rank_history(agent_link);
CREATE INDEX IF NOT EXISTS idx_rank_history_crawl_time ON rank_history(crawl_time);
`

// Store defines the catalog persistence operations.
// Consumers should depend on this interface rather than the concrete *DB type.
type Store interface {
	Reconcile(ctx context.Context, batch []models.Record, crawlTime time.Time) (*ReconcileResult, error)
	ActiveAgents(ctx context.Context, limit int) ([]models.Agent, error)
	AllAgents(ctx context.Context, limit int) ([]models.Agent, error)
	GetAgent(ctx context.Context, link string) (*models.Agent, error)
	RankHistory(ctx context.Context, link string) ([]models.RankSample, error)
	Statistics(ctx context.Context) (*models.Statistics, error)
	RankChanges(ctx context.Context, limit int) ([]models.RankChange, error)
	Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)

// DB wraps a sql.DB with catalog-specific operations.
type DB struct {
	conn   *sql.DB
	driver string
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	return OpenDriver(DriverSQLite, path)
}

// OpenDriver opens a database for the given driver. For sqlite dsn is a file
// path; for postgres it is a connection URL.
func OpenDriver(driver, dsn string) (*DB, error) {
	var (
		sqlDriver string
		schema    string
	)
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		sqlDriver = "sqlite3"
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
		schema = sqliteSchemaSQL
	case DriverPostgres:
		sqlDriver = "pgx"
		schema = postgresSchemaSQL
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	conn, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if driver == DriverSQLite {
		if err := initFTS(conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("store: apply fts schema: %w", err)
		}
	}
	return &DB{conn: conn, driver: driver}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Driver returns the driver name the database was opened with.
func (db *DB) Driver() string {
	return db.driver
}

// rebind rewrites ? placeholders to $n for postgres.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// normalizeTime stores every timestamp in UTC at microsecond precision, which
// both drivers round-trip exactly.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
