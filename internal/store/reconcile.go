package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/starford/rankwatch/internal/checksum"
	"github.com/starford/rankwatch/internal/models"
)

// ReconcileResult describes what one reconciliation changed.
type ReconcileResult struct {
	CrawlTime time.Time
	// Added holds batch records whose link was unknown before the run.
	Added []models.Record
	// Removed holds agents that were active and are absent from the batch,
	// as persisted after deactivation.
	Removed []models.Agent
	// Reactivated lists known, inactive links that reappeared.
	Reactivated []string
	// Updated counts known links whose content changed.
	Updated int
}

// ReconcileError wraps any failure inside the reconciliation transaction.
// Nothing is committed when it is returned.
type ReconcileError struct {
	Op  string
	Err error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("store: reconcile: %s: %v", e.Op, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }

type knownAgent struct {
	active bool
	hash   string
}

// ContentHash digests the mutable, non-rank fields of r.
func ContentHash(r models.Record) string {
	return checksum.Record(r)
}

// Reconcile applies one crawl batch in a single transaction: agents missing
// from the batch are deactivated, every batch record is upserted as active,
// and one rank sample per record is appended. Rows are never deleted.
// Later duplicates of a link within batch are ignored.
func (db *DB) Reconcile(ctx context.Context, batch []models.Record, crawlTime time.Time) (*ReconcileResult, error) {
	crawlTime = normalizeTime(crawlTime)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, &ReconcileError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	known, err := db.loadKnown(ctx, tx)
	if err != nil {
		return nil, &ReconcileError{Op: "load known", Err: err}
	}

	records := make([]models.Record, 0, len(batch))
	present := make(map[string]struct{}, len(batch))
	for _, r := range batch {
		if _, dup := present[r.Link]; dup {
			continue
		}
		present[r.Link] = struct{}{}
		records = append(records, r)
	}

	res := &ReconcileResult{CrawlTime: crawlTime}

	var removedLinks []string
	for link, k := range known {
		if !k.active {
			continue
		}
		if _, ok := present[link]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, db.rebind(
			`UPDATE agents SET is_active = ?, last_updated = ? WHERE link = ?`), false, crawlTime, link); err != nil {
			return nil, &ReconcileError{Op: "deactivate", Err: err}
		}
		removedLinks = append(removedLinks, link)
	}

	upsert, err := tx.PrepareContext(ctx, db.rebind(`
		INSERT INTO agents (link, name, description, avatar_url, price, author, rank, tags, stats,
			version, last_updated_text, external_links, content_hash, is_active, first_seen, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(link) DO UPDATE SET
			name              = excluded.name,
			description       = excluded.description,
			avatar_url        = excluded.avatar_url,
			price             = excluded.price,
			author            = excluded.author,
			rank              = excluded.rank,
			tags              = excluded.tags,
			stats             = excluded.stats,
			version           = excluded.version,
			last_updated_text = excluded.last_updated_text,
			external_links    = excluded.external_links,
			content_hash      = excluded.content_hash,
			is_active         = excluded.is_active,
			last_updated      = excluded.last_updated
	`))
	if err != nil {
		return nil, &ReconcileError{Op: "prepare upsert", Err: err}
	}
	defer upsert.Close()

	history, err := tx.PrepareContext(ctx, db.rebind(
		`INSERT INTO rank_history (agent_link, rank, crawl_time) VALUES (?, ?, ?)`))
	if err != nil {
		return nil, &ReconcileError{Op: "prepare history", Err: err}
	}
	defer history.Close()

	for _, r := range records {
		hash := ContentHash(r)
		tagsJSON := marshalOr(r.Tags, "[]")
		statsJSON := marshalOr(r.Stats, "{}")
		extJSON := marshalOr(r.ExternalLinks, "[]")

		if _, err := upsert.ExecContext(ctx,
			r.Link, r.Name, r.Description, r.AvatarURL, r.Price, r.Author, r.Rank,
			tagsJSON, statsJSON, r.Version, r.LastUpdatedText, extJSON, hash,
			true, crawlTime, crawlTime); err != nil {
			return nil, &ReconcileError{Op: "upsert " + r.Link, Err: err}
		}
		if _, err := history.ExecContext(ctx, r.Link, r.Rank, crawlTime); err != nil {
			return nil, &ReconcileError{Op: "append history " + r.Link, Err: err}
		}
		if db.driver == DriverSQLite {
			if err := ftsIndex(ctx, tx, r); err != nil {
				return nil, &ReconcileError{Op: "index " + r.Link, Err: err}
			}
		}

		k, existed := known[r.Link]
		if !existed {
			res.Added = append(res.Added, r)
			continue
		}
		if !k.active {
			res.Reactivated = append(res.Reactivated, r.Link)
		}
		if k.hash != hash {
			res.Updated++
		}
	}

	for _, link := range removedLinks {
		a, err := db.getAgent(ctx, tx, link)
		if err != nil {
			return nil, &ReconcileError{Op: "load removed", Err: err}
		}
		res.Removed = append(res.Removed, *a)
	}
	sortAgentsByRank(res.Removed)

	if err := tx.Commit(); err != nil {
		return nil, &ReconcileError{Op: "commit", Err: err}
	}
	return res, nil
}

func (db *DB) loadKnown(ctx context.Context, q queryer) (map[string]knownAgent, error) {
	rows, err := q.QueryContext(ctx, `SELECT link, is_active, content_hash FROM agents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]knownAgent)
	for rows.Next() {
		var (
			link string
			k    knownAgent
		)
		if err := rows.Scan(&link, &k.active, &k.hash); err != nil {
			return nil, err
		}
		out[link] = k
	}
	return out, rows.Err()
}

func marshalOr(v any, empty string) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return empty
	}
	return string(data)
}

func sortAgentsByRank(agents []models.Agent) {
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].Rank != agents[j].Rank {
			return agents[i].Rank < agents[j].Rank
		}
		return agents[i].Link < agents[j].Link
	})
}
