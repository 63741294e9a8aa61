// Package store keeps probe history in a SQLite database so list-nodes and
// doctor can show when each node last answered.
package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Retention is how long probe rows are kept by Cleanup.
const Retention = 7 * 24 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS probe_results (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    node       TEXT    NOT NULL,
    host       TEXT    NOT NULL,
    port       INTEGER NOT NULL,
    success    INTEGER NOT NULL,
    error      TEXT    NOT NULL DEFAULT '',
    latency_ms INTEGER NOT NULL DEFAULT 0,
    checked_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_probe_results_node_ts
    ON probe_results (node, checked_at);
`

// Probe is one recorded reachability probe.
type Probe struct {
	Node      string
	Host      string
	Port      int
	Success   bool
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection avoids SQLITE_BUSY and keeps :memory: on one database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=2000"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) RecordProbe(ctx context.Context, p Probe) error {
	if s == nil || s.db == nil {
		return errors.New("store is not open")
	}
	at := p.CheckedAt
	if at.IsZero() {
		at = time.Now()
	}
	success := 0
	if p.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO probe_results (node, host, port, success, error, latency_ms, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Node, p.Host, p.Port, success, p.Error, p.Latency.Milliseconds(), at.UTC().UnixMilli())
	return err
}

// LatestByNode returns the most recent probe of every node that has one.
func (s *Store) LatestByNode(ctx context.Context) (map[string]Probe, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not open")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.node, p.host, p.port, p.success, p.error, p.latency_ms, p.checked_at
		FROM probe_results p
		WHERE p.id = (
			SELECT q.id FROM probe_results q
			WHERE q.node = p.node
			ORDER BY q.checked_at DESC, q.id DESC
			LIMIT 1
		)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Probe)
	for rows.Next() {
		var (
			p       Probe
			success int
			latency int64
			at      int64
		)
		if err := rows.Scan(&p.Node, &p.Host, &p.Port, &success, &p.Error, &latency, &at); err != nil {
			return nil, err
		}
		p.Success = success != 0
		p.Latency = time.Duration(latency) * time.Millisecond
		p.CheckedAt = time.UnixMilli(at).UTC()
		out[p.Node] = p
	}
	return out, rows.Err()
}

// Count returns the number of stored probe rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not open")
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM probe_results`).Scan(&n)
	return n, err
}

// Cleanup removes rows older than Retention.
func (s *Store) Cleanup(ctx context.Context) error {
	return s.cleanupBefore(ctx, time.Now().UTC())
}

func (s *Store) cleanupBefore(ctx context.Context, now time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("store is not open")
	}
	cutoff := now.Add(-Retention).UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM probe_results WHERE checked_at < ?`, cutoff)
	return err
}
