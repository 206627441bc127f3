// Package persistence provides SQLite-backed storage for pet saves, lives,
// WOOL ledgers and the reward authority.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/wooligotchi/internal/events"
)

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer keeps read-modify-write transactions serialised.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pet_saves (
		slot TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		state_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lives (
		network_id INTEGER NOT NULL,
		owner TEXT NOT NULL,
		confirmed INTEGER NOT NULL,
		optimistic INTEGER NOT NULL,
		consumed INTEGER NOT NULL,
		PRIMARY KEY (network_id, owner)
	);

	CREATE TABLE IF NOT EXISTS pending_lives (
		owner TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS wool_ledgers (
		owner TEXT PRIMARY KEY,
		total INTEGER NOT NULL,
		days_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at INTEGER NOT NULL,
		kind TEXT NOT NULL,
		owner TEXT NOT NULL,
		message TEXT NOT NULL,
		meta_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS authority_collections (
		request_id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		day TEXT NOT NULL,
		accepted INTEGER NOT NULL,
		capped INTEGER NOT NULL,
		day_count INTEGER NOT NULL,
		total INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS authority_days (
		owner TEXT NOT NULL,
		day TEXT NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (owner, day)
	);

	CREATE TABLE IF NOT EXISTS authority_totals (
		owner TEXT PRIMARY KEY,
		total INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS authority_grants (
		tx_id TEXT PRIMARY KEY,
		network_id INTEGER NOT NULL,
		owner TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
	CREATE INDEX IF NOT EXISTS idx_authority_totals_total ON authority_totals(total);
	CREATE INDEX IF NOT EXISTS idx_authority_grants_owner ON authority_grants(network_id, owner);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. Missing keys return "" and no error.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

type eventRow struct {
	At      int64  `db:"at"`
	Kind    string `db:"kind"`
	Owner   string `db:"owner"`
	Message string `db:"message"`
	Meta    string `db:"meta_json"`
}

// SaveEvent appends a bus event to the history log.
func (db *DB) SaveEvent(e events.Event) error {
	metaJSON, err := json.Marshal(e.Meta)
	if err != nil {
		return fmt.Errorf("marshal event meta: %w", err)
	}
	_, err = db.conn.Exec(
		"INSERT INTO events (at, kind, owner, message, meta_json) VALUES (?, ?, ?, ?, ?)",
		e.At.UnixMilli(), string(e.Kind), e.Owner, e.Message, string(metaJSON),
	)
	return err
}

// RecordEvents subscribes to bus and appends every event to the history log.
// The returned function unsubscribes.
func (db *DB) RecordEvents(bus *events.Bus) func() {
	return bus.Subscribe(func(e events.Event) {
		if err := db.SaveEvent(e); err != nil {
			slog.Warn("event log write failed", "kind", e.Kind, "error", err)
		}
	})
}

// RecentEvents returns the most recent N events, newest first.
func (db *DB) RecentEvents(limit int) ([]events.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows,
		"SELECT at, kind, owner, message, meta_json FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	out := make([]events.Event, 0, len(rows))
	for _, r := range rows {
		e := events.Event{
			Kind:    events.Kind(r.Kind),
			Owner:   r.Owner,
			At:      time.UnixMilli(r.At).UTC(),
			Message: r.Message,
		}
		if r.Meta != "" && r.Meta != "null" {
			if err := json.Unmarshal([]byte(r.Meta), &e.Meta); err != nil {
				return nil, fmt.Errorf("decode event meta: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}
