package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/talgya/wooligotchi/internal/account"
	"github.com/talgya/wooligotchi/internal/remote"
)

// Collection is one signed collection the authority is asked to credit.
type Collection struct {
	RequestID string
	Owner     string
	Day       string
	Cap       int
	At        time.Time
}

type collectionRow struct {
	Accepted bool `db:"accepted"`
	Capped   bool `db:"capped"`
	DayCount int  `db:"day_count"`
	Total    int  `db:"total"`
}

// RecordCollection credits c atomically. A request id seen before returns
// the stored outcome marked Replayed and changes nothing.
func (db *DB) RecordCollection(c Collection) (remote.CollectResponse, error) {
	tx, err := db.conn.Beginx()
	if err != nil {
		return remote.CollectResponse{}, err
	}
	defer tx.Rollback()

	var prev collectionRow
	err = tx.Get(&prev,
		"SELECT accepted, capped, day_count, total FROM authority_collections WHERE request_id = ?",
		c.RequestID,
	)
	switch {
	case err == nil:
		return remote.CollectResponse{
			Accepted: prev.Accepted,
			Capped:   prev.Capped,
			DayCount: prev.DayCount,
			Total:    prev.Total,
			Replayed: true,
		}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return remote.CollectResponse{}, fmt.Errorf("lookup request: %w", err)
	}

	dayCount, err := getInt(tx.Get, "SELECT count FROM authority_days WHERE owner = ? AND day = ?", c.Owner, c.Day)
	if err != nil {
		return remote.CollectResponse{}, fmt.Errorf("read day: %w", err)
	}
	total, err := getInt(tx.Get, "SELECT total FROM authority_totals WHERE owner = ?", c.Owner)
	if err != nil {
		return remote.CollectResponse{}, fmt.Errorf("read total: %w", err)
	}

	out := remote.CollectResponse{Accepted: true, DayCount: dayCount, Total: total}
	if dayCount >= c.Cap {
		out.Capped = true
	} else {
		out.DayCount++
		out.Total++
		if _, err := tx.Exec("INSERT OR REPLACE INTO authority_days (owner, day, count) VALUES (?, ?, ?)",
			c.Owner, c.Day, out.DayCount); err != nil {
			return remote.CollectResponse{}, fmt.Errorf("write day: %w", err)
		}
		if _, err := tx.Exec("INSERT OR REPLACE INTO authority_totals (owner, total) VALUES (?, ?)",
			c.Owner, out.Total); err != nil {
			return remote.CollectResponse{}, fmt.Errorf("write total: %w", err)
		}
	}

	_, err = tx.Exec(`INSERT INTO authority_collections
		(request_id, owner, day, accepted, capped, day_count, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RequestID, c.Owner, c.Day, out.Accepted, out.Capped, out.DayCount, out.Total, c.At.UnixMilli(),
	)
	if err != nil {
		return remote.CollectResponse{}, fmt.Errorf("insert collection: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return remote.CollectResponse{}, err
	}
	return out, nil
}

// WoolLedger returns the authority's totals for owner on day.
func (db *DB) WoolLedger(owner, day string) (total, dayCount int, err error) {
	dayCount, err = getInt(db.conn.Get, "SELECT count FROM authority_days WHERE owner = ? AND day = ?", owner, day)
	if err != nil {
		return 0, 0, err
	}
	total, err = getInt(db.conn.Get, "SELECT total FROM authority_totals WHERE owner = ?", owner)
	if err != nil {
		return 0, 0, err
	}
	return total, dayCount, nil
}

// Leaderboard returns the top owners by lifetime WOOL.
func (db *DB) Leaderboard(limit int) ([]remote.LeaderboardRow, error) {
	rows := []remote.LeaderboardRow{}
	err := db.conn.Select(&rows,
		"SELECT owner AS address, total FROM authority_totals ORDER BY total DESC, owner ASC LIMIT ?",
		limit,
	)
	return rows, err
}

// GrantLife records one life for key from a confirmed transfer. A txID seen
// before is not counted again.
func (db *DB) GrantLife(key account.Key, txID string, at time.Time) (granted int, applied bool, err error) {
	res, err := db.conn.Exec(
		"INSERT OR IGNORE INTO authority_grants (tx_id, network_id, owner, created_at) VALUES (?, ?, ?, ?)",
		txID, key.NetworkID, key.Address, at.UnixMilli(),
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	granted, err = db.GrantedLives(key)
	return granted, n > 0, err
}

// GrantedLives counts the lives granted to key.
func (db *DB) GrantedLives(key account.Key) (int, error) {
	return getInt(db.conn.Get,
		"SELECT COUNT(*) FROM authority_grants WHERE network_id = ? AND owner = ?",
		key.NetworkID, key.Address,
	)
}

// getInt runs a single-value query, treating no rows as zero.
func getInt(get func(dest any, query string, args ...any) error, query string, args ...any) (int, error) {
	var n int
	err := get(&n, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}
