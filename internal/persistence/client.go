package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/talgya/wooligotchi/internal/account"
	"github.com/talgya/wooligotchi/internal/lives"
	"github.com/talgya/wooligotchi/internal/pet"
	"github.com/talgya/wooligotchi/internal/wool"
)

var (
	_ pet.Store   = (*DB)(nil)
	_ lives.Store = (*DB)(nil)
	_ wool.Store  = (*DB)(nil)
)

// LoadPet reads the save for slot.
func (db *DB) LoadPet(slot string) (pet.State, bool, error) {
	var stateJSON string
	err := db.conn.Get(&stateJSON, "SELECT state_json FROM pet_saves WHERE slot = ?", slot)
	if errors.Is(err, sql.ErrNoRows) {
		return pet.State{}, false, nil
	}
	if err != nil {
		return pet.State{}, false, fmt.Errorf("load pet %s: %w", slot, err)
	}
	var s pet.State
	if err := json.Unmarshal([]byte(stateJSON), &s); err != nil {
		return pet.State{}, false, fmt.Errorf("decode pet %s: %w", slot, err)
	}
	return s, true, nil
}

// SavePet overwrites the save for slot.
func (db *DB) SavePet(slot string, s pet.State) error {
	stateJSON, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal pet: %w", err)
	}
	_, err = db.conn.Exec(
		"INSERT OR REPLACE INTO pet_saves (slot, version, state_json, updated_at) VALUES (?, ?, ?, ?)",
		slot, s.Version, string(stateJSON), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save pet %s: %w", slot, err)
	}
	return nil
}

// LoadLives reads the lives record for key.
func (db *DB) LoadLives(key account.Key) (lives.Record, bool, error) {
	var rec lives.Record
	err := db.conn.Get(&rec,
		"SELECT confirmed, optimistic, consumed FROM lives WHERE network_id = ? AND owner = ?",
		key.NetworkID, key.Address,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return lives.Record{}, false, nil
	}
	if err != nil {
		return lives.Record{}, false, fmt.Errorf("load lives %s: %w", key, err)
	}
	return rec, true, nil
}

// SaveLives overwrites the lives record for key.
func (db *DB) SaveLives(key account.Key, r lives.Record) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO lives (network_id, owner, confirmed, optimistic, consumed)
		 VALUES (?, ?, ?, ?, ?)`,
		key.NetworkID, key.Address, r.Confirmed, r.Optimistic, r.Consumed,
	)
	if err != nil {
		return fmt.Errorf("save lives %s: %w", key, err)
	}
	return nil
}

// LoadPending reads the pending-life marker for owner.
func (db *DB) LoadPending(owner string) (time.Time, bool, error) {
	var ms int64
	err := db.conn.Get(&ms, "SELECT created_at FROM pending_lives WHERE owner = ?", owner)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load pending %s: %w", owner, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// SavePending writes the pending-life marker for owner.
func (db *DB) SavePending(owner string, at time.Time) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO pending_lives (owner, created_at) VALUES (?, ?)",
		owner, at.UnixMilli(),
	)
	return err
}

// ClearPending deletes the pending-life marker for owner.
func (db *DB) ClearPending(owner string) error {
	_, err := db.conn.Exec("DELETE FROM pending_lives WHERE owner = ?", owner)
	return err
}

// LoadWool reads the WOOL ledger for owner.
func (db *DB) LoadWool(owner string) (wool.Ledger, bool, error) {
	var row struct {
		Total int    `db:"total"`
		Days  string `db:"days_json"`
	}
	err := db.conn.Get(&row, "SELECT total, days_json FROM wool_ledgers WHERE owner = ?", owner)
	if errors.Is(err, sql.ErrNoRows) {
		return wool.Ledger{}, false, nil
	}
	if err != nil {
		return wool.Ledger{}, false, fmt.Errorf("load wool %s: %w", owner, err)
	}
	l := wool.Ledger{Total: row.Total, Days: make(map[string]int)}
	if err := json.Unmarshal([]byte(row.Days), &l.Days); err != nil {
		return wool.Ledger{}, false, fmt.Errorf("decode wool %s: %w", owner, err)
	}
	return l, true, nil
}

// SaveWool overwrites the WOOL ledger for owner.
func (db *DB) SaveWool(owner string, l wool.Ledger) error {
	days := l.Days
	if days == nil {
		days = map[string]int{}
	}
	daysJSON, err := json.Marshal(days)
	if err != nil {
		return fmt.Errorf("marshal wool days: %w", err)
	}
	_, err = db.conn.Exec(
		"INSERT OR REPLACE INTO wool_ledgers (owner, total, days_json) VALUES (?, ?, ?)",
		owner, l.Total, string(daysJSON),
	)
	if err != nil {
		return fmt.Errorf("save wool %s: %w", owner, err)
	}
	return nil
}
