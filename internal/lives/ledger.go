// Package lives reconciles optimistic, locally granted lives with the counts
// reported by the chain and the remote lives authority.
package lives

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/wooligotchi/internal/account"
	"github.com/talgya/wooligotchi/internal/events"
	"github.com/talgya/wooligotchi/internal/gate"
	"github.com/talgya/wooligotchi/internal/metrics"
)

// DefaultPendingTTL bounds how long an unconfirmed transfer keeps its
// optimistic life.
const DefaultPendingTTL = 15 * time.Minute

// ErrNotConnected is returned when an operation needs an owner and none is set.
var ErrNotConnected = errors.New("lives: no wallet connected")

// Record is the per-owner ledger entry. The remaining life count is derived
// from three counters so that optimistic grants can be revoked and remote
// reports merged without ever double counting.
type Record struct {
	Confirmed  int `json:"confirmed" db:"confirmed"`   // lifetime grants confirmed by receipt or remote count
	Optimistic int `json:"optimistic" db:"optimistic"` // grants submitted but not yet confirmed
	Consumed   int `json:"consumed" db:"consumed"`     // lives spent by deaths
}

// Count returns the remaining lives, never negative.
func (r Record) Count() int {
	n := r.Confirmed + r.Optimistic - r.Consumed
	if n < 0 {
		return 0
	}
	return n
}

// Store persists lives records and pending-life markers.
type Store interface {
	LoadLives(key account.Key) (Record, bool, error)
	SaveLives(key account.Key, r Record) error
	LoadPending(owner string) (time.Time, bool, error)
	SavePending(owner string, at time.Time) error
	ClearPending(owner string) error
}

// Ledger is the local cache of lives for every owner seen on this device.
// Store failures are logged; the in-memory view keeps serving the session.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	ttl     time.Duration
	now     func() time.Time
	bus     events.Notifier
	metrics *metrics.Core

	records    map[account.Key]Record
	pending    map[string]time.Time
	pendingHit map[string]bool // owner -> marker state loaded from store
	controlled map[string]bool
	confirmed  map[string]bool // tx ids already applied
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithTTL overrides the pending marker lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithClock sets the clock used for markers and expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithNotifier sets where lives events are published.
func WithNotifier(n events.Notifier) Option {
	return func(l *Ledger) { l.bus = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Core) Option {
	return func(l *Ledger) { l.metrics = m }
}

// NewLedger builds a ledger over store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		ttl:        DefaultPendingTTL,
		now:        time.Now,
		bus:        events.Discard{},
		records:    make(map[account.Key]Record),
		pending:    make(map[string]time.Time),
		pendingHit: make(map[string]bool),
		controlled: make(map[string]bool),
		confirmed:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Connect marks owner as a wallet the user controls in this session.
// Confirmations for owners never connected are ignored.
func (l *Ledger) Connect(owner string) {
	owner = account.NormalizeAddress(owner)
	if owner == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.controlled[owner] = true
}

// Controls reports whether owner was connected in this session.
func (l *Ledger) Controls(owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.controlled[account.NormalizeAddress(owner)]
}

// Record returns the current record for key after applying expiry.
func (l *Ledger) Record(key account.Key) Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expireLocked(key, l.now())
}

// Lives returns the remaining lives for key.
func (l *Ledger) Lives(key account.Key) int {
	return l.Record(key).Count()
}

// View returns the remaining lives and whether an unexpired pending marker
// still backs an unspent optimistic grant for key. A marker whose grant was
// spent by a death no longer counts as pending.
func (l *Ledger) View(key account.Key) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.expireLocked(key, l.now())
	_, pending := l.pendingLocked(key.Address)
	return rec.Count(), pending && rec.Optimistic > 0 && rec.Count() > 0
}

// Phase derives the gate decision for key.
func (l *Ledger) Phase(key account.Key, connected bool) gate.Phase {
	if !connected || key.Empty() {
		return gate.Decide(gate.Input{})
	}
	count, pending := l.View(key)
	return gate.Decide(gate.Input{Connected: true, Lives: count, Pending: pending})
}

// RequestTransfer announces that the user wants to send collateral. The
// ledger is not touched.
func (l *Ledger) RequestTransfer(key account.Key) error {
	if key.Empty() {
		return ErrNotConnected
	}
	l.metrics.ObserveLivesEvent("transfer_requested")
	l.bus.Notify(events.Event{Kind: events.KindTransferRequested, Owner: key.Address, At: l.now()})
	return nil
}

// TransferSubmitted applies the optimistic grant for a transfer the wallet
// accepted but the chain has not confirmed yet.
func (l *Ledger) TransferSubmitted(key account.Key, txID string) (Record, error) {
	if key.Empty() {
		return Record{}, ErrNotConnected
	}
	l.mu.Lock()
	now := l.now()
	l.controlled[key.Address] = true
	rec := l.expireLocked(key, now)
	rec.Optimistic++
	l.setPendingLocked(key.Address, now)
	l.putLocked(key, rec)
	l.mu.Unlock()

	slog.Info("optimistic life granted", "owner", key.String(), "tx", txID, "lives", rec.Count())
	l.metrics.ObserveLivesEvent("submitted")
	l.publish(key, rec, now)
	return rec, nil
}

// TransferConfirmed applies a mined receipt. Confirmations for owners not
// controlled in this session, and repeated deliveries of the same txID, are
// ignored. A failed receipt leaves the optimistic grant to expire with its
// marker.
func (l *Ledger) TransferConfirmed(key account.Key, txID string, success bool) bool {
	l.mu.Lock()
	if key.Empty() || !l.controlled[key.Address] {
		l.mu.Unlock()
		slog.Warn("ignoring confirmation for unknown owner", "owner", key.String(), "tx", txID)
		l.metrics.ObserveLivesEvent("ignored")
		return false
	}
	if txID != "" && l.confirmed[txID] {
		l.mu.Unlock()
		return false
	}
	if !success {
		l.mu.Unlock()
		slog.Warn("transfer failed on chain", "owner", key.String(), "tx", txID)
		l.metrics.ObserveLivesEvent("failed")
		return false
	}
	if txID != "" {
		l.confirmed[txID] = true
	}
	now := l.now()
	rec := l.expireLocked(key, now)
	if rec.Optimistic > 0 {
		rec.Optimistic--
	}
	rec.Confirmed++
	if rec.Optimistic == 0 {
		l.clearPendingLocked(key.Address)
	}
	l.putLocked(key, rec)
	l.mu.Unlock()

	slog.Info("life confirmed", "owner", key.String(), "tx", txID, "lives", rec.Count())
	l.metrics.ObserveLivesEvent("confirmed")
	l.publish(key, rec, now)
	return true
}

// RemoteObserved merges a lifetime grant count reported by the remote
// authority. The merge is at-least: the remaining count never decreases.
func (l *Ledger) RemoteObserved(key account.Key, granted int) bool {
	l.mu.Lock()
	if key.Empty() || !l.controlled[key.Address] {
		l.mu.Unlock()
		return false
	}
	now := l.now()
	rec := l.expireLocked(key, now)
	if granted <= rec.Confirmed {
		l.mu.Unlock()
		return false
	}
	absorbed := granted - rec.Confirmed
	rec.Confirmed = granted
	rec.Optimistic -= absorbed
	if rec.Optimistic < 0 {
		rec.Optimistic = 0
	}
	if rec.Optimistic == 0 {
		l.clearPendingLocked(key.Address)
	}
	l.putLocked(key, rec)
	l.mu.Unlock()

	slog.Info("remote lives merged", "owner", key.String(), "granted", granted, "lives", rec.Count())
	l.metrics.ObserveLivesEvent("remote")
	l.publish(key, rec, now)
	return true
}

// Consume spends one life after a death. It reports false when the owner
// had none left.
func (l *Ledger) Consume(key account.Key) bool {
	if key.Empty() {
		return false
	}
	l.mu.Lock()
	now := l.now()
	rec := l.expireLocked(key, now)
	if rec.Count() <= 0 {
		l.mu.Unlock()
		return false
	}
	rec.Consumed++
	l.putLocked(key, rec)
	l.mu.Unlock()

	slog.Info("life spent", "owner", key.String(), "lives", rec.Count())
	l.metrics.ObserveLivesEvent("consumed")
	l.bus.Notify(events.Event{Kind: events.KindLifeSpent, Owner: key.Address, At: now,
		Meta: map[string]any{"lives": rec.Count()}})
	l.publish(key, rec, now)
	return true
}

// Expire drops the optimistic grant of key if its marker has outlived the TTL.
func (l *Ledger) Expire(key account.Key) Record {
	return l.Record(key)
}

func (l *Ledger) publish(key account.Key, rec Record, at time.Time) {
	l.metrics.SetLives(key.String(), rec.Count())
	l.bus.Notify(events.Event{Kind: events.KindLivesUpdated, Owner: key.Address, At: at,
		Meta: map[string]any{"lives": rec.Count()}})
}

// expireLocked loads the record for key and revokes an optimistic grant
// whose marker expired or vanished. Consumed is never rewritten: a death paid
// with an optimistic life stays charged, so a late confirmation of the same
// transfer settles it instead of granting again.
func (l *Ledger) expireLocked(key account.Key, now time.Time) Record {
	rec := l.recordLocked(key)
	if rec.Optimistic == 0 {
		return rec
	}
	at, ok := l.pendingLocked(key.Address)
	if ok && now.Sub(at) < l.ttl {
		return rec
	}
	slog.Info("optimistic life expired", "owner", key.String(), "dropped", rec.Optimistic)
	rec.Optimistic = 0
	l.clearPendingLocked(key.Address)
	l.putLocked(key, rec)
	l.metrics.ObserveLivesEvent("expired")
	return rec
}

func (l *Ledger) recordLocked(key account.Key) Record {
	if rec, ok := l.records[key]; ok {
		return rec
	}
	var rec Record
	if l.store != nil {
		loaded, ok, err := l.store.LoadLives(key)
		if err != nil {
			slog.Warn("lives load failed", "owner", key.String(), "error", err)
			l.metrics.ObservePersistError("lives")
		} else if ok {
			rec = loaded
		}
	}
	l.records[key] = rec
	return rec
}

func (l *Ledger) putLocked(key account.Key, rec Record) {
	l.records[key] = rec
	if l.store == nil {
		return
	}
	if err := l.store.SaveLives(key, rec); err != nil {
		slog.Warn("lives save failed", "owner", key.String(), "error", err)
		l.metrics.ObservePersistError("lives")
	}
}

// pendingLocked returns the marker for owner, whether or not it expired.
func (l *Ledger) pendingLocked(owner string) (time.Time, bool) {
	if !l.pendingHit[owner] {
		l.pendingHit[owner] = true
		if l.store != nil {
			at, ok, err := l.store.LoadPending(owner)
			if err != nil {
				slog.Warn("pending marker load failed", "owner", owner, "error", err)
				l.metrics.ObservePersistError("pending")
			} else if ok {
				l.pending[owner] = at
			}
		}
	}
	at, ok := l.pending[owner]
	if !ok {
		return time.Time{}, false
	}
	if l.now().Sub(at) >= l.ttl {
		return at, false
	}
	return at, true
}

func (l *Ledger) setPendingLocked(owner string, at time.Time) {
	l.pendingHit[owner] = true
	l.pending[owner] = at
	if l.store == nil {
		return
	}
	if err := l.store.SavePending(owner, at); err != nil {
		slog.Warn("pending marker save failed", "owner", owner, "error", err)
		l.metrics.ObservePersistError("pending")
	}
}

func (l *Ledger) clearPendingLocked(owner string) {
	l.pendingHit[owner] = true
	if _, ok := l.pending[owner]; !ok {
		return
	}
	delete(l.pending, owner)
	if l.store == nil {
		return
	}
	if err := l.store.ClearPending(owner); err != nil {
		slog.Warn("pending marker clear failed", "owner", owner, "error", err)
		l.metrics.ObservePersistError("pending")
	}
}
