package pet

import (
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/wooligotchi/internal/entropy"
	"github.com/talgya/wooligotchi/internal/events"
)

// Store persists pet saves by slot.
type Store interface {
	LoadPet(slot string) (State, bool, error)
	SavePet(slot string, s State) error
}

// Machine owns the live State of one save slot and persists it after every
// mutation. Persistence is best-effort: failures are logged and the
// in-memory state stays authoritative.
type Machine struct {
	mu    sync.Mutex
	slot  string
	state State
	store Store
	rng   entropy.Source
	bus   events.Notifier
	now   func() time.Time
}

// Option customises a Machine.
type Option func(*Machine)

// WithEntropy sets the source for the waste roll.
func WithEntropy(src entropy.Source) Option {
	return func(m *Machine) { m.rng = src }
}

// WithNotifier sets where pet events are published.
func WithNotifier(n events.Notifier) Option {
	return func(m *Machine) { m.bus = n }
}

// WithClock sets the clock used for new saves and revives.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine loads the save for slot, or starts a new pet if none exists.
func NewMachine(slot string, store Store, opts ...Option) *Machine {
	m := &Machine{
		slot:  slot,
		store: store,
		rng:   entropy.Crypto{},
		bus:   events.Discard{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state = m.load()
	return m
}

func (m *Machine) load() State {
	if m.store == nil {
		return NewState(m.now())
	}
	s, ok, err := m.store.LoadPet(m.slot)
	if err != nil {
		slog.Warn("pet save unreadable, starting fresh", "slot", m.slot, "error", err)
		return NewState(m.now())
	}
	if !ok {
		return NewState(m.now())
	}
	return sanitize(s, m.now())
}

// sanitize repairs saves written by older or damaged builds.
func sanitize(s State, now time.Time) State {
	s.Needs = s.Needs.clamped()
	if s.Status == "" {
		s.Status = StatusIdle
	}
	if !s.Animation.Valid() {
		s.Animation = AnimIdle
	}
	if s.LastTick.IsZero() {
		s.LastTick = now
	}
	if s.BornAt.IsZero() {
		s.BornAt = s.LastTick
	}
	if s.Needs.Health <= MinNeed {
		s.Status = StatusDead
		s.Animation = AnimDie
	}
	s.Version = SaveVersion
	return s
}

// Slot returns the save slot the machine is bound to.
func (m *Machine) Slot() string {
	return m.slot
}

// State returns a snapshot of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Tick advances the simulation to now.
func (m *Machine) Tick(now time.Time) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Dead() || !now.After(m.state.LastTick) {
		return m.state
	}
	roll := entropy.FloatFromSource(m.rng)
	m.commit(Tick(m.state, now, roll), now)
	return m.state
}

// Resume re-anchors LastTick to now without simulating the time in between.
// It is used when play was locked rather than the app closed.
func (m *Machine) Resume(now time.Time) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !now.After(m.state.LastTick) {
		return m.state
	}
	next := m.state
	next.LastTick = now
	m.commit(next, now)
	return m.state
}

// Apply runs a user action. Rejected actions leave the state untouched.
func (m *Machine) Apply(a Action) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := Act(m.state, a)
	if !ok {
		return m.state, false
	}
	now := m.now()
	m.commit(next, now)
	if a == ActionFeed {
		m.bus.Notify(events.Event{Kind: events.KindFed, At: now})
	}
	return m.state, true
}

// SetAnimation swaps the animation key.
func (m *Machine) SetAnimation(key Animation) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := SetAnimation(m.state, key)
	if !ok {
		return m.state, false
	}
	m.commit(next, m.now())
	return m.state, true
}

// Revive starts a new life. It is the only way out of the dead status.
func (m *Machine) Revive(now time.Time) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commit(Revive(m.state, now), now)
	return m.state
}

// commit swaps in next, publishes status transitions and persists.
func (m *Machine) commit(next State, at time.Time) {
	prev := m.state
	m.state = next
	m.notifyTransition(prev, next, at)
	m.persist()
}

func (m *Machine) notifyTransition(prev, next State, at time.Time) {
	if prev.Status == next.Status {
		return
	}
	if next.Status == StatusSick {
		m.bus.Notify(events.Event{Kind: events.KindCatastropheOn, At: at})
	}
	if prev.Status == StatusSick {
		m.bus.Notify(events.Event{Kind: events.KindCatastropheOff, At: at})
	}
	if next.Status == StatusDead {
		m.bus.Notify(events.Event{Kind: events.KindDeath, At: at})
	}
}

func (m *Machine) persist() {
	if m.store == nil {
		return
	}
	if err := m.store.SavePet(m.slot, m.state); err != nil {
		slog.Warn("pet save failed", "slot", m.slot, "error", err)
	}
}
