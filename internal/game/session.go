// Package game is the core facade the UI shell talks to. It binds the active
// owner's pet, lives and WOOL ledgers together and applies the gate.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/talgya/wooligotchi/internal/account"
	"github.com/talgya/wooligotchi/internal/chain"
	"github.com/talgya/wooligotchi/internal/entropy"
	"github.com/talgya/wooligotchi/internal/events"
	"github.com/talgya/wooligotchi/internal/gate"
	"github.com/talgya/wooligotchi/internal/lives"
	"github.com/talgya/wooligotchi/internal/metrics"
	"github.com/talgya/wooligotchi/internal/pet"
	"github.com/talgya/wooligotchi/internal/remote"
	"github.com/talgya/wooligotchi/internal/wool"
)

var (
	// ErrNotConnected is returned when an intent needs a wallet and none is connected.
	ErrNotConnected = errors.New("game: no wallet connected")
	// ErrNotPlayable is returned when the gate forbids the simulation.
	ErrNotPlayable = errors.New("game: not playable")
	// ErrUnknownAction is returned for an action name the pet does not know.
	ErrUnknownAction = errors.New("game: unknown action")
	// ErrRejected is returned when the pet refuses an intent, e.g. feeding a dead pet.
	ErrRejected = errors.New("game: action rejected")
)

// LivesSource reports the lifetime lives an authority granted an owner.
type LivesSource interface {
	Lives(ctx context.Context, key account.Key) (remote.LivesView, error)
}

// Deps wires a Session.
type Deps struct {
	// NetworkID picks the save slot while no wallet is connected.
	NetworkID int64
	Pets      pet.Store
	Lives     *lives.Ledger
	Wool      *wool.Collector
	Remote    LivesSource
	Bus       *events.Bus
	Metrics   *metrics.Core
	Entropy   entropy.Source
	Now       func() time.Time
}

// Snapshot is everything the UI shell renders.
type Snapshot struct {
	Phase      gate.Phase `json:"phase"`
	Owner      string     `json:"owner,omitempty"`
	NetworkID  int64      `json:"network_id"`
	Pet        pet.State  `json:"pet"`
	Stage      pet.Stage  `json:"stage"`
	Lives      int        `json:"lives"`
	Pending    bool       `json:"pending_life"`
	Wool       wool.View  `json:"wool"`
	CanCollect bool       `json:"can_collect"`
	Slot       string     `json:"slot"`
	At         time.Time  `json:"at"`
}

// Session owns the active owner and their pet machine.
type Session struct {
	deps Deps

	mu      sync.Mutex
	wallet  chain.Wallet
	key     account.Key
	machine *pet.Machine
	held    *pet.Machine // machine whose clock stopped while the gate was closed

	receipts sync.WaitGroup
}

// NewSession builds a session with no wallet connected.
func NewSession(deps Deps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	if deps.Entropy == nil {
		deps.Entropy = entropy.Crypto{}
	}
	if deps.Lives == nil {
		deps.Lives = lives.NewLedger(nil, lives.WithNotifier(deps.Bus), lives.WithClock(deps.Now))
	}
	if deps.Wool == nil {
		deps.Wool = wool.NewCollector(nil, nil, wool.WithNotifier(deps.Bus), wool.WithClock(deps.Now))
	}
	s := &Session{deps: deps, key: account.Key{NetworkID: deps.NetworkID}}
	s.machine = s.newMachine(s.key.Slot())
	return s
}

// Bus returns the event bus collaborators subscribe to.
func (s *Session) Bus() *events.Bus {
	return s.deps.Bus
}

func (s *Session) newMachine(slot string) *pet.Machine {
	return pet.NewMachine(slot, s.deps.Pets,
		pet.WithEntropy(s.deps.Entropy),
		pet.WithNotifier(s.deps.Bus),
		pet.WithClock(s.deps.Now),
	)
}

// Connect makes w the active owner. Switching owners loads that owner's pet
// slot and clears any WOOL force flag.
func (s *Session) Connect(w chain.Wallet) error {
	if w == nil {
		return ErrNotConnected
	}
	key := account.NewKey(w.NetworkID(), w.Address())
	if key.Empty() {
		return ErrNotConnected
	}

	s.mu.Lock()
	changed := key != s.key
	s.wallet = w
	if changed {
		s.key = key
		s.machine = s.newMachine(key.Slot())
	}
	s.mu.Unlock()

	s.deps.Lives.Connect(key.Address)
	if changed {
		s.deps.Wool.ResetForce()
		slog.Info("owner connected", "owner", key.String(), "slot", key.Slot())
	}
	return nil
}

// Disconnect drops the wallet. The pet of the no-owner slot becomes active.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wallet == nil {
		return
	}
	slog.Info("owner disconnected", "owner", s.key.String())
	s.wallet = nil
	s.key = account.Key{NetworkID: s.deps.NetworkID}
	s.machine = s.newMachine(s.key.Slot())
	s.deps.Wool.ResetForce()
}

func (s *Session) active() (chain.Wallet, account.Key, *pet.Machine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallet, s.key, s.machine
}

func (s *Session) phase(w chain.Wallet, key account.Key) gate.Phase {
	return s.deps.Lives.Phase(key, w != nil)
}

// Phase returns the current gate decision.
func (s *Session) Phase() gate.Phase {
	w, key, _ := s.active()
	return s.phase(w, key)
}

// Snapshot returns the current view at now.
func (s *Session) Snapshot(now time.Time) Snapshot {
	w, key, m := s.active()
	st := m.State()
	count, pending := s.deps.Lives.View(key)
	stage := pet.StageAt(st, now)
	snap := Snapshot{
		Phase:     s.phase(w, key),
		Owner:     key.Address,
		NetworkID: key.NetworkID,
		Pet:       st,
		Stage:     stage,
		Lives:     count,
		Pending:   pending,
		Slot:      m.Slot(),
		At:        now,
	}
	if w != nil {
		snap.Wool = s.deps.Wool.View(key.Address)
		snap.CanCollect = !st.Dead() && s.deps.Wool.Enabled(key.Address, stage == pet.StageAdult) &&
			snap.Wool.RemainingToday > 0 && !snap.Wool.InFlight
	}
	return snap
}

// Tick advances the active pet to now while the gate allows play. Time spent
// with the gate closed is not simulated. A death spends one life.
func (s *Session) Tick(now time.Time) {
	w, key, m := s.active()
	if !s.phase(w, key).Playable() {
		s.mu.Lock()
		s.held = m
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	resume := s.held == m
	s.held = nil
	s.mu.Unlock()
	if resume {
		m.Resume(now)
		slog.Info("pet resumed", "owner", key.String(), "slot", m.Slot())
		return
	}
	prev := m.State()
	next := m.Tick(now)
	s.deps.Metrics.ObserveTick()
	if !prev.Dead() && next.Dead() {
		s.deps.Metrics.ObserveDeath()
		slog.Info("pet died", "owner", key.String(), "slot", m.Slot())
		s.deps.Lives.Consume(key)
	}
}

// ApplyAction runs a user action on the active pet.
func (s *Session) ApplyAction(kind string) (pet.State, error) {
	a, ok := pet.ParseAction(kind)
	if !ok {
		return pet.State{}, fmt.Errorf("%w: %q", ErrUnknownAction, kind)
	}
	w, key, m := s.active()
	if !s.phase(w, key).Playable() {
		s.deps.Metrics.ObserveAction(string(a), false)
		return m.State(), ErrNotPlayable
	}
	st, ok := m.Apply(a)
	s.deps.Metrics.ObserveAction(string(a), ok)
	if !ok {
		return st, ErrRejected
	}
	return st, nil
}

// SetAnimation swaps the active pet's animation key.
func (s *Session) SetAnimation(key string) (pet.State, error) {
	_, _, m := s.active()
	st, ok := m.SetAnimation(pet.Animation(key))
	if !ok {
		return st, ErrRejected
	}
	return st, nil
}

// RequestRevive starts a new life for a dead pet. It needs a life on hand or
// pending; the life itself was spent at death.
func (s *Session) RequestRevive() (pet.State, error) {
	w, key, m := s.active()
	if w == nil {
		return m.State(), ErrNotConnected
	}
	if !s.phase(w, key).Playable() {
		return m.State(), ErrNotPlayable
	}
	if !m.State().Dead() {
		return m.State(), ErrRejected
	}
	st := m.Revive(s.deps.Now())
	slog.Info("pet revived", "owner", key.String())
	return st, nil
}

// RequestCollection runs one WOOL collection for the active owner.
func (s *Session) RequestCollection(ctx context.Context) (wool.View, error) {
	w, key, m := s.active()
	if w == nil {
		return wool.View{}, ErrNotConnected
	}
	st := m.State()
	if st.Dead() {
		return s.deps.Wool.View(key.Address), wool.ErrDisabled
	}
	adult := pet.StageAt(st, s.deps.Now()) == pet.StageAdult
	return s.deps.Wool.Collect(ctx, key, w, adult)
}

// ForceCollection toggles the test-mode WOOL force flag for the active owner.
func (s *Session) ForceCollection(on bool) error {
	w, key, _ := s.active()
	if w == nil {
		return ErrNotConnected
	}
	return s.deps.Wool.Force(key.Address, on)
}

// RequestTransfer announces intent to deposit collateral.
func (s *Session) RequestTransfer() error {
	w, key, _ := s.active()
	if w == nil {
		return ErrNotConnected
	}
	return s.deps.Lives.RequestTransfer(key)
}

// SubmitTransfer sends tokenID to the vault. Once the wallet returns a
// pending id the optimistic life is granted and the receipt is awaited in
// the background.
func (s *Session) SubmitTransfer(ctx context.Context, tokenID *big.Int) (string, error) {
	w, key, _ := s.active()
	if w == nil {
		return "", ErrNotConnected
	}
	txID, err := w.SubmitTransfer(ctx, tokenID)
	if err != nil {
		s.transferStatus(key, "", "failed", err.Error())
		return "", fmt.Errorf("submit transfer: %w", err)
	}
	if _, err := s.deps.Lives.TransferSubmitted(key, txID); err != nil {
		return txID, err
	}
	s.transferStatus(key, txID, "pending", "")

	s.receipts.Add(1)
	go func() {
		defer s.receipts.Done()
		s.awaitReceipt(context.WithoutCancel(ctx), w, key, txID)
	}()
	return txID, nil
}

func (s *Session) awaitReceipt(ctx context.Context, w chain.Wallet, key account.Key, txID string) {
	ok, err := w.WaitForReceipt(ctx, txID)
	if err != nil {
		// The pending marker's TTL revokes the grant if nothing else confirms it.
		slog.Warn("transfer receipt unavailable", "owner", key.String(), "tx", txID, "error", err)
		s.transferStatus(key, txID, "unconfirmed", err.Error())
		return
	}
	s.deps.Lives.TransferConfirmed(key, txID, ok)
	status := "confirmed"
	if !ok {
		status = "failed"
	}
	s.transferStatus(key, txID, status, "")
}

func (s *Session) transferStatus(key account.Key, txID, status, reason string) {
	s.deps.Bus.Notify(events.Event{
		Kind:    events.KindTransferStatus,
		Owner:   key.Address,
		At:      s.deps.Now(),
		Message: status,
		Meta:    map[string]any{"tx": txID, "reason": reason},
	})
}

// Poll reconciles the active owner against the remote authority: lives are
// merged at-least, the WOOL day is refreshed and the ledger bootstrapped,
// and stale optimistic lives expire. Failures are logged and retried on the
// next poll.
func (s *Session) Poll(ctx context.Context, now time.Time) {
	w, key, _ := s.active()
	if w == nil {
		return
	}
	if s.deps.Remote != nil {
		view, err := s.deps.Remote.Lives(ctx, key)
		if err != nil {
			slog.Warn("lives poll failed", "owner", key.String(), "error", err)
		} else {
			s.deps.Lives.RemoteObserved(key, view.Granted)
		}
	}
	s.deps.Wool.RefreshDay(ctx)
	if _, err := s.deps.Wool.Bootstrap(ctx, key.Address); err != nil {
		slog.Warn("wool bootstrap failed", "owner", key.String(), "error", err)
	}
	s.deps.Lives.Expire(key)
}

// Wait blocks until background receipt waits finish or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.receipts.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
