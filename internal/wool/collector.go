package wool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/wooligotchi/internal/account"
	"github.com/talgya/wooligotchi/internal/chain"
	"github.com/talgya/wooligotchi/internal/events"
	"github.com/talgya/wooligotchi/internal/metrics"
	"github.com/talgya/wooligotchi/internal/remote"
	"github.com/talgya/wooligotchi/internal/signing"
)

// DefaultDebounce is the cooldown after an attempt finishes during which a
// new attempt for the same owner is rejected.
const DefaultDebounce = 150 * time.Millisecond

const clockTimeout = 3 * time.Second

var (
	// ErrDisabled indicates the pet has not reached a collecting stage.
	ErrDisabled = errors.New("wool: collection not enabled")
	// ErrInFlight indicates an attempt for the owner is running or cooling down.
	ErrInFlight = errors.New("wool: collection already in flight")
	// ErrDailyCap indicates the owner already collected DailyCap today.
	ErrDailyCap = errors.New("wool: daily cap reached")
	// ErrSignature indicates the owner could not or would not sign.
	ErrSignature = errors.New("wool: request not signed")
	// ErrRejected indicates the authority refused or could not be reached.
	ErrRejected = errors.New("wool: collection rejected")
	// ErrTestModeOnly guards the force switch.
	ErrTestModeOnly = errors.New("wool: force collection requires test mode")
	// ErrNoOwner indicates an operation was given an empty owner address.
	ErrNoOwner = errors.New("wool: no owner")
)

// Authority is the remote reward authority.
type Authority interface {
	Collect(ctx context.Context, req signing.CollectionRequest) (remote.CollectResponse, error)
	Ledger(ctx context.Context, owner string) (remote.LedgerView, error)
}

// Collector runs collection attempts and keeps every owner's local ledger.
type Collector struct {
	mu        sync.Mutex
	store     Store
	authority Authority
	builder   *signing.Builder
	clock     chain.Clock
	now       func() time.Time
	debounce  time.Duration
	testMode  bool
	bus       events.Notifier
	metrics   *metrics.Core

	ledgers  map[string]Ledger
	inFlight map[string]bool
	cooldown map[string]time.Time
	forced   map[string]bool
	day      string
}

// Option customises a Collector.
type Option func(*Collector)

// WithChainClock resolves day keys from authoritative chain time.
func WithChainClock(c chain.Clock) Option {
	return func(col *Collector) { col.clock = c }
}

// WithClock sets the local clock used for debounce and day fallback.
func WithClock(now func() time.Time) Option {
	return func(col *Collector) { col.now = now }
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(col *Collector) {
		if d >= 0 {
			col.debounce = d
		}
	}
}

// WithTestMode allows the force switch.
func WithTestMode(on bool) Option {
	return func(col *Collector) { col.testMode = on }
}

// WithNotifier sets where collection updates are published.
func WithNotifier(n events.Notifier) Option {
	return func(col *Collector) { col.bus = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Core) Option {
	return func(col *Collector) { col.metrics = m }
}

// WithBuilder replaces the request builder.
func WithBuilder(b *signing.Builder) Option {
	return func(col *Collector) { col.builder = b }
}

// NewCollector builds a collector over store and authority.
func NewCollector(store Store, authority Authority, opts ...Option) *Collector {
	c := &Collector{
		store:     store,
		authority: authority,
		builder:   signing.NewBuilder(),
		now:       time.Now,
		debounce:  DefaultDebounce,
		bus:       events.Discard{},
		ledgers:   make(map[string]Ledger),
		inFlight:  make(map[string]bool),
		cooldown:  make(map[string]time.Time),
		forced:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Force toggles collection for owner regardless of the pet's stage. Only
// available in test mode.
func (c *Collector) Force(owner string, on bool) error {
	if !c.testMode {
		return ErrTestModeOnly
	}
	owner = account.NormalizeAddress(owner)
	if owner == "" {
		return ErrNoOwner
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.forced[owner] = true
	} else {
		delete(c.forced, owner)
	}
	slog.Info("wool force toggled", "owner", owner, "on", on)
	return nil
}

// ResetForce clears every force flag. Called when the active owner changes.
func (c *Collector) ResetForce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.forced)
}

// Enabled reports whether owner may collect given the pet stage signal.
func (c *Collector) Enabled(owner string, adult bool) bool {
	if adult {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.testMode && c.forced[account.NormalizeAddress(owner)]
}

// View returns the ledger snapshot for owner on the current day.
func (c *Collector) View(owner string) View {
	owner = account.NormalizeAddress(owner)
	c.mu.Lock()
	defer c.mu.Unlock()
	day := c.day
	if day == "" {
		day = DayKey(c.now())
	}
	v := viewOf(owner, day, c.ledgerLocked(owner))
	v.Forced = c.testMode && c.forced[owner]
	v.InFlight = c.inFlight[owner]
	return v
}

// RefreshDay resolves the current day key and logs a rollover.
func (c *Collector) RefreshDay(ctx context.Context) string {
	day := c.resolveDay(ctx)
	c.mu.Lock()
	prev := c.day
	c.day = day
	c.mu.Unlock()
	if prev != "" && prev != day {
		slog.Info("wool day rollover", "from", prev, "to", day)
	}
	return day
}

// Bootstrap merges the authority's view of owner into the local ledger.
func (c *Collector) Bootstrap(ctx context.Context, owner string) (View, error) {
	owner = account.NormalizeAddress(owner)
	if owner == "" {
		return View{}, ErrNoOwner
	}
	if c.authority == nil {
		return c.View(owner), nil
	}
	rv, err := c.authority.Ledger(ctx, owner)
	if err != nil {
		return c.View(owner), fmt.Errorf("fetch ledger: %w", err)
	}
	day := c.RefreshDay(ctx)
	remoteDay := rv.DayCount
	if rv.Day != "" && rv.Day != day {
		remoteDay = 0
	}
	c.mu.Lock()
	merged := c.ledgerLocked(owner).mergeMax(day, remoteDay, rv.Total)
	c.putLocked(owner, merged)
	v := viewOf(owner, day, merged)
	c.mu.Unlock()
	c.publish(owner, v, "bootstrap")
	return v, nil
}

// Collect runs one collection attempt. adult is the pet-stage signal that
// enables collection. On any failure after the optimistic increment the
// ledger is restored to exactly its prior value.
func (c *Collector) Collect(ctx context.Context, key account.Key, signer signing.Signer, adult bool) (View, error) {
	owner := key.Address
	if owner == "" {
		return View{}, ErrNoOwner
	}

	c.mu.Lock()
	if !adult && !(c.testMode && c.forced[owner]) {
		c.mu.Unlock()
		c.metrics.ObserveCollection("disabled")
		return c.View(owner), ErrDisabled
	}
	if c.inFlight[owner] || c.now().Before(c.cooldown[owner]) {
		c.mu.Unlock()
		c.metrics.ObserveCollection("debounced")
		return c.View(owner), ErrInFlight
	}
	c.inFlight[owner] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, owner)
		c.cooldown[owner] = c.now().Add(c.debounce)
		c.mu.Unlock()
	}()

	day := c.RefreshDay(ctx)

	c.mu.Lock()
	before := c.ledgerLocked(owner)
	if before.Today(day) >= DailyCap {
		c.mu.Unlock()
		c.metrics.ObserveCollection("capped")
		return viewOf(owner, day, before), ErrDailyCap
	}
	optimistic := before.clone()
	optimistic.Days[day]++
	optimistic.Total++
	c.putLocked(owner, optimistic)
	c.mu.Unlock()
	c.publish(owner, viewOf(owner, day, optimistic), "optimistic")

	req, err := c.builder.Build(ctx, signer, owner, key.NetworkID, day)
	if err != nil {
		v := c.rollback(owner, day)
		slog.Warn("wool collection not signed", "owner", owner, "error", err)
		c.metrics.ObserveCollection("unsigned")
		return v, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	if c.authority == nil {
		v := c.rollback(owner, day)
		c.metrics.ObserveCollection("rolled_back")
		return v, fmt.Errorf("%w: no authority configured", ErrRejected)
	}
	resp, err := c.authority.Collect(ctx, req)
	if err != nil || !resp.Accepted {
		v := c.rollback(owner, day)
		reason := resp.Error
		if err != nil {
			reason = err.Error()
		}
		slog.Warn("wool collection rolled back", "owner", owner, "day", day, "request", req.RequestID, "reason", reason)
		c.metrics.ObserveCollection("rolled_back")
		return v, fmt.Errorf("%w: %s", ErrRejected, reason)
	}

	if resp.Capped {
		c.rollback(owner, day)
		v := c.merge(owner, day, resp)
		slog.Info("wool day capped by authority", "owner", owner, "day", day)
		c.metrics.ObserveCollection("capped")
		return v, ErrDailyCap
	}

	v := c.merge(owner, day, resp)
	slog.Info("wool collected", "owner", owner, "day", day, "today", v.CollectedToday, "total", v.Total)
	c.metrics.ObserveCollection("collected")
	return v, nil
}

func (c *Collector) rollback(owner, day string) View {
	c.mu.Lock()
	l := c.ledgerLocked(owner).clone()
	if l.Days[day] > 0 {
		l.Days[day]--
	}
	if l.Total > 0 {
		l.Total--
	}
	c.putLocked(owner, l)
	v := viewOf(owner, day, l)
	c.mu.Unlock()
	c.publish(owner, v, "rollback")
	return v
}

func (c *Collector) merge(owner, day string, resp remote.CollectResponse) View {
	c.mu.Lock()
	l := c.ledgerLocked(owner).mergeMax(day, resp.DayCount, resp.Total)
	c.putLocked(owner, l)
	v := viewOf(owner, day, l)
	c.mu.Unlock()
	c.publish(owner, v, "confirmed")
	return v
}

func (c *Collector) publish(owner string, v View, reason string) {
	c.bus.Notify(events.Event{
		Kind:    events.KindCollectionUpdated,
		Owner:   owner,
		At:      c.now(),
		Message: reason,
		Meta: map[string]any{
			"total":           v.Total,
			"collected_today": v.CollectedToday,
			"remaining_today": v.RemainingToday,
			"day":             v.Day,
		},
	})
}

// resolveDay prefers chain time and falls back to the local clock.
func (c *Collector) resolveDay(ctx context.Context) string {
	if c.clock != nil {
		cctx, cancel := context.WithTimeout(ctx, clockTimeout)
		defer cancel()
		t, err := c.clock.Now(cctx)
		if err == nil {
			return DayKey(t)
		}
		slog.Warn("chain time unavailable, using local clock", "error", err)
	}
	return DayKey(c.now())
}

func (c *Collector) ledgerLocked(owner string) Ledger {
	if l, ok := c.ledgers[owner]; ok {
		return l
	}
	l := Ledger{Days: make(map[string]int)}
	if c.store != nil {
		loaded, ok, err := c.store.LoadWool(owner)
		if err != nil {
			slog.Warn("wool ledger load failed", "owner", owner, "error", err)
			c.metrics.ObservePersistError("wool")
		} else if ok {
			l = loaded
			if l.Days == nil {
				l.Days = make(map[string]int)
			}
		}
	}
	c.ledgers[owner] = l
	return l
}

func (c *Collector) putLocked(owner string, l Ledger) {
	c.ledgers[owner] = l
	if c.store == nil {
		return
	}
	if err := c.store.SaveWool(owner, l); err != nil {
		slog.Warn("wool ledger save failed", "owner", owner, "error", err)
		c.metrics.ObservePersistError("wool")
	}
}
