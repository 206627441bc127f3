package pet

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/talgya/wooligotchi/internal/entropy"
	"github.com/talgya/wooligotchi/internal/events"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	saves  map[string]State
	writes int
}

func newMemStore() *memStore {
	return &memStore{saves: make(map[string]State)}
}

func (m *memStore) LoadPet(slot string) (State, bool, error) {
	s, ok := m.saves[slot]
	return s, ok, nil
}

func (m *memStore) SavePet(slot string, s State) error {
	m.writes++
	m.saves[slot] = s
	return nil
}

type brokenStore struct{}

func (brokenStore) LoadPet(string) (State, bool, error) { return State{}, false, errors.New("disk gone") }
func (brokenStore) SavePet(string, State) error         { return errors.New("quota exceeded") }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func requireBounded(t *testing.T, n Needs) {
	t.Helper()
	for _, v := range []float64{n.Hunger, n.Hygiene, n.Fun, n.Energy, n.Health} {
		require.GreaterOrEqual(t, v, float64(MinNeed))
		require.LessOrEqual(t, v, float64(MaxNeed))
	}
}

func TestTickTenMinutesDefaultRates(t *testing.T) {
	s := NewState(t0)
	got := Tick(s, t0.Add(10*time.Minute), 1)

	require.InDelta(t, 80-10*HungerDecayPerMin, got.Needs.Hunger, 1e-9)
	require.InDelta(t, 80-10*HygieneDecayPerMin, got.Needs.Hygiene, 1e-9)
	require.InDelta(t, 80-10*FunDecayPerMin, got.Needs.Fun, 1e-9)
	require.InDelta(t, 80-10*EnergyDecayPerMin, got.Needs.Energy, 1e-9)
	require.Equal(t, 100.0, got.Needs.Health)
	require.Equal(t, StatusIdle, got.Status)
	require.Equal(t, t0.Add(10*time.Minute), got.LastTick)
}

func TestTickNotAfterLastTickIsNoop(t *testing.T) {
	s := NewState(t0)
	require.Equal(t, s, Tick(s, t0, 0))
	require.Equal(t, s, Tick(s, t0.Add(-time.Hour), 0))
}

func TestHealFromSick(t *testing.T) {
	s := NewState(t0)
	s.Needs.Health = 25
	s.Status = StatusSick

	got, ok := Act(s, ActionHeal)
	require.True(t, ok)
	require.Equal(t, 65.0, got.Needs.Health)
	require.Equal(t, StatusIdle, got.Status)
}

func TestWastePenaltyOnHygiene(t *testing.T) {
	s := NewState(t0)
	s.HasWaste = true
	got := Decay(s, 10)
	require.InDelta(t, 80-10*HygieneDecayPerMin*WastePenalty, got.Needs.Hygiene, 1e-9)
}

func TestSleepingRestoresEnergy(t *testing.T) {
	s := NewState(t0)
	s.Needs.Energy = 10
	s.Status = StatusSleeping
	got := Decay(s, 2)
	require.Equal(t, 50.0, got.Needs.Energy)
	require.Equal(t, StatusSleeping, got.Status)

	got = Decay(s, 60)
	require.Equal(t, 100.0, got.Needs.Energy)
}

func TestDistressDrainsHealthAndSickens(t *testing.T) {
	s := NewState(t0)
	s.Needs = Needs{Hunger: 5, Hygiene: 80, Fun: 80, Energy: 80, Health: 40}
	got := Decay(s, 10)
	require.InDelta(t, 40-10*HealthDecayPerMin, got.Needs.Health, 1e-9)
	require.Equal(t, StatusSick, got.Status)
	require.Equal(t, AnimSick, got.Animation)
}

func TestSicknessHysteresis(t *testing.T) {
	s := NewState(t0)
	s.Status = StatusSick
	s.Needs.Health = 40

	// Recovering but still under the recovery threshold stays sick.
	got := Decay(s, 3)
	require.Equal(t, 55.0, got.Needs.Health)
	require.Equal(t, StatusSick, got.Status)

	got = Decay(got, 1)
	require.Equal(t, 60.0, got.Needs.Health)
	require.Equal(t, StatusSick, got.Status)

	got = Decay(got, 1)
	require.Equal(t, StatusIdle, got.Status)
}

func TestWasteRoll(t *testing.T) {
	s := NewState(t0)
	got := Tick(s, t0.Add(10*time.Minute), 0.1)
	require.True(t, got.HasWaste)
	require.Equal(t, StatusSoiled, got.Status)
	require.Equal(t, AnimPoop, got.Animation)

	got = Tick(s, t0.Add(10*time.Minute), 0.3)
	require.False(t, got.HasWaste)
}

func TestActions(t *testing.T) {
	s := NewState(t0)

	fed, ok := Act(s, ActionFeed)
	require.True(t, ok)
	require.Equal(t, 100.0, fed.Needs.Hunger)
	require.Equal(t, StatusEating, fed.Status)

	played, _ := Act(s, ActionPlay)
	require.Equal(t, 100.0, played.Needs.Fun)
	require.Equal(t, 70.0, played.Needs.Energy)
	require.Equal(t, StatusPlaying, played.Status)

	asleep, _ := Act(s, ActionSleep)
	require.Equal(t, StatusSleeping, asleep.Status)
	awake, _ := Act(asleep, ActionSleep)
	require.Equal(t, StatusIdle, awake.Status)

	dirty := s
	dirty.HasWaste = true
	dirty.Needs.Hygiene = 10
	dirty.Status = StatusSoiled
	clean, _ := Act(dirty, ActionClean)
	require.False(t, clean.HasWaste)
	require.Equal(t, 55.0, clean.Needs.Hygiene)
	require.Equal(t, StatusIdle, clean.Status)

	_, ok = Act(s, Action("dance"))
	require.False(t, ok)
}

func TestDeathIsTerminalUntilRevive(t *testing.T) {
	s := NewState(t0)
	s.Needs = Needs{Hunger: 0, Hygiene: 0, Fun: 0, Energy: 0, Health: 10}

	dead := Tick(s, t0.Add(10*time.Minute), 1)
	require.Equal(t, StatusDead, dead.Status)
	require.Equal(t, AnimDie, dead.Animation)
	require.Equal(t, 0.0, dead.Needs.Health)

	for _, a := range []Action{ActionFeed, ActionPlay, ActionSleep, ActionClean, ActionHeal} {
		after, ok := Act(dead, a)
		require.False(t, ok)
		require.Equal(t, dead, after)
	}
	require.Equal(t, dead, Tick(dead, t0.Add(48*time.Hour), 0))
	_, ok := SetAnimation(dead, AnimIdle)
	require.False(t, ok)

	later := t0.Add(time.Hour)
	revived := Revive(dead, later)
	require.Equal(t, StatusIdle, revived.Status)
	require.Equal(t, Needs{Hunger: 60, Hygiene: 60, Fun: 60, Energy: 60, Health: 60}, revived.Needs)
	require.False(t, revived.HasWaste)
	require.Equal(t, later, revived.LastTick)
	require.Equal(t, later, revived.BornAt)
}

func TestOfflineGapAppliedInOneStep(t *testing.T) {
	s := NewState(t0)
	s.Needs.Hunger = 95
	gap := 3*time.Hour + 17*time.Minute

	direct := Decay(s, gap.Minutes())
	direct.LastTick = t0.Add(gap)

	m := NewMachine("slot", newMemStore(), WithEntropy(entropy.Never), WithClock(fixedClock(t0)))
	m.state = s
	got := m.Tick(t0.Add(gap))
	require.Equal(t, direct, got)

	// Replaying the same wall time must not decay twice.
	require.Equal(t, got, m.Tick(t0.Add(gap)))
}

func TestNeedsStayBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := NewMachine("slot", newMemStore(), WithEntropy(entropy.Fixed(0.5)), WithClock(fixedClock(t0)))
	now := t0
	actions := []Action{ActionFeed, ActionPlay, ActionSleep, ActionClean, ActionHeal}
	for i := 0; i < 2000; i++ {
		if rng.Intn(3) == 0 {
			m.Apply(actions[rng.Intn(len(actions))])
		} else {
			now = now.Add(time.Duration(rng.Intn(240)) * time.Minute)
			m.Tick(now)
		}
		requireBounded(t, m.State().Needs)
		if m.State().Dead() && rng.Intn(4) == 0 {
			m.Revive(now)
		}
	}
}

func TestMachinePersistsAndReloads(t *testing.T) {
	store := newMemStore()
	m := NewMachine("wg-1-0xabc", store, WithEntropy(entropy.Never), WithClock(fixedClock(t0)))
	m.Tick(t0.Add(5 * time.Minute))
	m.Apply(ActionFeed)
	require.Equal(t, 2, store.writes)

	reloaded := NewMachine("wg-1-0xabc", store, WithClock(fixedClock(t0.Add(time.Hour))))
	require.Equal(t, m.State(), reloaded.State())

	other := NewMachine("wg-1-0xdef", store, WithClock(fixedClock(t0)))
	require.Equal(t, NewState(t0), other.State())
}

func TestMachineSurvivesBrokenStore(t *testing.T) {
	m := NewMachine("slot", brokenStore{}, WithEntropy(entropy.Never), WithClock(fixedClock(t0)))
	require.Equal(t, NewState(t0), m.State())

	s, ok := m.Apply(ActionFeed)
	require.True(t, ok)
	require.Equal(t, StatusEating, s.Status)
	require.NotPanics(t, func() { m.Tick(t0.Add(time.Minute)) })
}

func TestMachineEmitsEvents(t *testing.T) {
	bus := events.NewBus()
	var kinds []events.Kind
	bus.Subscribe(func(e events.Event) { kinds = append(kinds, e.Kind) })

	store := newMemStore()
	s := NewState(t0)
	s.Needs = Needs{Hunger: 0, Hygiene: 80, Fun: 80, Energy: 80, Health: 35}
	store.saves["slot"] = s

	m := NewMachine("slot", store, WithEntropy(entropy.Never), WithNotifier(bus), WithClock(fixedClock(t0)))
	m.Apply(ActionFeed)
	m.Apply(ActionPlay)
	m.Tick(t0.Add(3 * time.Minute)) // hunger now fine, health recovers: no transition
	require.Equal(t, []events.Kind{events.KindFed}, kinds)

	m.state.Needs = Needs{Health: 35}
	m.Tick(t0.Add(6 * time.Minute))
	require.Equal(t, []events.Kind{events.KindFed, events.KindCatastropheOn}, kinds)

	m.Tick(t0.Add(30 * time.Minute))
	require.Equal(t, []events.Kind{events.KindFed, events.KindCatastropheOn, events.KindCatastropheOff, events.KindDeath}, kinds)
}

func TestSanitizeRepairsSave(t *testing.T) {
	store := newMemStore()
	store.saves["slot"] = State{Needs: Needs{Hunger: 140, Hygiene: -5, Fun: 50, Energy: 50, Health: 70}}
	m := NewMachine("slot", store, WithClock(fixedClock(t0)))
	s := m.State()
	require.Equal(t, 100.0, s.Needs.Hunger)
	require.Equal(t, 0.0, s.Needs.Hygiene)
	require.Equal(t, StatusIdle, s.Status)
	require.Equal(t, t0, s.LastTick)
	require.Equal(t, SaveVersion, s.Version)
}

func TestStageAt(t *testing.T) {
	s := NewState(t0)
	require.Equal(t, StageEgg, StageAt(s, t0))
	require.Equal(t, StageBaby, StageAt(s, t0.Add(BabyAfter)))
	require.Equal(t, StageTeen, StageAt(s, t0.Add(TeenAfter)))
	require.Equal(t, StageAdult, StageAt(s, t0.Add(AdultAfter)))
}

func TestResumeSkipsLockedGap(t *testing.T) {
	store := newMemStore()
	m := NewMachine("slot", store, WithEntropy(entropy.Never), WithClock(fixedClock(t0)))
	before := m.State()

	later := t0.Add(72 * time.Hour)
	got := m.Resume(later)
	require.Equal(t, before.Needs, got.Needs)
	require.Equal(t, later, got.LastTick)
	require.Equal(t, later, store.saves["slot"].LastTick)

	// An earlier instant never rewinds the clock.
	require.Equal(t, later, m.Resume(t0).LastTick)
}
