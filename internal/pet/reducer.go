package pet

import (
	"math"
	"time"
)

// Tick advances s to now. roll is a uniform draw in [0, 1] deciding whether
// waste appeared during the gap. Ticks at or before LastTick, and ticks on a
// dead pet, return s unchanged.
func Tick(s State, now time.Time, roll float64) State {
	if s.Dead() || !now.After(s.LastTick) {
		return s
	}
	minutes := now.Sub(s.LastTick).Minutes()
	s.LastTick = now

	chance := math.Min(1, WasteChancePerMin*minutes)
	if !s.HasWaste && roll < chance {
		s.HasWaste = true
		s.Status = StatusSoiled
		s.Animation = AnimPoop
	}
	return Decay(s, minutes)
}

// Act applies a user action. The second result is false when the action was
// rejected, which only happens for a dead pet or an unknown action.
func Act(s State, a Action) (State, bool) {
	if s.Dead() {
		return s, false
	}
	n := s.Needs
	switch a {
	case ActionFeed:
		n.Hunger = Clamp(n.Hunger + FeedBonus)
		s.Status, s.Animation = StatusEating, AnimEat
	case ActionPlay:
		n.Fun = Clamp(n.Fun + PlayFunBonus)
		n.Energy = Clamp(n.Energy - PlayEnergyCost)
		s.Status, s.Animation = StatusPlaying, AnimPlay
	case ActionSleep:
		if s.Status == StatusSleeping {
			s.Status, s.Animation = StatusIdle, AnimIdle
		} else {
			s.Status, s.Animation = StatusSleeping, AnimSleep
		}
	case ActionClean:
		s.HasWaste = false
		n.Hygiene = Clamp(n.Hygiene + CleanBonus)
		s.Status, s.Animation = StatusIdle, AnimClean
	case ActionHeal:
		n.Health = Clamp(n.Health + HealBonus)
		s.Status, s.Animation = StatusIdle, AnimSick
	default:
		return s, false
	}
	s.Needs = n
	return s, true
}

// SetAnimation swaps the animation key. Unknown keys and dead pets are
// rejected.
func SetAnimation(s State, key Animation) (State, bool) {
	if s.Dead() || !key.Valid() {
		return s, false
	}
	s.Animation = key
	return s, true
}

// Revive starts a new life at the baseline needs.
func Revive(s State, now time.Time) State {
	s.Version = SaveVersion
	s.Status = StatusIdle
	s.Animation = AnimIdle
	s.Needs = Needs{
		Hunger:  ReviveBaseline,
		Hygiene: ReviveBaseline,
		Fun:     ReviveBaseline,
		Energy:  ReviveBaseline,
		Health:  ReviveBaseline,
	}
	s.HasWaste = false
	s.LastTick = now
	s.BornAt = now
	return s
}
