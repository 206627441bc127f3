// Package pet implements the needs engine and the pet state machine.
package pet

import "time"

// SaveVersion is bumped whenever the persisted State layout changes.
const SaveVersion = 1

// Status is the mutually exclusive lifecycle status of the pet.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusEating   Status = "eating"
	StatusPlaying  Status = "playing"
	StatusSoiled   Status = "soiled"
	StatusSleeping Status = "sleeping"
	StatusSick     Status = "sick"
	StatusDead     Status = "dead"
)

// Animation keys consumed by the renderer.
type Animation string

const (
	AnimIdle  Animation = "idle"
	AnimEat   Animation = "eat"
	AnimPlay  Animation = "play"
	AnimSleep Animation = "sleep"
	AnimSick  Animation = "sick"
	AnimPoop  Animation = "poop"
	AnimClean Animation = "clean"
	AnimDie   Animation = "die"
)

// Valid reports whether a is a known animation key.
func (a Animation) Valid() bool {
	switch a {
	case AnimIdle, AnimEat, AnimPlay, AnimSleep, AnimSick, AnimPoop, AnimClean, AnimDie:
		return true
	}
	return false
}

// Action is a discrete user action.
type Action string

const (
	ActionFeed  Action = "feed"
	ActionPlay  Action = "play"
	ActionSleep Action = "sleep"
	ActionClean Action = "clean"
	ActionHeal  Action = "heal"
)

// ParseAction maps a wire name to an Action.
func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionFeed, ActionPlay, ActionSleep, ActionClean, ActionHeal:
		return a, true
	}
	return "", false
}

// Needs holds the five bounded scalars. All values range over [0, 100].
type Needs struct {
	Hunger  float64 `json:"hunger"`
	Hygiene float64 `json:"hygiene"`
	Fun     float64 `json:"fun"`
	Energy  float64 `json:"energy"`
	Health  float64 `json:"health"`
}

// Distressed reports whether any consumable need is below its threshold.
func (n Needs) Distressed() bool {
	return n.Hunger < HungerDistress ||
		n.Hygiene < HygieneDistress ||
		n.Fun < FunDistress ||
		n.Energy < EnergyDistress
}

func (n Needs) clamped() Needs {
	return Needs{
		Hunger:  Clamp(n.Hunger),
		Hygiene: Clamp(n.Hygiene),
		Fun:     Clamp(n.Fun),
		Energy:  Clamp(n.Energy),
		Health:  Clamp(n.Health),
	}
}

// State is the full persisted pet save.
type State struct {
	Version   int       `json:"version"`
	Status    Status    `json:"status"`
	Needs     Needs     `json:"needs"`
	HasWaste  bool      `json:"has_waste"`
	LastTick  time.Time `json:"last_tick"`
	BornAt    time.Time `json:"born_at"`
	Animation Animation `json:"animation"`
}

// Dead reports whether the pet is in the terminal status.
func (s State) Dead() bool {
	return s.Status == StatusDead
}

// NewState returns the default state of a pet created at now.
func NewState(now time.Time) State {
	return State{
		Version:   SaveVersion,
		Status:    StatusIdle,
		Needs:     DefaultNeeds,
		LastTick:  now,
		BornAt:    now,
		Animation: AnimIdle,
	}
}

// Stage is the pet's life stage, derived from age.
type Stage string

const (
	StageEgg   Stage = "egg"
	StageBaby  Stage = "baby"
	StageTeen  Stage = "teen"
	StageAdult Stage = "adult"
)

// StageAt derives the life stage of s at now.
func StageAt(s State, now time.Time) Stage {
	age := now.Sub(s.BornAt)
	switch {
	case age >= AdultAfter:
		return StageAdult
	case age >= TeenAfter:
		return StageTeen
	case age >= BabyAfter:
		return StageBaby
	default:
		return StageEgg
	}
}
