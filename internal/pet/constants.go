package pet

import "time"

// Need bounds.
const (
	MinNeed = 0
	MaxNeed = 100
)

// Per-minute decay of the consumable needs.
const (
	HungerDecayPerMin  = 0.5
	HygieneDecayPerMin = 0.3
	FunDecayPerMin     = 0.4
	EnergyDecayPerMin  = 0.25

	WastePenalty      = 1.6 // hygiene decay multiplier while soiled
	SleepEnergyPerMin = 20  // energy gained per minute asleep
)

// Distress thresholds. Any consumable need below its threshold makes
// health fall instead of recover.
const (
	HungerDistress  = 20
	HygieneDistress = 15
	FunDistress     = 15
	EnergyDistress  = 10

	HealthDecayPerMin    = 2
	HealthRecoveryPerMin = 5

	SickThreshold    = 30 // health below this makes the pet sick
	RecoverThreshold = 60 // health above this ends sickness
)

// Waste appears with this chance per elapsed minute.
const WasteChancePerMin = 0.02

// Action bonuses.
const (
	FeedBonus      = 40
	PlayFunBonus   = 35
	PlayEnergyCost = 10
	CleanBonus     = 45
	HealBonus      = 40
)

// ReviveBaseline is the value every need is reset to on revive.
const ReviveBaseline = 60

// Default needs for a brand new pet.
var DefaultNeeds = Needs{Hunger: 80, Hygiene: 80, Fun: 80, Energy: 80, Health: 100}

// Life stage boundaries, measured from BornAt.
const (
	BabyAfter  = 10 * time.Minute
	TeenAfter  = time.Hour
	AdultAfter = 6 * time.Hour
)
