// Package gate derives which screen the player may see from wallet and
// lives state.
package gate

// Phase is the UI phase.
type Phase string

const (
	PhaseNoWallet Phase = "no-wallet"
	PhaseNoLives  Phase = "no-lives"
	PhasePlayable Phase = "playable"
)

// Input is everything the decision depends on.
type Input struct {
	Connected bool
	Lives     int
	Pending   bool // an unexpired pending-life marker exists for the owner
}

// Decide maps Input to a Phase.
func Decide(in Input) Phase {
	if !in.Connected {
		return PhaseNoWallet
	}
	if in.Lives <= 0 && !in.Pending {
		return PhaseNoLives
	}
	return PhasePlayable
}

// Playable reports whether the simulation may run in phase p.
func (p Phase) Playable() bool {
	return p == PhasePlayable
}
