package pet

// Clamp bounds a need to [MinNeed, MaxNeed].
func Clamp(v float64) float64 {
	if v < MinNeed {
		return MinNeed
	}
	if v > MaxNeed {
		return MaxNeed
	}
	return v
}

// Decay applies minutes of elapsed time to s in a single step and returns
// the new state. The cost is constant regardless of how long the gap is.
// Dead pets are returned unchanged.
func Decay(s State, minutes float64) State {
	if s.Dead() || minutes <= 0 {
		return s
	}
	m := minutes
	n := s.Needs

	n.Hunger = Clamp(n.Hunger - m*HungerDecayPerMin)
	hygieneRate := HygieneDecayPerMin
	if s.HasWaste {
		hygieneRate *= WastePenalty
	}
	n.Hygiene = Clamp(n.Hygiene - m*hygieneRate)
	n.Fun = Clamp(n.Fun - m*FunDecayPerMin)
	if s.Status == StatusSleeping {
		n.Energy = Clamp(n.Energy + m*SleepEnergyPerMin)
	} else {
		n.Energy = Clamp(n.Energy - m*EnergyDecayPerMin)
	}

	if n.Distressed() {
		n.Health = Clamp(n.Health - m*HealthDecayPerMin)
	} else {
		n.Health = Clamp(n.Health + m*HealthRecoveryPerMin)
	}
	s.Needs = n

	switch {
	case n.Health <= MinNeed:
		s.Status = StatusDead
		s.Animation = AnimDie
	case n.Health < SickThreshold:
		if s.Status != StatusSick {
			s.Status = StatusSick
			s.Animation = AnimSick
		}
	case s.Status == StatusSick && n.Health > RecoverThreshold:
		s.Status = StatusIdle
		s.Animation = AnimIdle
	}
	return s
}
