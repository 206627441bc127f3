// Package wool keeps the local, daily-capped WOOL reward ledger and runs the
// signed collection protocol against the remote authority.
package wool

import (
	"time"
)

// DailyCap is the number of collections credited to one owner per UTC day.
const DailyCap = 10

// DayKey renders t as the UTC calendar day key YYYYMMDD.
func DayKey(t time.Time) string {
	return t.UTC().Format("20060102")
}

// Ledger is one owner's local WOOL view.
type Ledger struct {
	Total int            `json:"total"`
	Days  map[string]int `json:"days"`
}

// Today returns the count collected on day.
func (l Ledger) Today(day string) int {
	return l.Days[day]
}

func (l Ledger) clone() Ledger {
	out := Ledger{Total: l.Total, Days: make(map[string]int, len(l.Days))}
	for k, v := range l.Days {
		out.Days[k] = v
	}
	return out
}

// mergeMax folds a remote report into l without ever decreasing a value.
func (l Ledger) mergeMax(day string, dayCount, total int) Ledger {
	out := l.clone()
	if dayCount > DailyCap {
		dayCount = DailyCap
	}
	if day != "" && dayCount > out.Days[day] {
		out.Days[day] = dayCount
	}
	if total > out.Total {
		out.Total = total
	}
	return out
}

// View is the snapshot the UI shell renders.
type View struct {
	Owner          string `json:"owner"`
	Day            string `json:"day"`
	Total          int    `json:"total"`
	CollectedToday int    `json:"collected_today"`
	RemainingToday int    `json:"remaining_today"`
	Cap            int    `json:"cap"`
	Forced         bool   `json:"forced,omitempty"`
	InFlight       bool   `json:"in_flight,omitempty"`
}

func viewOf(owner, day string, l Ledger) View {
	today := l.Today(day)
	remaining := DailyCap - today
	if remaining < 0 {
		remaining = 0
	}
	return View{
		Owner:          owner,
		Day:            day,
		Total:          l.Total,
		CollectedToday: today,
		RemainingToday: remaining,
		Cap:            DailyCap,
	}
}

// Store persists ledgers keyed by owner address.
type Store interface {
	LoadWool(owner string) (Ledger, bool, error)
	SaveWool(owner string, l Ledger) error
}
