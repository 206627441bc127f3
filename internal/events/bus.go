// Package events carries push-only notifications from the core to the
// rendering, audio and UI collaborators.
package events

import (
	"sync"
	"time"
)

// Kind enumerates the closed set of notifications the core emits.
type Kind string

const (
	KindFed               Kind = "fed"
	KindCatastropheOn     Kind = "catastrophe-on"
	KindCatastropheOff    Kind = "catastrophe-off"
	KindDeath             Kind = "death"
	KindCollectionUpdated Kind = "collection-updated"
	KindLifeSpent         Kind = "life-spent"
	KindLivesUpdated      Kind = "lives-updated"
	KindTransferRequested Kind = "transfer-requested"
	KindTransferStatus    Kind = "transfer-status"
)

// Event is a single notification. Owner is empty for pet-only events.
type Event struct {
	Kind    Kind           `json:"kind"`
	Owner   string         `json:"owner,omitempty"`
	At      time.Time      `json:"at"`
	Message string         `json:"message,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Notifier is the publishing half of the bus.
type Notifier interface {
	Notify(Event)
}

// Bus fans events out to subscribers synchronously, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
	order  []int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Notify delivers e to every subscriber. A nil bus drops events.
func (b *Bus) Notify(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

// Discard is a Notifier that drops everything.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(Event) {}
