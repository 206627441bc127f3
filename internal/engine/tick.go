// Package engine provides the wall-clock tick loop that drives the pet
// simulation and the slower remote poll loop.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Engine drives the simulation forward.
type Engine struct {
	Tick         uint64        // Current tick counter (monotonic, never resets)
	Interval     time.Duration // Tick interval (default 1 second)
	PollInterval time.Duration // Remote poll interval (default 30 seconds)

	// OnTick runs on the loop goroutine with the wall time of the tick.
	OnTick func(now time.Time)
	// OnPoll runs on its own goroutine. A poll still running when the next
	// one is due causes that one to be skipped.
	OnPoll func(ctx context.Context, now time.Time)

	Now func() time.Time

	running atomic.Bool
	polling atomic.Bool
	skipped atomic.Uint64
	stopMu  sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewEngine creates an engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval:     time.Second,
		PollInterval: 30 * time.Second,
		Now:          time.Now,
	}
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// SkippedPolls returns how many polls were skipped because one was in flight.
func (e *Engine) SkippedPolls() uint64 {
	return e.skipped.Load()
}

// Run starts the loop. Blocks until Stop is called or ctx is cancelled. An
// initial poll runs immediately.
func (e *Engine) Run(ctx context.Context) {
	if e.Now == nil {
		e.Now = time.Now
	}
	e.stopMu.Lock()
	e.stop = make(chan struct{})
	stop := e.stop
	e.stopMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.running.Store(true)
	slog.Info("tick engine started", "tick", atomic.LoadUint64(&e.Tick), "interval", e.Interval, "poll_interval", e.PollInterval)

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()
	var pollC <-chan time.Time
	if e.OnPoll != nil && e.PollInterval > 0 {
		poll := time.NewTicker(e.PollInterval)
		defer poll.Stop()
		pollC = poll.C
		e.poll(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-stop:
			cancel()
			e.shutdown()
			return
		case <-ticker.C:
			e.step()
		case <-pollC:
			e.poll(ctx)
		}
	}
}

func (e *Engine) shutdown() {
	e.wg.Wait()
	e.running.Store(false)
	slog.Info("tick engine stopped", "tick", atomic.LoadUint64(&e.Tick))
}

// Stop halts the loop.
func (e *Engine) Stop() {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	if e.stop == nil {
		return
	}
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

// step advances the simulation by one tick.
func (e *Engine) step() {
	atomic.AddUint64(&e.Tick, 1)
	if e.OnTick != nil {
		e.OnTick(e.Now())
	}
}

func (e *Engine) poll(ctx context.Context) {
	if !e.polling.CompareAndSwap(false, true) {
		e.skipped.Add(1)
		slog.Debug("poll skipped, previous still running")
		return
	}
	now := e.Now()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.polling.Store(false)
		e.OnPoll(ctx, now)
	}()
}
