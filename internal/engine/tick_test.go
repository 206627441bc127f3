package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunTicksUntilStop(t *testing.T) {
	e := NewEngine()
	e.Interval = 5 * time.Millisecond
	var ticks atomic.Int64
	e.OnTick = func(time.Time) { ticks.Add(1) }

	done := make(chan struct{})
	go func() {
		e.Run(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
	require.True(t, e.Running())
	e.Stop()
	<-done
	require.False(t, e.Running())
	require.GreaterOrEqual(t, atomic.LoadUint64(&e.Tick), uint64(3))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	e := NewEngine()
	e.Interval = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestSlowPollNeverBlocksTicks(t *testing.T) {
	e := NewEngine()
	e.Interval = 2 * time.Millisecond
	e.PollInterval = 5 * time.Millisecond

	release := make(chan struct{})
	var polls, ticks atomic.Int64
	e.OnPoll = func(ctx context.Context, _ time.Time) {
		polls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
	}
	e.OnTick = func(time.Time) { ticks.Add(1) }

	done := make(chan struct{})
	go func() {
		e.Run(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 20 }, time.Second, time.Millisecond)
	require.Equal(t, int64(1), polls.Load())
	require.Positive(t, e.SkippedPolls())

	close(release)
	require.Eventually(t, func() bool { return polls.Load() >= 2 }, time.Second, time.Millisecond)

	e.Stop()
	<-done
}

func TestStopBeforeRunIsNoop(t *testing.T) {
	require.NotPanics(t, func() { NewEngine().Stop() })
}
