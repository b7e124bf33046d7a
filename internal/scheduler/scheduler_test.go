package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_InvalidArgs(t *testing.T) {
	t.Parallel()

	if s, err := New(0, func(context.Context) {}); err == nil || s != nil {
		t.Fatalf("expected error for zero interval, got %v", err)
	}
	if s, err := New(time.Second, nil); err == nil || s != nil {
		t.Fatalf("expected error for nil tickFn, got %v", err)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	var calls atomic.Int64
	s, err := New(10*time.Millisecond, func(context.Context) { calls.Add(1) })
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if !s.Start() {
		t.Fatalf("expected Start() true on first call")
	}
	if s.Start() {
		t.Fatalf("expected Start() false when already running")
	}
	waitForAtLeast(t, &calls, 2, time.Second)

	if !s.Stop() {
		t.Fatalf("expected Stop() true on first call")
	}
	if s.Stop() {
		t.Fatalf("expected Stop() false when already stopped")
	}

	after := calls.Load()
	time.Sleep(40 * time.Millisecond)
	if calls.Load() != after {
		t.Fatalf("ticks continued after Stop()")
	}
}

func TestScheduler_TicksNeverOverlap(t *testing.T) {
	var active, peak, calls atomic.Int64
	s, err := New(5*time.Millisecond, func(context.Context) {
		n := active.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(40 * time.Millisecond)
		active.Add(-1)
		calls.Add(1)
	})
	if err != nil {
		t.Fatal(err)
	}

	s.Start()
	waitForAtLeast(t, &calls, 2, time.Second)
	s.Stop()

	if peak.Load() != 1 {
		t.Fatalf("ticks overlapped, peak=%d", peak.Load())
	}
	if s.Skipped() == 0 {
		t.Fatalf("expected skipped ticks while a slow tick was running")
	}
	if active.Load() != 0 {
		t.Fatalf("Stop returned with a tick still running")
	}
}

func TestScheduler_RecoversPanics(t *testing.T) {
	var calls atomic.Int64
	s, err := New(5*time.Millisecond, func(context.Context) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	waitForAtLeast(t, &calls, 3, time.Second)
}

func TestScheduler_SetInterval(t *testing.T) {
	var calls atomic.Int64
	s, err := New(time.Hour, func(context.Context) { calls.Add(1) })
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	// the immediate tick on Start, then nothing for an hour
	waitForAtLeast(t, &calls, 1, time.Second)
	s.SetInterval(5 * time.Millisecond)
	waitForAtLeast(t, &calls, 3, time.Second)
}

func waitForAtLeast(t *testing.T, v *atomic.Int64, want int64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if v.Load() >= want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d, got %d", want, v.Load())
}
