package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"remind/internal/observability"
)

// Scheduler fires tickFn on an interval. Ticks never overlap: a tick that
// fires while the previous one is still running is skipped.
type Scheduler struct {
	interval time.Duration
	tickFn   func(context.Context)

	running  atomic.Bool
	inFlight atomic.Bool
	skipped  atomic.Int64
	ticks    sync.WaitGroup
	reset    chan time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, tickFn func(context.Context)) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		interval: interval,
		tickFn:   tickFn,
		reset:    make(chan time.Duration, 1),
		done:     make(chan struct{}),
	}, nil
}

// SetInterval changes the tick period; it takes effect from the next tick.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case s.reset <- d:
		return
	default:
	}
	select {
	case <-s.reset:
	default:
	}
	select {
	case s.reset <- d:
	default:
	}
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		interval := s.interval
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		slog.Info("scheduler started", "interval", interval.String())

		s.trigger(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("scheduler stopping")
				return
			case d := <-s.reset:
				if d != interval {
					slog.Info("scheduler interval changed", "from", interval.String(), "to", d.String())
					interval = d
					ticker.Reset(d)
				}
			case <-ticker.C:
				s.trigger(ctx)
			}
		}
	}()

	return true
}

// Stop halts the ticker and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.ticks.Wait()
	s.running.Store(false)

	slog.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// Skipped reports how many ticks were dropped because a tick was still running.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

func (s *Scheduler) trigger(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		observability.CycleSkipped.Inc()
		slog.Warn("scheduler tick skipped, previous tick still running")
		return
	}
	s.ticks.Add(1)
	go func() {
		defer s.ticks.Done()
		defer s.inFlight.Store(false)
		s.safeTick(ctx)
	}()
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler tick panic recovered", "panic", r)
		}
	}()

	start := time.Now()
	s.tickFn(ctx)
	slog.Debug("scheduler tick completed", "duration_ms", time.Since(start).Milliseconds())
}
