// Package jobqueue runs heavy background work (inference, transcription)
// with bounded concurrency and a host memory admission gate.
package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"remind/internal/observability"
)

// Task is a unit of work. The queue knows nothing about what it does.
type Task func(ctx context.Context) (any, error)

// MemorySampler reports host memory in use, in bytes.
type MemorySampler interface {
	MemoryUsed(ctx context.Context) (uint64, error)
}

type Options struct {
	Name        string
	Concurrency int

	// MemoryThreshold in bytes; 0 disables the gate.
	MemoryThreshold uint64
	PollInterval    time.Duration
	// TaskTimeout bounds each task run; 0 means no queue-imposed deadline.
	TaskTimeout time.Duration
	Sampler     MemorySampler
}

type Queue struct {
	name        string
	concurrency int
	sem         *semaphore.Weighted
	sampler     MemorySampler
	taskTimeout time.Duration

	threshold    atomic.Uint64
	pollInterval atomic.Int64

	running atomic.Int32
	waiting atomic.Int32
}

func New(opts Options) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	q := &Queue{
		name:        opts.Name,
		concurrency: opts.Concurrency,
		sem:         semaphore.NewWeighted(int64(opts.Concurrency)),
		sampler:     opts.Sampler,
		taskTimeout: opts.TaskTimeout,
	}
	q.threshold.Store(opts.MemoryThreshold)
	q.pollInterval.Store(int64(opts.PollInterval))
	return q
}

// SetMemoryGate updates the gate for tasks that have not started yet.
func (q *Queue) SetMemoryGate(threshold uint64, pollInterval time.Duration) {
	q.threshold.Store(threshold)
	if pollInterval > 0 {
		q.pollInterval.Store(int64(pollInterval))
	}
}

// Handle resolves when its task completes, fails, or is abandoned by ctx.
type Handle struct {
	done chan struct{}
	val  any
	err  error
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task resolves or ctx is done. Giving up on the wait
// does not cancel the task; cancel the context passed to Submit for that.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit enqueues task and returns immediately. ctx bounds both the wait for
// admission and the task itself.
func (q *Queue) Submit(ctx context.Context, task Task) *Handle {
	h := &Handle{done: make(chan struct{})}
	q.waiting.Add(1)
	observability.JobsWaiting.WithLabelValues(q.name).Inc()
	go func() {
		defer close(h.done)
		h.val, h.err = q.run(ctx, task)
		result := "ok"
		if h.err != nil {
			result = "error"
		}
		observability.JobResults.WithLabelValues(q.name, result).Inc()
	}()
	return h
}

// Do submits fn and waits for its typed result.
func Do[T any](ctx context.Context, q *Queue, fn func(context.Context) (T, error)) (T, error) {
	h := q.Submit(ctx, func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		return v, err
	})
	v, err := h.Wait(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

func (q *Queue) run(ctx context.Context, task Task) (val any, err error) {
	if err := q.admit(ctx); err != nil {
		q.waiting.Add(-1)
		observability.JobsWaiting.WithLabelValues(q.name).Dec()
		return nil, err
	}
	q.waiting.Add(-1)
	observability.JobsWaiting.WithLabelValues(q.name).Dec()
	q.running.Add(1)
	observability.JobsRunning.WithLabelValues(q.name).Inc()
	defer func() {
		q.running.Add(-1)
		observability.JobsRunning.WithLabelValues(q.name).Dec()
		q.sem.Release(1)
	}()

	if q.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.taskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("jobqueue task panic recovered", "queue", q.name, "panic", r)
			val, err = nil, fmt.Errorf("jobqueue %s: task panic: %v", q.name, r)
		}
	}()
	return task(ctx)
}

// admit acquires a slot and returns holding it only once the memory gate is
// clear. While memory is high the slot is released so waiting on memory never
// occupies concurrency.
func (q *Queue) admit(ctx context.Context) error {
	for {
		if err := q.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		if q.memoryClear(ctx) {
			return nil
		}
		q.sem.Release(1)

		t := time.NewTimer(time.Duration(q.pollInterval.Load()))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (q *Queue) memoryClear(ctx context.Context) bool {
	threshold := q.threshold.Load()
	if threshold == 0 || q.sampler == nil {
		return true
	}
	used, err := q.sampler.MemoryUsed(ctx)
	if err != nil {
		// an unreadable gauge must not wedge the queue
		slog.Error("jobqueue memory check failed, proceeding", "queue", q.name, "err", err)
		return true
	}
	if used < threshold {
		return true
	}
	slog.Debug("jobqueue waiting for memory", "queue", q.name, "used", used, "threshold", threshold)
	return false
}

type Snapshot struct {
	Name            string `json:"name"`
	Concurrency     int    `json:"concurrency"`
	Running         int    `json:"running"`
	Waiting         int    `json:"waiting"`
	MemoryThreshold uint64 `json:"memoryThresholdBytes"`
}

func (q *Queue) Snapshot() Snapshot {
	return Snapshot{
		Name:            q.name,
		Concurrency:     q.concurrency,
		Running:         int(q.running.Load()),
		Waiting:         int(q.waiting.Load()),
		MemoryThreshold: q.threshold.Load(),
	}
}
