// Package concurrency sizes the dispatch fan-out from host load.
package concurrency

import (
	"context"
	"log/slog"
	"sync"

	"remind/internal/telemetry"
)

// Settings are read fresh on every call so hot-reloaded values apply on the next tick.
type Settings struct {
	Enabled      bool
	Static       int
	Min          int
	Max          int
	CPUThreshold float64
	MemThreshold float64
}

// Controller moves its bound by at most one step per call: up only when both
// CPU and memory are below threshold, down when either is above.
type Controller struct {
	sampler telemetry.Sampler

	mu      sync.Mutex
	current int
}

func NewController(sampler telemetry.Sampler, initial int) *Controller {
	if initial < 1 {
		initial = 1
	}
	return &Controller{sampler: sampler, current: initial}
}

func (c *Controller) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Next returns the concurrency bound for this tick. Sampling failures keep
// the previous bound.
func (c *Controller) Next(ctx context.Context, s Settings) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !s.Enabled {
		if s.Static > 0 {
			c.current = s.Static
		}
		return c.current
	}
	if c.sampler == nil {
		return c.current
	}

	cpu, err := c.sampler.CPUFraction(ctx)
	if err != nil {
		slog.Warn("concurrency: cpu sample failed, keeping bound", "err", err, "concurrency", c.current)
		return c.current
	}
	mem, err := c.sampler.MemoryFraction(ctx)
	if err != nil {
		slog.Warn("concurrency: memory sample failed, keeping bound", "err", err, "concurrency", c.current)
		return c.current
	}

	next := c.current
	switch {
	case cpu < s.CPUThreshold && mem < s.MemThreshold:
		next = min(c.current+1, s.Max)
	case cpu > s.CPUThreshold || mem > s.MemThreshold:
		next = max(c.current-1, s.Min)
	}
	// min/max may have been hot-reloaded around the current value
	next = max(min(next, s.Max), s.Min)

	if next != c.current {
		slog.Info("concurrency adjusted",
			"from", c.current,
			"to", next,
			"cpu_pct", cpu*100,
			"mem_pct", mem*100,
		)
		c.current = next
	}
	return c.current
}
