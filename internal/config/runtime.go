package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Tunables is the hot-reloadable subset of the scheduler configuration.
type Tunables struct {
	Interval    time.Duration   `yaml:"interval" json:"interval"`
	MaxAttempts int             `yaml:"maxAttempts" json:"maxAttempts"`
	RetryDelay  time.Duration   `yaml:"retryDelay" json:"retryDelay"`
	Concurrency int             `yaml:"concurrency" json:"concurrency"`
	Dynamic     DynamicTunables `yaml:"dynamic" json:"dynamic"`

	// QueueMemoryThreshold is in bytes; 0 disables the job-queue memory gate.
	QueueMemoryThreshold uint64        `yaml:"queueMemoryThresholdBytes" json:"queueMemoryThresholdBytes"`
	MemoryCheckInterval  time.Duration `yaml:"memoryCheckInterval" json:"memoryCheckInterval"`
}

type DynamicTunables struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Min          int     `yaml:"min" json:"min"`
	Max          int     `yaml:"max" json:"max"`
	CPUThreshold float64 `yaml:"cpuThreshold" json:"cpuThreshold"`
	MemThreshold float64 `yaml:"memThreshold" json:"memThreshold"`
}

func (t Tunables) Validate() error {
	var errs []error
	if t.Interval <= 0 {
		errs = append(errs, errors.New("interval must be > 0"))
	}
	if t.MaxAttempts < 1 {
		errs = append(errs, errors.New("maxAttempts must be >= 1"))
	}
	if t.RetryDelay <= 0 {
		errs = append(errs, errors.New("retryDelay must be > 0"))
	}
	if t.Concurrency < 1 {
		errs = append(errs, errors.New("concurrency must be >= 1"))
	}
	if t.Dynamic.Min < 1 {
		errs = append(errs, errors.New("dynamic.min must be >= 1"))
	}
	if t.Dynamic.Max < t.Dynamic.Min {
		errs = append(errs, fmt.Errorf("dynamic.max (%d) must be >= dynamic.min (%d)", t.Dynamic.Max, t.Dynamic.Min))
	}
	if t.Dynamic.CPUThreshold <= 0 || t.Dynamic.CPUThreshold > 1 {
		errs = append(errs, errors.New("dynamic.cpuThreshold must be in (0,1]"))
	}
	if t.Dynamic.MemThreshold <= 0 || t.Dynamic.MemThreshold > 1 {
		errs = append(errs, errors.New("dynamic.memThreshold must be in (0,1]"))
	}
	if t.MemoryCheckInterval <= 0 {
		errs = append(errs, errors.New("memoryCheckInterval must be > 0"))
	}
	return errors.Join(errs...)
}

// Runtime holds the effective tunables. Changes from the overrides file and
// the admin API are both applied over the current value, so neither reverts
// keys the other set.
type Runtime struct {
	// writeMu serialises read-modify-write updates
	writeMu sync.Mutex

	mu  sync.RWMutex
	cur Tunables

	subsMu sync.Mutex
	subs   []chan Tunables
}

func NewRuntime(base Tunables) (*Runtime, error) {
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return &Runtime{cur: base}, nil
}

func (r *Runtime) Get() Tunables {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur
}

// Apply validates and commits t, then publishes it to subscribers when it differs.
func (r *Runtime) Apply(t Tunables) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.commit(t)
}

// Update runs fn on a copy of the current tunables and commits the result.
// Nothing is committed when fn or validation fails.
func (r *Runtime) Update(fn func(t *Tunables) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	t := r.Get()
	if err := fn(&t); err != nil {
		return err
	}
	return r.commit(t)
}

func (r *Runtime) commit(t Tunables) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	changed := r.cur != t
	r.cur = t
	r.mu.Unlock()
	if changed {
		r.publish(t)
	}
	return nil
}

// LoadOverrides re-reads path and applies it over the current tunables.
// Keys missing from the file keep their current value.
func (r *Runtime) LoadOverrides(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return r.Update(func(t *Tunables) error {
		if err := yaml.Unmarshal(b, t); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("invalid overrides in %s: %w", path, err)
		}
		return nil
	})
}

// Subscribe returns a channel receiving every committed change. Slow
// subscribers only ever see the latest value.
func (r *Runtime) Subscribe(buffer int) <-chan Tunables {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Tunables, buffer)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()
	return ch
}

func (r *Runtime) publish(t Tunables) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- t:
			continue
		default:
		}
		// drop the oldest pending value, then deliver the newest
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- t:
		default:
			slog.Debug("tunables update dropped (subscriber slow)")
		}
	}
}
