// Package telemetry samples host CPU and memory utilisation from procfs.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// Sampler is the host telemetry provider. Each method fails independently.
type Sampler interface {
	CPUFraction(ctx context.Context) (float64, error)
	MemoryFraction(ctx context.Context) (float64, error)
	MemoryUsed(ctx context.Context) (uint64, error)
}

// firstSampleWindow is used when no previous CPU reading exists yet.
const firstSampleWindow = 250 * time.Millisecond

type Host struct {
	fs procfs.FS

	mu      sync.Mutex
	prev    procfs.CPUStat
	hasPrev bool
}

var _ Sampler = (*Host)(nil)

func NewHost(procRoot string) (*Host, error) {
	if procRoot == "" {
		procRoot = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, err
	}
	return &Host{fs: fs}, nil
}

// CPUFraction returns busy/total CPU time since the previous call.
func (h *Host) CPUFraction(ctx context.Context) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.hasPrev {
		first, err := h.readCPU()
		if err != nil {
			return 0, err
		}
		h.prev, h.hasPrev = first, true
		t := time.NewTimer(firstSampleWindow)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, ctx.Err()
		case <-t.C:
		}
	}

	cur, err := h.readCPU()
	if err != nil {
		return 0, err
	}
	frac, ok := busyFraction(h.prev, cur)
	h.prev = cur
	if !ok {
		return 0, errors.New("telemetry: no cpu time elapsed between samples")
	}
	return frac, nil
}

func (h *Host) readCPU() (procfs.CPUStat, error) {
	st, err := h.fs.Stat()
	if err != nil {
		return procfs.CPUStat{}, err
	}
	return st.CPUTotal, nil
}

// MemoryFraction returns (total - available) / total.
func (h *Host) MemoryFraction(ctx context.Context) (float64, error) {
	used, total, err := h.memory()
	if err != nil {
		return 0, err
	}
	return float64(used) / float64(total), nil
}

// MemoryUsed returns used memory in bytes, computed as total - available.
func (h *Host) MemoryUsed(ctx context.Context) (uint64, error) {
	used, _, err := h.memory()
	return used, err
}

func (h *Host) memory() (used, total uint64, err error) {
	mi, err := h.fs.Meminfo()
	if err != nil {
		return 0, 0, err
	}
	if mi.MemTotal == nil || mi.MemAvailable == nil || *mi.MemTotal == 0 {
		return 0, 0, errors.New("telemetry: meminfo lacks MemTotal/MemAvailable")
	}
	// meminfo reports kB
	total = *mi.MemTotal * 1024
	avail := *mi.MemAvailable * 1024
	if avail > total {
		avail = total
	}
	return total - avail, total, nil
}

func busyFraction(prev, cur procfs.CPUStat) (float64, bool) {
	idle := (cur.Idle + cur.Iowait) - (prev.Idle + prev.Iowait)
	total := cpuTotal(cur) - cpuTotal(prev)
	if total <= 0 {
		return 0, false
	}
	frac := (total - idle) / total
	switch {
	case frac < 0:
		frac = 0
	case frac > 1:
		frac = 1
	}
	return frac, true
}

func cpuTotal(s procfs.CPUStat) float64 {
	return s.User + s.Nice + s.System + s.Idle + s.Iowait + s.IRQ + s.SoftIRQ + s.Steal
}
