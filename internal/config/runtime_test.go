package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseline() Tunables {
	return Tunables{
		Interval:    30 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  2 * time.Hour,
		Concurrency: 5,
		Dynamic: DynamicTunables{
			Min: 1, Max: 10, CPUThreshold: 0.7, MemThreshold: 0.8,
		},
		QueueMemoryThreshold: GiB(4),
		MemoryCheckInterval:  time.Second,
	}
}

func TestValidate(t *testing.T) {
	if err := baseline().Validate(); err != nil {
		t.Fatalf("baseline invalid: %v", err)
	}
	bad := baseline()
	bad.MaxAttempts = 0
	bad.Dynamic.Max = 0
	bad.Dynamic.CPUThreshold = 1.5
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestApplyRejectsInvalid(t *testing.T) {
	r, err := NewRuntime(baseline())
	if err != nil {
		t.Fatal(err)
	}
	bad := baseline()
	bad.Interval = 0
	if err := r.Apply(bad); err == nil {
		t.Fatal("expected error")
	}
	if r.Get() != baseline() {
		t.Fatal("invalid tunables were committed")
	}
}

func TestLoadOverridesKeepsBaselineForMissingKeys(t *testing.T) {
	r, _ := NewRuntime(baseline())
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	writeFile(t, path, "concurrency: 8\nretryDelay: 30m\ndynamic:\n  enabled: true\n")

	if err := r.LoadOverrides(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := r.Get()
	if got.Concurrency != 8 || got.RetryDelay != 30*time.Minute || !got.Dynamic.Enabled {
		t.Fatalf("overrides not applied: %+v", got)
	}
	if got.Interval != 30*time.Second || got.Dynamic.Max != 10 {
		t.Fatalf("baseline lost: %+v", got)
	}

	// a later file is applied over the current value, not over the baseline
	writeFile(t, path, "maxAttempts: 5\n")
	if err := r.LoadOverrides(path); err != nil {
		t.Fatal(err)
	}
	if got := r.Get(); got.Concurrency != 8 || got.MaxAttempts != 5 {
		t.Fatalf("unexpected %+v", got)
	}

	writeFile(t, path, "maxAttempts: 0\n")
	if err := r.LoadOverrides(path); err == nil {
		t.Fatal("expected invalid override to be rejected")
	}
	if r.Get().MaxAttempts != 5 {
		t.Fatal("rejected override was committed")
	}
}

func TestOverridesFileKeepsAdminChanges(t *testing.T) {
	r, _ := NewRuntime(baseline())
	path := filepath.Join(t.TempDir(), "overrides.yaml")

	err := r.Update(func(tun *Tunables) error {
		tun.RetryDelay = 45 * time.Minute
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "concurrency: 7\n")
	if err := r.LoadOverrides(path); err != nil {
		t.Fatal(err)
	}
	got := r.Get()
	if got.RetryDelay != 45*time.Minute || got.Concurrency != 7 {
		t.Fatalf("file save reverted an admin change: %+v", got)
	}
}

func TestUpdateRejectsInvalid(t *testing.T) {
	r, _ := NewRuntime(baseline())
	err := r.Update(func(tun *Tunables) error {
		tun.Dynamic.Min = 0
		return nil
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if r.Get() != baseline() {
		t.Fatal("invalid update committed")
	}
}

func TestSubscribeKeepsLatest(t *testing.T) {
	r, _ := NewRuntime(baseline())
	ch := r.Subscribe(1)

	for _, n := range []int{6, 7, 8} {
		next := baseline()
		next.Concurrency = n
		if err := r.Apply(next); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case got := <-ch:
		if got.Concurrency != 8 {
			t.Fatalf("got concurrency %d, want latest 8", got.Concurrency)
		}
	default:
		t.Fatal("no update delivered")
	}

	// unchanged values are not republished
	_ = r.Apply(r.Get())
	select {
	case got := <-ch:
		t.Fatalf("unexpected publish %+v", got)
	default:
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	r, _ := NewRuntime(baseline())
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	writeFile(t, path, "concurrency: 5\n")
	ch := r.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, path) }()

	// let the watcher register before writing
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "concurrency: 9\n")

	select {
	case got := <-ch:
		if got.Concurrency != 9 {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload not observed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestGiB(t *testing.T) {
	if GiB(0) != 0 || GiB(-1) != 0 {
		t.Fatal("non-positive must disable")
	}
	if GiB(0.5) != 512<<20 {
		t.Fatalf("got %d", GiB(0.5))
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}
