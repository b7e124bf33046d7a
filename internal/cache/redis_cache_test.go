package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisCache(rdb, 10*time.Minute)
}

func TestRedisCache_PutAndRead(t *testing.T) {
	t.Parallel()
	mr, c := newRedis(t)
	ctx := context.Background()

	if err := c.PutCandidates(ctx, "15550100000", []string{"sch_a", "sch_b"}); err != nil {
		t.Fatalf("PutCandidates() error: %v", err)
	}

	key := "remind:deletion:15550100000"
	if !mr.Exists(key) {
		t.Fatalf("expected key %q to exist", key)
	}
	if ttl := mr.TTL(key); ttl != 10*time.Minute {
		t.Fatalf("expected 10m TTL, got %v", ttl)
	}

	ids, ok, err := c.Candidates(ctx, "15550100000")
	if err != nil || !ok {
		t.Fatalf("Candidates() ok=%v err=%v", ok, err)
	}
	if len(ids) != 2 || ids[0] != "sch_a" || ids[1] != "sch_b" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestRedisCache_ExpiresAfterTTL(t *testing.T) {
	t.Parallel()
	mr, c := newRedis(t)
	ctx := context.Background()

	_ = c.PutCandidates(ctx, "1", []string{"sch_a"})
	mr.FastForward(11 * time.Minute)

	if _, ok, err := c.Candidates(ctx, "1"); err != nil || ok {
		t.Fatalf("expected expired entry, ok=%v err=%v", ok, err)
	}
}

func TestRedisCache_Evict(t *testing.T) {
	t.Parallel()
	_, c := newRedis(t)
	ctx := context.Background()

	_ = c.PutCandidates(ctx, "1", []string{"sch_a"})
	if err := c.Evict(ctx, "1"); err != nil {
		t.Fatalf("Evict() error: %v", err)
	}
	if _, ok, _ := c.Candidates(ctx, "1"); ok {
		t.Fatal("entry survived eviction")
	}
}

func TestRedisCache_Unreachable(t *testing.T) {
	t.Parallel()
	mr, c := newRedis(t)
	mr.Close()

	if _, _, err := c.Candidates(context.Background(), "1"); err == nil {
		t.Fatal("expected error from closed redis")
	}
}

func TestMemoryCache_TTL(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewMemoryCache(10 * time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.PutCandidates(ctx, "1", []string{"sch_a"})
	if ids, ok, _ := c.Candidates(ctx, "1"); !ok || len(ids) != 1 {
		t.Fatalf("expected entry, got %v %v", ids, ok)
	}

	now = now.Add(10 * time.Minute)
	if _, ok, _ := c.Candidates(ctx, "1"); ok {
		t.Fatal("entry outlived its TTL")
	}
}

func TestMemoryCache_PutSweepsExpired(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewMemoryCache(10 * time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.PutCandidates(ctx, "1", []string{"sch_a"})
	_ = c.PutCandidates(ctx, "2", []string{"sch_b"})
	now = now.Add(11 * time.Minute)
	_ = c.PutCandidates(ctx, "3", []string{"sch_c"})

	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected only the fresh entry to remain, got %d", n)
	}
	if _, ok, _ := c.Candidates(ctx, "3"); !ok {
		t.Fatal("fresh entry missing")
	}
}
