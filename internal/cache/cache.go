// Package cache holds short-lived per-contact state, currently the ordered
// schedule ids a contact was shown before deleting one by number.
package cache

import (
	"context"
	"sync"
	"time"
)

// CandidateCache maps a contact to the schedule ids it was last shown.
// Entries expire after the cache TTL and are evicted explicitly on use.
type CandidateCache interface {
	PutCandidates(ctx context.Context, contact string, ids []string) error
	Candidates(ctx context.Context, contact string) (ids []string, ok bool, err error)
	Evict(ctx context.Context, contact string) error
}

type memEntry struct {
	ids     []string
	expires time.Time
}

// MemoryCache is the single-process CandidateCache used when no Redis is configured.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memEntry
}

var _ CandidateCache = (*MemoryCache)(nil)

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, entries: make(map[string]memEntry)}
}

func (c *MemoryCache) PutCandidates(_ context.Context, contact string, ids []string) error {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[contact] = memEntry{ids: append([]string(nil), ids...), expires: now.Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Candidates(_ context.Context, contact string) ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[contact]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, contact)
		return nil, false, nil
	}
	return append([]string(nil), e.ids...), true, nil
}

func (c *MemoryCache) Evict(_ context.Context, contact string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, contact)
	return nil
}
