package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ CandidateCache = (*RedisCache)(nil)

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func candidatesKey(contact string) string {
	return "remind:deletion:" + contact
}

func (c *RedisCache) PutCandidates(ctx context.Context, contact string, ids []string) error {
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, candidatesKey(contact), b, c.ttl).Err()
}

func (c *RedisCache) Candidates(ctx context.Context, contact string) ([]string, bool, error) {
	raw, err := c.rdb.Get(ctx, candidatesKey(contact)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false, err
	}
	return ids, true, nil
}

func (c *RedisCache) Evict(ctx context.Context, contact string) error {
	return c.rdb.Del(ctx, candidatesKey(contact)).Err()
}
