package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/emitra/internal/cache"
)

const cacheKeyPrefix = "idempotency:"

// ResponseCache is the fast tier of the guard: a TTL-bearing lookaside over
// the durable store. Misses are never an error; the durable store stays
// authoritative.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*CachedResponse, error)
	Set(ctx context.Context, key string, response CachedResponse, ttl time.Duration) error
}

type redisCache struct {
	client *redis.Client
}

// NewRedisCache returns a Redis-backed response cache.
func NewRedisCache(client *redis.Client) ResponseCache {
	return &redisCache{client: client}
}

func (c *redisCache) Get(ctx context.Context, key string) (*CachedResponse, error) {
	payload, err := c.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var cached CachedResponse
	if err := json.Unmarshal(payload, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (c *redisCache) Set(ctx context.Context, key string, response CachedResponse, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKeyPrefix+key, payload, ttl).Err()
}

type memoryCache struct {
	entries cache.Cache[string, CachedResponse]
}

// NewMemoryCache returns an in-process response cache for deployments
// without Redis and for tests.
func NewMemoryCache() ResponseCache {
	return &memoryCache{entries: cache.NewTTLCache[string, CachedResponse]()}
}

func (c *memoryCache) Get(ctx context.Context, key string) (*CachedResponse, error) {
	_ = ctx
	cached, ok := c.entries.Get(key)
	if !ok {
		return nil, nil
	}
	return &cached, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, response CachedResponse, ttl time.Duration) error {
	_ = ctx
	c.entries.Set(key, response, ttl)
	return nil
}
