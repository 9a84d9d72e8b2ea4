package idempotency

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// NewResponseCache picks the Redis tier when a client is configured and
// falls back to the in-process cache otherwise.
func NewResponseCache(client *redis.Client) ResponseCache {
	if client == nil {
		return NewMemoryCache()
	}
	return NewRedisCache(client)
}

var Module = fx.Module("idempotency",
	fx.Provide(NewResponseCache),
	fx.Provide(NewGuard),
)
