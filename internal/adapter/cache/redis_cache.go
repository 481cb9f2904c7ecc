package cache

import (
	"context"
	"time"

	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	"github.com/redis/go-redis/v9"
)

const statusKeyPrefix = "order:status:"

// RedisCache is a write-through copy of each order's latest status.
type RedisCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisCache(rdb redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (r *RedisCache) SetStatus(ctx context.Context, orderID string, status string) error {
	return r.rdb.Set(ctx, statusKeyPrefix+orderID, status, r.ttl).Err()
}

// Status returns the cached status, or false when the key is absent.
func (r *RedisCache) Status(ctx context.Context, orderID string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, statusKeyPrefix+orderID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

var _ usecase.OrderCache = (*RedisCache)(nil)
