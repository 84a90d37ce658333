package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend shares entries across service instances. Keys carry a
// storage expiry so abandoned sessions do not accumulate; freshness is still
// decided by the entry timestamp at read time.
type RedisBackend struct {
	rdb    redis.Cmdable
	expiry time.Duration
}

// NewRedisBackend sets the storage expiry to twice the cache TTL.
func NewRedisBackend(rdb redis.Cmdable, ttl time.Duration) *RedisBackend {
	return &RedisBackend{rdb: rdb, expiry: 2 * ttl}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	return b.rdb.Set(ctx, key, value, b.expiry).Err()
}
