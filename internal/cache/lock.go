package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// RedisLocker hands out named locks shared by every process on one redis server.
type RedisLocker struct {
	client  *redislock.Client
	prefix  string
	ttl     time.Duration
	backoff time.Duration
}

// NewRedisLocker returns a locker whose locks expire after ttl if never released.
func NewRedisLocker(rdb *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{client: redislock.New(rdb), prefix: prefix, ttl: ttl, backoff: 100 * time.Millisecond}
}

// Lock waits for the named lock until ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, name string) (func(), error) {
	lock, err := l.client.Obtain(ctx, l.prefix+"lock:"+name, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.backoff),
	})
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", name, err)
	}
	return func() {
		_ = lock.Release(context.Background())
	}, nil
}
