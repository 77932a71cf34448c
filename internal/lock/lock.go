// Package lock provides the cross-process run lock that keeps two scheduler
// instances from running the nightly batch at the same time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"rental-manager-backend/internal/logger"
)

// ErrNotAcquired means another holder owns the lock.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out named, expiring locks.
type Locker interface {
	// Acquire takes key for at most ttl. The returned release func is safe to
	// call once the lock has expired.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb redis.UniversalClient
}

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	logger.CacheCall("SetNX", key, "ttl", ttl)
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	logger.CacheResult("SetNX", key, err, "acquired", ok)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	release := func(ctx context.Context) error {
		logger.CacheCall("Release", key)
		_, err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Int64()
		logger.CacheResult("Release", key, err)
		if err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}

// NoopLocker always succeeds; used when no redis address is configured.
type NoopLocker struct{}

func (NoopLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
