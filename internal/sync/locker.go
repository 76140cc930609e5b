package sync

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker serializes manifest-activation persistence across service
// instances. It protects only the remote write; local optimistic applies
// never wait on it.
type Locker interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// NopLocker is used when no coordination backend is configured (tests,
// single-instance deployments).
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}

func (NopLocker) Release(context.Context, string, string) error { return nil }

// RedisLocker implements Locker with SET NX and a token-checked release, so
// an expired holder cannot delete a lock someone else now owns.
type RedisLocker struct {
	Client *redis.Client
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

func (l *RedisLocker) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return l.Client.SetNX(ctx, key, token, ttl).Result()
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.Client, []string{key}, token).Err()
}
