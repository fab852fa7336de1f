package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrLockFailed = errors.New("failed to acquire distributed lock")

// DistributedLock is a Redis SetNX lock with TTL. The value identifies the
// holder so Unlock never releases a lock that has expired and been re-taken
// by another caller.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock attempts a single non-blocking acquisition.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	// SET key value NX EX: only succeeds when the key does not exist, and
	// the TTL guarantees the lock is released if the holder crashes.
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock acquires with bounded retries; contention never busy-waits.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock via a Lua script so the holder check and the
// delete are atomic.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}
