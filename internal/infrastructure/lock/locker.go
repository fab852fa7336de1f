package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Locker serializes the validate-and-append sequence per transaction.
// Callers for different keys proceed fully in parallel; callers for the same
// key wait for the in-flight holder to release.
type Locker interface {
	// Acquire blocks (with bounded retries) until the key is held, then
	// returns a release function. The release function logs-and-forgets its
	// own failures: by the time it runs, the protected work has committed.
	Acquire(ctx context.Context, key, owner string) (release func(context.Context) error, err error)
}

// SettlementLockKey is the lock key for one transaction's settlement writes.
func SettlementLockKey(transactionID int64) string {
	return fmt.Sprintf("settlement:lock:txn:%d", transactionID)
}

// RedisLocker guards settlement writes across processes using the Redis
// SetNX lock. One cashier terminal per process means the same transaction
// can be settled from several processes at once; Redis is the only shared
// serialization point.
type RedisLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisLocker(client *redis.Client, ttl, retryInterval time.Duration, maxRetries int) *RedisLocker {
	return &RedisLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key, owner string) (func(context.Context) error, error) {
	dl := NewDistributedLock(l.client, key, owner, l.ttl)
	if err := dl.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
		return nil, err
	}
	return dl.Unlock, nil
}

// LocalLocker serializes with per-key in-process mutexes. Suitable for
// single-node deployments and tests; the mutex map only grows, which is fine
// for the bounded key space of live transactions in one process lifetime.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key, _ string) (func(context.Context) error, error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return func(context.Context) error {
		m.Unlock()
		return nil
	}, nil
}
