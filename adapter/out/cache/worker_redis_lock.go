// Package cache implements Redis-backed outbound adapters.
package cache

import (
	"context"
	"time"

	"jenn_worker/core/port/out"
)

// lockBackend is the slice of pkg/cache.RedisCache the locker needs.
type lockBackend interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// RedisLocker implements out.Locker for sync passes and bridge orders across processes.
type RedisLocker struct {
	backend lockBackend
	prefix  string
}

func NewRedisLocker(backend lockBackend, prefix string) *RedisLocker {
	return &RedisLocker{backend: backend, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	full := l.prefix + key
	token, ok, err := l.backend.TryLock(ctx, full, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, out.ErrLockNotAcquired
	}
	return func(ctx context.Context) error {
		return l.backend.Unlock(ctx, full, token)
	}, nil
}
