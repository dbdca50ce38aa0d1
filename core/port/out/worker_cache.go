package out

import (
	"context"
	"errors"
	"time"
)

// ErrLockNotAcquired is returned when another holder owns the key.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Locker is a distributed advisory lock.
type Locker interface {
	// Acquire takes key for ttl. The returned release is a no-op once the lock expired or
	// was taken by someone else.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}
