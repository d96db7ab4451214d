// internal/reconcile/locker.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld means another instance is already running the job.
var ErrLockHeld = errors.New("lock held by another instance")

// Locker guards a job so that only one instance runs it at a time.
type Locker interface {
	// TryLock returns ErrLockHeld without waiting when the lock is taken.
	TryLock(ctx context.Context, name string) (unlock func(context.Context) error, err error)
}

// NoopLocker always succeeds. It is enough for a single instance.
type NoopLocker struct{}

func (NoopLocker) TryLock(ctx context.Context, name string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// RedisLocker is a redsync mutex per job name.
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

// NewRedisLocker creates a locker whose locks expire after ttl if never released.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rs: redsync.New(goredis.NewPool(client)), expiry: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, name string) (func(context.Context) error, error) {
	mutex := l.rs.NewMutex("lock:"+name, redsync.WithExpiry(l.expiry), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	return func(ctx context.Context) error {
		if ok, err := mutex.UnlockContext(ctx); err != nil || !ok {
			return fmt.Errorf("unlock %s: %w", name, errors.Join(err, redsync.ErrLockAlreadyExpired))
		}
		return nil
	}, nil
}
