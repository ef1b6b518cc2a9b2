package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/catermatch-backend/pkg/instance"
)

const defaultLockTTL = 30 * time.Minute

// ErrLockLost means the lock expired during the cycle and another worker may have taken it.
var ErrLockLost = errors.New("cron lock expired before release")

// Lock coordinates exclusive cron runs across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// lockStore is the slice of pkg/redis.Client the lock needs.
type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	LockKey(name string) string
}

// RedisLock is a single-key lease. The stored token names the holder (instance id plus a random
// suffix) so an operator can see who owns a stuck lock with a plain GET.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
	token string
}

func NewRedisLock(store lockStore, name string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if name == "" {
		return nil, errors.New("lock name is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: store.LockKey(name), ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := instance.ID() + "/" + uuid.NewString()
	won, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if won {
		l.token = token
	}
	return won, nil
}

// Release deletes the lease only if it still carries this holder's token. When the lease has
// already expired it returns ErrLockLost and leaves the key to its new owner.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	deleted, err := l.store.CompareAndDelete(ctx, l.key, token)
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if !deleted {
		return ErrLockLost
	}
	return nil
}
