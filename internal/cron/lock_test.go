package cron

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/catermatch-backend/pkg/redis"
)

func newLockClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.FromClient(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestRedisLockIsExclusive(t *testing.T) {
	client, srv := newLockClient(t)
	ctx := context.Background()

	first, err := NewRedisLock(client, "cron-worker", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(client, "cron-worker", time.Minute)
	require.NoError(t, err)

	t.Setenv("DYNO", "worker.1")
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Minute, srv.TTL("cm:lock:cron-worker"))
	holder, err := srv.Get("cm:lock:cron-worker")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(holder, "worker.1/"), holder)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	// A non-owner release is a no-op.
	require.NoError(t, second.Release(ctx))
	require.True(t, srv.Exists("cm:lock:cron-worker"))

	require.NoError(t, first.Release(ctx))
	require.False(t, srv.Exists("cm:lock:cron-worker"))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisLockDoesNotReleaseTakenOverLock(t *testing.T) {
	client, srv := newLockClient(t)
	ctx := context.Background()

	lock, err := NewRedisLock(client, "cron-worker", time.Minute)
	require.NoError(t, err)
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	srv.FastForward(2 * time.Minute)
	require.NoError(t, srv.Set("cm:lock:cron-worker", "someone-else"))

	require.ErrorIs(t, lock.Release(ctx), ErrLockLost)
	got, err := srv.Get("cm:lock:cron-worker")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "cron", time.Minute)
	require.Error(t, err)
	client, _ := newLockClient(t)
	_, err = NewRedisLock(client, "", time.Minute)
	require.Error(t, err)
}
