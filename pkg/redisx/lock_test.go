package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) Redis {
	t.Helper()
	client, err := NewRedis(RedisConfig{RedisType: "miniredis"})
	require.NoError(t, err)
	return client
}

func TestDistributedLockTryLock(t *testing.T) {
	t.Parallel()
	client := newTestRedis(t)
	ctx := context.Background()

	first := NewDistributedLock(client, "lock:test", time.Minute)
	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	second := NewDistributedLock(client, "lock:test", time.Minute)
	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	held, err := first.IsLockedByMe(ctx)
	require.NoError(t, err)
	require.True(t, held)

	held, err = second.IsLockedByMe(ctx)
	require.NoError(t, err)
	require.False(t, held)
}

func TestDistributedLockUnlockOnlyOwner(t *testing.T) {
	t.Parallel()
	client := newTestRedis(t)
	ctx := context.Background()

	owner := NewDistributedLock(client, "lock:owner", time.Minute)
	ok, err := owner.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	intruder := NewDistributedLock(client, "lock:owner", time.Minute)
	require.Error(t, intruder.Unlock(ctx))

	require.NoError(t, owner.Unlock(ctx))

	// 锁释放后可以被其他实例获取
	ok, err = intruder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDistributedLockRefresh(t *testing.T) {
	t.Parallel()
	client := newTestRedis(t)
	ctx := context.Background()

	lock := NewDistributedLock(client, "lock:refresh", time.Minute)
	ok, err := lock.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, lock.Refresh(ctx))

	other := NewDistributedLock(client, "lock:refresh", time.Minute)
	require.Error(t, other.Refresh(ctx))
}
