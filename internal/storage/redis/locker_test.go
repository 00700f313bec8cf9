package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrelay/backend/internal/lock"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLocker(rdb, "test:"), mr
}

func TestLocker_TryLock(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLocker(t)

	t.Run("获取与释放", func(t *testing.T) {
		unlock, err := l.TryLock(ctx, "email:1", time.Minute)
		require.NoError(t, err)
		assert.True(t, mr.Exists("test:email:1"))

		_, err = l.TryLock(ctx, "email:1", time.Minute)
		assert.ErrorIs(t, err, lock.ErrLocked)

		require.NoError(t, unlock(ctx))
		assert.False(t, mr.Exists("test:email:1"))
	})

	t.Run("过期后旧持有者不会删除新租约", func(t *testing.T) {
		stale, err := l.TryLock(ctx, "email:2", time.Second)
		require.NoError(t, err)

		mr.FastForward(2 * time.Second)

		fresh, err := l.TryLock(ctx, "email:2", time.Minute)
		require.NoError(t, err)

		require.NoError(t, stale(ctx))
		assert.True(t, mr.Exists("test:email:2"))

		require.NoError(t, fresh(ctx))
		assert.False(t, mr.Exists("test:email:2"))
	})

	t.Run("默认TTL", func(t *testing.T) {
		_, err := l.TryLock(ctx, "email:3", 0)
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, mr.TTL("test:email:3"))
	})
}

func TestNew_ConnectsAndCloses(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(Options{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	assert.NoError(t, client.Ping(context.Background()))
	assert.NoError(t, client.Close())

	mr.Close()
	_, err = New(Options{Address: mr.Addr()}, nil)
	assert.Error(t, err)
}
