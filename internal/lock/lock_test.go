package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_TryLock(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	t.Run("同一个键互斥", func(t *testing.T) {
		unlock, err := l.TryLock(ctx, "email:1", time.Minute)
		require.NoError(t, err)

		_, err = l.TryLock(ctx, "email:1", time.Minute)
		assert.ErrorIs(t, err, ErrLocked)

		other, err := l.TryLock(ctx, "email:2", time.Minute)
		require.NoError(t, err)
		require.NoError(t, other(ctx))

		require.NoError(t, unlock(ctx))
		again, err := l.TryLock(ctx, "email:1", time.Minute)
		require.NoError(t, err)
		require.NoError(t, again(ctx))
		assert.Equal(t, 0, l.Len())
	})

	t.Run("过期后可被接管", func(t *testing.T) {
		now := time.Now()
		l.now = func() time.Time { return now }

		stale, err := l.TryLock(ctx, "email:3", time.Second)
		require.NoError(t, err)

		now = now.Add(2 * time.Second)
		fresh, err := l.TryLock(ctx, "email:3", time.Second)
		require.NoError(t, err)

		// 旧持有者释放不影响新租约
		require.NoError(t, stale(ctx))
		_, err = l.TryLock(ctx, "email:3", time.Second)
		assert.ErrorIs(t, err, ErrLocked)

		require.NoError(t, fresh(ctx))
		l.now = time.Now
	})
}

func TestLocal_Concurrent(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.TryLock(ctx, "email:1", time.Minute); err == nil {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), acquired.Load())
}
