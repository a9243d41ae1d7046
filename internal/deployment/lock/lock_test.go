package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exclusive(t *testing.T, l Locker) {
	t.Helper()

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(t.Context(), "tenant-a")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLocal(t *testing.T) {
	t.Run("exclusive per key", func(t *testing.T) {
		exclusive(t, NewLocal())
	})

	t.Run("keys are independent", func(t *testing.T) {
		l := NewLocal()
		releaseA, err := l.Lock(t.Context(), "a")
		require.NoError(t, err)
		defer releaseA()

		releaseB, err := l.Lock(t.Context(), "b")
		require.NoError(t, err)
		releaseB()
	})

	t.Run("context ends wait", func(t *testing.T) {
		l := NewLocal()
		release, err := l.Lock(t.Context(), "a")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "a")
		require.ErrorIs(t, err, ErrNotAcquired)

		release()
		release()

		again, err := l.Lock(t.Context(), "a")
		require.NoError(t, err)
		again()

		l.mu.Lock()
		assert.Empty(t, l.slots)
		l.mu.Unlock()
	})
}

func newRedisLock(t *testing.T, opts ...RedisOption) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	opts = append([]RedisOption{WithRetryBackoff(time.Millisecond)}, opts...)
	return NewRedis(client, opts...), mr
}

func TestRedis(t *testing.T) {
	t.Run("exclusive per key", func(t *testing.T) {
		l, _ := newRedisLock(t)
		exclusive(t, l)
	})

	t.Run("sets ttl and releases", func(t *testing.T) {
		l, mr := newRedisLock(t, WithTTL(time.Minute))
		release, err := l.Lock(t.Context(), "tenant-a")
		require.NoError(t, err)

		require.True(t, mr.Exists(keyPrefix+"tenant-a"))
		assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"tenant-a"))

		release()
		assert.False(t, mr.Exists(keyPrefix+"tenant-a"))
	})

	t.Run("does not release a lock taken over after expiry", func(t *testing.T) {
		l, mr := newRedisLock(t, WithTTL(time.Second))
		release, err := l.Lock(t.Context(), "tenant-a")
		require.NoError(t, err)

		mr.FastForward(2 * time.Second)
		require.False(t, mr.Exists(keyPrefix+"tenant-a"))
		require.NoError(t, mr.Set(keyPrefix+"tenant-a", "someone-else"))

		release()
		got, err := mr.Get(keyPrefix + "tenant-a")
		require.NoError(t, err)
		assert.Equal(t, "someone-else", got)
	})

	t.Run("renews lease while held", func(t *testing.T) {
		l, mr := newRedisLock(t, WithTTL(300*time.Millisecond))
		release, err := l.Lock(t.Context(), "tenant-a")
		require.NoError(t, err)

		key := keyPrefix + "tenant-a"
		// Each step leaves at most 50ms of lease until the next renewal; four steps is well past
		// the original TTL.
		for range 4 {
			mr.FastForward(250 * time.Millisecond)
			require.Eventually(t, func() bool {
				return mr.TTL(key) > 200*time.Millisecond
			}, time.Second, 10*time.Millisecond)
		}
		require.True(t, mr.Exists(key))

		release()
		assert.False(t, mr.Exists(key))
	})

	t.Run("stops renewing a lease taken over", func(t *testing.T) {
		l, mr := newRedisLock(t, WithTTL(300*time.Millisecond))
		release, err := l.Lock(t.Context(), "tenant-a")
		require.NoError(t, err)
		defer release()

		key := keyPrefix + "tenant-a"
		require.NoError(t, mr.Set(key, "someone-else"))
		mr.SetTTL(key, 50*time.Millisecond)

		time.Sleep(250 * time.Millisecond)
		assert.Equal(t, 50*time.Millisecond, mr.TTL(key))
	})

	t.Run("context ends wait", func(t *testing.T) {
		l, _ := newRedisLock(t)
		release, err := l.Lock(t.Context(), "tenant-a")
		require.NoError(t, err)
		defer release()

		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "tenant-a")
		require.ErrorIs(t, err, ErrNotAcquired)
	})
}
