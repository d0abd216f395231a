package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedSerializesPerKey(t *testing.T) {
	k := New()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(context.Background(), k, "alice", time.Second, func(context.Context) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, k.Held(), "entries are dropped once unused")
}

func TestKeyedIndependentKeysAndTimeout(t *testing.T) {
	k := New()
	unlock, err := k.Lock(context.Background(), "alice", time.Second)
	require.NoError(t, err)

	other, err := k.Lock(context.Background(), "bob", time.Second)
	require.NoError(t, err)
	require.NoError(t, other(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "alice", time.Second)
	assert.ErrorIs(t, err, ErrLockAcquire)

	require.NoError(t, unlock(context.Background()))
	require.NoError(t, unlock(context.Background()), "unlock is idempotent")
	assert.Equal(t, 0, k.Held())
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedisLockUnlock(t *testing.T) {
	mr, c := newRedis(t)
	r := NewRedis(c, "sm:lock:")
	ctx := context.Background()

	unlock, err := r.Lock(ctx, "alice", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("sm:lock:alice"))

	short, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
	defer cancel()
	_, err = NewRedis(c, "sm:lock:").Lock(short, "alice", 5*time.Second)
	assert.ErrorIs(t, err, ErrLockAcquire)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("sm:lock:alice"))
}

func TestRedisUnlockDoesNotStealExpiredLock(t *testing.T) {
	mr, c := newRedis(t)
	r := NewRedis(c, "sm:lock:")
	ctx := context.Background()

	unlock1, err := r.Lock(ctx, "alice", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	unlock2, err := r.Lock(ctx, "alice", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock1(ctx))
	assert.True(t, mr.Exists("sm:lock:alice"), "stale holder must not release the new lock")
	require.NoError(t, unlock2(ctx))
	assert.False(t, mr.Exists("sm:lock:alice"))
}

func TestKeyedWithDistributed(t *testing.T) {
	mr, c := newRedis(t)
	k := New(WithDistributed(NewRedis(c, "sm:lock:")))
	ctx := context.Background()
	err := WithLock(ctx, k, "alice", time.Second, func(context.Context) error {
		assert.True(t, mr.Exists("sm:lock:alice"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("sm:lock:alice"))

	mr.SetError("boom")
	_, err = k.Lock(ctx, "alice", time.Second)
	assert.ErrorIs(t, err, ErrLockAcquire)
	mr.SetError("")
	assert.Equal(t, 0, k.Held(), "local lock released when the remote fails")
}
