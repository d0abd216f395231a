package iopool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitResolves(t *testing.T) {
	p := New(2, 4, nil)
	defer p.Close()

	f := Submit(p, context.Background(), func(context.Context) (int, error) { return 42, nil })
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	boom := errors.New("boom")
	_, err = p.Do(context.Background(), func(context.Context) error { return boom }).Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPanicBecomesError(t *testing.T) {
	p := New(1, 1, nil)
	defer p.Close()
	_, err := p.Do(context.Background(), func(context.Context) error { panic("disk on fire") }).Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Equal(t, uint64(1), p.Stats().Panics)

	// The worker survives.
	v, err := Submit(p, context.Background(), func(context.Context) (string, error) { return "ok", nil }).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestWorkOutlivesSubmitterCancellation(t *testing.T) {
	p := New(1, 1, nil)
	defer p.Close()

	release := make(chan struct{})
	var ran atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	f := p.Do(ctx, func(ctx context.Context) error {
		<-release
		ran.Store(ctx.Err() == nil)
		return nil
	})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer waitCancel()
	_, err := f.Wait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cancel()
	close(release)
	_, err = f.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestCloseDrainsQueueAndRejectsLateWork(t *testing.T) {
	p := New(1, 16, nil)
	var n atomic.Int32
	var futs []*Future[struct{}]
	for i := 0; i < 10; i++ {
		futs = append(futs, p.Do(context.Background(), func(context.Context) error {
			time.Sleep(time.Millisecond)
			n.Add(1)
			return nil
		}))
	}
	p.Close()
	p.Close()
	assert.Equal(t, int32(10), n.Load())
	for _, f := range futs {
		_, err, ok := f.Peek()
		require.True(t, ok)
		require.NoError(t, err)
	}

	_, err := p.Do(context.Background(), func(context.Context) error { return nil }).Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

type chanScheduler struct {
	mu     sync.Mutex
	tasks  chan func()
	reject bool
}

func (s *chanScheduler) Submit(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return errors.New("stopped")
	}
	s.tasks <- fn
	return nil
}

func TestThenRunsOnScheduler(t *testing.T) {
	s := &chanScheduler{tasks: make(chan func(), 1)}
	f := NewFuture[int]()
	var got int
	after := Then(f, s, func(v int, err error) { got = v })

	f.Resolve(7, nil)
	assert.False(t, f.Resolve(8, nil))

	task := <-s.tasks
	_, _, ok := after.Peek()
	assert.False(t, ok, "continuation has not run yet")
	task()
	_, err := after.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestThenRejected(t *testing.T) {
	s := &chanScheduler{tasks: make(chan func(), 1), reject: true}
	after := Then(Completed(1, nil), s, func(int, error) { t.Fatal("must not run") })
	_, err := after.Wait(context.Background())
	assert.ErrorIs(t, err, ErrRejected)
}
