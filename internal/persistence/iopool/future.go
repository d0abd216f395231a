package iopool

import (
	"context"
	"errors"
	"sync"
)

// Future is the pending result of background work. It resolves exactly once.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// NewFuture returns an unresolved future; complete it with Resolve.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns an already resolved future.
func Completed[T any](v T, err error) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(v, err)
	return f
}

// Failed returns a future resolved with err.
func Failed[T any](err error) *Future[T] {
	var zero T
	return Completed(zero, err)
}

// Resolve sets the result. Only the first call has an effect; it reports whether this call
// won.
func (f *Future[T]) Resolve(v T, err error) bool {
	won := false
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
		won = true
	})
	return won
}

// Done is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx is done. Abandoning the wait does not
// cancel the work.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the result without blocking; ok is false while unresolved.
func (f *Future[T]) Peek() (v T, err error, ok bool) {
	select {
	case <-f.done:
		return f.val, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// Scheduler runs callbacks on another execution context, typically the simulation loop.
type Scheduler interface {
	Submit(fn func()) error
}

// ErrRejected resolves a continuation the scheduler refused to run.
var ErrRejected = errors.New("iopool: continuation rejected")

// Then runs fn on s with the result of f once f resolves. The returned future resolves
// after fn returns, or with ErrRejected if s refused the callback.
func Then[T any](f *Future[T], s Scheduler, fn func(T, error)) *Future[struct{}] {
	out := NewFuture[struct{}]()
	go func() {
		<-f.done
		err := s.Submit(func() {
			defer out.Resolve(struct{}{}, nil)
			fn(f.val, f.err)
		})
		if err != nil {
			out.Resolve(struct{}{}, errors.Join(ErrRejected, err))
		}
	}()
	return out
}
