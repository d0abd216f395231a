// Package iopool runs blocking persistence work off the simulation loop. Each submission
// returns a Future; completions are handed back to the loop with Then.
package iopool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrClosed resolves work submitted after Close.
var ErrClosed = errors.New("iopool: closed")

type job struct {
	ctx context.Context
	run func(ctx context.Context)
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers       int
	QueueDepth    int
	QueueCapacity int
	Submitted     uint64
	Completed     uint64
	Failed        uint64
	Panics        uint64
}

// Pool is a fixed set of workers draining a bounded queue. Submission blocks while the
// queue is full; nothing is dropped.
type Pool struct {
	logger  *zap.Logger
	workers int
	jobs    chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	once   sync.Once

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	panics    atomic.Uint64
}

func New(workers, queueCapacity int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		logger:  logger,
		workers: workers,
		jobs:    make(chan job, queueCapacity),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				j.run(j.ctx)
			}
		}()
	}
	return p
}

func (p *Pool) enqueue(ctx context.Context, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	p.submitted.Add(1)
	select {
	case p.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit schedules fn on the pool. The work runs with ctx's values but not its
// cancellation: once queued, a write completes even if the submitter stops waiting.
func Submit[T any](p *Pool, ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := NewFuture[T]()
	j := job{
		ctx: context.WithoutCancel(ctx),
		run: func(ctx context.Context) {
			defer func() {
				if r := recover(); r != nil {
					p.panics.Add(1)
					p.failed.Add(1)
					p.logger.Error("io task panicked", zap.Any("panic", r), zap.Stack("stack"))
					var zero T
					f.Resolve(zero, fmt.Errorf("iopool: task panicked: %v", r))
				}
			}()
			v, err := fn(ctx)
			if err != nil {
				p.failed.Add(1)
			}
			p.completed.Add(1)
			f.Resolve(v, err)
		},
	}
	if err := p.enqueue(ctx, j); err != nil {
		var zero T
		f.Resolve(zero, err)
	}
	return f
}

// Do is Submit for work without a result value.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) *Future[struct{}] {
	return Submit(p, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}

// Close stops accepting work, finishes everything already queued and waits for the
// workers. It is safe to call more than once.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
		p.wg.Wait()
	})
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:       p.workers,
		QueueDepth:    len(p.jobs),
		QueueCapacity: cap(p.jobs),
		Submitted:     p.submitted.Load(),
		Completed:     p.completed.Load(),
		Failed:        p.failed.Load(),
		Panics:        p.panics.Load(),
	}
}
