// Package loop is the single-threaded simulation loop. Everything that touches live objects
// runs here: queued tasks, per-tick hooks and periodic jobs, one at a time.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrStopped is returned for work submitted after the loop exited.
	ErrStopped = errors.New("loop: stopped")
	// ErrBusy is returned by Exclusive when the loop did not yield in time.
	ErrBusy = errors.New("loop: busy")
)

type Config struct {
	TickRateHz int
	QueueSize  int
}

type periodic struct {
	name   string
	period func() time.Duration
	fn     func(now time.Time)
	next   time.Time
}

// Loop owns the simulation. The zero value is not usable; call New.
type Loop struct {
	logger   *zap.Logger
	interval time.Duration

	tasks chan func()

	// mu is held while a task, tick hook or periodic job runs, and by Exclusive.
	mu sync.Mutex

	submitMu sync.RWMutex
	stopped  bool

	jobsMu  sync.Mutex
	jobs    []*periodic
	onTick  []func(now time.Time)
	tick    atomic.Uint64
	running atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	panics atomic.Uint64
}

func New(cfg Config, logger *zap.Logger) *Loop {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		logger:   logger,
		interval: time.Second / time.Duration(cfg.TickRateHz),
		tasks:    make(chan func(), cfg.QueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// OnTick registers fn to run on every tick. Hooks run in registration order.
func (l *Loop) OnTick(fn func(now time.Time)) {
	l.jobsMu.Lock()
	defer l.jobsMu.Unlock()
	l.onTick = append(l.onTick, fn)
}

// Every registers a periodic job. period is consulted after every run so it can follow
// live configuration; a non-positive period pauses the job.
func (l *Loop) Every(name string, period func() time.Duration, fn func(now time.Time)) {
	l.jobsMu.Lock()
	defer l.jobsMu.Unlock()
	l.jobs = append(l.jobs, &periodic{name: name, period: period, fn: fn})
}

// Run drives the loop until ctx is done or Stop is called. Tasks still queued on exit run
// before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("loop: already running")
	}
	defer func() {
		l.Stop()
		l.drainOnExit()
		close(l.done)
	}()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case fn := <-l.tasks:
			l.runTask(fn)
		case now := <-ticker.C:
			l.step(now)
		}
	}
}

func (l *Loop) drainOnExit() {
	l.submitMu.Lock()
	l.stopped = true
	l.submitMu.Unlock()
	for {
		select {
		case fn := <-l.tasks:
			l.runTask(fn)
		default:
			l.running.Store(false)
			return
		}
	}
}

// Stop asks Run to return. It does not wait; use Done.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Done is closed after Run returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Running reports whether Run is active.
func (l *Loop) Running() bool { return l.running.Load() }

// Tick returns the number of completed ticks.
func (l *Loop) Tick() uint64 { return l.tick.Load() }

// Panics returns how many tasks or jobs panicked.
func (l *Loop) Panics() uint64 { return l.panics.Load() }

func (l *Loop) guard(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.logger.Error("loop callback panicked", zap.String("what", what), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

func (l *Loop) runTask(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.guard("task", fn)
}

func (l *Loop) step(now time.Time) {
	l.jobsMu.Lock()
	hooks := append([]func(time.Time){}, l.onTick...)
	jobs := append([]*periodic{}, l.jobs...)
	l.jobsMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, h := range hooks {
		l.guard("tick", func() { h(now) })
	}
	for _, j := range jobs {
		p := j.period()
		if p <= 0 {
			continue
		}
		if j.next.IsZero() {
			j.next = now.Add(p)
			continue
		}
		if now.Before(j.next) {
			continue
		}
		l.guard(j.name, func() { j.fn(now) })
		j.next = now.Add(j.period())
	}
	l.tick.Add(1)
}

// Submit queues fn to run on the loop. It blocks while the queue is full and fails once
// the loop has exited. It must not be called from the loop itself with a full queue.
func (l *Loop) Submit(fn func()) error {
	l.submitMu.RLock()
	defer l.submitMu.RUnlock()
	if l.stopped {
		return ErrStopped
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.stop:
		// Run may still be draining; queue only if there is room.
		select {
		case l.tasks <- fn:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Call runs fn on the loop and waits for it. If ctx ends first the task still runs, but
// its error is lost.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	_, err := Do(ctx, l, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Do runs fn on l and returns its result.
func Do[T any](ctx context.Context, l *Loop, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	resp := make(chan result, 1)
	err := l.Submit(func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				r.err = fmt.Errorf("loop: task panicked: %v", p)
			}
			select {
			case resp <- r:
			default:
			}
		}()
		r.v, r.err = fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	select {
	case r := <-resp:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Exclusive runs fn with the loop held, from the calling goroutine. It works whether or
// not Run is active and is meant for forced paths (synchronous drains) that cannot wait
// for the queue. If a task is stuck, it gives up when ctx ends.
func (l *Loop) Exclusive(ctx context.Context, fn func()) error {
	for !l.mu.TryLock() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
		case <-time.After(time.Millisecond):
		}
	}
	defer l.mu.Unlock()
	fn()
	return nil
}
