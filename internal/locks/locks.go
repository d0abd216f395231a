// Package locks serializes summon and claim per owner. An in-process lock is always taken;
// a distributed Locker (Redis) can be layered on top when several server nodes share one
// database.
package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// UnlockFunc releases a lock.
type UnlockFunc func(ctx context.Context) error

// Locker acquires a lock for key, blocking until it is held or ctx ends.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// ErrLockAcquire is returned when a lock cannot be taken.
var ErrLockAcquire = errors.New("locks: failed to acquire lock")

type entry struct {
	sem  chan struct{}
	refs int
}

// Keyed hands out per-key locks. Entries are reference counted and dropped when unused.
type Keyed struct {
	logger *zap.Logger
	remote Locker

	mu      sync.Mutex
	entries map[string]*entry
}

type Option func(*Keyed)

// WithDistributed also takes remote for every key.
func WithDistributed(remote Locker) Option {
	return func(k *Keyed) { k.remote = remote }
}

func WithLogger(logger *zap.Logger) Option {
	return func(k *Keyed) {
		if logger != nil {
			k.logger = logger
		}
	}
}

func New(opts ...Option) *Keyed {
	k := &Keyed{logger: zap.NewNop(), entries: map[string]*entry{}}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *Keyed) acquire(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(k.entries, key)
	}
}

// Lock implements Locker.
func (k *Keyed) Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	e := k.acquire(key)
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key)
		return nil, fmt.Errorf("%w: %s: %v", ErrLockAcquire, key, ctx.Err())
	}
	unlockLocal := func() {
		<-e.sem
		k.release(key)
	}
	if k.remote == nil {
		var once sync.Once
		return func(context.Context) error {
			once.Do(unlockLocal)
			return nil
		}, nil
	}
	unlockRemote, err := k.remote.Lock(ctx, key, ttl)
	if err != nil {
		unlockLocal()
		return nil, err
	}
	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			if err = unlockRemote(ctx); err != nil {
				k.logger.Warn("distributed unlock failed, lock will expire via ttl", zap.String("key", key), zap.Error(err))
			}
			unlockLocal()
		})
		return err
	}, nil
}

// Held reports how many keys currently have holders or waiters.
func (k *Keyed) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// WithLock runs fn while holding key on l.
func WithLock(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(context.Context) error) error {
	unlock, err := l.Lock(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() { _ = unlock(context.WithoutCancel(ctx)) }()
	return fn(ctx)
}
