package config

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
)

// Source serves the current configuration. Components call Current at use time so a reload
// takes effect on the next operation. The returned value must not be modified.
type Source struct {
	path string
	cur  atomic.Pointer[Config]

	mu   sync.Mutex
	subs []func(*Config)
}

// NewSource serves cfg; Reload is a no-op without a path.
func NewSource(cfg Config) *Source {
	s := &Source{}
	c := cfg.Clone()
	s.cur.Store(&c)
	return s
}

// Open loads path and serves it.
func Open(path string) (*Source, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := NewSource(cfg)
	s.path = path
	return s, nil
}

func (s *Source) Current() *Config { return s.cur.Load() }

// Update applies fn to a copy of the current configuration and publishes it.
func (s *Source) Update(fn func(*Config)) {
	s.mu.Lock()
	next := s.cur.Load().Clone()
	fn(&next)
	next.Normalize()
	s.cur.Store(&next)
	subs := append([]func(*Config){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(&next)
	}
}

// OnChange registers fn to run after every successful reload or update.
func (s *Source) OnChange(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Reload re-reads the file. An invalid file keeps the previous configuration.
func (s *Source) Reload() error {
	if s.path == "" {
		return nil
	}
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.Update(func(c *Config) { *c = cfg })
	return nil
}

// WatchSignals reloads on SIGHUP until ctx ends.
func (s *Source) WatchSignals(ctx context.Context, logger *zap.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if err := s.Reload(); err != nil {
				logger.Warn("config reload failed, keeping previous", zap.String("path", s.path), zap.Error(err))
				continue
			}
			logger.Info("config reloaded", zap.String("path", s.path))
		}
	}
}
