package lifecycle

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mounterr"
	"simplemounts.ai/internal/persistence/iopool"
	"simplemounts.ai/internal/sim/loop"
)

// Drain modes reported in DrainReport.Mode.
const (
	DrainSkipped  = "skipped"
	DrainAsync    = "async"
	DrainSync     = "sync"
	DrainFallback = "async+sync"
)

// DrainReport summarizes one drain.
type DrainReport struct {
	Mode     string        `json:"mode"`
	Stored   int           `json:"stored"`
	Failed   int           `json:"failed"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// ShutdownCoordinator stores every active mount before the process stops. Only one drain
// runs at a time; overlapping calls return a skipped report.
type ShutdownCoordinator struct {
	m        *Manager
	logger   *zap.Logger
	draining atomic.Bool
}

func NewShutdownCoordinator(m *Manager) *ShutdownCoordinator {
	return &ShutdownCoordinator{m: m, logger: m.logger.Named("shutdown")}
}

// Draining reports whether a drain is in progress.
func (s *ShutdownCoordinator) Draining() bool { return s.draining.Load() }

// Graceful stops new operations for good and drains all mounts. Unless
// shutdown.force_immediate is set, stores are first scheduled on the loop and awaited for
// shutdown.timeout; whatever is left afterwards is stored synchronously.
func (s *ShutdownCoordinator) Graceful(ctx context.Context) DrainReport {
	return s.run(ctx, drainScope{terminal: true})
}

// Emergency drains synchronously right away and stops new operations for good. It is meant
// for termination hooks.
func (s *ShutdownCoordinator) Emergency(ctx context.Context) DrainReport {
	return s.run(ctx, drainScope{immediate: true, terminal: true})
}

// Unload drains the mounts standing in one world, the way Graceful drains all of them.
// Calls fail with SHUTTING_DOWN only while it runs; afterwards the manager accepts work again.
func (s *ShutdownCoordinator) Unload(ctx context.Context, world string) DrainReport {
	return s.run(ctx, drainScope{world: world})
}

// drainScope selects the handles a drain stores and whether the manager stays closed.
type drainScope struct {
	immediate bool
	terminal  bool
	world     string
}

// includes runs on the loop.
func (d drainScope) includes(m *Manager, h *mount.Handle) bool {
	if d.world == "" {
		return true
	}
	if e, ok := m.host.Entity(h.LiveID); ok {
		return e.World == d.world
	}
	return h.Placement.World == d.world
}

func (s *ShutdownCoordinator) run(ctx context.Context, scope drainScope) (rep DrainReport) {
	if !s.draining.CompareAndSwap(false, true) {
		s.logger.Info("drain already in progress")
		return DrainReport{Mode: DrainSkipped}
	}
	if !scope.terminal && s.m.closing.Load() {
		s.draining.Store(false)
		s.logger.Info("manager already shut down, unload skipped", zap.String("world", scope.world))
		return DrainReport{Mode: DrainSkipped}
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("drain panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		if !scope.terminal {
			s.m.closing.Store(false)
		}
		s.draining.Store(false)
		rep.Duration = time.Since(start)
		s.m.metrics.Drain(rep.Mode, rep.Stored, rep.Failed, rep.Duration)
		s.logger.Info("drain finished",
			zap.String("mode", rep.Mode), zap.String("world", scope.world), zap.Int("stored", rep.Stored), zap.Int("failed", rep.Failed),
			zap.Bool("timed_out", rep.TimedOut), zap.Duration("took", rep.Duration))
	}()

	s.m.closing.Store(true)
	cfg := s.m.cfg.Current().Shutdown
	if scope.immediate || cfg.ForceImmediate {
		rep.Mode = DrainSync
		s.syncDrain(ctx, scope, &rep)
		return rep
	}

	rep.Mode = DrainAsync
	if s.asyncDrain(ctx, scope, cfg.Timeout, &rep) {
		return rep
	}
	rep.Mode = DrainFallback
	rep.TimedOut = true
	s.syncDrain(ctx, scope, &rep)
	return rep
}

// asyncDrain schedules a store for every handle on the loop and waits up to timeout. It
// reports whether every store settled in time.
func (s *ShutdownCoordinator) asyncDrain(ctx context.Context, scope drainScope, timeout time.Duration, rep *DrainReport) bool {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pending, err := loop.Do(tctx, s.m.loop, func() ([]*iopool.Future[struct{}], error) {
		var out []*iopool.Future[struct{}]
		for _, h := range s.m.allHandles() {
			if scope.includes(s.m, h) {
				out = append(out, s.m.storeAsync(h, ReasonShutdown))
			}
		}
		return out, nil
	})
	if err != nil {
		s.logger.Warn("loop did not accept the drain", zap.Error(err))
		return false
	}
	settled := true
	for _, f := range pending {
		_, err := f.Wait(tctx)
		switch {
		case err == nil:
			rep.Stored++
		case tctx.Err() != nil:
			settled = false
		case mounterr.KindOf(err) == "":
			// The loop refused the continuation; the sync pass picks the mount up.
			settled = false
		default:
			rep.Failed++
		}
	}
	return settled
}

// syncDrain stores every remaining handle with the loop held by this goroutine.
func (s *ShutdownCoordinator) syncDrain(ctx context.Context, scope drainScope, rep *DrainReport) {
	err := s.m.loop.Exclusive(ctx, func() {
		for _, h := range s.m.allHandles() {
			if !scope.includes(s.m, h) {
				continue
			}
			if err := s.storeOne(ctx, h); err != nil {
				rep.Failed++
				s.logger.Warn("drain store failed",
					zap.String("owner", h.Owner), zap.Int64("record_id", h.RecordID), zap.Error(err))
				continue
			}
			rep.Stored++
		}
	})
	if err != nil {
		s.logger.Error("sync drain could not take the loop", zap.Error(err))
	}
}

func (s *ShutdownCoordinator) storeOne(ctx context.Context, h *mount.Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("store panicked: %v", r)
		}
	}()
	return s.m.storeSync(ctx, h, ReasonShutdown)
}
