package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/persistence/iopool"
	"simplemounts.ai/internal/sim/loop"
)

// Maintenance runs the periodic store sweeps: orphaned placement rows and long-untouched
// records.
type Maintenance struct {
	m      *Manager
	logger *zap.Logger
}

func NewMaintenance(m *Manager) *Maintenance {
	return &Maintenance{m: m, logger: m.logger.Named("maintenance")}
}

// RecoverStale drops every placement row left by a previous process. It must run before
// anything is summoned. The records themselves stay summonable.
func (mt *Maintenance) RecoverStale(ctx context.Context) (int64, error) {
	n, err := mt.m.store.SweepStaleActive(ctx, time.Now().Add(24*time.Hour), nil)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		mt.logger.Info("recovered placements from a previous run", zap.Int64("rows", n))
	}
	mt.m.metrics.Swept("recover", n)
	return n, nil
}

// SweepActive refreshes the placement rows of live mounts and deletes rows older than
// maintenance.stale_active_after that no live mount owns.
func (mt *Maintenance) SweepActive(ctx context.Context, now time.Time) (int64, error) {
	refreshes, err := onLoop(ctx, mt.m, "lifecycle.sweep_active", func() ([]*iopool.Future[struct{}], error) {
		return mt.refreshPlacements(), nil
	})
	if err != nil {
		return 0, err
	}
	for _, f := range refreshes {
		if _, err := f.Wait(ctx); ctx.Err() != nil {
			return 0, err
		}
	}
	return mt.sweepStale(ctx, now)
}

// refreshPlacements queues a placement upsert for every live mount behind that mount's
// earlier placement writes. A mount stored or released before its refresh runs is skipped,
// so the refresh never brings its row back. It runs on the loop.
func (mt *Maintenance) refreshPlacements() []*iopool.Future[struct{}] {
	hs := mt.m.allHandles()
	out := make([]*iopool.Future[struct{}], 0, len(hs))
	for _, h := range hs {
		if e, ok := mt.m.host.Entity(h.LiveID); ok {
			h.Placement = e.Placement()
		}
		p := mount.PlacementOf(h)
		out = append(out, mt.m.placementWrite("placement refresh", p.LiveID, func(ctx context.Context) error {
			if !mt.m.registry.IsActive(p.LiveID) {
				return nil
			}
			return mt.m.store.UpsertActive(ctx, p)
		}))
	}
	return out
}

func (mt *Maintenance) sweepStale(ctx context.Context, now time.Time) (int64, error) {
	after := mt.m.cfg.Current().Maintenance.StaleActiveAfter
	n, err := mt.m.store.SweepStaleActive(ctx, now.Add(-after), mt.m.registry.IsActive)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		mt.logger.Info("swept stale placements", zap.Int64("rows", n))
	}
	mt.m.metrics.Swept("active", n)
	return n, nil
}

// Prune deletes records untouched for maintenance.prune_after and reclaims space. A zero
// prune_after disables it.
func (mt *Maintenance) Prune(ctx context.Context, now time.Time) (int64, error) {
	after := mt.m.cfg.Current().Maintenance.PruneAfter
	if after <= 0 {
		return 0, nil
	}
	n, err := mt.m.store.PruneUntouched(ctx, now.Add(-after))
	if err != nil {
		return 0, err
	}
	mt.m.metrics.Swept("prune", n)
	if n == 0 {
		return 0, nil
	}
	mt.logger.Info("pruned untouched records", zap.Int64("records", n), zap.Duration("after", after))
	if err := mt.m.store.Vacuum(ctx); err != nil {
		mt.logger.Warn("vacuum failed", zap.Error(err))
	}
	return n, nil
}

// Register schedules both sweeps on l. The jobs only hand work to the I/O pool.
func (mt *Maintenance) Register(l *loop.Loop) {
	l.Every("active-sweep", func() time.Duration {
		return mt.m.cfg.Current().Maintenance.ActiveSweepEvery
	}, func(now time.Time) {
		mt.refreshPlacements()
		mt.m.async("active sweep", func(ctx context.Context) error {
			_, err := mt.sweepStale(ctx, now)
			return err
		})
	})
	l.Every("prune", func() time.Duration {
		return mt.m.cfg.Current().Maintenance.PruneEvery
	}, func(now time.Time) {
		mt.m.async("prune", func(ctx context.Context) error {
			_, err := mt.Prune(ctx, now)
			return err
		})
	})
}
