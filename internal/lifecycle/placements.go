package lifecycle

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/persistence/iopool"
)

// placementChain orders active_mounts writes per live id. A write is queued behind the
// previous write for the same id, so a remove never overtakes the upsert before it. Writes
// for different ids still run in parallel on the pool.
type placementChain struct {
	mu   sync.Mutex
	tail map[string]*iopool.Future[struct{}]
}

func newPlacementChain() *placementChain {
	return &placementChain{tail: map[string]*iopool.Future[struct{}]{}}
}

// pending returns the last queued write for liveID, or nil.
func (c *placementChain) pending(liveID string) *iopool.Future[struct{}] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tail[liveID]
}

// placementWrite queues fn behind every earlier placement write for liveID. Safe from any
// goroutine except a pool worker.
func (m *Manager) placementWrite(what, liveID string, fn func(ctx context.Context) error) *iopool.Future[struct{}] {
	c := m.placements
	// Holding the lock across the enqueue keeps the pool's FIFO order equal to chain order,
	// so the job we wait on was always dequeued before ours.
	c.mu.Lock()
	prev := c.tail[liveID]
	f := m.pool.Do(context.Background(), func(ctx context.Context) error {
		if prev != nil {
			_, _ = prev.Wait(ctx)
		}
		return fn(ctx)
	})
	c.tail[liveID] = f
	c.mu.Unlock()

	go func() {
		_, err := f.Wait(context.Background())
		if err != nil {
			m.logger.Warn("background "+what+" failed", zap.String("live_id", liveID), zap.Error(err))
		}
		c.mu.Lock()
		if c.tail[liveID] == f {
			delete(c.tail, liveID)
		}
		c.mu.Unlock()
	}()
	return f
}

func (m *Manager) upsertPlacement(p mount.ActivePlacement) *iopool.Future[struct{}] {
	return m.placementWrite("placement upsert", p.LiveID, func(ctx context.Context) error {
		return m.store.UpsertActive(ctx, p)
	})
}

func (m *Manager) removePlacement(liveID string) *iopool.Future[struct{}] {
	return m.placementWrite("placement remove", liveID, func(ctx context.Context) error {
		return m.store.RemoveActive(ctx, liveID)
	})
}

// removePlacementNow removes the row on the calling goroutine once earlier writes for
// liveID have landed. The drain uses it while holding the loop.
func (m *Manager) removePlacementNow(ctx context.Context, liveID string) error {
	if prev := m.placements.pending(liveID); prev != nil {
		if _, err := prev.Wait(ctx); ctx.Err() != nil {
			return err
		}
	}
	return m.store.RemoveActive(ctx, liveID)
}
