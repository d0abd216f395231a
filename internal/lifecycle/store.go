package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mounterr"
	"simplemounts.ai/internal/persistence/iopool"
	"simplemounts.ai/internal/sim/world"
)

// Why a live mount is being stored.
const (
	ReasonManual   = "manual"
	ReasonDistance = "distance"
	ReasonQuit     = "quit"
	ReasonShutdown = "shutdown"
)

// Store saves an active mount and removes its live instance. The record is written before
// the live object is touched; if the write fails the mount stays out.
func (m *Manager) Store(ctx context.Context, owner string, ref mount.Ref) (Info, error) {
	const opName = "lifecycle.store"
	ctx, o := m.begin(ctx, "store", owner)
	info, err := m.storeWith(ctx, o, owner, func() (*mount.Handle, error) {
		h, ok := m.activeHandle(owner, ref)
		if !ok {
			return nil, nil
		}
		return h, nil
	}, func(ctx context.Context) error {
		if _, err := m.findRecord(ctx, opName, owner, ref); err != nil {
			return err
		}
		return mounterr.NotFound(opName, mounterr.CodeNotActive, "%s is not out", ref)
	})
	return info, o.end(err)
}

// StoreCurrent stores the mount the owner is riding.
func (m *Manager) StoreCurrent(ctx context.Context, owner string) (Info, error) {
	const opName = "lifecycle.store_current"
	ctx, o := m.begin(ctx, "store", owner)
	info, err := m.storeWith(ctx, o, owner, func() (*mount.Handle, error) {
		p, ok := m.host.Player(owner)
		if !ok || !p.Online {
			return nil, mounterr.NotFound(opName, mounterr.CodeOwnerOffline, "owner is not online")
		}
		v, ok := m.host.Vehicle(owner)
		if !ok {
			return nil, mounterr.NotFound(opName, mounterr.CodeNotRiding, "you are not riding anything")
		}
		h, ok := m.handles[v.ID]
		if !ok {
			return nil, mounterr.NotFound(opName, mounterr.CodeNotActive, "this animal is not a stored mount")
		}
		if h.Owner != owner {
			return nil, mounterr.Protection(opName, "this mount belongs to someone else")
		}
		return h, nil
	}, nil)
	return info, o.end(err)
}

// storeWith resolves the handle on the loop, stores it and waits. missing explains a nil
// handle; it runs on the pool.
func (m *Manager) storeWith(ctx context.Context, o *op, owner string, resolve func() (*mount.Handle, error), missing func(ctx context.Context) error) (Info, error) {
	const opName = "lifecycle.store"
	if err := m.checkOpen(opName); err != nil {
		return Info{}, err
	}
	unlock, err := m.lockOwner(ctx, opName, owner)
	if err != nil {
		return Info{}, err
	}
	defer m.release(ctx, unlock)

	type started struct {
		h    mount.Handle
		done *iopool.Future[struct{}]
	}
	st, err := onLoop(ctx, m, opName, func() (started, error) {
		h, err := resolve()
		if err != nil || h == nil {
			return started{}, err
		}
		o.handle(h)
		return started{h: *h, done: m.storeAsync(h, ReasonManual)}, nil
	})
	if err != nil {
		return Info{}, err
	}
	if st.done == nil {
		_, err := m.pool.Do(ctx, missing).Wait(ctx)
		return Info{}, err
	}
	o.audited = true
	if _, err := st.done.Wait(ctx); err != nil {
		return Info{}, err
	}
	return Info{
		RecordID: st.h.RecordID,
		Owner:    st.h.Owner,
		Name:     st.h.Name,
		Kind:     st.h.Kind,
	}, nil
}

// storeAsync snapshots h on the loop, writes the record on the pool and removes the live
// object back on the loop once the write is confirmed. A store already in flight for h is
// joined. It runs on the loop.
func (m *Manager) storeAsync(h *mount.Handle, reason string) *iopool.Future[struct{}] {
	const opName = "lifecycle.store"
	if f, ok := m.storing[h.LiveID]; ok {
		return f
	}
	e, ok := m.host.Entity(h.LiveID)
	if !ok {
		m.dropMissing(h)
		err := mounterr.NotFound(opName, mounterr.CodeObjectMissing, "%s is no longer in the world", h.Label())
		m.writeAudit(m.storeEntry(h, reason, err))
		return iopool.Failed[struct{}](err)
	}
	snap := captureEntity(e)
	snap.preserved = m.preserved[h.LiveID]
	h.Placement = snap.placement
	cc := m.cfg.Current().Codec
	start := m.now()

	write := m.pool.Do(context.Background(), func(ctx context.Context) error {
		enc, err := m.encode(snap, cc)
		if err != nil {
			return serialization(opName, err)
		}
		return m.store.UpdateRecord(ctx, h.RecordID, enc.attrs, enc.inv)
	})
	done := continueOnLoop(m, write, func(_ struct{}, err error) error {
		delete(m.storing, h.LiveID)
		if m.handles[h.LiveID] != h {
			if _, ok := m.drained[h.LiveID]; ok {
				delete(m.drained, h.LiveID)
				return err
			}
			// Released or died while the write was in flight.
			return mounterr.NotFound(opName, mounterr.CodeObjectMissing, "%s is no longer in the world", h.Label())
		}
		if err != nil {
			m.keepAfterFailedStore(h, reason, err)
			return err
		}
		m.finishStore(h, reason)
		if reason != ReasonManual {
			m.metrics.Op("store_"+reason, ResultOf(nil), m.now().Sub(start))
		}
		return nil
	})
	m.storing[h.LiveID] = done
	return done
}

// storeSync stores h without leaving the calling goroutine. The caller must hold the loop
// (Exclusive) and accepts blocking it on I/O.
func (m *Manager) storeSync(ctx context.Context, h *mount.Handle, reason string) error {
	const opName = "lifecycle.store"
	e, ok := m.host.Entity(h.LiveID)
	if !ok {
		m.forget(h)
		if err := m.removePlacementNow(ctx, h.LiveID); err != nil {
			m.logger.Warn("placement remove failed", zap.String("live_id", h.LiveID), zap.Error(err))
		}
		return mounterr.NotFound(opName, mounterr.CodeObjectMissing, "%s is no longer in the world", h.Label())
	}
	snap := captureEntity(e)
	snap.preserved = m.preserved[h.LiveID]
	enc, err := m.encode(snap, m.cfg.Current().Codec)
	if err != nil {
		return serialization(opName, err)
	}
	if err := m.store.UpdateRecord(ctx, h.RecordID, enc.attrs, enc.inv); err != nil {
		m.writeAudit(m.storeEntry(h, reason, err))
		return err
	}
	if _, inFlight := m.storing[h.LiveID]; inFlight {
		m.drained[h.LiveID] = struct{}{}
	}
	m.despawn(h)
	if err := m.removePlacementNow(ctx, h.LiveID); err != nil {
		m.logger.Warn("placement remove failed", zap.String("live_id", h.LiveID), zap.Error(err))
	}
	m.writeAudit(m.storeEntry(h, reason, nil))
	return nil
}

// finishStore runs on the loop after the record write was confirmed.
func (m *Manager) finishStore(h *mount.Handle, reason string) {
	m.despawn(h)
	m.removePlacement(h.LiveID)
	m.writeAudit(m.storeEntry(h, reason, nil))
	if reason == ReasonDistance {
		m.notifier.Notify(Notice{Owner: h.Owner, Code: NoticeAutoStored, RecordID: h.RecordID, LiveID: h.LiveID, Name: h.Name})
	}
}

// keepAfterFailedStore runs on the loop when the record write failed. The live object stays.
func (m *Manager) keepAfterFailedStore(h *mount.Handle, reason string, err error) {
	m.logger.Error("store failed, mount kept in the world",
		zap.String("owner", h.Owner), zap.Int64("record_id", h.RecordID), zap.String("reason", reason), zap.Error(err))
	m.upsertPlacement(mount.PlacementOf(h))
	m.writeAudit(m.storeEntry(h, reason, err))
	m.notifier.Notify(Notice{Owner: h.Owner, Code: NoticeStoreFailed, RecordID: h.RecordID, LiveID: h.LiveID, Name: h.Name})
}

func (m *Manager) storeEntry(h *mount.Handle, reason string, err error) AuditEntry {
	e := AuditEntry{
		Op:       "store",
		Owner:    h.Owner,
		RecordID: h.RecordID,
		LiveID:   h.LiveID,
		Name:     h.Name,
		Kind:     string(h.Kind),
		Result:   ResultOf(err),
		Detail:   reason,
	}
	if err != nil {
		e.Detail = reason + ": " + err.Error()
	}
	return e
}

// dropMissing forgets a handle whose live object is already gone. It runs on the loop.
func (m *Manager) dropMissing(h *mount.Handle) {
	m.logger.Warn("live mount vanished", zap.String("owner", h.Owner), zap.String("live_id", h.LiveID), zap.Int64("record_id", h.RecordID))
	m.forget(h)
	m.removePlacement(h.LiveID)
}

// OnOwnerQuit stores every active mount of owner. It is a host hook and runs on the loop.
func (m *Manager) OnOwnerQuit(owner string) {
	for _, h := range m.ownerHandles(owner) {
		m.storeAsync(h, ReasonQuit)
	}
}

// OnDeath deletes the record of a mount that died in the world. It is a host hook and runs
// on the loop.
func (m *Manager) OnDeath(e *world.Entity) {
	h, ok := m.handles[e.ID]
	if !ok {
		return
	}
	m.forget(h)
	owner, id, liveID := h.Owner, h.RecordID, h.LiveID
	m.placementWrite("dead mount delete", liveID, func(ctx context.Context) error {
		if err := m.store.RemoveActive(ctx, liveID); err != nil {
			return err
		}
		return m.store.DeleteRecord(ctx, owner, id)
	})
	m.writeAudit(AuditEntry{
		Op:       "death",
		Owner:    owner,
		RecordID: id,
		LiveID:   liveID,
		Name:     h.Name,
		Kind:     string(h.Kind),
		Result:   ResultOf(nil),
	})
	m.notifier.Notify(Notice{Owner: owner, Code: NoticeMountDied, RecordID: id, LiveID: liveID, Name: h.Name})
	m.logger.Info("mount died", zap.String("owner", owner), zap.Int64("record_id", id))
}
