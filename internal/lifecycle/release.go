package lifecycle

import (
	"context"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mounterr"
	"simplemounts.ai/internal/persistence/iopool"
)

// Release deletes a mount for good. A live instance is removed before the record.
func (m *Manager) Release(ctx context.Context, owner string, ref mount.Ref) (Info, error) {
	ctx, o := m.begin(ctx, "release", owner)
	info, err := m.releaseMount(ctx, o, owner, ref)
	return info, o.end(err)
}

func (m *Manager) releaseMount(ctx context.Context, o *op, owner string, ref mount.Ref) (Info, error) {
	const opName = "lifecycle.release"
	if err := m.checkOpen(opName); err != nil {
		return Info{}, err
	}
	unlock, err := m.lockOwner(ctx, opName, owner)
	if err != nil {
		return Info{}, err
	}
	defer m.release(ctx, unlock)

	rec, err := iopool.Submit(m.pool, ctx, func(ctx context.Context) (mount.Record, error) {
		return m.findRecord(ctx, opName, owner, ref)
	}).Wait(ctx)
	if err != nil {
		return Info{}, err
	}
	o.record(rec)

	liveID, err := onLoop(ctx, m, opName, func() (string, error) {
		h, ok := m.handles[m.byRecord[rec.ID]]
		if !ok {
			return "", nil
		}
		o.handle(h)
		m.despawn(h)
		return h.LiveID, nil
	})
	if err != nil {
		return Info{}, err
	}

	if liveID != "" {
		if _, err := m.removePlacement(liveID).Wait(ctx); err != nil {
			return Info{}, err
		}
	}
	_, err = m.pool.Do(ctx, func(ctx context.Context) error {
		return m.store.DeleteRecord(ctx, owner, rec.ID)
	}).Wait(ctx)
	if err != nil {
		return Info{}, err
	}
	return infoOf(rec, nil), nil
}

// Rename changes a mount's display name in place; its id is unchanged.
func (m *Manager) Rename(ctx context.Context, owner string, ref mount.Ref, newName string) (Info, error) {
	ctx, o := m.begin(ctx, "rename", owner)
	info, err := m.rename(ctx, o, owner, ref, newName)
	return info, o.end(err)
}

func (m *Manager) rename(ctx context.Context, o *op, owner string, ref mount.Ref, newName string) (Info, error) {
	const opName = "lifecycle.rename"
	if err := m.checkOpen(opName); err != nil {
		return Info{}, err
	}
	name, err := ValidateName(m.cfg.Current().Names, newName)
	if err != nil {
		return Info{}, err
	}
	if name == "" {
		return Info{}, mounterr.Validation(opName, mounterr.CodeNameTooShort, "a new name is required")
	}
	unlock, err := m.lockOwner(ctx, opName, owner)
	if err != nil {
		return Info{}, err
	}
	defer m.release(ctx, unlock)

	rec, err := iopool.Submit(m.pool, ctx, func(ctx context.Context) (mount.Record, error) {
		rec, err := m.findRecord(ctx, opName, owner, ref)
		if err != nil {
			return mount.Record{}, err
		}
		if err := m.uniqueName(ctx, opName, owner, name, rec.ID); err != nil {
			return mount.Record{}, err
		}
		if err := m.store.RenameRecord(ctx, owner, rec.ID, mount.NamePtr(name)); err != nil {
			return mount.Record{}, err
		}
		return rec, nil
	}).Wait(ctx)
	if err != nil {
		return Info{}, err
	}
	o.entry.Detail = rec.Label() + " -> " + name
	rec.Name = mount.NamePtr(name)
	o.record(rec)

	return onLoop(ctx, m, opName, func() (Info, error) {
		h, ok := m.handles[m.byRecord[rec.ID]]
		if !ok {
			return infoOf(rec, nil), nil
		}
		h.Name = name
		m.registry.Rename(h.LiveID, name)
		m.tag(h.LiveID, h)
		m.upsertPlacement(mount.PlacementOf(h))
		return infoOf(rec, h), nil
	})
}
