package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"simplemounts.ai/internal/config"
	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mounterr"
	"simplemounts.ai/internal/persistence/iopool"
)

type claimCandidate struct {
	liveID string
	snap   capture
	limits config.Limits
}

// Claim turns an unowned live animal into the owner's mount. entityID selects the animal;
// empty means the one the owner is riding. name may be empty for an unnamed mount.
func (m *Manager) Claim(ctx context.Context, owner, entityID, name string) (Info, error) {
	const opName = "claim"
	ctx, o := m.begin(ctx, opName, owner)
	info, err := m.claim(ctx, o, owner, entityID, name)
	return info, o.end(err)
}

func (m *Manager) claim(ctx context.Context, o *op, owner, entityID, name string) (Info, error) {
	const opName = "lifecycle.claim"
	if err := m.checkOpen(opName); err != nil {
		return Info{}, err
	}
	cfg := m.cfg.Current()
	name, err := ValidateName(cfg.Names, name)
	if err != nil {
		return Info{}, err
	}
	unlock, err := m.lockOwner(ctx, opName, owner)
	if err != nil {
		return Info{}, err
	}
	defer m.release(ctx, unlock)

	cand, err := onLoop(ctx, m, opName, func() (claimCandidate, error) {
		return m.claimCandidate(opName, owner, entityID, cfg)
	})
	if err != nil {
		return Info{}, err
	}
	o.entry.LiveID = cand.liveID
	o.entry.Kind = string(cand.snap.kind)

	// Limits, duplicate names, encoding and the insert run on the pool.
	rec, err := iopool.Submit(m.pool, ctx, func(ctx context.Context) (mount.Record, error) {
		if err := m.checkLimits(ctx, cand.limits, owner, cand.snap.kind); err != nil {
			return mount.Record{}, err
		}
		if err := m.uniqueName(ctx, opName, owner, name, 0); err != nil {
			return mount.Record{}, err
		}
		enc, err := m.encode(cand.snap, cfg.Codec)
		if err != nil {
			return mount.Record{}, serialization(opName, err)
		}
		rec := mount.Record{
			Owner:      owner,
			Name:       mount.NamePtr(name),
			Kind:       cand.snap.kind,
			Attributes: enc.attrs,
			Inventory:  enc.inv,
		}
		id, err := m.store.CreateRecord(ctx, rec)
		if err != nil {
			return mount.Record{}, err
		}
		return m.store.GetRecord(ctx, owner, id)
	}).Wait(ctx)
	if err != nil {
		return Info{}, err
	}
	o.record(rec)

	info, err := onLoop(ctx, m, opName, func() (Info, error) {
		e, ok := m.host.Entity(cand.liveID)
		if !ok || e.Tags[TagOwner] != "" {
			return Info{}, mounterr.NotFound(opName, mounterr.CodeObjectMissing, "the animal is gone")
		}
		h := &mount.Handle{
			LiveID:    cand.liveID,
			Owner:     owner,
			RecordID:  rec.ID,
			Kind:      rec.Kind,
			Name:      name,
			Placement: e.Placement(),
			SpawnedAt: m.now(),
		}
		m.tag(h.LiveID, h)
		m.track(h)
		return infoOf(rec, h), nil
	})
	if err != nil {
		// The animal vanished while the record was written; undo the insert.
		m.async("claim rollback", func(ctx context.Context) error { return m.store.DeleteRecord(ctx, owner, rec.ID) })
		m.logger.Warn("claim rolled back", zap.String("owner", owner), zap.Int64("record_id", rec.ID), zap.Error(err))
		return Info{}, err
	}
	return info, nil
}

// claimCandidate runs on the loop.
func (m *Manager) claimCandidate(opName, owner, entityID string, cfg *config.Config) (claimCandidate, error) {
	p, ok := m.host.Player(owner)
	if !ok || !p.Online {
		return claimCandidate{}, mounterr.NotFound(opName, mounterr.CodeOwnerOffline, "owner is not online")
	}
	if entityID == "" {
		if p.Vehicle == "" {
			return claimCandidate{}, mounterr.NotFound(opName, mounterr.CodeNotRiding, "ride the animal you want to claim")
		}
		entityID = p.Vehicle
	}
	e, ok := m.host.Entity(entityID)
	if !ok {
		return claimCandidate{}, mounterr.NotFound(opName, mounterr.CodeObjectMissing, "no such animal")
	}
	if err := checkClaimable(e.Kind, e.Attrs); err != nil {
		return claimCandidate{}, err
	}
	if e.Tags[TagOwner] != "" || (e.Tamer != "" && e.Tamer != owner) {
		return claimCandidate{}, mounterr.Conflict(opName, mounterr.CodeAlreadyOwned, "this animal already has an owner")
	}
	if _, tracked := m.handles[e.ID]; tracked {
		return claimCandidate{}, mounterr.Conflict(opName, mounterr.CodeAlreadyOwned, "this animal already has an owner")
	}
	if p.Vehicle != e.ID {
		if e.World != p.World || e.Pos.Distance(p.Pos, false) > cfg.Claim.Reach {
			return claimCandidate{}, mounterr.NotFound(opName, mounterr.CodeObjectMissing, "the animal is out of reach")
		}
	}
	return claimCandidate{
		liveID: e.ID,
		snap:   captureEntity(e),
		limits: cfg.Limits.Resolve(p.HasPermission),
	}, nil
}
