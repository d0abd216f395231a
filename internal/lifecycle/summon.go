package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mount/kinds"
	"simplemounts.ai/internal/mounterr"
	"simplemounts.ai/internal/persistence/iopool"
)

// Summon brings a stored mount back into the world next to its owner.
func (m *Manager) Summon(ctx context.Context, owner string, ref mount.Ref) (Info, error) {
	ctx, o := m.begin(ctx, "summon", owner)
	info, err := m.summon(ctx, o, owner, ref)
	return info, o.end(err)
}

func (m *Manager) summon(ctx context.Context, o *op, owner string, ref mount.Ref) (Info, error) {
	const opName = "lifecycle.summon"
	if err := m.checkOpen(opName); err != nil {
		return Info{}, err
	}
	unlock, err := m.lockOwner(ctx, opName, owner)
	if err != nil {
		return Info{}, err
	}
	defer m.release(ctx, unlock)

	type loaded struct {
		rec mount.Record
		dec decoded
	}
	ld, err := iopool.Submit(m.pool, ctx, func(ctx context.Context) (loaded, error) {
		rec, err := m.findRecord(ctx, opName, owner, ref)
		if err != nil {
			return loaded{}, err
		}
		return loaded{rec: rec, dec: m.decode(rec)}, nil
	}).Wait(ctx)
	if err != nil {
		return Info{}, err
	}
	o.record(ld.rec)

	cfg := m.cfg.Current().Summon
	info, err := onLoop(ctx, m, opName, func() (Info, error) {
		p, ok := m.host.Player(owner)
		if !ok || !p.Online {
			return Info{}, mounterr.NotFound(opName, mounterr.CodeOwnerOffline, "owner is not online")
		}
		if p.Vehicle != "" {
			return Info{}, mounterr.Conflict(opName, mounterr.CodeAlreadyRiding, "dismount before summoning")
		}
		if liveID, active := m.byRecord[ld.rec.ID]; active {
			return Info{}, mounterr.Conflict(opName, mounterr.CodeAlreadyActive, "%s is already out (%s)", ld.rec.Label(), liveID)
		}

		rule := kinds.SpawnSolid
		if spec, ok := kinds.Lookup(ld.rec.Kind); ok {
			rule = spec.Spawn
		}
		at := mount.Placement{World: p.World, Pos: p.Pos}
		near := p.Pos.Add(mount.Vec3{X: cfg.Offset})
		if pos, ok := m.host.SafeSpot(p.World, near, rule, cfg.SearchRadius); ok {
			at.Pos = pos
		} else {
			m.logger.Debug("no safe spot, summoning at owner", zap.String("owner", owner), zap.Stringer("at", at))
		}

		e, err := m.host.Spawn(ld.rec.Kind, at, ld.dec.attrs, ld.dec.inv)
		if err != nil {
			return Info{}, mounterr.New(mounterr.KindNotFound, mounterr.CodeNoSafeLocation).
				Op(opName).Detail("cannot place %s at %s", ld.rec.Label(), at).Cause(err).Build()
		}
		h := &mount.Handle{
			LiveID:    e.ID,
			Owner:     owner,
			RecordID:  ld.rec.ID,
			Kind:      ld.rec.Kind,
			Name:      ld.rec.DisplayName(),
			Placement: e.Placement(),
			SpawnedAt: m.now(),
		}
		m.tag(e.ID, h)
		m.track(h)
		if ld.dec.preserved != nil {
			m.preserved[e.ID] = ld.dec.preserved
		}
		o.handle(h)
		return infoOf(ld.rec, h), nil
	})
	if err != nil {
		return Info{}, err
	}

	m.async("access touch", func(ctx context.Context) error {
		return m.store.TouchAccessTime(ctx, owner, ld.rec.ID)
	})
	return info, nil
}
