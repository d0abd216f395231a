package lifecycle

import (
	"context"
	"time"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mount/attr"
	"simplemounts.ai/internal/persistence/iopool"
	"simplemounts.ai/internal/sim/loop"
)

// Info is the public view of a mount.
type Info struct {
	RecordID     int64            `json:"record_id"`
	Owner        string           `json:"owner"`
	Name         string           `json:"name,omitempty"`
	Kind         mount.Kind       `json:"kind"`
	CreatedAt    time.Time        `json:"created_at"`
	LastAccessed time.Time        `json:"last_accessed"`
	Active       bool             `json:"active"`
	LiveID       string           `json:"live_id,omitempty"`
	Placement    *mount.Placement `json:"placement,omitempty"`
	Attributes   map[string]any   `json:"attributes,omitempty"`
	Inventory    []SlotInfo       `json:"inventory,omitempty"`
}

// SlotInfo describes one occupied inventory slot.
type SlotInfo struct {
	Slot        int    `json:"slot"`
	Description string `json:"description"`
}

// Label is the name, or "#<id>" for unnamed mounts.
func (i Info) Label() string {
	if i.Name != "" {
		return i.Name
	}
	return mount.Ref{ID: i.RecordID}.String()
}

func infoOf(rec mount.Record, h *mount.Handle) Info {
	info := Info{
		RecordID:     rec.ID,
		Owner:        rec.Owner,
		Name:         rec.DisplayName(),
		Kind:         rec.Kind,
		CreatedAt:    rec.CreatedAt,
		LastAccessed: rec.LastAccessed,
	}
	if h != nil {
		p := h.Placement
		info.Active = true
		info.LiveID = h.LiveID
		info.Placement = &p
	}
	return info
}

// activeByRecord copies the owner's handles keyed by record id. It runs off the loop.
func (m *Manager) activeByRecord(ctx context.Context, owner string) (map[int64]mount.Handle, error) {
	return loop.Do(ctx, m.loop, func() (map[int64]mount.Handle, error) {
		out := map[int64]mount.Handle{}
		for _, h := range m.ownerHandles(owner) {
			out[h.RecordID] = *h
		}
		return out, nil
	})
}

// List returns the owner's mounts in creation order with their live status.
func (m *Manager) List(ctx context.Context, owner string) ([]Info, error) {
	recs, err := iopool.Submit(m.pool, ctx, func(ctx context.Context) ([]mount.Record, error) {
		return m.store.ListByOwner(ctx, owner)
	}).Wait(ctx)
	if err != nil {
		return nil, err
	}
	active, err := m.activeByRecord(ctx, owner)
	if err != nil {
		return nil, unavailable("lifecycle.list", err)
	}
	mount.SortRecords(recs)
	out := make([]Info, 0, len(recs))
	for _, rec := range recs {
		var hp *mount.Handle
		if h, ok := active[rec.ID]; ok {
			hp = &h
		}
		out = append(out, infoOf(rec, hp))
	}
	return out, nil
}

// GetInfo returns one mount with its decoded attributes and inventory.
func (m *Manager) GetInfo(ctx context.Context, owner string, ref mount.Ref) (Info, error) {
	const opName = "lifecycle.info"
	type result struct {
		rec mount.Record
		dec decoded
	}
	r, err := iopool.Submit(m.pool, ctx, func(ctx context.Context) (result, error) {
		rec, err := m.findRecord(ctx, opName, owner, ref)
		if err != nil {
			return result{}, err
		}
		return result{rec: rec, dec: m.decode(rec)}, nil
	}).Wait(ctx)
	if err != nil {
		return Info{}, err
	}
	active, err := m.activeByRecord(ctx, owner)
	if err != nil {
		return Info{}, unavailable(opName, err)
	}
	var hp *mount.Handle
	if h, ok := active[r.rec.ID]; ok {
		hp = &h
	}
	info := infoOf(r.rec, hp)
	info.Attributes = attrMap(r.dec.attrs)
	for _, slot := range r.dec.inv.SlotIndexes() {
		it, _ := r.dec.inv.Get(slot)
		info.Inventory = append(info.Inventory, SlotInfo{Slot: slot, Description: m.codec.Registry.Describe(it)})
	}
	return info, nil
}

// IsActive reports whether the referenced mount currently has a live instance.
func (m *Manager) IsActive(ctx context.Context, owner string, ref mount.Ref) (bool, error) {
	if !ref.ByID() {
		found, err := loop.Do(ctx, m.loop, func() (bool, error) {
			_, ok := m.activeHandle(owner, ref)
			return ok, nil
		})
		if err != nil || found {
			return found, err
		}
		rec, err := iopool.Submit(m.pool, ctx, func(ctx context.Context) (mount.Record, error) {
			return m.findRecord(ctx, "lifecycle.is_active", owner, ref)
		}).Wait(ctx)
		if err != nil {
			return false, err
		}
		ref = mount.Ref{ID: rec.ID}
	}
	return loop.Do(ctx, m.loop, func() (bool, error) {
		_, ok := m.activeHandle(owner, ref)
		return ok, nil
	})
}

func attrMap(b attr.Bag) map[string]any {
	if len(b) == 0 {
		return nil
	}
	return b.Map()
}
