package lifecycle

import (
	"sort"
	"strconv"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mount/kinds"
)

// Everything in this file runs on the simulation loop.

func (m *Manager) track(h *mount.Handle) {
	m.handles[h.LiveID] = h
	m.byRecord[h.RecordID] = h.LiveID
	m.registry.Track(h.Owner, h.LiveID, h.Name)
	m.metrics.SetActive(len(m.handles))
	m.upsertPlacement(mount.PlacementOf(h))
}

// forget drops the handle from every index. Placement rows are the caller's concern.
func (m *Manager) forget(h *mount.Handle) {
	delete(m.handles, h.LiveID)
	if m.byRecord[h.RecordID] == h.LiveID {
		delete(m.byRecord, h.RecordID)
	}
	delete(m.storing, h.LiveID)
	delete(m.preserved, h.LiveID)
	m.registry.Untrack(h.Owner, h.LiveID)
	m.metrics.SetActive(len(m.handles))
}

// despawn removes the live object and forgets the handle.
func (m *Manager) despawn(h *mount.Handle) {
	m.host.Remove(h.LiveID)
	m.forget(h)
}

// ownerHandles returns the owner's handles ordered by spawn time.
func (m *Manager) ownerHandles(owner string) []*mount.Handle {
	var out []*mount.Handle
	for _, id := range m.registry.ActiveIDsFor(owner) {
		if h, ok := m.handles[id]; ok {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SpawnedAt.Equal(out[j].SpawnedAt) {
			return out[i].SpawnedAt.Before(out[j].SpawnedAt)
		}
		return out[i].RecordID < out[j].RecordID
	})
	return out
}

// allHandles returns every handle grouped by owner.
func (m *Manager) allHandles() []*mount.Handle {
	var out []*mount.Handle
	for _, owner := range m.registry.Owners() {
		out = append(out, m.ownerHandles(owner)...)
	}
	return out
}

// activeHandle returns the owner's handle addressed by ref.
func (m *Manager) activeHandle(owner string, ref mount.Ref) (*mount.Handle, bool) {
	if ref.ByID() {
		h, ok := m.handles[m.byRecord[ref.ID]]
		if !ok || h.Owner != owner {
			return nil, false
		}
		return h, true
	}
	for _, h := range m.ownerHandles(owner) {
		if mount.SameName(h.Name, ref.Name) {
			return h, true
		}
	}
	return nil, false
}

// tag marks a live object as the owner's mount.
func (m *Manager) tag(liveID string, h *mount.Handle) {
	e, ok := m.host.Entity(liveID)
	if !ok {
		return
	}
	e.Tamer = h.Owner
	e.Attrs.SetBool(kinds.AttrTamed, true)
	e.Tags[TagOwner] = h.Owner
	e.Tags[TagRecord] = strconv.FormatInt(h.RecordID, 10)
	if h.Name != "" {
		e.Tags[TagName] = h.Name
	} else {
		delete(e.Tags, TagName)
	}
}
