// Package registry is the in-memory index of active mounts per owner. It is shared by the
// simulation loop and background completions and does no I/O.
package registry

import (
	"sort"
	"sync"
)

// Registry maps owner to live ids and live id to cached display name.
type Registry struct {
	mu      sync.RWMutex
	byOwner map[string]map[string]struct{}
	entries map[string]entry
}

type entry struct {
	owner string
	name  string
}

func New() *Registry {
	return &Registry{
		byOwner: map[string]map[string]struct{}{},
		entries: map[string]entry{},
	}
}

// Track records liveID as active for owner. Tracking an id again moves it to the new
// owner and name.
func (r *Registry) Track(owner, liveID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[liveID]; ok && prev.owner != owner {
		r.dropLocked(prev.owner, liveID)
	}
	set := r.byOwner[owner]
	if set == nil {
		set = map[string]struct{}{}
		r.byOwner[owner] = set
	}
	set[liveID] = struct{}{}
	r.entries[liveID] = entry{owner: owner, name: name}
}

// Untrack forgets liveID for owner and reports whether it was tracked for that owner.
func (r *Registry) Untrack(owner, liveID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[liveID]
	if !ok || e.owner != owner {
		return false
	}
	r.dropLocked(owner, liveID)
	delete(r.entries, liveID)
	return true
}

func (r *Registry) dropLocked(owner, liveID string) {
	set := r.byOwner[owner]
	delete(set, liveID)
	if len(set) == 0 {
		delete(r.byOwner, owner)
	}
}

// Rename updates the cached name of liveID.
func (r *Registry) Rename(liveID, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[liveID]
	if !ok {
		return false
	}
	e.name = name
	r.entries[liveID] = e
	return true
}

// ActiveIDsFor returns a sorted copy of owner's live ids.
func (r *Registry) ActiveIDsFor(owner string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byOwner[owner]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// NameOf returns the cached name of liveID; ok is false when the id is not tracked.
func (r *Registry) NameOf(liveID string) (name string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[liveID]
	return e.name, ok
}

// OwnerOf returns the owner liveID is tracked under.
func (r *Registry) OwnerOf(liveID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[liveID]
	return e.owner, ok
}

func (r *Registry) IsActive(liveID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[liveID]
	return ok
}

// Owners returns every owner with at least one tracked id, sorted.
func (r *Registry) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byOwner))
	for o := range r.byOwner {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked ids.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
