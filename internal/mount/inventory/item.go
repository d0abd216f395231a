// Package inventory encodes slot-indexed item collections carried by mounts.
//
// Items come in two encodings. The basic path keeps type, count, display name and lore. The
// full path additionally keeps namespaced persistent keys, the custom render model marker and
// the host platform's opaque per-item state. The full path is used when full fidelity is
// configured, and always for items that belong to an extension the core cannot interpret.
package inventory

import (
	"fmt"
	"sort"
	"strings"
)

// Item is a stack in one inventory slot.
type Item struct {
	Type        string            `json:"type"`
	Count       int               `json:"count"`
	DisplayName string            `json:"name,omitempty"`
	Lore        []string          `json:"lore,omitempty"`
	ModelData   *int              `json:"model,omitempty"`
	Keys        map[string]string `json:"keys,omitempty"`
	State       []byte            `json:"state,omitempty"`
}

// Empty reports whether the item represents an empty slot.
func (it Item) Empty() bool {
	return strings.TrimSpace(it.Type) == "" || it.Count <= 0
}

// Namespaces returns the distinct key namespaces ("ns" in "ns:key"), sorted.
func (it Item) Namespaces() []string {
	seen := map[string]struct{}{}
	for k := range it.Keys {
		ns, _, ok := strings.Cut(k, ":")
		if !ok {
			ns = ""
		}
		seen[ns] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

func (it Item) String() string {
	if it.DisplayName != "" {
		return fmt.Sprintf("%s (%s x%d)", it.DisplayName, it.Type, it.Count)
	}
	return fmt.Sprintf("%s x%d", it.Type, it.Count)
}

// Snapshot is an inventory: slot index to item. A missing slot is empty.
type Snapshot struct {
	Size  int
	Slots map[int]Item
}

// NewSnapshot returns an empty inventory of the given size.
func NewSnapshot(size int) Snapshot {
	return Snapshot{Size: size, Slots: map[int]Item{}}
}

// Set stores it in slot, or clears the slot for an empty item.
func (s *Snapshot) Set(slot int, it Item) error {
	if slot < 0 || slot >= s.Size {
		return fmt.Errorf("inventory: slot %d out of range [0,%d)", slot, s.Size)
	}
	if s.Slots == nil {
		s.Slots = map[int]Item{}
	}
	if it.Empty() {
		delete(s.Slots, slot)
		return nil
	}
	s.Slots[slot] = it
	return nil
}

// Get returns the item in slot.
func (s Snapshot) Get(slot int) (Item, bool) {
	it, ok := s.Slots[slot]
	return it, ok
}

// SlotIndexes returns the occupied slots in ascending order.
func (s Snapshot) SlotIndexes() []int {
	out := make([]int, 0, len(s.Slots))
	for i := range s.Slots {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// IsEmpty reports whether no slot is occupied.
func (s Snapshot) IsEmpty() bool { return len(s.Slots) == 0 }

// PlaceholderKey marks items substituted for slots that could not be restored.
const PlaceholderKey = "simplemounts:placeholder"

// Placeholder builds the visible stand-in for an item that failed to load.
func Placeholder(description string) Item {
	return Item{
		Type:        "PAPER",
		Count:       1,
		DisplayName: "Failed to load item",
		Lore:        []string{"failed to load: " + description},
		Keys:        map[string]string{PlaceholderKey: "1"},
	}
}

// IsPlaceholder reports whether it was produced by Placeholder.
func IsPlaceholder(it Item) bool {
	return it.Keys[PlaceholderKey] == "1"
}
