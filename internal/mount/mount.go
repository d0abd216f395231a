// Package mount holds the durable and live-side types shared by the lifecycle core.
package mount

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind is the closed set of mount kinds the core understands.
type Kind string

const (
	KindHorse         Kind = "HORSE"
	KindDonkey        Kind = "DONKEY"
	KindMule          Kind = "MULE"
	KindSkeletonHorse Kind = "SKELETON_HORSE"
	KindZombieHorse   Kind = "ZOMBIE_HORSE"
	KindLlama         Kind = "LLAMA"
	KindTraderLlama   Kind = "TRADER_LLAMA"
	KindCamel         Kind = "CAMEL"
	KindStrider       Kind = "STRIDER"
	KindPig           Kind = "PIG"
)

var allKinds = []Kind{
	KindHorse, KindDonkey, KindMule, KindSkeletonHorse, KindZombieHorse,
	KindLlama, KindTraderLlama, KindCamel, KindStrider, KindPig,
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseKind normalizes s and reports whether it names a known kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range allKinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

func (k Kind) Valid() bool {
	_, ok := ParseKind(string(k))
	return ok
}

// Record is the durable form of a mount.
type Record struct {
	ID           int64
	Owner        string
	Name         *string // nil means unnamed, which is distinct from "not found".
	Kind         Kind
	Attributes   []byte
	Inventory    []byte // nil when the kind carries no inventory.
	CreatedAt    time.Time
	LastAccessed time.Time
}

// DisplayName returns the name or "" for unnamed records.
func (r Record) DisplayName() string {
	if r.Name == nil {
		return ""
	}
	return *r.Name
}

// Label identifies the record for humans and logs: its name, or "#<id>".
func (r Record) Label() string {
	if r.Name != nil && *r.Name != "" {
		return *r.Name
	}
	return "#" + strconv.FormatInt(r.ID, 10)
}

// NamePtr returns a pointer to name, or nil for the empty string.
func NamePtr(name string) *string {
	if name == "" {
		return nil
	}
	return &name
}

// Vec3 is a position in a world.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

// Distance returns the euclidean distance; planar ignores the Y axis.
func (v Vec3) Distance(o Vec3, planar bool) float64 {
	dx := v.X - o.X
	dz := v.Z - o.Z
	if planar {
		return math.Hypot(dx, dz)
	}
	dy := v.Y - o.Y
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Placement is a world plus position.
type Placement struct {
	World string `json:"world"`
	Pos   Vec3   `json:"pos"`
}

func (p Placement) String() string {
	return fmt.Sprintf("%s(%.1f, %.1f, %.1f)", p.World, p.Pos.X, p.Pos.Y, p.Pos.Z)
}

// Handle is the live-side bookkeeping for an active (summoned or claimed) mount.
// It is owned by the simulation loop.
type Handle struct {
	LiveID    string
	Owner     string
	RecordID  int64
	Kind      Kind
	Name      string
	Placement Placement
	SpawnedAt time.Time
}

// Label identifies the handle for humans and logs.
func (h *Handle) Label() string {
	if h.Name != "" {
		return h.Name
	}
	return "#" + strconv.FormatInt(h.RecordID, 10)
}

// ActivePlacement is the durable row mirroring a Handle.
type ActivePlacement struct {
	LiveID    string
	Owner     string
	RecordID  int64
	Name      *string
	Placement Placement
	SpawnedAt time.Time
}

// PlacementOf builds the durable row for h.
func PlacementOf(h *Handle) ActivePlacement {
	return ActivePlacement{
		LiveID:    h.LiveID,
		Owner:     h.Owner,
		RecordID:  h.RecordID,
		Name:      NamePtr(h.Name),
		Placement: h.Placement,
		SpawnedAt: h.SpawnedAt,
	}
}

// Ref addresses a record either by name or by id ("#12").
type Ref struct {
	ID   int64
	Name string
}

// ParseRef parses a user-supplied reference. "#<digits>" addresses an id; anything else is
// a name.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("empty reference")
	}
	if strings.HasPrefix(s, "#") {
		id, err := strconv.ParseInt(s[1:], 10, 64)
		if err != nil || id <= 0 {
			return Ref{}, fmt.Errorf("bad id reference %q", s)
		}
		return Ref{ID: id}, nil
	}
	return Ref{Name: s}, nil
}

// ByID reports whether the ref addresses an id.
func (r Ref) ByID() bool { return r.ID > 0 }

func (r Ref) String() string {
	if r.ByID() {
		return "#" + strconv.FormatInt(r.ID, 10)
	}
	return r.Name
}

// SortRecords orders records by creation time then id.
func SortRecords(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
