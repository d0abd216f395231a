// Package kinds is the per-kind catalog: which kinds can be claimed and ridden, how much
// inventory they carry, where they may spawn, and the typed view of their core traits.
package kinds

import (
	"math"
	"math/rand"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mount/attr"
)

// SpawnRule selects the surface a kind may be placed on.
type SpawnRule uint8

const (
	// SpawnSolid needs solid ground with two free blocks above.
	SpawnSolid SpawnRule = iota
	// SpawnLava needs a lava surface; heat-dependent kinds take damage elsewhere.
	SpawnLava
)

func (r SpawnRule) String() string {
	if r == SpawnLava {
		return "lava"
	}
	return "solid"
}

// Spec describes one kind.
type Spec struct {
	Kind          mount.Kind
	Rideable      bool
	InventorySize int
	Spawn         SpawnRule
}

var catalog = map[mount.Kind]Spec{
	mount.KindHorse:         {Kind: mount.KindHorse, Rideable: true, InventorySize: 2},
	mount.KindDonkey:        {Kind: mount.KindDonkey, Rideable: true, InventorySize: 17},
	mount.KindMule:          {Kind: mount.KindMule, Rideable: true, InventorySize: 17},
	mount.KindSkeletonHorse: {Kind: mount.KindSkeletonHorse, Rideable: true, InventorySize: 1},
	mount.KindZombieHorse:   {Kind: mount.KindZombieHorse, Rideable: true, InventorySize: 1},
	mount.KindLlama:         {Kind: mount.KindLlama, Rideable: true, InventorySize: 16},
	mount.KindTraderLlama:   {Kind: mount.KindTraderLlama, Rideable: true, InventorySize: 16},
	mount.KindCamel:         {Kind: mount.KindCamel, Rideable: true, InventorySize: 1},
	mount.KindStrider:       {Kind: mount.KindStrider, Rideable: true, InventorySize: 1, Spawn: SpawnLava},
	mount.KindPig:           {Kind: mount.KindPig, Rideable: true, InventorySize: 1},
}

// Lookup returns the catalog entry for k.
func Lookup(k mount.Kind) (Spec, bool) {
	s, ok := catalog[k]
	return s, ok
}

// Supported reports whether k can be claimed.
func Supported(k mount.Kind) bool {
	_, ok := catalog[k]
	return ok
}

// All returns the catalog in mount.Kinds order.
func All() []Spec {
	out := make([]Spec, 0, len(catalog))
	for _, k := range mount.Kinds() {
		if s, ok := catalog[k]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Attribute names shared by all kinds.
const (
	AttrMaxHealth = "max_health"
	AttrHealth    = "health"
	AttrSpeed     = "movement_speed"
	AttrJump      = "jump_strength"
	AttrAge       = "age"
	AttrTamed     = "tamed"
	AttrSaddled   = "saddled"
	AttrColor     = "color"
	AttrStyle     = "style"
	AttrStrength  = "strength"
	AttrChest     = "has_chest"
)

const defaultMaxHealth = 20

// Traits is the typed view of the attributes the core interprets. Everything else in the
// bag is carried opaquely.
type Traits struct {
	MaxHealth float64 `attr:"max_health" json:"max_health"`
	Health    float64 `attr:"health" json:"health"`
	Speed     float64 `attr:"movement_speed" json:"movement_speed"`
	Jump      float64 `attr:"jump_strength" json:"jump_strength,omitempty"`
	Age       int64   `attr:"age" json:"age"`
	Tamed     bool    `attr:"tamed" json:"tamed"`
	Saddled   bool    `attr:"saddled" json:"saddled"`
	Color     string  `attr:"color" json:"color,omitempty"`
	Style     string  `attr:"style" json:"style,omitempty"`
	Strength  int64   `attr:"strength" json:"strength,omitempty"`
	HasChest  bool    `attr:"has_chest" json:"has_chest,omitempty"`
}

// TraitsOf decodes the interpreted traits from b.
func TraitsOf(b attr.Bag) (Traits, error) {
	var t Traits
	err := attr.DecodeInto(b, &t)
	return t, err
}

// Baby reports whether the bag describes a juvenile, which cannot be ridden.
func Baby(b attr.Bag) bool {
	return b.Int(AttrAge, 0) < 0
}

// Normalize clamps interpreted traits into their legal ranges in place and reports whether
// anything changed. Unknown names are never touched.
func Normalize(k mount.Kind, b attr.Bag) bool {
	changed := false
	if b.Has(AttrMaxHealth) {
		mh := b.Float(AttrMaxHealth, defaultMaxHealth)
		if mh <= 0 || math.IsNaN(mh) || math.IsInf(mh, 0) {
			b.SetFloat(AttrMaxHealth, defaultMaxHealth)
			changed = true
		}
	}
	if b.Has(AttrHealth) {
		mh := b.Float(AttrMaxHealth, defaultMaxHealth)
		h := b.Float(AttrHealth, mh)
		switch {
		case math.IsNaN(h) || h > mh:
			b.SetFloat(AttrHealth, mh)
			changed = true
		case h <= 0:
			// A stored mount is never dead.
			b.SetFloat(AttrHealth, 1)
			changed = true
		}
	}
	if v, ok := b.Get(AttrSpeed); ok {
		if f, _ := v.AsFloat(); f < 0 || math.IsNaN(f) {
			b.SetFloat(AttrSpeed, 0)
			changed = true
		}
	}
	if k == mount.KindLlama || k == mount.KindTraderLlama {
		if v, ok := b.Get(AttrStrength); ok {
			s, _ := v.AsInt()
			c := min(max(s, 1), 5)
			if c != s || v.Type() != attr.TypeInt {
				b.SetInt(AttrStrength, c)
				changed = true
			}
		}
	}
	return changed
}

var colors = map[mount.Kind][]string{
	mount.KindHorse: {"WHITE", "CREAMY", "CHESTNUT", "BROWN", "BLACK", "GRAY", "DARK_BROWN"},
	mount.KindLlama: {"CREAMY", "WHITE", "BROWN", "GRAY"},
}

// Wild returns the attributes of a freshly spawned wild animal of kind k.
func Wild(k mount.Kind, rng *rand.Rand) attr.Bag {
	b := attr.New()
	mh := 15 + float64(rng.Intn(16))
	b.SetFloat(AttrMaxHealth, mh)
	b.SetFloat(AttrHealth, mh)
	b.SetFloat(AttrSpeed, 0.1125+rng.Float64()*0.225)
	b.SetInt(AttrAge, 0)
	b.SetBool(AttrTamed, false)
	b.SetBool(AttrSaddled, false)
	switch k {
	case mount.KindHorse, mount.KindDonkey, mount.KindMule, mount.KindSkeletonHorse, mount.KindZombieHorse:
		b.SetFloat(AttrJump, 0.4+rng.Float64()*0.6)
	case mount.KindCamel:
		b.SetFloat(AttrMaxHealth, 32)
		b.SetFloat(AttrHealth, 32)
	case mount.KindLlama, mount.KindTraderLlama:
		b.SetInt(AttrStrength, int64(1+rng.Intn(5)))
	}
	if cs := colors[k]; len(cs) > 0 {
		b.SetString(AttrColor, cs[rng.Intn(len(cs))])
	}
	if k == mount.KindTraderLlama {
		b.SetString(AttrColor, colors[mount.KindLlama][rng.Intn(4)])
	}
	return b
}
