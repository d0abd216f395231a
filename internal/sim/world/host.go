// Package world is the headless host simulation: terrain, players and live entities.
//
// A Host is not safe for concurrent use. It belongs to the simulation loop; other
// goroutines reach it through loop.Do.
package world

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mount/attr"
	"simplemounts.ai/internal/mount/inventory"
	"simplemounts.ai/internal/mount/kinds"
)

// Entity is a live object in the world.
type Entity struct {
	ID        string
	Kind      mount.Kind
	World     string
	Pos       mount.Vec3
	Attrs     attr.Bag
	Inventory inventory.Snapshot
	Tags      map[string]string
	Tamer     string
	Rider     string
	Dead      bool
	SpawnedAt time.Time
}

// Placement returns where the entity is.
func (e *Entity) Placement() mount.Placement {
	return mount.Placement{World: e.World, Pos: e.Pos}
}

// Player is a connected or known owner.
type Player struct {
	ID          string
	Name        string
	Online      bool
	World       string
	Pos         mount.Vec3
	Vehicle     string
	Permissions map[string]bool
}

func (p *Player) Placement() mount.Placement {
	return mount.Placement{World: p.World, Pos: p.Pos}
}

// HasPermission reports whether p holds perm.
func (p *Player) HasPermission(perm string) bool { return p.Permissions[perm] }

// WildSpawn seeds unowned animals at startup.
type WildSpawn struct {
	World  string
	Kind   mount.Kind
	Count  int
	Center mount.Vec3
	Radius int
}

type Config struct {
	Worlds     []WorldSpec
	SpawnWorld string
	SpawnPos   mount.Vec3
	Wild       []WildSpawn
	Seed       int64
}

// Host holds the simulated world state.
type Host struct {
	logger   *zap.Logger
	now      func() time.Time
	rng      *rand.Rand
	worlds   map[string]WorldSpec
	spawnW   string
	spawnPos mount.Vec3

	overrides map[colKey]Column
	entities  map[string]*Entity
	players   map[string]*Player

	onQuit  []func(playerID string)
	onDeath []func(e *Entity)
}

var (
	ErrUnknownWorld  = errors.New("world: unknown world")
	ErrNoEntity      = errors.New("world: no such entity")
	ErrNoPlayer      = errors.New("world: no such player")
	ErrOffline       = errors.New("world: player offline")
	ErrOccupied      = errors.New("world: vehicle occupied")
	ErrNotRiding     = errors.New("world: not riding")
	ErrAlreadyRiding = errors.New("world: already riding")
)

func New(cfg Config, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Worlds) == 0 {
		cfg.Worlds = []WorldSpec{
			{Name: "overworld", Type: TypeOverworld, Seed: cfg.Seed},
			{Name: "nether", Type: TypeNether, Seed: cfg.Seed + 1},
		}
	}
	h := &Host{
		logger:    logger,
		now:       time.Now,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		worlds:    map[string]WorldSpec{},
		overrides: map[colKey]Column{},
		entities:  map[string]*Entity{},
		players:   map[string]*Player{},
	}
	for _, ws := range cfg.Worlds {
		h.worlds[ws.Name] = ws
	}
	h.spawnW = cfg.SpawnWorld
	if _, ok := h.worlds[h.spawnW]; !ok {
		h.spawnW = cfg.Worlds[0].Name
	}
	h.spawnPos = cfg.SpawnPos
	if col, ok := h.ColumnAt(h.spawnW, int(math.Floor(h.spawnPos.X)), int(math.Floor(h.spawnPos.Z))); ok {
		h.spawnPos.Y = float64(col.Y + 1)
	}
	for _, w := range cfg.Wild {
		for i := 0; i < w.Count; i++ {
			h.SpawnWild(w.World, w.Kind, w.Center, w.Radius)
		}
	}
	return h
}

// SetClock overrides the time source.
func (h *Host) SetClock(now func() time.Time) { h.now = now }

// OnPlayerQuit registers fn to run after a player goes offline.
func (h *Host) OnPlayerQuit(fn func(playerID string)) { h.onQuit = append(h.onQuit, fn) }

// OnEntityDeath registers fn to run after an entity died and left the world.
func (h *Host) OnEntityDeath(fn func(e *Entity)) { h.onDeath = append(h.onDeath, fn) }

// Worlds returns the dimension names, sorted.
func (h *Host) Worlds() []string {
	out := make([]string, 0, len(h.worlds))
	for n := range h.worlds {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ColumnAt returns the surface column at (x, z).
func (h *Host) ColumnAt(world string, x, z int) (Column, bool) {
	ws, ok := h.worlds[world]
	if !ok {
		return Column{}, false
	}
	if c, ok := h.overrides[colKey{world, x, z}]; ok {
		return c, true
	}
	return ws.generate(x, z), true
}

// SetColumn overrides the generated column at (x, z).
func (h *Host) SetColumn(world string, x, z int, c Column) {
	h.overrides[colKey{world, x, z}] = c
}

// Spawn creates an entity at p.
func (h *Host) Spawn(kind mount.Kind, p mount.Placement, attrs attr.Bag, inv inventory.Snapshot) (*Entity, error) {
	if _, ok := h.worlds[p.World]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorld, p.World)
	}
	if attrs == nil {
		attrs = attr.New()
	}
	if inv.Slots == nil {
		inv.Slots = map[int]inventory.Item{}
	}
	e := &Entity{
		ID:        uuid.NewString(),
		Kind:      kind,
		World:     p.World,
		Pos:       p.Pos,
		Attrs:     attrs,
		Inventory: inv,
		Tags:      map[string]string{},
		SpawnedAt: h.now(),
	}
	h.entities[e.ID] = e
	h.logger.Debug("entity spawned", zap.String("id", e.ID), zap.String("kind", string(kind)), zap.Stringer("at", p))
	return e, nil
}

// SpawnWild places an unowned animal of kind on solid ground near center.
func (h *Host) SpawnWild(world string, kind mount.Kind, center mount.Vec3, radius int) *Entity {
	if radius <= 0 {
		radius = 16
	}
	near := center.Add(mount.Vec3{X: float64(h.rng.Intn(2*radius+1) - radius), Z: float64(h.rng.Intn(2*radius+1) - radius)})
	rule := kinds.SpawnSolid
	if spec, ok := kinds.Lookup(kind); ok {
		rule = spec.Spawn
	}
	pos, ok := h.SafeSpot(world, near, rule, radius)
	if !ok {
		return nil
	}
	size := 0
	if spec, ok := kinds.Lookup(kind); ok {
		size = spec.InventorySize
	}
	e, err := h.Spawn(kind, mount.Placement{World: world, Pos: pos}, kinds.Wild(kind, h.rng), inventory.NewSnapshot(size))
	if err != nil {
		return nil
	}
	return e
}

// Entity returns a live entity.
func (h *Host) Entity(id string) (*Entity, bool) {
	e, ok := h.entities[id]
	return e, ok
}

// Entities returns every live entity ordered by id.
func (h *Host) Entities() []*Entity {
	out := make([]*Entity, 0, len(h.entities))
	for _, e := range h.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Nearby returns live entities within radius of p, closest first.
func (h *Host) Nearby(p mount.Placement, radius float64) []*Entity {
	var out []*Entity
	for _, e := range h.entities {
		if e.World == p.World && e.Pos.Distance(p.Pos, false) <= radius {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Pos.Distance(p.Pos, false), out[j].Pos.Distance(p.Pos, false)
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Remove takes an entity out of the world, ejecting its rider.
func (h *Host) Remove(id string) bool {
	e, ok := h.entities[id]
	if !ok {
		return false
	}
	h.eject(e)
	delete(h.entities, id)
	return true
}

// Kill marks an entity dead, removes it and notifies death listeners.
func (h *Host) Kill(id string) bool {
	e, ok := h.entities[id]
	if !ok {
		return false
	}
	e.Dead = true
	h.Remove(id)
	for _, fn := range h.onDeath {
		fn(e)
	}
	return true
}

func (h *Host) eject(e *Entity) {
	if e.Rider == "" {
		return
	}
	if p, ok := h.players[e.Rider]; ok && p.Vehicle == e.ID {
		p.Vehicle = ""
	}
	e.Rider = ""
}

// Join brings a player online at the world spawn, or at their last position when known.
func (h *Host) Join(id, name string, perms []string) *Player {
	p, ok := h.players[id]
	if !ok {
		p = &Player{ID: id, World: h.spawnW, Pos: h.spawnPos}
		h.players[id] = p
	}
	if name != "" {
		p.Name = name
	}
	p.Permissions = map[string]bool{}
	for _, perm := range perms {
		p.Permissions[perm] = true
	}
	p.Online = true
	return p
}

// Quit takes a player offline, dismounting first, then notifies quit listeners.
func (h *Host) Quit(id string) bool {
	p, ok := h.players[id]
	if !ok || !p.Online {
		return false
	}
	if p.Vehicle != "" {
		if e, ok := h.entities[p.Vehicle]; ok {
			h.eject(e)
		}
		p.Vehicle = ""
	}
	p.Online = false
	for _, fn := range h.onQuit {
		fn(id)
	}
	return true
}

// Player returns a known player.
func (h *Host) Player(id string) (*Player, bool) {
	p, ok := h.players[id]
	return p, ok
}

// OnlinePlayers returns the ids of online players, sorted.
func (h *Host) OnlinePlayers() []string {
	var out []string
	for id, p := range h.players {
		if p.Online {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Move teleports a player; a ridden vehicle moves along.
func (h *Host) Move(id string, to mount.Placement) error {
	p, ok := h.players[id]
	if !ok {
		return ErrNoPlayer
	}
	if !p.Online {
		return ErrOffline
	}
	if _, ok := h.worlds[to.World]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorld, to.World)
	}
	p.World, p.Pos = to.World, to.Pos
	if e, ok := h.entities[p.Vehicle]; ok {
		e.World, e.Pos = to.World, to.Pos
	}
	return nil
}

// Ride seats a player on an entity.
func (h *Host) Ride(playerID, entityID string) error {
	p, ok := h.players[playerID]
	if !ok {
		return ErrNoPlayer
	}
	if !p.Online {
		return ErrOffline
	}
	if p.Vehicle != "" {
		return ErrAlreadyRiding
	}
	e, ok := h.entities[entityID]
	if !ok {
		return ErrNoEntity
	}
	if e.Rider != "" {
		return ErrOccupied
	}
	e.Rider = playerID
	p.Vehicle = entityID
	p.World, p.Pos = e.World, e.Pos
	return nil
}

// Dismount takes a player off their vehicle.
func (h *Host) Dismount(playerID string) error {
	p, ok := h.players[playerID]
	if !ok {
		return ErrNoPlayer
	}
	e, ok := h.entities[p.Vehicle]
	if !ok {
		p.Vehicle = ""
		return ErrNotRiding
	}
	h.eject(e)
	return nil
}

// Vehicle returns the entity a player rides.
func (h *Host) Vehicle(playerID string) (*Entity, bool) {
	p, ok := h.players[playerID]
	if !ok || p.Vehicle == "" {
		return nil, false
	}
	e, ok := h.entities[p.Vehicle]
	return e, ok
}

// SafeSpot searches outward from near, ring by ring up to radius, for a column matching
// rule: solid ground with two free blocks above, or open lava. The returned position
// stands on top of the surface.
func (h *Host) SafeSpot(world string, near mount.Vec3, rule kinds.SpawnRule, radius int) (mount.Vec3, bool) {
	if _, ok := h.worlds[world]; !ok {
		return mount.Vec3{}, false
	}
	cx, cz := int(math.Floor(near.X)), int(math.Floor(near.Z))
	for r := 0; r <= radius; r++ {
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				if max(abs(dx), abs(dz)) != r {
					continue
				}
				x, z := cx+dx, cz+dz
				col, _ := h.ColumnAt(world, x, z)
				if suits(col, rule) {
					return mount.Vec3{X: float64(x) + 0.5, Y: float64(col.Y + 1), Z: float64(z) + 0.5}, true
				}
			}
		}
	}
	return mount.Vec3{}, false
}

func suits(c Column, rule kinds.SpawnRule) bool {
	if rule == kinds.SpawnLava {
		return c.Surface == SurfaceLava && c.Headroom >= 2
	}
	return c.Surface.Solid() && c.Headroom >= 2
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Tick lets wild animals wander and keeps ridden entities under their riders.
func (h *Host) Tick(now time.Time) {
	for _, e := range h.entities {
		if e.Rider != "" {
			if p, ok := h.players[e.Rider]; ok {
				e.World, e.Pos = p.World, p.Pos
			}
			continue
		}
		if e.Tamer != "" || h.rng.Intn(40) != 0 {
			continue
		}
		next := e.Pos.Add(mount.Vec3{X: float64(h.rng.Intn(3) - 1), Z: float64(h.rng.Intn(3) - 1)})
		col, ok := h.ColumnAt(e.World, int(math.Floor(next.X)), int(math.Floor(next.Z)))
		if ok && suits(col, spawnRuleOf(e.Kind)) {
			next.Y = float64(col.Y + 1)
			e.Pos = next
		}
	}
}

func spawnRuleOf(k mount.Kind) kinds.SpawnRule {
	if s, ok := kinds.Lookup(k); ok {
		return s.Spawn
	}
	return kinds.SpawnSolid
}
