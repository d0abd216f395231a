package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mount/attr"
	"simplemounts.ai/internal/mount/inventory"
	"simplemounts.ai/internal/mount/kinds"
)

func newHost(t *testing.T) *Host {
	t.Helper()
	return New(Config{Seed: 7}, nil)
}

func TestGenerateIsDeterministic(t *testing.T) {
	a := WorldSpec{Name: "w", Type: TypeOverworld, Seed: 42}
	b := WorldSpec{Name: "w", Type: TypeOverworld, Seed: 42}
	for x := -40; x < 40; x += 7 {
		for z := -40; z < 40; z += 5 {
			assert.Equal(t, a.generate(x, z), b.generate(x, z))
		}
	}
	assert.Equal(t, -1, floorDiv(-1, 16))
	assert.Equal(t, 0, floorDiv(15, 16))
}

func TestSpawnRemoveKill(t *testing.T) {
	h := newHost(t)
	var died []string
	h.OnEntityDeath(func(e *Entity) { died = append(died, e.ID) })

	e, err := h.Spawn(mount.KindHorse, mount.Placement{World: "overworld"}, attr.Bag{"speed": attr.Float(0.3)}, inventory.Snapshot{})
	require.NoError(t, err)
	got, ok := h.Entity(e.ID)
	require.True(t, ok)
	assert.Equal(t, 0.3, got.Attrs.Float("speed", 0))
	assert.NotNil(t, got.Inventory.Slots)

	_, err = h.Spawn(mount.KindHorse, mount.Placement{World: "end"}, nil, inventory.Snapshot{})
	assert.ErrorIs(t, err, ErrUnknownWorld)

	assert.True(t, h.Remove(e.ID))
	assert.False(t, h.Remove(e.ID))
	assert.Empty(t, died, "remove is not death")

	e2, _ := h.Spawn(mount.KindPig, mount.Placement{World: "overworld"}, nil, inventory.Snapshot{})
	assert.True(t, h.Kill(e2.ID))
	assert.Equal(t, []string{e2.ID}, died)
	assert.True(t, e2.Dead)
	_, ok = h.Entity(e2.ID)
	assert.False(t, ok)
}

func TestRideMoveAndQuit(t *testing.T) {
	h := newHost(t)
	var quits []string
	h.OnPlayerQuit(func(id string) {
		p, _ := h.Player(id)
		assert.Empty(t, p.Vehicle, "dismounted before quit hooks")
		quits = append(quits, id)
	})

	p := h.Join("alice", "Alice", []string{"mounts.tier.vip"})
	assert.True(t, p.HasPermission("mounts.tier.vip"))
	assert.Equal(t, []string{"alice"}, h.OnlinePlayers())

	e, _ := h.Spawn(mount.KindHorse, mount.Placement{World: "overworld", Pos: mount.Vec3{X: 3, Y: 65, Z: 3}}, nil, inventory.Snapshot{})
	require.NoError(t, h.Ride("alice", e.ID))
	assert.ErrorIs(t, h.Ride("alice", e.ID), ErrAlreadyRiding)
	v, ok := h.Vehicle("alice")
	require.True(t, ok)
	assert.Equal(t, e.ID, v.ID)

	to := mount.Placement{World: "nether", Pos: mount.Vec3{X: 100, Y: 40, Z: -5}}
	require.NoError(t, h.Move("alice", to))
	assert.Equal(t, to, e.Placement())

	h.Join("bob", "Bob", nil)
	assert.ErrorIs(t, h.Ride("bob", e.ID), ErrOccupied)

	assert.True(t, h.Quit("alice"))
	assert.False(t, h.Quit("alice"))
	assert.Equal(t, []string{"alice"}, quits)
	assert.Empty(t, e.Rider)
	assert.ErrorIs(t, h.Move("alice", to), ErrOffline)

	// Rejoining keeps the last position.
	p = h.Join("alice", "", nil)
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, to, p.Placement())
	assert.False(t, p.HasPermission("mounts.tier.vip"))
}

func TestRemoveEjectsRider(t *testing.T) {
	h := newHost(t)
	h.Join("alice", "Alice", nil)
	e, _ := h.Spawn(mount.KindHorse, mount.Placement{World: "overworld"}, nil, inventory.Snapshot{})
	require.NoError(t, h.Ride("alice", e.ID))
	h.Remove(e.ID)
	_, ok := h.Vehicle("alice")
	assert.False(t, ok)
	assert.ErrorIs(t, h.Dismount("alice"), ErrNotRiding)
}

func TestSafeSpot(t *testing.T) {
	h := New(Config{Worlds: []WorldSpec{{Name: "flat", Type: TypeOverworld, Seed: 1}}}, nil)
	// Surround the origin with water except one grass column.
	for x := -3; x <= 3; x++ {
		for z := -3; z <= 3; z++ {
			h.SetColumn("flat", x, z, Column{Y: 62, Surface: SurfaceWater, Headroom: 64})
		}
	}
	h.SetColumn("flat", 2, -1, Column{Y: 70, Surface: SurfaceGrass, Headroom: 64})

	pos, ok := h.SafeSpot("flat", mount.Vec3{X: 0.2, Z: 0.7}, kinds.SpawnSolid, 3)
	require.True(t, ok)
	assert.Equal(t, mount.Vec3{X: 2.5, Y: 71, Z: -0.5}, pos)

	_, ok = h.SafeSpot("flat", mount.Vec3{}, kinds.SpawnLava, 3)
	assert.False(t, ok, "no lava nearby")

	h.SetColumn("flat", 0, 0, Column{Y: 31, Surface: SurfaceLava, Headroom: 4})
	pos, ok = h.SafeSpot("flat", mount.Vec3{}, kinds.SpawnLava, 3)
	require.True(t, ok)
	assert.Equal(t, mount.Vec3{X: 0.5, Y: 32, Z: 0.5}, pos)

	h.SetColumn("flat", 0, 0, Column{Y: 64, Surface: SurfaceStone, Headroom: 1})
	h.SetColumn("flat", 2, -1, Column{Y: 64, Surface: SurfaceStone, Headroom: 1})
	_, ok = h.SafeSpot("flat", mount.Vec3{}, kinds.SpawnSolid, 3)
	assert.False(t, ok, "low ceilings do not fit a mount")

	_, ok = h.SafeSpot("missing", mount.Vec3{}, kinds.SpawnSolid, 3)
	assert.False(t, ok)
}

func TestWildSpawnsAndNearby(t *testing.T) {
	h := New(Config{Seed: 3, Wild: []WildSpawn{{World: "overworld", Kind: mount.KindHorse, Count: 4, Radius: 24}}}, nil)
	wild := h.Entities()
	require.NotEmpty(t, wild)
	for _, e := range wild {
		assert.Equal(t, mount.KindHorse, e.Kind)
		assert.Empty(t, e.Tamer)
		assert.Equal(t, 2, e.Inventory.Size)
		assert.True(t, e.Attrs.Has(kinds.AttrMaxHealth))
	}
	near := h.Nearby(mount.Placement{World: "overworld"}, 1000)
	assert.Len(t, near, len(wild))
	assert.Empty(t, h.Nearby(mount.Placement{World: "nether"}, 1000))
}

func TestTickCarriesRiddenEntity(t *testing.T) {
	h := newHost(t)
	h.Join("alice", "Alice", nil)
	e, _ := h.Spawn(mount.KindHorse, mount.Placement{World: "overworld"}, nil, inventory.Snapshot{})
	require.NoError(t, h.Ride("alice", e.ID))
	p, _ := h.Player("alice")
	p.Pos = mount.Vec3{X: 9, Y: 66, Z: 9}
	h.Tick(e.SpawnedAt)
	assert.Equal(t, p.Pos, e.Pos)
}
