package world

import "fmt"

// Surface is the top block of a column.
type Surface uint8

const (
	SurfaceAir Surface = iota
	SurfaceGrass
	SurfaceSand
	SurfaceStone
	SurfaceNetherrack
	SurfaceWater
	SurfaceLava
)

var surfaceNames = [...]string{"AIR", "GRASS", "SAND", "STONE", "NETHERRACK", "WATER", "LAVA"}

func (s Surface) String() string {
	if int(s) < len(surfaceNames) {
		return surfaceNames[s]
	}
	return fmt.Sprintf("SURFACE(%d)", s)
}

// Solid reports whether a mount can stand on s.
func (s Surface) Solid() bool {
	switch s {
	case SurfaceGrass, SurfaceSand, SurfaceStone, SurfaceNetherrack:
		return true
	}
	return false
}

// Liquid reports whether s is water or lava.
func (s Surface) Liquid() bool { return s == SurfaceWater || s == SurfaceLava }

// Column is the surface of one (x, z) column.
type Column struct {
	Y       int
	Surface Surface
	// Headroom is the number of free blocks above the surface.
	Headroom int
}

const (
	TypeOverworld = "overworld"
	TypeNether    = "nether"
)

// WorldSpec describes one generated dimension.
type WorldSpec struct {
	Name       string
	Type       string
	Seed       int64
	RegionSize int
}

type colKey struct {
	world string
	x, z  int
}

func floorDiv(a, b int) int {
	q := a / b
	if r := a % b; r < 0 {
		q--
	}
	return q
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	return mix64(uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9))
}

// generate returns the deterministic column at (x, z). Overworld regions are plains,
// desert or lake; nether regions are a lava sea with netherrack shelves and low ceilings.
func (ws WorldSpec) generate(x, z int) Column {
	rs := ws.RegionSize
	if rs <= 0 {
		rs = 16
	}
	region := hash2(ws.Seed, floorDiv(x, rs), floorDiv(z, rs))
	jitter := int(hash2(ws.Seed^0x5bd1e995, x, z) % 3)

	switch ws.Type {
	case TypeNether:
		if region%3 == 0 {
			return Column{Y: 31, Surface: SurfaceLava, Headroom: 8}
		}
		return Column{Y: 32 + jitter, Surface: SurfaceNetherrack, Headroom: 1 + int(region%4)}
	default:
		switch region % 4 {
		case 0:
			return Column{Y: 62, Surface: SurfaceWater, Headroom: 64}
		case 1:
			return Column{Y: 64 + jitter, Surface: SurfaceSand, Headroom: 64}
		default:
			return Column{Y: 64 + jitter, Surface: SurfaceGrass, Headroom: 64}
		}
	}
}
