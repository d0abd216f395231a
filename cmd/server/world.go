package main

import (
	"strings"

	"simplemounts.ai/internal/config"
	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/sim/world"
)

// hostConfig maps the world section of mounts.yaml onto the host simulation.
func hostConfig(wc config.WorldConfig) world.Config {
	out := world.Config{
		SpawnWorld: wc.SpawnWorld,
		SpawnPos:   mount.Vec3{X: wc.SpawnX, Z: wc.SpawnZ},
		Seed:       wc.Seed,
	}
	for _, w := range wc.Worlds {
		typ := strings.ToLower(strings.TrimSpace(w.Type))
		if typ == "" {
			typ = world.TypeOverworld
		}
		out.Worlds = append(out.Worlds, world.WorldSpec{
			Name:       w.Name,
			Type:       typ,
			Seed:       wc.Seed + w.SeedOffset,
			RegionSize: w.RegionSize,
		})
	}
	for _, s := range wc.Wild {
		kind, ok := mount.ParseKind(s.Kind)
		if !ok || s.Count <= 0 {
			continue
		}
		name := s.World
		if name == "" {
			name = wc.SpawnWorld
		}
		out.Wild = append(out.Wild, world.WildSpawn{
			World:  name,
			Kind:   kind,
			Count:  s.Count,
			Center: mount.Vec3{X: s.X, Z: s.Z},
			Radius: s.Radius,
		})
	}
	return out
}
