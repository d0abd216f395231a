// Package config loads mounts.yaml, applies SM_* environment overrides and serves the
// current configuration to the rest of the process.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Limits      LimitsConfig      `yaml:"limits"`
	Names       NamesConfig       `yaml:"names"`
	Claim       ClaimConfig       `yaml:"claim"`
	Summon      SummonConfig      `yaml:"summon"`
	Distance    DistanceConfig    `yaml:"distance"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
	Codec       CodecConfig       `yaml:"codec"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Locks       LocksConfig       `yaml:"locks"`
	Offsite     OffsiteConfig     `yaml:"offsite"`
	World       WorldConfig       `yaml:"world"`
}

type ServerConfig struct {
	Addr       string `yaml:"addr"`
	TickRateHz int    `yaml:"tick_rate_hz"`
	AdminToken string `yaml:"admin_token"`
}

type StorageConfig struct {
	Path      string `yaml:"path"`
	DataDir   string `yaml:"data_dir"`
	IOWorkers int    `yaml:"io_workers"`
	IOQueue   int    `yaml:"io_queue"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LimitsConfig caps how many records an owner may hold. A kind without an entry in Kinds
// is bounded only by Total.
type LimitsConfig struct {
	Total int            `yaml:"total"`
	Kinds map[string]int `yaml:"kinds,omitempty"`
	Tiers []TierConfig   `yaml:"tiers,omitempty"`
}

// TierConfig raises limits for owners holding Permission.
type TierConfig struct {
	Permission string         `yaml:"permission"`
	Total      int            `yaml:"total"`
	Kinds      map[string]int `yaml:"kinds,omitempty"`
}

type NamesConfig struct {
	MinLength int      `yaml:"min_length"`
	MaxLength int      `yaml:"max_length"`
	Blacklist []string `yaml:"blacklist,omitempty"`
}

type ClaimConfig struct {
	// Reach is how far an owner may be from an animal they claim without riding it.
	Reach float64 `yaml:"reach"`
}

type SummonConfig struct {
	SearchRadius int     `yaml:"search_radius"`
	Offset       float64 `yaml:"offset"`
}

type DistanceConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Max        float64       `yaml:"max"`
	Planar     bool          `yaml:"planar"`
	Grace      time.Duration `yaml:"grace"`
	CheckEvery time.Duration `yaml:"check_every"`
}

type ShutdownConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	ForceImmediate bool          `yaml:"force_immediate"`
}

type CodecConfig struct {
	Compression          bool     `yaml:"compression"`
	FullFidelityItems    bool     `yaml:"full_fidelity_items"`
	ExtensionNamespaces  []string `yaml:"extension_namespaces,omitempty"`
	ExtensionLoreMarkers []string `yaml:"extension_lore_markers,omitempty"`
	ModelDataIsExtension bool     `yaml:"model_data_is_extension"`
}

type MaintenanceConfig struct {
	StaleActiveAfter time.Duration `yaml:"stale_active_after"`
	ActiveSweepEvery time.Duration `yaml:"active_sweep_every"`
	PruneAfter       time.Duration `yaml:"prune_after"`
	PruneEvery       time.Duration `yaml:"prune_every"`
}

const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

type LocksConfig struct {
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Prefix        string        `yaml:"prefix"`
	TTL           time.Duration `yaml:"ttl"`
	Wait          time.Duration `yaml:"wait"`
}

// OffsiteConfig mirrors backups and closed audit files to an S3-compatible bucket.
type OffsiteConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
	Workers         int    `yaml:"workers"`
	Queue           int    `yaml:"queue"`
}

type WorldConfig struct {
	Seed       int64             `yaml:"seed"`
	SpawnWorld string            `yaml:"spawn_world"`
	SpawnX     float64           `yaml:"spawn_x"`
	SpawnZ     float64           `yaml:"spawn_z"`
	Worlds     []WorldSpecConfig `yaml:"worlds"`
	Wild       []WildConfig      `yaml:"wild,omitempty"`
}

type WorldSpecConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	SeedOffset int64  `yaml:"seed_offset"`
	RegionSize int    `yaml:"region_size"`
}

type WildConfig struct {
	World  string  `yaml:"world"`
	Kind   string  `yaml:"kind"`
	Count  int     `yaml:"count"`
	X      float64 `yaml:"x"`
	Z      float64 `yaml:"z"`
	Radius int     `yaml:"radius"`
}

// Load reads path over the defaults, applies environment overrides and validates the result.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("mounts.yaml: %w", err)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("mounts.yaml: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8080", TickRateHz: 20},
		Storage: StorageConfig{Path: "data/mounts.sqlite", DataDir: "data", IOWorkers: 4, IOQueue: 1024},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			ServiceName: "simplemounts",
			SampleRatio: 1,
		},
		Limits: LimitsConfig{Total: 3},
		Names:  NamesConfig{MinLength: 3, MaxLength: 16},
		Claim:  ClaimConfig{Reach: 6},
		Summon: SummonConfig{SearchRadius: 8, Offset: 2},
		Distance: DistanceConfig{
			Enabled:    true,
			Max:        100,
			Grace:      30 * time.Second,
			CheckEvery: 5 * time.Second,
		},
		Shutdown: ShutdownConfig{Timeout: 10 * time.Second},
		Codec:    CodecConfig{Compression: true, ExtensionNamespaces: []string{"minecraft"}},
		Maintenance: MaintenanceConfig{
			StaleActiveAfter: 24 * time.Hour,
			ActiveSweepEvery: 10 * time.Minute,
			PruneAfter:       0,
			PruneEvery:       24 * time.Hour,
		},
		Locks: LocksConfig{
			Backend: LockBackendLocal,
			Prefix:  "simplemounts:lock:",
			TTL:     30 * time.Second,
			Wait:    2 * time.Second,
		},
		Offsite: OffsiteConfig{Region: "auto", Workers: 1, Queue: 256},
		World: WorldConfig{
			Seed:       1,
			SpawnWorld: "overworld",
			Worlds: []WorldSpecConfig{
				{Name: "overworld", Type: "overworld", RegionSize: 16},
				{Name: "nether", Type: "nether", SeedOffset: 1, RegionSize: 12},
			},
		},
	}
}

// Normalize upper-cases kind keys and fills zero values that would make components spin.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Limits.Kinds = upperKeys(c.Limits.Kinds)
	for i := range c.Limits.Tiers {
		c.Limits.Tiers[i].Permission = strings.TrimSpace(c.Limits.Tiers[i].Permission)
		c.Limits.Tiers[i].Kinds = upperKeys(c.Limits.Tiers[i].Kinds)
	}
	for i := range c.World.Wild {
		c.World.Wild[i].Kind = strings.ToUpper(strings.TrimSpace(c.World.Wild[i].Kind))
	}
	if c.Server.TickRateHz <= 0 {
		c.Server.TickRateHz = 20
	}
	if c.Storage.IOWorkers <= 0 {
		c.Storage.IOWorkers = 1
	}
	if c.Storage.IOQueue <= 0 {
		c.Storage.IOQueue = 256
	}
	if c.Summon.SearchRadius < 0 {
		c.Summon.SearchRadius = 0
	}
	if c.Locks.Backend == "" {
		c.Locks.Backend = LockBackendLocal
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
}

func upperKeys(m map[string]int) map[string]int {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return out
}

func (c Config) Validate() error {
	if c.Limits.Total <= 0 {
		return fmt.Errorf("limits.total must be > 0")
	}
	for k, v := range c.Limits.Kinds {
		if v < 0 {
			return fmt.Errorf("limits.kinds.%s must be >= 0", k)
		}
	}
	for i, t := range c.Limits.Tiers {
		if t.Permission == "" {
			return fmt.Errorf("limits.tiers[%d].permission must not be empty", i)
		}
		if t.Total < 0 {
			return fmt.Errorf("limits.tiers[%d].total must be >= 0", i)
		}
	}
	if c.Names.MinLength < 0 || c.Names.MaxLength < c.Names.MinLength {
		return fmt.Errorf("names: need 0 <= min_length <= max_length")
	}
	if c.Distance.Enabled {
		if c.Distance.Max <= 0 {
			return fmt.Errorf("distance.max must be > 0")
		}
		if c.Distance.Grace < 0 || c.Distance.CheckEvery <= 0 {
			return fmt.Errorf("distance: grace must be >= 0 and check_every > 0")
		}
	}
	if c.Shutdown.Timeout < 0 {
		return fmt.Errorf("shutdown.timeout must be >= 0")
	}
	for _, m := range c.Codec.ExtensionLoreMarkers {
		if _, err := regexp.Compile(m); err != nil {
			return fmt.Errorf("codec.extension_lore_markers: %q: %w", m, err)
		}
	}
	switch c.Locks.Backend {
	case LockBackendLocal:
	case LockBackendRedis:
		if strings.TrimSpace(c.Locks.RedisAddr) == "" {
			return fmt.Errorf("locks.redis_addr is required for the redis backend")
		}
		if c.Locks.TTL <= 0 {
			return fmt.Errorf("locks.ttl must be > 0")
		}
	default:
		return fmt.Errorf("locks.backend: unknown backend %q", c.Locks.Backend)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	if c.Offsite.Enabled {
		o := c.Offsite
		if strings.TrimSpace(o.Endpoint) == "" || strings.TrimSpace(o.Bucket) == "" {
			return fmt.Errorf("offsite: endpoint and bucket are required when enabled")
		}
		if o.AccessKeyID == "" || o.SecretAccessKey == "" {
			return fmt.Errorf("offsite: access_key_id and secret_access_key are required when enabled")
		}
	}
	if len(c.World.Worlds) == 0 {
		return fmt.Errorf("world.worlds must not be empty")
	}
	seen := map[string]bool{}
	for _, w := range c.World.Worlds {
		if strings.TrimSpace(w.Name) == "" {
			return fmt.Errorf("world name must not be empty")
		}
		if seen[w.Name] {
			return fmt.Errorf("duplicate world: %s", w.Name)
		}
		seen[w.Name] = true
	}
	if c.World.SpawnWorld != "" && !seen[c.World.SpawnWorld] {
		return fmt.Errorf("world.spawn_world %q not found in world.worlds", c.World.SpawnWorld)
	}
	for i, w := range c.World.Wild {
		if !seen[w.World] {
			return fmt.Errorf("world.wild[%d]: unknown world %q", i, w.World)
		}
	}
	return nil
}

// Limits are the effective caps for one owner.
type Limits struct {
	Total int
	Kinds map[string]int
}

// Kind returns the cap for kind and whether one applies.
func (l Limits) Kind(kind string) (int, bool) {
	n, ok := l.Kinds[kind]
	return n, ok
}

// Resolve returns the limits for an owner; has reports whether the owner holds a permission.
// Every matching tier is considered and the highest value wins. Tiers only raise caps that
// the base configuration sets.
func (l LimitsConfig) Resolve(has func(permission string) bool) Limits {
	out := Limits{Total: l.Total, Kinds: make(map[string]int, len(l.Kinds))}
	for k, v := range l.Kinds {
		out.Kinds[k] = v
	}
	if has == nil {
		return out
	}
	for _, t := range l.Tiers {
		if !has(t.Permission) {
			continue
		}
		out.Total = max(out.Total, t.Total)
		for k, v := range t.Kinds {
			if cur, ok := out.Kinds[k]; ok {
				out.Kinds[k] = max(cur, v)
			}
		}
	}
	return out
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	out.Limits.Kinds = cloneMap(c.Limits.Kinds)
	out.Limits.Tiers = append([]TierConfig(nil), c.Limits.Tiers...)
	for i := range out.Limits.Tiers {
		out.Limits.Tiers[i].Kinds = cloneMap(c.Limits.Tiers[i].Kinds)
	}
	out.Names.Blacklist = append([]string(nil), c.Names.Blacklist...)
	out.Codec.ExtensionNamespaces = append([]string(nil), c.Codec.ExtensionNamespaces...)
	out.Codec.ExtensionLoreMarkers = append([]string(nil), c.Codec.ExtensionLoreMarkers...)
	out.World.Worlds = append([]WorldSpecConfig(nil), c.World.Worlds...)
	out.World.Wild = append([]WildConfig(nil), c.World.Wild...)
	return out
}

func cloneMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Permissions lists every tier permission, sorted.
func (l LimitsConfig) Permissions() []string {
	var out []string
	for _, t := range l.Tiers {
		out = append(out, t.Permission)
	}
	sort.Strings(out)
	return out
}
