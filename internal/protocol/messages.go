package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	PlayerID        string   `json:"player_id"`
	PlayerName      string   `json:"player_name,omitempty"`
	Permissions     []string `json:"permissions,omitempty"`
	MaxQueue        int      `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	PlayerID        string      `json:"player_id"`
	Spawn           Placement   `json:"spawn"`
	Limits          LimitsView  `json:"limits"`
	Kinds           []KindView  `json:"kinds"`
	Mounts          []MountView `json:"mounts"`
}

type LimitsView struct {
	Total int            `json:"total"`
	Kinds map[string]int `json:"kinds,omitempty"`
}

type KindView struct {
	Kind          string `json:"kind"`
	Rideable      bool   `json:"rideable"`
	InventorySize int    `json:"inventory_size,omitempty"`
}

// Request operations.
const (
	OpClaim        = "CLAIM"
	OpSummon       = "SUMMON"
	OpStore        = "STORE"
	OpStoreCurrent = "STORE_CURRENT"
	OpRelease      = "RELEASE"
	OpRename       = "RENAME"
	OpList         = "LIST"
	OpInfo         = "INFO"
	OpCanClaim     = "CAN_CLAIM"

	// Headless host controls.
	OpMove     = "MOVE"
	OpRide     = "RIDE"
	OpDismount = "DISMOUNT"
	OpNearby   = "NEARBY"
)

// REQ (client -> server). Ref is a mount name or "#<id>".
type ReqMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ReqID           string     `json:"req_id"`
	Op              string     `json:"op"`
	Ref             string     `json:"ref,omitempty"`
	EntityID        string     `json:"entity_id,omitempty"`
	Name            string     `json:"name,omitempty"`
	Kind            string     `json:"kind,omitempty"`
	To              *Placement `json:"to,omitempty"`
	Radius          float64    `json:"radius,omitempty"`
}

// RES (server -> client)
type ResMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	ReqID           string       `json:"req_id"`
	Op              string       `json:"op"`
	OK              bool         `json:"ok"`
	Code            string       `json:"code,omitempty"`
	Message         string       `json:"message,omitempty"`
	Mount           *MountView   `json:"mount,omitempty"`
	Mounts          []MountView  `json:"mounts,omitempty"`
	Entities        []EntityView `json:"entities,omitempty"`
	ServerTick      uint64       `json:"server_tick,omitempty"`
}

// NOTICE (server -> client)
type NoticeMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Code            string  `json:"code"`
	RecordID        int64   `json:"record_id,omitempty"`
	LiveID          string  `json:"live_id,omitempty"`
	Name            string  `json:"name,omitempty"`
	Distance        float64 `json:"distance,omitempty"`
	GraceMS         int64   `json:"grace_ms,omitempty"`
}

type Placement struct {
	World string     `json:"world"`
	Pos   [3]float64 `json:"pos"`
}

type MountView struct {
	RecordID     int64          `json:"record_id"`
	Name         string         `json:"name,omitempty"`
	Kind         string         `json:"kind"`
	Active       bool           `json:"active"`
	LiveID       string         `json:"live_id,omitempty"`
	Placement    *Placement     `json:"placement,omitempty"`
	CreatedAt    int64          `json:"created_at_ms"`
	LastAccessed int64          `json:"last_accessed_ms"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Inventory    []SlotView     `json:"inventory,omitempty"`
}

type SlotView struct {
	Slot        int    `json:"slot"`
	Description string `json:"description"`
}

type EntityView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Placement Placement `json:"placement"`
	Owner     string    `json:"owner,omitempty"`
	Tamed     bool      `json:"tamed,omitempty"`
}
