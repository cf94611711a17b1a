package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TenantId identifies a logical database domain.
type TenantId string

// ShardNumber is the zero-based index of a shard within a tenant's shard set.
type ShardNumber uint8

// ShardCount is the total number of shards a tenant is split into.
// Zero is the "unsharded" sentinel and is distinct from one.
type ShardCount uint8

// Unsharded reports whether this count is the unsharded sentinel (0).
func (c ShardCount) Unsharded() bool {
	return c == 0
}

// Count returns the effective shard count, normalizing the unsharded
// sentinel to 1 for loop bounds and arithmetic that don't care about the
// sentinel/one distinction.
func (c ShardCount) Count() int {
	if c == 0 {
		return 1
	}
	return int(c)
}

// TenantShardId is the placement unit: (tenant, shard number, shard count).
type TenantShardId struct {
	TenantId    TenantId
	ShardNumber ShardNumber
	ShardCount  ShardCount
}

// IsShardZero reports whether this is the distinguished shard 0, which
// routes scalar per-tenant APIs and sorts first in per-tenant iteration.
func (id TenantShardId) IsShardZero() bool {
	return id.ShardNumber == 0
}

// String renders the wire format "<tenant>-<shard><count>" in hex, with
// ShardCount 0 rendered as the bare tenant id (the unsharded sentinel).
func (id TenantShardId) String() string {
	if id.ShardCount == 0 {
		return string(id.TenantId)
	}
	return fmt.Sprintf("%s-%02x%02x", id.TenantId, uint8(id.ShardNumber), uint8(id.ShardCount))
}

// ParseTenantShardId parses the wire format produced by String.
func ParseTenantShardId(s string) (TenantShardId, error) {
	idx := strings.LastIndex(s, "-")
	if idx < 0 || len(s)-idx-1 != 4 {
		return TenantShardId{TenantId: TenantId(s), ShardCount: 0}, nil
	}
	suffix := s[idx+1:]
	shardNum, err := strconv.ParseUint(suffix[0:2], 16, 8)
	if err != nil {
		return TenantShardId{}, fmt.Errorf("invalid shard number in %q: %w", s, err)
	}
	shardCount, err := strconv.ParseUint(suffix[2:4], 16, 8)
	if err != nil {
		return TenantShardId{}, fmt.Errorf("invalid shard count in %q: %w", s, err)
	}
	return TenantShardId{
		TenantId:    TenantId(s[:idx]),
		ShardNumber: ShardNumber(shardNum),
		ShardCount:  ShardCount(shardCount),
	}, nil
}

// DefaultStripeSize is the default stripe size in 8KiB pages (256MiB/page-size).
const DefaultStripeSize uint32 = 32768

// Generation is an opaque, monotonically increasing counter that protects
// object storage from split-brain writes. It permits only increment, max,
// and comparison — never subtraction.
type Generation struct {
	value uint32
	valid bool
}

// GenerationNone is the zero value: a shard that has never attached.
var GenerationNone = Generation{}

// NewGeneration wraps a concrete counter value as a valid generation.
func NewGeneration(v uint32) Generation {
	return Generation{value: v, valid: true}
}

// Valid reports whether a generation has ever been issued for this shard.
func (g Generation) Valid() bool {
	return g.valid
}

// Next returns the generation incremented by one.
func (g Generation) Next() Generation {
	if !g.valid {
		return NewGeneration(1)
	}
	return NewGeneration(g.value + 1)
}

// Uint32 returns the raw counter value. Callers must check Valid first.
func (g Generation) Uint32() uint32 {
	return g.value
}

// Max returns the larger of two generations, treating an invalid
// generation as smaller than any valid one.
func Max(a, b Generation) Generation {
	if !a.valid {
		return b
	}
	if !b.valid {
		return a
	}
	if a.value >= b.value {
		return a
	}
	return b
}

func (g Generation) String() string {
	if !g.valid {
		return "none"
	}
	return fmt.Sprintf("%08x", g.value)
}

// NodeId identifies a pageserver.
type NodeId string

// NodeAvailability is the heartbeat-observed reachability of a node.
type NodeAvailability int

const (
	NodeOffline NodeAvailability = iota
	NodeActive
)

func (a NodeAvailability) String() string {
	if a == NodeActive {
		return "active"
	}
	return "offline"
}

// NodeSchedulingPolicy controls whether the scheduler may place new
// attachments/secondaries on a node.
type NodeSchedulingPolicy string

const (
	NodeSchedulingActive          NodeSchedulingPolicy = "active"
	NodeSchedulingPause           NodeSchedulingPolicy = "pause"
	NodeSchedulingDraining        NodeSchedulingPolicy = "draining"
	NodeSchedulingFilling         NodeSchedulingPolicy = "filling"
	NodeSchedulingPauseForRestart NodeSchedulingPolicy = "pause_for_restart"
)

// Node is the immutable identity plus mutable availability/scheduling
// state of one pageserver.
type Node struct {
	ID       NodeId
	HTTPHost string
	HTTPPort int
	PGHost   string
	PGPort   int

	Availability     NodeAvailability
	UtilizationScore uint64 // lower is less loaded; 0 means unreported
	SchedulingPolicy NodeSchedulingPolicy

	CreatedAt time.Time
}

// Address returns the management-API base URL for this node.
func (n *Node) Address() string {
	return fmt.Sprintf("http://%s:%d", n.HTTPHost, n.HTTPPort)
}

// MaySchedule reports whether the scheduler may place new load on this node.
func (n *Node) MaySchedule() bool {
	if n.Availability != NodeActive {
		return false
	}
	switch n.SchedulingPolicy {
	case NodeSchedulingActive, NodeSchedulingFilling:
		return true
	default:
		return false
	}
}

// PlacementPolicyKind selects how many locations a shard should have.
type PlacementPolicyKind string

const (
	PlacementDetached  PlacementPolicyKind = "detached"
	PlacementSecondary PlacementPolicyKind = "secondary"
	PlacementAttached  PlacementPolicyKind = "attached"
)

// PlacementPolicy is Detached | Secondary | Attached(n secondaries).
type PlacementPolicy struct {
	Kind           PlacementPolicyKind
	SecondaryCount int // meaningful only when Kind == PlacementAttached
}

// ShardSchedulingPolicy progressively restricts background scheduler
// mutation of a shard's intent.
type ShardSchedulingPolicy string

const (
	ShardSchedulingActive    ShardSchedulingPolicy = "active"
	ShardSchedulingEssential ShardSchedulingPolicy = "essential"
	ShardSchedulingPause     ShardSchedulingPolicy = "pause"
	ShardSchedulingStop      ShardSchedulingPolicy = "stop"
)

// PermitsOptimization reports whether background optimization may touch
// this shard's placement.
func (p ShardSchedulingPolicy) PermitsOptimization() bool {
	return p == ShardSchedulingActive
}

// PermitsScheduling reports whether the scheduler may mutate intent at
// all (Stop forbids every mutation, even fixing invalid placement).
func (p ShardSchedulingPolicy) PermitsScheduling() bool {
	return p != ShardSchedulingStop
}

// LocationConfigMode is the wire-level mode sent to a pageserver.
type LocationConfigMode string

const (
	LocationDetached       LocationConfigMode = "Detached"
	LocationSecondary      LocationConfigMode = "Secondary"
	LocationAttachedSingle LocationConfigMode = "AttachedSingle"
	LocationAttachedMulti  LocationConfigMode = "AttachedMulti"
	LocationAttachedStale  LocationConfigMode = "AttachedStale"
)

// LocationConfig is the wire-level contract sent to a pageserver via
// location_config.
type LocationConfig struct {
	Mode         LocationConfigMode
	Generation   *uint32 // nil for modes that carry no generation
	ShardNumber  ShardNumber
	ShardCount   ShardCount
	StripeSize   uint32
	TenantConfig map[string]any
}

// AttachedMode reports whether this config represents a writable location.
func (c LocationConfig) AttachedMode() bool {
	switch c.Mode {
	case LocationAttachedSingle, LocationAttachedMulti, LocationAttachedStale:
		return true
	default:
		return false
	}
}

// SplitState tracks whether a tenant is mid-split.
type SplitState string

const (
	SplitIdle      SplitState = "idle"
	SplitSplitting SplitState = "splitting"
)

// AuxFilePolicy is the aux-file storage policy for a tenant.
type AuxFilePolicy int

const (
	AuxFilePolicyV1 AuxFilePolicy = iota + 1
	AuxFilePolicyV2
	AuxFilePolicyCrossValidation
)

// ParseAuxFilePolicy decodes the legacy integer encoding, returning
// (0, false) for the "unspecified" sentinel instead of panicking.
func ParseAuxFilePolicy(raw int) (AuxFilePolicy, bool) {
	switch raw {
	case 1:
		return AuxFilePolicyV1, true
	case 2:
		return AuxFilePolicyV2, true
	case 3:
		return AuxFilePolicyCrossValidation, true
	default:
		return 0, false
	}
}

// TenantConfig holds per-tenant pageserver configuration, opaque to the
// controller beyond pass-through to LocationConfig.TenantConfig.
type TenantConfig map[string]any

// SecondaryProgress reports a secondary location's residual catch-up
// work, used by the optimizer to decide whether a migration target is
// warm enough to take over as attached without a large synchronous gap.
type SecondaryProgress struct {
	BytesRemaining uint64
	HeatmapMtime   time.Time
}

// TopTenantShardItem is one row of a top_tenant_shards response, used by
// autosplit to find the largest candidate shard across the cluster.
type TopTenantShardItem struct {
	TenantShardID  TenantShardId
	MaxLogicalSize uint64
}

// Event is a cluster event for the admin/streaming API.
type Event struct {
	Type          string
	Timestamp     time.Time
	TenantShardID string
	NodeID        string
	Message       string
}
