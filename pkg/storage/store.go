// Package storage implements the Persistence component: the durable
// source of truth for node and tenant-shard placement, backed by
// gorm.io/gorm over Postgres in production and SQLite in tests.
package storage

import (
	"context"
	"errors"

	"github.com/cuemby/stormctl/pkg/types"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict marks a transactional precondition that doesn't hold.
// GormStore's methods do not return it.
var ErrConflict = errors.New("storage: conflict")

// Persistence is the durable store every Service operation goes through
// before mutating in-memory state, per the persist-first rule.
type Persistence interface {
	// Nodes
	ListNodes(ctx context.Context) ([]*types.Node, error)
	GetNode(ctx context.Context, id types.NodeId) (*types.Node, error)
	UpsertNode(ctx context.Context, node *types.Node) error
	DeleteNode(ctx context.Context, id types.NodeId) error

	// Tenant shards
	ListTenantShards(ctx context.Context) ([]*ShardRecord, error)
	ListTenantShardsForTenant(ctx context.Context, tenant types.TenantId) ([]*ShardRecord, error)
	GetTenantShard(ctx context.Context, id types.TenantShardId) (*ShardRecord, error)
	InsertTenantShard(ctx context.Context, rec *ShardRecord) error
	UpdateTenantShard(ctx context.Context, rec *ShardRecord) error
	DeleteTenantShard(ctx context.Context, id types.TenantShardId) error

	// IncrementGeneration atomically bumps the stored generation for a
	// shard and returns the new value. Fails with ErrNotFound if the
	// shard row doesn't exist.
	IncrementGeneration(ctx context.Context, id types.TenantShardId) (types.Generation, error)

	// ReAttach records that a pageserver has claimed (or re-claimed) the
	// attached location for a shard, advancing its generation.
	ReAttach(ctx context.Context, id types.TenantShardId, node types.NodeId) (types.Generation, error)

	// Detach clears the attached node for a shard without advancing its
	// generation; a later ReAttach advances it.
	Detach(ctx context.Context, id types.TenantShardId) error

	// BeginShardSplit transitions every row of a tenant to SplitSplitting
	// inside one transaction. GormStore does not store newShardCount.
	BeginShardSplit(ctx context.Context, tenant types.TenantId, newShardCount types.ShardCount) error

	// AbortShardSplit rolls a tenant back to SplitIdle and deletes any
	// child shard rows created for the aborted split.
	AbortShardSplit(ctx context.Context, tenant types.TenantId) error

	// CompleteShardSplit atomically replaces the parent shard rows with
	// the child shard rows and marks the tenant SplitIdle.
	CompleteShardSplit(ctx context.Context, tenant types.TenantId, children []*ShardRecord) error

	// Leases (advisory, not yet consumed by any running code path — see
	// DESIGN.md "Open Questions" for why HA leader election isn't wired in).
	TryAcquireLease(ctx context.Context, name string, holder string) (bool, error)

	Close() error
}

// ShardRecord is the persisted row for one tenant shard: identity plus
// the last-known intent snapshot. The live IntentState/ObservedState
// structures the shard state machine operates on are reconstructed from
// this record at startup. Intent changes made in memory by scheduling are
// not written back; the stored attached node changes only through
// ReAttach, Detach, CompleteShardSplit and whole-row writes.
type ShardRecord struct {
	TenantShardID types.TenantShardId
	Generation    types.Generation

	AttachedNode  *types.NodeId
	SecondaryNodes []types.NodeId

	PlacementPolicy       types.PlacementPolicy
	ShardSchedulingPolicy types.ShardSchedulingPolicy
	SplitState            types.SplitState

	StripeSize uint32
	AuxFiles   int // raw legacy encoding; decode via types.ParseAuxFilePolicy
}
