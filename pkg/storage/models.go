package storage

import (
	"strings"

	"github.com/cuemby/stormctl/pkg/types"
)

// nodeModel is the gorm row for a pageserver.
type nodeModel struct {
	ID               string `gorm:"primaryKey"`
	HTTPHost         string
	HTTPPort         int
	PGHost           string
	PGPort           int
	Availability     int
	UtilizationScore uint64
	SchedulingPolicy string
	CreatedAt        int64
}

func fromNodeModel(m *nodeModel) *types.Node {
	return &types.Node{
		ID:               types.NodeId(m.ID),
		HTTPHost:         m.HTTPHost,
		HTTPPort:         m.HTTPPort,
		PGHost:           m.PGHost,
		PGPort:           m.PGPort,
		Availability:     types.NodeAvailability(m.Availability),
		UtilizationScore: m.UtilizationScore,
		SchedulingPolicy: types.NodeSchedulingPolicy(m.SchedulingPolicy),
	}
}

func toNodeModel(n *types.Node) *nodeModel {
	return &nodeModel{
		ID:               string(n.ID),
		HTTPHost:         n.HTTPHost,
		HTTPPort:         n.HTTPPort,
		PGHost:           n.PGHost,
		PGPort:           n.PGPort,
		Availability:     int(n.Availability),
		UtilizationScore: n.UtilizationScore,
		SchedulingPolicy: string(n.SchedulingPolicy),
	}
}

// tenantShardModel is the gorm row for a tenant shard's placement state.
// Secondary nodes are stored as a comma-joined column rather than a join
// table: the set is small (typically 0-2) and is always read/written as a
// whole alongside the rest of the row inside the same transaction.
type tenantShardModel struct {
	TenantShardID string `gorm:"primaryKey"`
	TenantID      string `gorm:"index"`
	ShardNumber   uint8
	ShardCount    uint8

	Generation      uint32
	GenerationValid bool

	AttachedNode   string
	SecondaryNodes string

	PlacementKind   string
	SecondaryCount  int
	SchedulingPolicy string
	SplitState      string

	StripeSize uint32
	AuxFiles   int
}

func fromShardModel(m *tenantShardModel) *ShardRecord {
	rec := &ShardRecord{
		TenantShardID: types.TenantShardId{
			TenantId:    types.TenantId(m.TenantID),
			ShardNumber: types.ShardNumber(m.ShardNumber),
			ShardCount:  types.ShardCount(m.ShardCount),
		},
		PlacementPolicy: types.PlacementPolicy{
			Kind:           types.PlacementPolicyKind(m.PlacementKind),
			SecondaryCount: m.SecondaryCount,
		},
		ShardSchedulingPolicy: types.ShardSchedulingPolicy(m.SchedulingPolicy),
		SplitState:            types.SplitState(m.SplitState),
		StripeSize:            m.StripeSize,
		AuxFiles:              m.AuxFiles,
	}
	if m.GenerationValid {
		rec.Generation = types.NewGeneration(m.Generation)
	}
	if m.AttachedNode != "" {
		n := types.NodeId(m.AttachedNode)
		rec.AttachedNode = &n
	}
	if m.SecondaryNodes != "" {
		for _, s := range strings.Split(m.SecondaryNodes, ",") {
			rec.SecondaryNodes = append(rec.SecondaryNodes, types.NodeId(s))
		}
	}
	return rec
}

func toShardModel(rec *ShardRecord) *tenantShardModel {
	m := &tenantShardModel{
		TenantShardID:    rec.TenantShardID.String(),
		TenantID:         string(rec.TenantShardID.TenantId),
		ShardNumber:      uint8(rec.TenantShardID.ShardNumber),
		ShardCount:       uint8(rec.TenantShardID.ShardCount),
		GenerationValid:  rec.Generation.Valid(),
		PlacementKind:    string(rec.PlacementPolicy.Kind),
		SecondaryCount:   rec.PlacementPolicy.SecondaryCount,
		SchedulingPolicy: string(rec.ShardSchedulingPolicy),
		SplitState:       string(rec.SplitState),
		StripeSize:       rec.StripeSize,
		AuxFiles:         rec.AuxFiles,
	}
	if rec.Generation.Valid() {
		m.Generation = rec.Generation.Uint32()
	}
	if rec.AttachedNode != nil {
		m.AttachedNode = string(*rec.AttachedNode)
	}
	if len(rec.SecondaryNodes) > 0 {
		parts := make([]string, len(rec.SecondaryNodes))
		for i, n := range rec.SecondaryNodes {
			parts[i] = string(n)
		}
		m.SecondaryNodes = strings.Join(parts, ",")
	}
	return m
}

// leaseModel backs the advisory controller_leases table.
type leaseModel struct {
	Name      string `gorm:"primaryKey"`
	Holder    string
	ExpiresAt int64
}
