package storage_test

import (
	"context"
	"testing"

	"github.com/cuemby/stormctl/pkg/storage"
	"github.com/cuemby/stormctl/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *storage.GormStore {
	t.Helper()
	s, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNodeUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	node := &types.Node{ID: "node-1", HTTPHost: "10.0.0.1", HTTPPort: 9898, SchedulingPolicy: types.NodeSchedulingActive}
	require.NoError(t, s.UpsertNode(ctx, node))

	got, err := s.GetNode(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, node.HTTPHost, got.HTTPHost)
	require.Equal(t, types.NodeSchedulingActive, got.SchedulingPolicy)

	node.HTTPPort = 9999
	require.NoError(t, s.UpsertNode(ctx, node))
	got, err = s.GetNode(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, 9999, got.HTTPPort)
}

func TestGetNodeNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetNode(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTenantShardLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id := types.TenantShardId{TenantId: "tenant-a", ShardNumber: 0, ShardCount: 0}
	rec := &storage.ShardRecord{
		TenantShardID:         id,
		PlacementPolicy:       types.PlacementPolicy{Kind: types.PlacementAttached, SecondaryCount: 1},
		ShardSchedulingPolicy: types.ShardSchedulingActive,
		SplitState:            types.SplitIdle,
		StripeSize:            types.DefaultStripeSize,
	}
	require.NoError(t, s.InsertTenantShard(ctx, rec))

	gen, err := s.ReAttach(ctx, id, "node-1")
	require.NoError(t, err)
	require.True(t, gen.Valid())
	require.Equal(t, uint32(1), gen.Uint32())

	got, err := s.GetTenantShard(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.AttachedNode)
	require.Equal(t, types.NodeId("node-1"), *got.AttachedNode)

	gen2, err := s.IncrementGeneration(ctx, id)
	require.NoError(t, err)
	require.Equal(t, uint32(2), gen2.Uint32())

	require.NoError(t, s.Detach(ctx, id))
	got, err = s.GetTenantShard(ctx, id)
	require.NoError(t, err)
	require.Nil(t, got.AttachedNode)
}

func TestShardSplitLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	parent := types.TenantShardId{TenantId: "tenant-b", ShardNumber: 0, ShardCount: 0}
	require.NoError(t, s.InsertTenantShard(ctx, &storage.ShardRecord{
		TenantShardID:         parent,
		ShardSchedulingPolicy: types.ShardSchedulingActive,
		SplitState:            types.SplitIdle,
	}))

	require.NoError(t, s.BeginShardSplit(ctx, "tenant-b", 2))
	rec, err := s.GetTenantShard(ctx, parent)
	require.NoError(t, err)
	require.Equal(t, types.SplitSplitting, rec.SplitState)

	children := []*storage.ShardRecord{
		{TenantShardID: types.TenantShardId{TenantId: "tenant-b", ShardNumber: 0, ShardCount: 2}},
		{TenantShardID: types.TenantShardId{TenantId: "tenant-b", ShardNumber: 1, ShardCount: 2}},
	}
	require.NoError(t, s.CompleteShardSplit(ctx, "tenant-b", children))

	shards, err := s.ListTenantShardsForTenant(ctx, "tenant-b")
	require.NoError(t, err)
	require.Len(t, shards, 2)
	for _, sh := range shards {
		require.Equal(t, types.SplitIdle, sh.SplitState)
	}
}

func TestTryAcquireLease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.TryAcquireLease(ctx, "controller", "proc-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TryAcquireLease(ctx, "controller", "proc-a")
	require.NoError(t, err)
	require.True(t, ok)
}
