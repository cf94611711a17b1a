package service_test

import (
	"context"
	"testing"

	"github.com/cuemby/stormctl/pkg/service"
	"github.com/cuemby/stormctl/pkg/storage"
	"github.com/cuemby/stormctl/pkg/types"
	"github.com/stretchr/testify/require"
)

// TestStartupReconcileAbortsMixedShardCountSplit covers scenario S2's
// crash-recovery path: a tenant left with rows at two different shard
// counts (as if a split's pageserver RPC succeeded but the controller
// crashed before complete_shard_split) is rolled back to its pre-split
// shard set on the next startup scan.
func TestStartupReconcileAbortsMixedShardCountSplit(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedNode(t, store, svc, "a")
	require.NoError(t, svc.StartupReconcile(ctx))

	require.NoError(t, svc.CreateTenant(ctx, service.CreateTenantRequest{
		TenantID:        "tenant-crash-split",
		PlacementPolicy: types.PlacementPolicy{Kind: types.PlacementAttached},
	}))

	require.NoError(t, store.BeginShardSplit(ctx, "tenant-crash-split", types.ShardCount(4)))
	attached := types.NodeId("a")
	for i := 0; i < 4; i++ {
		rec := &storage.ShardRecord{
			TenantShardID: types.TenantShardId{TenantId: "tenant-crash-split", ShardNumber: types.ShardNumber(i), ShardCount: 4},
			AttachedNode:  &attached,
			SplitState:    types.SplitIdle,
		}
		require.NoError(t, store.InsertTenantShard(ctx, rec))
	}

	require.NoError(t, svc.StartupReconcile(ctx))

	rows, err := store.ListTenantShardsForTenant(ctx, "tenant-crash-split")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, types.ShardCount(0), rows[0].TenantShardID.ShardCount)
}
