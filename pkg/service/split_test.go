package service_test

import (
	"context"
	"testing"

	"github.com/cuemby/stormctl/pkg/service"
	"github.com/cuemby/stormctl/pkg/types"
	"github.com/stretchr/testify/require"
)

// TestSplitTenantReplacesParentWithChildren covers scenario S2: splitting
// an unsharded tenant into four shards removes the single parent record
// and leaves four child shards, each independently attached.
func TestSplitTenantReplacesParentWithChildren(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedNode(t, store, svc, "a")
	require.NoError(t, svc.StartupReconcile(ctx))

	require.NoError(t, svc.CreateTenant(ctx, service.CreateTenantRequest{
		TenantID:        "tenant-split",
		PlacementPolicy: types.PlacementPolicy{Kind: types.PlacementAttached},
	}))

	require.NoError(t, svc.SplitTenant(ctx, "tenant-split", types.ShardCount(4)))

	rows, err := store.ListTenantShardsForTenant(ctx, "tenant-split")
	require.NoError(t, err)
	require.Len(t, rows, 4)

	parentID := types.TenantShardId{TenantId: "tenant-split", ShardNumber: 0, ShardCount: 0}
	results := svc.Validate(ctx, []service.ValidateClaim{{TenantShardID: parentID, Generation: 1}})
	require.True(t, results[0].Valid) // parent no longer tracked, trivially valid

	for i := 0; i < 4; i++ {
		childID := types.TenantShardId{TenantId: "tenant-split", ShardNumber: types.ShardNumber(i), ShardCount: 4}
		childResults := svc.Validate(ctx, []service.ValidateClaim{{TenantShardID: childID, Generation: 1}})
		require.True(t, childResults[0].Valid)
	}

	require.NoError(t, svc.ConsistencyCheck())
}
