package service_test

import (
	"context"
	"testing"

	"github.com/cuemby/stormctl/pkg/computehook"
	"github.com/cuemby/stormctl/pkg/pageclient"
	"github.com/cuemby/stormctl/pkg/service"
	"github.com/cuemby/stormctl/pkg/storage"
	"github.com/cuemby/stormctl/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*service.Service, storage.Persistence, *pageclient.Fake) {
	t.Helper()
	store, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fake := pageclient.NewFake()
	svc := service.New(service.DefaultConfig(), store, fake, computehook.NoopHook{})
	return svc, store, fake
}

func seedNode(t *testing.T, store storage.Persistence, svc *service.Service, id types.NodeId) *types.Node {
	t.Helper()
	n := &types.Node{
		ID:               id,
		HTTPHost:         "127.0.0.1",
		HTTPPort:         9898,
		Availability:     types.NodeActive,
		SchedulingPolicy: types.NodeSchedulingActive,
	}
	require.NoError(t, store.UpsertNode(context.Background(), n))
	return n
}

// TestCreateTenantAttachesWithGenerationOne covers scenario S1: creating
// an unsharded tenant on a cluster with available nodes produces one
// attached location at generation 1, and validate confirms it.
func TestCreateTenantAttachesWithGenerationOne(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	for _, id := range []types.NodeId{"a", "b", "c"} {
		n := seedNode(t, store, svc, id)
		_ = n
	}
	require.NoError(t, svc.StartupReconcile(ctx))

	err := svc.CreateTenant(ctx, service.CreateTenantRequest{
		TenantID:        "tenant-1",
		ShardCount:      0,
		PlacementPolicy: types.PlacementPolicy{Kind: types.PlacementAttached, SecondaryCount: 0},
	})
	require.NoError(t, err)

	id := types.TenantShardId{TenantId: "tenant-1", ShardNumber: 0, ShardCount: 0}
	results := svc.Validate(ctx, []service.ValidateClaim{{TenantShardID: id, Generation: 1}})
	require.Len(t, results, 1)
	require.True(t, results[0].Valid)
}

// TestValidateUnknownShardIsValid covers post-deletion idempotency: a
// shard absent from the controller (never created, or already deleted)
// is reported valid regardless of the claimed generation.
func TestValidateUnknownShardIsValid(t *testing.T) {
	svc, _, _ := newTestService(t)
	id := types.TenantShardId{TenantId: "ghost", ShardNumber: 0, ShardCount: 0}
	results := svc.Validate(context.Background(), []service.ValidateClaim{{TenantShardID: id, Generation: 5}})
	require.True(t, results[0].Valid)
}

// TestDeleteTenantRemovesShards verifies tenant delete clears the shard
// from the in-memory map and the durable store.
func TestDeleteTenantRemovesShards(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedNode(t, store, svc, "a")
	require.NoError(t, svc.StartupReconcile(ctx))

	require.NoError(t, svc.CreateTenant(ctx, service.CreateTenantRequest{
		TenantID:        "tenant-del",
		PlacementPolicy: types.PlacementPolicy{Kind: types.PlacementAttached},
	}))
	require.NoError(t, svc.DeleteTenant(ctx, "tenant-del"))

	rows, err := store.ListTenantShardsForTenant(ctx, "tenant-del")
	require.NoError(t, err)
	require.Empty(t, rows)

	id := types.TenantShardId{TenantId: "tenant-del", ShardNumber: 0, ShardCount: 0}
	results := svc.Validate(ctx, []service.ValidateClaim{{TenantShardID: id, Generation: 1}})
	require.True(t, results[0].Valid) // gone, so trivially valid
}

// TestReAttachBumpsGenerationForAttachedShards covers scenario S4: a
// pageserver's re-attach bumps generation only for shards it holds
// attached, and leaves secondaries reported with no generation.
func TestReAttachBumpsGenerationForAttachedShards(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedNode(t, store, svc, "a")
	seedNode(t, store, svc, "b")
	require.NoError(t, svc.StartupReconcile(ctx))

	require.NoError(t, svc.CreateTenant(ctx, service.CreateTenantRequest{
		TenantID:        "tenant-reattach",
		PlacementPolicy: types.PlacementPolicy{Kind: types.PlacementAttached, SecondaryCount: 1},
	}))

	entries, err := svc.ReAttach(ctx, "a", nil)
	require.NoError(t, err)
	foundAttachedOrSecondary := false
	for _, e := range entries {
		if e.Mode == types.LocationAttachedSingle {
			require.NotNil(t, e.Generation)
			require.Equal(t, uint32(2), *e.Generation) // gen 1 at create, bumped to 2
			foundAttachedOrSecondary = true
		}
		if e.Mode == types.LocationSecondary {
			require.Nil(t, e.Generation)
			foundAttachedOrSecondary = true
		}
	}
	require.True(t, foundAttachedOrSecondary)
}
