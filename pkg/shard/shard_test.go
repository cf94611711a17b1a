package shard_test

import (
	"context"
	"testing"

	"github.com/cuemby/stormctl/pkg/scheduler"
	"github.com/cuemby/stormctl/pkg/shard"
	"github.com/cuemby/stormctl/pkg/types"
	"github.com/stretchr/testify/require"
)

func activeNode(id types.NodeId) *types.Node {
	return &types.Node{ID: id, Availability: types.NodeActive, SchedulingPolicy: types.NodeSchedulingActive}
}

func TestScheduleAttachedPolicy(t *testing.T) {
	sched := scheduler.New()
	sched.NodeUpsert(activeNode("a"))
	sched.NodeUpsert(activeNode("b"))

	sh := shard.New(types.TenantShardId{TenantId: "t1"}, types.PlacementPolicy{Kind: types.PlacementAttached, SecondaryCount: 1})
	require.NoError(t, sh.Schedule(sched, scheduler.NewScheduleContext()))

	require.NotNil(t, sh.Intent.Attached)
	require.Len(t, sh.Intent.Secondary, 1)
	require.NotEqual(t, *sh.Intent.Attached, sh.Intent.Secondary[0])
}

func TestScheduleIdempotent(t *testing.T) {
	sched := scheduler.New()
	sched.NodeUpsert(activeNode("a"))
	sched.NodeUpsert(activeNode("b"))

	sh := shard.New(types.TenantShardId{TenantId: "t1"}, types.PlacementPolicy{Kind: types.PlacementAttached, SecondaryCount: 1})
	require.NoError(t, sh.Schedule(sched, scheduler.NewScheduleContext()))
	first := *sh.Intent.Attached

	require.NoError(t, sh.Schedule(sched, scheduler.NewScheduleContext()))
	require.Equal(t, first, *sh.Intent.Attached)
}

func TestGetReconcileNeededYesWhenObservedDiffers(t *testing.T) {
	sched := scheduler.New()
	sched.NodeUpsert(activeNode("a"))
	sh := shard.New(types.TenantShardId{TenantId: "t1"}, types.PlacementPolicy{Kind: types.PlacementAttached})
	require.NoError(t, sh.Schedule(sched, scheduler.NewScheduleContext()))

	needed, waiter := sh.GetReconcileNeeded(nil, false)
	require.Equal(t, shard.ReconcileYes, needed)
	require.Nil(t, waiter)
}

func TestGetReconcileNeededNoWhenSatisfied(t *testing.T) {
	sched := scheduler.New()
	sched.NodeUpsert(activeNode("a"))
	sh := shard.New(types.TenantShardId{TenantId: "t1"}, types.PlacementPolicy{Kind: types.PlacementAttached})
	require.NoError(t, sh.Schedule(sched, scheduler.NewScheduleContext()))

	node := *sh.Intent.Attached
	gen := uint32(1)
	sh.ApplyObserved(node, types.LocationConfig{Mode: types.LocationAttachedSingle, Generation: &gen})

	needed, _ := sh.GetReconcileNeeded(nil, false)
	require.Equal(t, shard.ReconcileNo, needed)
}

func TestSpawnReconcilerSupersedesAndWakesWaiters(t *testing.T) {
	sched := scheduler.New()
	sched.NodeUpsert(activeNode("a"))
	sh := shard.New(types.TenantShardId{TenantId: "t1"}, types.PlacementPolicy{Kind: types.PlacementAttached})
	require.NoError(t, sh.Schedule(sched, scheduler.NewScheduleContext()))

	_, seq1, _, _, _, _, _, done1 := sh.SpawnReconciler(context.Background())
	needed, waiter := sh.GetReconcileNeeded(nil, false)
	require.Equal(t, shard.ReconcileWaitExisting, needed)
	require.NotNil(t, waiter)

	_, seq2, _, _, _, _, _, done2 := sh.SpawnReconciler(context.Background())
	require.NotEqual(t, seq1, seq2)

	done1(nil) // stale, should be ignored
	done2(nil)

	err := waiter.Wait()
	require.NoError(t, err)
}

func TestStablyAttached(t *testing.T) {
	sched := scheduler.New()
	sched.NodeUpsert(activeNode("a"))
	sh := shard.New(types.TenantShardId{TenantId: "t1"}, types.PlacementPolicy{Kind: types.PlacementAttached})
	require.NoError(t, sh.Schedule(sched, scheduler.NewScheduleContext()))

	_, ok := sh.StablyAttached()
	require.False(t, ok)

	node := *sh.Intent.Attached
	gen := uint32(1)
	sh.ApplyObserved(node, types.LocationConfig{Mode: types.LocationAttachedSingle, Generation: &gen})

	got, ok := sh.StablyAttached()
	require.True(t, ok)
	require.Equal(t, node, got)
}

func TestDemoteAttached(t *testing.T) {
	sched := scheduler.New()
	sched.NodeUpsert(activeNode("a"))
	sh := shard.New(types.TenantShardId{TenantId: "t1"}, types.PlacementPolicy{Kind: types.PlacementAttached})
	require.NoError(t, sh.Schedule(sched, scheduler.NewScheduleContext()))
	node := *sh.Intent.Attached

	changed := sh.DemoteAttached(sched, node)
	require.True(t, changed)
	require.Nil(t, sh.Intent.Attached)
	require.Contains(t, sh.Intent.Secondary, node)

	require.False(t, sh.DemoteAttached(sched, node))
}

func TestHandoverForcesReconcileAndFinalizes(t *testing.T) {
	sched := scheduler.New()
	sched.NodeUpsert(activeNode("a"))
	sched.NodeUpsert(activeNode("b"))
	sh := shard.New(types.TenantShardId{TenantId: "t1"}, types.PlacementPolicy{Kind: types.PlacementAttached})
	require.NoError(t, sh.Schedule(sched, scheduler.NewScheduleContext()))

	oldNode := *sh.Intent.Attached
	newNode := types.NodeId("b")
	sh.SeedIntent(&newNode, nil)
	sh.BeginHandover(oldNode)

	needed, _ := sh.GetReconcileNeeded(nil, false)
	require.Equal(t, shard.ReconcileYes, needed)

	require.False(t, sh.FinalizeHandoverIfComplete(map[types.NodeId]types.LocationConfig{
		oldNode: {Mode: types.LocationAttachedStale},
	}))

	require.True(t, sh.FinalizeHandoverIfComplete(map[types.NodeId]types.LocationConfig{
		newNode: {Mode: types.LocationAttachedMulti},
	}))
	require.False(t, sh.FinalizeHandoverIfComplete(map[types.NodeId]types.LocationConfig{
		newNode: {Mode: types.LocationAttachedMulti},
	}))
}
