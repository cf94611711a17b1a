package reconciler_test

import (
	"context"
	"testing"

	"github.com/cuemby/stormctl/pkg/computehook"
	"github.com/cuemby/stormctl/pkg/pageclient"
	"github.com/cuemby/stormctl/pkg/reconciler"
	"github.com/cuemby/stormctl/pkg/shard"
	"github.com/cuemby/stormctl/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestTaskRunAttachesAndDetaches(t *testing.T) {
	fake := pageclient.NewFake()
	attached := types.NodeId("node-a")
	stale := types.NodeId("node-b")
	nodes := map[types.NodeId]*types.Node{
		attached: {ID: attached, HTTPHost: "127.0.0.1", HTTPPort: 9898},
		stale:    {ID: stale, HTTPHost: "127.0.0.1", HTTPPort: 9899},
	}

	observed := shard.NewObservedState()
	observed.Locations[stale] = types.LocationConfig{Mode: types.LocationSecondary}

	task := &reconciler.Task{
		TenantShardID: types.TenantShardId{TenantId: "tenant-x"},
		Sequence:      1,
		Intent:        shard.IntentState{Attached: &attached},
		Observed:      observed,
		Generation:    types.NewGeneration(1),
		StripeSize:    types.DefaultStripeSize,
		Nodes:         nodes,
		PageClient:    fake,
		ComputeHook:   computehook.NoopHook{},
	}

	result := task.Run(context.Background())
	require.NoError(t, result.Err)
	require.False(t, result.PendingComputeNotification)

	cfg, ok := fake.Get(attached, task.TenantShardID)
	require.True(t, ok)
	require.Equal(t, types.LocationAttachedSingle, cfg.Mode)
	require.NotNil(t, cfg.Generation)
	require.Equal(t, uint32(1), *cfg.Generation)

	staleCfg, ok := fake.Get(stale, task.TenantShardID)
	require.True(t, ok)
	require.Equal(t, types.LocationDetached, staleCfg.Mode)
}

func TestTaskRunHandoverAttachesMultiAndStale(t *testing.T) {
	fake := pageclient.NewFake()
	oldPrimary := types.NodeId("node-a")
	newPrimary := types.NodeId("node-b")
	nodes := map[types.NodeId]*types.Node{
		oldPrimary: {ID: oldPrimary, HTTPHost: "127.0.0.1", HTTPPort: 9898},
		newPrimary: {ID: newPrimary, HTTPHost: "127.0.0.1", HTTPPort: 9899},
	}

	observed := shard.NewObservedState()
	observed.Locations[oldPrimary] = types.LocationConfig{Mode: types.LocationAttachedSingle}

	task := &reconciler.Task{
		TenantShardID: types.TenantShardId{TenantId: "tenant-z"},
		Intent:        shard.IntentState{Attached: &newPrimary},
		Observed:      observed,
		HandoverFrom:  &oldPrimary,
		Generation:    types.NewGeneration(1),
		StripeSize:    types.DefaultStripeSize,
		Nodes:         nodes,
		PageClient:    fake,
		ComputeHook:   computehook.NoopHook{},
	}

	result := task.Run(context.Background())
	require.NoError(t, result.Err)

	newCfg, ok := fake.Get(newPrimary, task.TenantShardID)
	require.True(t, ok)
	require.Equal(t, types.LocationAttachedMulti, newCfg.Mode)

	oldCfg, ok := fake.Get(oldPrimary, task.TenantShardID)
	require.True(t, ok)
	require.Equal(t, types.LocationAttachedStale, oldCfg.Mode)
}

type failingHook struct{}

func (failingHook) Notify(context.Context, types.TenantShardId, *types.Node, uint32) error {
	return context.DeadlineExceeded
}

func TestTaskRunSetsPendingNotificationOnHookFailure(t *testing.T) {
	fake := pageclient.NewFake()
	attached := types.NodeId("node-a")
	nodes := map[types.NodeId]*types.Node{attached: {ID: attached}}

	task := &reconciler.Task{
		TenantShardID: types.TenantShardId{TenantId: "tenant-y"},
		Intent:        shard.IntentState{Attached: &attached},
		Generation:    types.NewGeneration(1),
		Nodes:         nodes,
		PageClient:    fake,
		ComputeHook:   failingHook{},
	}

	result := task.Run(context.Background())
	require.NoError(t, result.Err)
	require.True(t, result.PendingComputeNotification)
}
