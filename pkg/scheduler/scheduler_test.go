package scheduler_test

import (
	"testing"

	"github.com/cuemby/stormctl/pkg/scheduler"
	"github.com/cuemby/stormctl/pkg/types"
	"github.com/stretchr/testify/require"
)

func activeNode(id types.NodeId, util uint64) *types.Node {
	return &types.Node{ID: id, Availability: types.NodeActive, SchedulingPolicy: types.NodeSchedulingActive, UtilizationScore: util}
}

func TestScheduleShardPicksLeastAttached(t *testing.T) {
	s := scheduler.New()
	s.NodeUpsert(activeNode("a", 0))
	s.NodeUpsert(activeNode("b", 0))
	s.SetAttached("a")

	picked, err := s.ScheduleShard(nil, scheduler.NewScheduleContext())
	require.NoError(t, err)
	require.Equal(t, types.NodeId("b"), picked)
}

func TestScheduleShardHonorsAvoidList(t *testing.T) {
	s := scheduler.New()
	s.NodeUpsert(activeNode("a", 0))
	s.NodeUpsert(activeNode("b", 0))

	picked, err := s.ScheduleShard([]types.NodeId{"a"}, scheduler.NewScheduleContext())
	require.NoError(t, err)
	require.Equal(t, types.NodeId("b"), picked)
}

func TestScheduleShardNoCandidates(t *testing.T) {
	s := scheduler.New()
	s.NodeUpsert(&types.Node{ID: "a", Availability: types.NodeOffline})

	_, err := s.ScheduleShard(nil, scheduler.NewScheduleContext())
	require.ErrorIs(t, err, scheduler.ErrNoSchedulableNode)
}

func TestComputeFillRequirement(t *testing.T) {
	s := scheduler.New()
	s.NodeUpsert(activeNode("a", 0))
	s.NodeUpsert(activeNode("b", 0))
	s.SetAttached("a")
	s.SetAttached("a")

	require.Equal(t, 0, s.ComputeFillRequirement("a"))
	require.Equal(t, 1, s.ComputeFillRequirement("b"))
}

func TestNodesByAttachedShardCount(t *testing.T) {
	s := scheduler.New()
	s.NodeUpsert(activeNode("a", 0))
	s.NodeUpsert(activeNode("b", 0))
	s.SetAttached("a")
	s.SetAttached("a")
	s.SetAttached("b")

	counts := s.NodesByAttachedShardCount()
	require.Len(t, counts, 2)
	require.Equal(t, types.NodeId("a"), counts[0].NodeID)
	require.Equal(t, 2, counts[0].Attached)
}

func TestConsistencyCheck(t *testing.T) {
	s := scheduler.New()
	s.NodeUpsert(activeNode("a", 0))
	s.SetAttached("a")
	s.PushSecondary("a")

	require.NoError(t, s.ConsistencyCheck(map[types.NodeId]scheduler.ShardCounts{
		"a": {Attached: 1, Secondary: 1},
	}))

	err := s.ConsistencyCheck(map[types.NodeId]scheduler.ShardCounts{
		"a": {Attached: 2, Secondary: 1},
	})
	require.Error(t, err)
}
