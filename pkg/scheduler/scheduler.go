// Package scheduler maintains in-memory placement bookkeeping — per-node
// attached/secondary counts and utilization — used to pick nodes for new
// attachments and secondaries. It holds no durable state of its own: it
// is rebuilt from the tenant map at startup and kept in sync on every
// intent mutation, following a bookkeeping-not-source-of-truth shape:
// the durable tenant-shard table remains the single source of truth.
package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/stormctl/pkg/types"
)

// ScheduleMode distinguishes a real placement decision from a
// speculative one made by the optimizer while it's only estimating cost.
type ScheduleMode int

const (
	ScheduleNormal ScheduleMode = iota
	ScheduleSpeculative
)

// ScheduleContext accumulates per-call placement pressure: nodes to avoid
// (soft anti-affinity within a tenant) and nodes already holding a
// location for the shard being scheduled. ScheduleShard does not read
// AlreadyOn.
type ScheduleContext struct {
	Mode           ScheduleMode
	Avoid          map[types.NodeId]struct{}
	AlreadyOn      map[types.NodeId]struct{}
}

// NewScheduleContext returns an empty context in Normal mode.
func NewScheduleContext() *ScheduleContext {
	return &ScheduleContext{
		Mode:      ScheduleNormal,
		Avoid:     make(map[types.NodeId]struct{}),
		AlreadyOn: make(map[types.NodeId]struct{}),
	}
}

// AvoidNode adds a node to the soft anti-affinity set.
func (c *ScheduleContext) AvoidNode(id types.NodeId) {
	c.Avoid[id] = struct{}{}
}

// nodeStats is the scheduler's per-node bookkeeping.
type nodeStats struct {
	node             *types.Node
	attachedCount    int
	secondaryCount   int
}

// Scheduler is the in-memory placement-bookkeeping structure. All
// methods are safe for concurrent use.
type Scheduler struct {
	mu    sync.RWMutex
	nodes map[types.NodeId]*nodeStats
}

// New returns an empty Scheduler. Callers rebuild it from the tenant map
// at startup via NodeUpsert and the Push/Pop/Set/Clear mutators below.
func New() *Scheduler {
	return &Scheduler{nodes: make(map[types.NodeId]*nodeStats)}
}

// NodeUpsert registers or updates a node's identity/availability. It
// never touches attached/secondary counters — those are owned by the
// IntentState mutators below.
func (s *Scheduler) NodeUpsert(node *types.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.nodes[node.ID]; ok {
		existing.node = node
		return
	}
	s.nodes[node.ID] = &nodeStats{node: node}
}

// NodeRemove drops a node from bookkeeping entirely (used when a node is
// deleted from the cluster, not merely paused).
func (s *Scheduler) NodeRemove(id types.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
}

// SetAttached records that id now holds the attached location for one
// more shard by incrementing its attached count; it does not release a
// count held by any other node (ClearAttached does that).
func (s *Scheduler) SetAttached(id types.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.nodes[id]; ok {
		st.attachedCount++
	}
}

// ClearAttached reverses SetAttached.
func (s *Scheduler) ClearAttached(id types.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.nodes[id]; ok && st.attachedCount > 0 {
		st.attachedCount--
	}
}

// PushSecondary records a new secondary location on id.
func (s *Scheduler) PushSecondary(id types.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.nodes[id]; ok {
		st.secondaryCount++
	}
}

// PopSecondary / RemoveSecondary reverse PushSecondary.
func (s *Scheduler) PopSecondary(id types.NodeId) {
	s.RemoveSecondary(id)
}

func (s *Scheduler) RemoveSecondary(id types.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.nodes[id]; ok && st.secondaryCount > 0 {
		st.secondaryCount--
	}
}

// ClearSecondary zeroes out a node's secondary count (used when rebuilding
// from a fresh scan where the exact count is recomputed elsewhere).
func (s *Scheduler) ClearSecondary(id types.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.nodes[id]; ok {
		st.secondaryCount = 0
	}
}

// ErrNoSchedulableNode is returned by ScheduleShard when every node is
// unschedulable or excluded by the context.
var ErrNoSchedulableNode = fmt.Errorf("scheduler: no schedulable node available")

// ScheduleShard picks a schedulable node minimizing
// (hard-affinity violations, soft-affinity cost, attached count,
// utilization), in that lexicographic order. avoid lists nodes that must
// never be picked for this call (e.g. the node currently holding another
// location for the same shard).
func (s *Scheduler) ScheduleShard(avoid []types.NodeId, ctx *ScheduleContext) (types.NodeId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	avoidHard := make(map[types.NodeId]struct{}, len(avoid))
	for _, id := range avoid {
		avoidHard[id] = struct{}{}
	}

	type candidate struct {
		id       types.NodeId
		softCost int
		attached int
		util     uint64
	}
	var candidates []candidate
	for id, st := range s.nodes {
		if _, excluded := avoidHard[id]; excluded {
			continue
		}
		if !st.node.MaySchedule() {
			continue
		}
		softCost := 0
		if ctx != nil {
			if _, avoided := ctx.Avoid[id]; avoided {
				softCost = 1
			}
		}
		candidates = append(candidates, candidate{
			id:       id,
			softCost: softCost,
			attached: st.attachedCount,
			util:     st.node.UtilizationScore,
		})
	}
	if len(candidates) == 0 {
		return "", ErrNoSchedulableNode
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.softCost != b.softCost {
			return a.softCost < b.softCost
		}
		if a.attached != b.attached {
			return a.attached < b.attached
		}
		if a.util != b.util {
			return a.util < b.util
		}
		return a.id < b.id
	})
	return candidates[0].id, nil
}

// ExpectedAttachedShardCount returns total attachments / available nodes,
// rounded down — the cluster-wide fair share.
func (s *Scheduler) ExpectedAttachedShardCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total, available := 0, 0
	for _, st := range s.nodes {
		total += st.attachedCount
		if st.node.MaySchedule() {
			available++
		}
	}
	if available == 0 {
		return 0
	}
	return total / available
}

// ComputeFillRequirement returns how many additional attachments node
// should receive to reach the cluster average.
func (s *Scheduler) ComputeFillRequirement(id types.NodeId) int {
	s.mu.RLock()
	st, ok := s.nodes[id]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	expected := s.ExpectedAttachedShardCount()
	need := expected - st.attachedCount
	if need < 0 {
		return 0
	}
	return need
}

// NodeCount pairs a node id with its current attached-shard count.
type NodeCount struct {
	NodeID   types.NodeId
	Attached int
}

// NodesByAttachedShardCount returns nodes sorted descending by attached
// count, used by fill planning to find drain candidates first.
func (s *Scheduler) NodesByAttachedShardCount() []NodeCount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NodeCount, 0, len(s.nodes))
	for id, st := range s.nodes {
		out = append(out, NodeCount{NodeID: id, Attached: st.attachedCount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attached != out[j].Attached {
			return out[i].Attached > out[j].Attached
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out
}

// ShardCounts is the (attached, secondary) tally a consistency check
// expects a node to have, per a fresh scan of the tenant map.
type ShardCounts struct {
	Attached  int
	Secondary int
}

// ConsistencyCheck asserts the scheduler's counters match a fresh scan of
// the authoritative shard set. It returns a descriptive error per
// mismatched node rather than panicking, so callers can log-and-repair.
func (s *Scheduler) ConsistencyCheck(expected map[types.NodeId]ShardCounts) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, want := range expected {
		st, ok := s.nodes[id]
		if !ok {
			return fmt.Errorf("consistency check: node %s missing from scheduler", id)
		}
		if st.attachedCount != want.Attached || st.secondaryCount != want.Secondary {
			return fmt.Errorf("consistency check: node %s attached=%d/%d secondary=%d/%d",
				id, st.attachedCount, want.Attached, st.secondaryCount, want.Secondary)
		}
	}
	for id := range s.nodes {
		if _, ok := expected[id]; !ok {
			return fmt.Errorf("consistency check: node %s present in scheduler but not in scan", id)
		}
	}
	return nil
}
