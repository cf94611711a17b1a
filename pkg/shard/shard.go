// Package shard implements the TenantShard state machine: one instance
// per placement unit, tracking intent vs. observed location state and
// driving when a reconciler needs to run. Each Shard owns its own mutex
// and its own sequence/waiter coordination, so callers can treat one
// shard's task/result dispatch independently of any other's.
package shard

import (
	"context"
	"sync"

	"github.com/cuemby/stormctl/pkg/scheduler"
	"github.com/cuemby/stormctl/pkg/types"
)

// IntentState is what the controller wants a shard's locations to be.
type IntentState struct {
	Attached  *types.NodeId
	Secondary []types.NodeId
}

// Clear resets intent to "no locations anywhere" (Detached policy).
func (i *IntentState) Clear() {
	i.Attached = nil
	i.Secondary = nil
}

func (i *IntentState) hasSecondary(id types.NodeId) bool {
	for _, s := range i.Secondary {
		if s == id {
			return true
		}
	}
	return false
}

func (i *IntentState) addSecondary(id types.NodeId) {
	if !i.hasSecondary(id) {
		i.Secondary = append(i.Secondary, id)
	}
}

func (i *IntentState) removeSecondary(id types.NodeId) {
	out := i.Secondary[:0]
	for _, s := range i.Secondary {
		if s != id {
			out = append(out, s)
		}
	}
	i.Secondary = out
}

// ObservedState is what the last reconcile (or startup scan) actually
// found on each node.
type ObservedState struct {
	Locations map[types.NodeId]types.LocationConfig
}

// NewObservedState returns an empty observed state.
func NewObservedState() ObservedState {
	return ObservedState{Locations: make(map[types.NodeId]types.LocationConfig)}
}

// ReconcileNeeded is the outcome of get_reconcile_needed.
type ReconcileNeeded int

const (
	ReconcileNo ReconcileNeeded = iota
	ReconcileYes
	ReconcileWaitExisting
)

// Waiter is parked by a caller that wants to be woken when a shard's
// sequence number advances past (or reconciliation completes for) the
// sequence it observed when it started waiting.
type Waiter struct {
	ctx   context.Context
	outCh chan error
}

// NewWaiter creates a waiter bound to ctx; Wait blocks until advance is
// called with a nil or non-nil result, or ctx is done.
func NewWaiter(ctx context.Context) *Waiter {
	return &Waiter{ctx: ctx, outCh: make(chan error, 1)}
}

// Wait blocks until the waiter is woken or its context is cancelled.
func (w *Waiter) Wait() error {
	select {
	case err := <-w.outCh:
		return err
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

// advance wakes the waiter with the given result. Safe to call at most
// once; subsequent calls are no-ops since outCh is buffered by one.
func (w *Waiter) advance(err error) {
	select {
	case w.outCh <- err:
	default:
	}
}

// Shard is the per-placement-unit state machine.
type Shard struct {
	mu sync.Mutex

	ID types.TenantShardId

	Intent     IntentState
	Observed   ObservedState
	Generation types.Generation

	PlacementPolicy       types.PlacementPolicy
	ShardSchedulingPolicy types.ShardSchedulingPolicy
	SplitState            types.SplitState
	StripeSize            uint32

	sequence uint64
	lastError error

	// handoverFrom is set while a live migration's two-phase handover is
	// in flight: the old attached node, kept as AttachedStale (instead of
	// Detached) and the new attached node served as AttachedMulti, until
	// FinalizeHandoverIfComplete observes the new primary accepted its
	// location config and clears it.
	handoverFrom *types.NodeId

	reconcilerCancel context.CancelFunc
	reconcilerSeq    uint64
	waiters          []*Waiter
}

// New constructs a shard with no intent and no observed state.
func New(id types.TenantShardId, placement types.PlacementPolicy) *Shard {
	return &Shard{
		ID:                    id,
		Observed:              NewObservedState(),
		PlacementPolicy:       placement,
		ShardSchedulingPolicy: types.ShardSchedulingActive,
		SplitState:            types.SplitIdle,
		StripeSize:            types.DefaultStripeSize,
	}
}

// SeedIntent sets intent directly from persisted state at startup,
// before any scheduling or reconciling has happened. It does not touch
// scheduler bookkeeping; the caller must update scheduler counters to
// match (see pkg/service's startup reconcile).
func (s *Shard) SeedIntent(attached *types.NodeId, secondary []types.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Intent.Attached = attached
	s.Intent.Secondary = append([]types.NodeId(nil), secondary...)
}

// BeginHandover records that a live migration away from "from" is in
// flight, so the next reconcile hands both the old and new attached
// nodes a location config (AttachedMulti on the new one, AttachedStale
// on "from") instead of cutting over in a single step. Callers still
// set Intent.Attached to the new node themselves (directly or via
// SeedIntent); BeginHandover only records the node being handed off
// from.
func (s *Shard) BeginHandover(from types.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handoverFrom = &from
}

// FinalizeHandoverIfComplete clears a pending handover once observed
// shows the new attached node accepted its AttachedMulti location
// config. Returns true if it cleared one, in which case the caller
// should trigger one more reconcile so the old primary is cut over to
// Detached and the new primary settles on AttachedSingle.
func (s *Shard) FinalizeHandoverIfComplete(observed map[types.NodeId]types.LocationConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handoverFrom == nil || s.Intent.Attached == nil {
		return false
	}
	cfg, ok := observed[*s.Intent.Attached]
	if !ok || cfg.Mode != types.LocationAttachedMulti {
		return false
	}
	s.handoverFrom = nil
	return true
}

// GetGeneration returns the shard's current generation. Safe for
// concurrent use, unlike reading the Generation field directly.
func (s *Shard) GetGeneration() types.Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Generation
}

// IntentAttached returns the node currently intended to hold the
// attached location, if any. Safe for concurrent use, unlike reading the
// Intent field directly.
func (s *Shard) IntentAttached() (types.NodeId, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Intent.Attached == nil {
		return "", false
	}
	return *s.Intent.Attached, true
}

// HasSecondary reports whether node currently holds a secondary location
// in this shard's intent.
func (s *Shard) HasSecondary(node types.NodeId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Intent.hasSecondary(node)
}

// SecondaryNodes returns a copy of the shard's current secondary intent.
func (s *Shard) SecondaryNodes() []types.NodeId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.NodeId(nil), s.Intent.Secondary...)
}

// SetGeneration raises the shard's generation to at least gen. Used by
// the re-attach and attach-hook upcalls once persistence has durably
// recorded the bump.
func (s *Shard) SetGeneration(gen types.Generation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Generation = types.Max(s.Generation, gen)
}

// Sequence returns the current sequence number.
func (s *Shard) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// LastError returns the error from the most recent failed reconcile, if any.
func (s *Shard) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *Shard) bumpSequence() uint64 {
	s.sequence++
	return s.sequence
}

// SetPlacementPolicy updates the policy Schedule will reconcile towards
// on its next call. Takes effect only once Schedule runs again.
func (s *Shard) SetPlacementPolicy(p types.PlacementPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlacementPolicy = p
}

// Schedule computes intent from PlacementPolicy, filling any missing
// slots via scheduler.ScheduleShard. It is idempotent: if intent already
// satisfies the policy, it returns without touching the scheduler.
func (s *Shard) Schedule(sched *scheduler.Scheduler, ctx *scheduler.ScheduleContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.PlacementPolicy.Kind {
	case types.PlacementDetached:
		s.releaseIntentLocked(sched)
		s.Intent.Clear()
		return nil

	case types.PlacementSecondary:
		if s.Intent.Attached != nil {
			sched.ClearAttached(*s.Intent.Attached)
			s.Intent.Attached = nil
		}
		if len(s.Intent.Secondary) == 0 {
			avoid := s.avoidListLocked()
			node, err := sched.ScheduleShard(avoid, ctx)
			if err != nil {
				return err
			}
			s.Intent.addSecondary(node)
			sched.PushSecondary(node)
		}
		return nil

	case types.PlacementAttached:
		if s.Intent.Attached == nil {
			avoid := s.avoidListLocked()
			node, err := sched.ScheduleShard(avoid, ctx)
			if err != nil {
				return err
			}
			s.Intent.Attached = &node
			sched.SetAttached(node)
		}
		for len(s.Intent.Secondary) < s.PlacementPolicy.SecondaryCount {
			avoid := s.avoidListLocked()
			node, err := sched.ScheduleShard(avoid, ctx)
			if err != nil {
				return err
			}
			s.Intent.addSecondary(node)
			sched.PushSecondary(node)
		}
		for len(s.Intent.Secondary) > s.PlacementPolicy.SecondaryCount {
			last := s.Intent.Secondary[len(s.Intent.Secondary)-1]
			s.Intent.removeSecondary(last)
			sched.RemoveSecondary(last)
		}
		return nil
	}
	return nil
}

func (s *Shard) avoidListLocked() []types.NodeId {
	avoid := make([]types.NodeId, 0, len(s.Intent.Secondary)+1)
	if s.Intent.Attached != nil {
		avoid = append(avoid, *s.Intent.Attached)
	}
	avoid = append(avoid, s.Intent.Secondary...)
	return avoid
}

func (s *Shard) releaseIntentLocked(sched *scheduler.Scheduler) {
	if s.Intent.Attached != nil {
		sched.ClearAttached(*s.Intent.Attached)
	}
	for _, n := range s.Intent.Secondary {
		sched.RemoveSecondary(n)
	}
}

// IntentFromObserved infers initial intent from a startup scan: if
// exactly one node reports an attached config, that becomes
// intent.attached (when several do, the first met in map iteration order
// is taken); every other node reporting an attached or secondary config
// becomes a secondary, and nodes reporting Detached are left out.
func (s *Shard) IntentFromObserved() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var attached *types.NodeId
	var secondaries []types.NodeId
	for node, cfg := range s.Observed.Locations {
		node := node
		if cfg.AttachedMode() {
			if attached == nil {
				attached = &node
			} else {
				secondaries = append(secondaries, node)
			}
		} else if cfg.Mode == types.LocationSecondary {
			secondaries = append(secondaries, node)
		}
	}
	s.Intent.Attached = attached
	s.Intent.Secondary = secondaries
}

// GetReconcileNeeded reports whether this shard needs reconciliation:
// Yes if observed differs from intent, there's a pending compute
// notification, or intent references a node with no observed state at
// all; WaitExisting if an in-progress reconciler already covers the gap.
func (s *Shard) GetReconcileNeeded(nodes map[types.NodeId]*types.Node, pendingComputeNotification bool) (ReconcileNeeded, *Waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reconcilerCancel != nil {
		w := NewWaiter(context.Background())
		s.waiters = append(s.waiters, w)
		return ReconcileWaitExisting, w
	}

	if pendingComputeNotification {
		return ReconcileYes, nil
	}

	if s.handoverFrom != nil {
		return ReconcileYes, nil
	}

	want := make(map[types.NodeId]types.LocationConfigMode)
	if s.Intent.Attached != nil {
		want[*s.Intent.Attached] = types.LocationAttachedSingle
	}
	for _, n := range s.Intent.Secondary {
		want[n] = types.LocationSecondary
	}

	for node, mode := range want {
		cfg, ok := s.Observed.Locations[node]
		if !ok || cfg.Mode != mode {
			return ReconcileYes, nil
		}
	}
	for node, cfg := range s.Observed.Locations {
		if _, wanted := want[node]; !wanted && cfg.Mode != types.LocationDetached {
			return ReconcileYes, nil
		}
	}
	return ReconcileNo, nil
}

// SpawnReconciler records that a reconciler task now owns this shard's
// current sequence, cancelling and superseding any prior in-flight task.
// It returns the sequence the new task is bound to and a snapshot of
// (intent, observed, generation, handover-from) to hand the task, plus a
// done function the task must call on completion to release parked
// waiters.
func (s *Shard) SpawnReconciler(ctx context.Context) (taskCtx context.Context, seq uint64, intent IntentState, observed ObservedState, gen types.Generation, handoverFrom *types.NodeId, cancel context.CancelFunc, done func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reconcilerCancel != nil {
		s.reconcilerCancel()
	}
	seq = s.bumpSequence()
	taskCtx, taskCancel := context.WithCancel(ctx)
	s.reconcilerCancel = taskCancel
	s.reconcilerSeq = seq

	intentCopy := IntentState{Secondary: append([]types.NodeId(nil), s.Intent.Secondary...)}
	if s.Intent.Attached != nil {
		n := *s.Intent.Attached
		intentCopy.Attached = &n
	}
	observedCopy := NewObservedState()
	for k, v := range s.Observed.Locations {
		observedCopy.Locations[k] = v
	}
	if s.handoverFrom != nil {
		n := *s.handoverFrom
		handoverFrom = &n
	}

	return taskCtx, seq, intentCopy, observedCopy, s.Generation, handoverFrom, taskCancel, func(resultErr error) {
		s.completeReconcile(seq, resultErr)
	}
}

func (s *Shard) completeReconcile(seq uint64, resultErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reconcilerSeq != seq {
		// superseded; this task's result is stale, don't touch state.
		return
	}
	s.reconcilerCancel = nil
	if resultErr == nil {
		s.lastError = nil
	} else {
		s.lastError = resultErr
	}
	waiters := s.waiters
	s.waiters = nil
	for _, w := range waiters {
		w.advance(resultErr)
	}
}

// ApplyObserved merges a reconciler's freshly-observed location config
// for one node into this shard's observed state, taking the max of the
// stored and newly-observed generation.
func (s *Shard) ApplyObserved(node types.NodeId, cfg types.LocationConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Observed.Locations[node] = cfg
	if cfg.Generation != nil {
		s.Generation = types.Max(s.Generation, types.NewGeneration(*cfg.Generation))
	}
}

// StablyAttached returns the node holding the attached location, if and
// only if intent.attached points at a node whose observed config is
// attached with a generation equal to this shard's generation.
func (s *Shard) StablyAttached() (types.NodeId, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Intent.Attached == nil {
		return "", false
	}
	cfg, ok := s.Observed.Locations[*s.Intent.Attached]
	if !ok || !cfg.AttachedMode() || cfg.Generation == nil {
		return "", false
	}
	if types.NewGeneration(*cfg.Generation) != s.Generation {
		return "", false
	}
	return *s.Intent.Attached, true
}

// NeedsGenerationBump reports whether intent wants an attached location
// that isn't backed by a confirmed generation yet: either the shard has
// never been attached (generation invalid) or intent.attached points at
// a node other than the one the last confirmed generation was issued
// for. Either case means a fresh generation must be persisted before the
// next reconcile's location_config RPC, to keep a stale pageserver from
// ever being trusted as the current owner of the shard.
func (s *Shard) NeedsGenerationBump() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Intent.Attached == nil {
		return false
	}
	if !s.Generation.Valid() {
		return true
	}
	cfg, ok := s.Observed.Locations[*s.Intent.Attached]
	if !ok || !cfg.AttachedMode() || cfg.Generation == nil {
		return true
	}
	return types.NewGeneration(*cfg.Generation) != s.Generation
}

// RescheduleToSecondary demotes the current attached node to secondary
// and promotes preferred (or, if empty, any existing secondary) to
// attached. Used by drain and fill operations.
func (s *Shard) RescheduleToSecondary(preferred types.NodeId, sched *scheduler.Scheduler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Intent.Attached == nil {
		return nil
	}
	oldAttached := *s.Intent.Attached

	var promote types.NodeId
	if preferred != "" && s.Intent.hasSecondary(preferred) {
		promote = preferred
	} else if len(s.Intent.Secondary) > 0 {
		promote = s.Intent.Secondary[0]
	} else {
		return nil
	}

	s.Intent.removeSecondary(promote)
	sched.RemoveSecondary(promote)
	s.Intent.addSecondary(oldAttached)
	sched.PushSecondary(oldAttached)

	s.Intent.Attached = &promote
	sched.ClearAttached(oldAttached)
	sched.SetAttached(promote)

	s.bumpSequence()
	return nil
}

// OptimizationKind selects the shape of a scheduler optimization.
type OptimizationKind int

const (
	OptimizationMigrateAttachment OptimizationKind = iota
	OptimizationReplaceSecondary
)

// Optimization is a proposed placement change the background optimizer
// wants applied, bound to the sequence it was computed against.
type Optimization struct {
	Kind          OptimizationKind
	Sequence      uint64
	FromNode      types.NodeId
	ToNode        types.NodeId
}

// ApplyOptimization applies a MigrateAttachment (swap attached <->
// secondary) or ReplaceSecondary optimization. Returns false without
// changing anything if opt.Sequence no longer matches the shard's
// current sequence (the optimization was computed against a state that
// has since moved on).
func (s *Shard) ApplyOptimization(sched *scheduler.Scheduler, opt Optimization) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opt.Sequence != s.sequence {
		return false
	}

	switch opt.Kind {
	case OptimizationMigrateAttachment:
		if s.Intent.Attached == nil || *s.Intent.Attached != opt.FromNode {
			return false
		}
		if !s.Intent.hasSecondary(opt.ToNode) {
			return false
		}
		s.Intent.removeSecondary(opt.ToNode)
		sched.RemoveSecondary(opt.ToNode)
		s.Intent.addSecondary(opt.FromNode)
		sched.PushSecondary(opt.FromNode)
		s.Intent.Attached = &opt.ToNode
		sched.ClearAttached(opt.FromNode)
		sched.SetAttached(opt.ToNode)
		s.bumpSequence()
		return true

	case OptimizationReplaceSecondary:
		if !s.Intent.hasSecondary(opt.FromNode) {
			return false
		}
		s.Intent.removeSecondary(opt.FromNode)
		sched.RemoveSecondary(opt.FromNode)
		s.Intent.addSecondary(opt.ToNode)
		sched.PushSecondary(opt.ToNode)
		s.bumpSequence()
		return true
	}
	return false
}

// DemoteAttached moves node from attached to the secondary list if it is
// the current attached node, bumping the sequence when it does. It
// reports whether anything changed; the caller is responsible for
// scheduling a reconcile when it does.
func (s *Shard) DemoteAttached(sched *scheduler.Scheduler, node types.NodeId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Intent.Attached == nil || *s.Intent.Attached != node {
		return false
	}
	s.Intent.Attached = nil
	sched.ClearAttached(node)
	s.Intent.addSecondary(node)
	sched.PushSecondary(node)
	s.bumpSequence()
	return true
}
