// Package service implements the orchestrator: the single entry point
// that owns node/tenant-shard state, the scheduler, and reconcile
// dispatch behind one struct. Every mutating operation follows the
// persist-first rule: the durable Persistence write happens before any
// in-memory shard.Shard or scheduler.Scheduler state changes.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/stormctl/pkg/computehook"
	"github.com/cuemby/stormctl/pkg/log"
	"github.com/cuemby/stormctl/pkg/pageclient"
	"github.com/cuemby/stormctl/pkg/reconciler"
	"github.com/cuemby/stormctl/pkg/scheduler"
	"github.com/cuemby/stormctl/pkg/shard"
	"github.com/cuemby/stormctl/pkg/storage"
	"github.com/cuemby/stormctl/pkg/types"
)

// Config controls background-loop cadence and concurrency bounds.
type Config struct {
	ReconcileInterval         time.Duration
	MaxReconcileConcurrency   int
	StartupScanTimeout        time.Duration
	MaxReconcilesPerOperation int
	DelayedReconcileCapacity  int
}

// DefaultConfig returns sensible production defaults: 20s sweep, 128-wide
// reconciler semaphore, 30s startup scan deadline, 10000-deep backlog.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval:         20 * time.Second,
		MaxReconcileConcurrency:   128,
		StartupScanTimeout:        30 * time.Second,
		MaxReconcilesPerOperation: 32,
		DelayedReconcileCapacity:  10000,
	}
}

// Service is the orchestrator. Exported methods are the only supported
// entry points; pkg/api handlers and cmd/stormctl both call through it.
type Service struct {
	cfg         Config
	persistence storage.Persistence
	pageClient  pageclient.Client
	computeHook computehook.Hook

	mu     sync.RWMutex
	nodes  map[types.NodeId]*types.Node
	shards map[types.TenantShardId]*shard.Shard

	scheduler *scheduler.Scheduler
	ongoing   *ongoingOperations

	tenantLocks *keyedLock[types.TenantId]
	nodeLocks   *keyedLock[types.NodeId]

	pendingComputeMu sync.Mutex
	pendingCompute   map[types.TenantShardId]bool

	reconcileSem    chan struct{}
	resultCh        chan reconciler.Result
	delayedReconcile chan types.TenantShardId

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Service with empty in-memory state; callers must call
// StartupReconcile before serving traffic.
func New(cfg Config, persistence storage.Persistence, pageClient pageclient.Client, computeHook computehook.Hook) *Service {
	return &Service{
		cfg:              cfg,
		persistence:      persistence,
		pageClient:       pageClient,
		computeHook:      computeHook,
		nodes:            make(map[types.NodeId]*types.Node),
		shards:           make(map[types.TenantShardId]*shard.Shard),
		scheduler:        scheduler.New(),
		ongoing:          newOngoingOperations(),
		tenantLocks:      newKeyedLock[types.TenantId](),
		nodeLocks:        newKeyedLock[types.NodeId](),
		pendingCompute:   make(map[types.TenantShardId]bool),
		reconcileSem:     make(chan struct{}, cfg.MaxReconcileConcurrency),
		resultCh:         make(chan reconciler.Result, cfg.MaxReconcileConcurrency),
		delayedReconcile: make(chan types.TenantShardId, cfg.DelayedReconcileCapacity),
	}
}

// Run starts the background result-consumer and reconcile-sweep loops on
// their own goroutines and returns immediately. Close stops them and
// waits for them, and for any reconcilers still running, to exit.
func (s *Service) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.resultLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.sweepLoop(ctx)
	}()
}

// Close cancels background loops and waits for them to exit.
func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// nodeSnapshot returns an immutable copy of the current node map:
// callers that iterate nodes for a whole scan round (heartbeat, startup
// scan) should use a single snapshot rather than re-reading s.nodes
// under lock repeatedly.
func (s *Service) nodeSnapshot() map[types.NodeId]*types.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.NodeId]*types.Node, len(s.nodes))
	for id, n := range s.nodes {
		out[id] = n
	}
	return out
}

// shardSnapshot returns the current shard set as a slice, taken under
// the read lock just long enough to copy pointers (shard.Shard has its
// own internal mutex for field access).
func (s *Service) shardSnapshot() []*shard.Shard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*shard.Shard, 0, len(s.shards))
	for _, sh := range s.shards {
		out = append(out, sh)
	}
	return out
}

func (s *Service) shardsForTenant(tenant types.TenantId) []*shard.Shard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*shard.Shard
	for id, sh := range s.shards {
		if id.TenantId == tenant {
			out = append(out, sh)
		}
	}
	return out
}

// maybeReconcileShard spawns a reconciler for sh if one is needed and a
// concurrency permit is available; otherwise it marks the shard for the
// delayed-reconcile backlog. Returns true if a reconciler was spawned.
func (s *Service) maybeReconcileShard(ctx context.Context, sh *shard.Shard) bool {
	s.pendingComputeMu.Lock()
	pending := s.pendingCompute[sh.ID]
	s.pendingComputeMu.Unlock()

	needed, waiter := sh.GetReconcileNeeded(s.nodeSnapshot(), pending)
	if waiter != nil {
		// An existing reconciler already covers this shard; nothing new
		// to spawn, but the waiter itself will be woken on completion.
		return false
	}
	if needed != shard.ReconcileYes {
		return false
	}

	if sh.NeedsGenerationBump() {
		gen, err := s.persistence.IncrementGeneration(ctx, sh.ID)
		if err != nil {
			log.Logger.Warn().Err(err).Str("tenant_shard_id", sh.ID.String()).Msg("failed to persist new generation, deferring reconcile")
			return false
		}
		sh.SetGeneration(gen)
	}

	select {
	case s.reconcileSem <- struct{}{}:
	default:
		s.enqueueDelayed(sh.ID)
		return false
	}

	taskCtx, seq, intent, observed, gen, handoverFrom, _, done := sh.SpawnReconciler(ctx)
	task := &reconciler.Task{
		TenantShardID: sh.ID,
		Sequence:      seq,
		Intent:        intent,
		Observed:      observed,
		Generation:    gen,
		StripeSize:    sh.StripeSize,
		Nodes:         s.nodeSnapshot(),
		HandoverFrom:  handoverFrom,
		PageClient:    s.pageClient,
		ComputeHook:   s.computeHook,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.reconcileSem }()
		result := task.Run(taskCtx)
		done(result.Err)
		select {
		case s.resultCh <- result:
		case <-ctx.Done():
		}
	}()
	return true
}

func (s *Service) enqueueDelayed(id types.TenantShardId) {
	select {
	case s.delayedReconcile <- id:
	default:
		log.Logger.Warn().Str("tenant_shard_id", id.String()).Msg("delayed reconcile channel full, relying on periodic sweep")
	}
}

// Nodes returns a snapshot of the current node map, for metrics
// collection and read-only API handlers.
func (s *Service) Nodes() map[types.NodeId]*types.Node {
	return s.nodeSnapshot()
}

// Shards returns a snapshot of the current shard set, for metrics
// collection and read-only API handlers.
func (s *Service) Shards() []*shard.Shard {
	return s.shardSnapshot()
}

// ReconcilerSlotsInUse reports how many of the bounded reconcile
// concurrency permits are currently held.
func (s *Service) ReconcilerSlotsInUse() int {
	return len(s.reconcileSem)
}

// DelayedReconcileBacklog reports how many shards are waiting in the
// delayed-reconcile backlog because no permit was free when they needed
// one.
func (s *Service) DelayedReconcileBacklog() int {
	return len(s.delayedReconcile)
}

func (s *Service) shardByID(id types.TenantShardId) (*shard.Shard, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shards[id]
	return sh, ok
}

// Shard returns the shard tracked under id, for read-only API handlers
// and diagnostics.
func (s *Service) Shard(id types.TenantShardId) (*shard.Shard, bool) {
	return s.shardByID(id)
}

// ConsistencyCheck asserts the scheduler's attached/secondary counters
// still match a fresh scan of the shard map. Exported so tests and
// periodic diagnostics can catch scheduler bookkeeping drift (a split,
// demote, or migrate that updated intent without updating the
// scheduler) instead of letting it accumulate silently.
func (s *Service) ConsistencyCheck() error {
	expected := make(map[types.NodeId]scheduler.ShardCounts)
	for id := range s.nodeSnapshot() {
		expected[id] = scheduler.ShardCounts{}
	}
	for _, sh := range s.shardSnapshot() {
		if n, ok := sh.IntentAttached(); ok {
			c := expected[n]
			c.Attached++
			expected[n] = c
		}
		for _, n := range sh.SecondaryNodes() {
			c := expected[n]
			c.Secondary++
			expected[n] = c
		}
	}
	return s.scheduler.ConsistencyCheck(expected)
}

// ReconcileAll scans every shard under maybeReconcileShard, and drains
// whatever fits from the delayed-reconcile backlog once the scan is
// done: each entry present when the drain starts is tried once. It
// returns the number of reconcilers spawned, or 1 if none were spawned
// but shards remain in the backlog waiting for a permit.
func (s *Service) ReconcileAll(ctx context.Context) int {
	spawned := 0
	for _, sh := range s.shardSnapshot() {
		if s.maybeReconcileShard(ctx, sh) {
			spawned++
		}
	}
	pending := len(s.delayedReconcile)
drain:
	for ; pending > 0; pending-- {
		select {
		case id := <-s.delayedReconcile:
			sh, ok := s.shardByID(id)
			if ok && s.maybeReconcileShard(ctx, sh) {
				spawned++
			}
		default:
			break drain
		}
	}
	if spawned == 0 && len(s.delayedReconcile) > 0 {
		spawned = 1
	}
	return spawned
}

// resultLoop applies reconciler.Result values to the owning shard's
// observed state and pending-compute-notification bookkeeping as they
// arrive. Service holds the receiving end of an mpsc channel; reconciler
// goroutines each hold a send-only handle via the closure in
// maybeReconcileShard.
func (s *Service) resultLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case result := <-s.resultCh:
			s.applyResult(ctx, result)
		}
	}
}

func (s *Service) applyResult(ctx context.Context, result reconciler.Result) {
	sh, ok := s.shardByID(result.TenantShardID)
	if !ok {
		return
	}
	for node, cfg := range result.Observed {
		sh.ApplyObserved(node, cfg)
	}

	s.pendingComputeMu.Lock()
	if result.PendingComputeNotification {
		s.pendingCompute[result.TenantShardID] = true
	} else {
		delete(s.pendingCompute, result.TenantShardID)
	}
	s.pendingComputeMu.Unlock()

	if result.Err != nil {
		log.WithTenantShard(result.TenantShardID.String()).Warn().Err(result.Err).
			Uint64("sequence", result.Sequence).Msg("reconcile failed, will retry")
	}

	if sh.FinalizeHandoverIfComplete(result.Observed) {
		s.maybeReconcileShard(ctx, sh)
	}
}

// sweepLoop runs the periodic reconciliation loop: on each tick it tries
// ReconcileAll, then OptimizeAll if nothing needed reconciling, then
// AutosplitTenants if nothing needed optimizing either.
func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.ReconcileAll(ctx); n > 0 {
				continue
			}
			if n := s.OptimizeAll(ctx); n > 0 {
				continue
			}
			if err := s.AutosplitTenants(ctx); err != nil {
				log.Logger.Debug().Err(err).Msg("autosplit pass found nothing to do")
			}
		}
	}
}

// WaitForSequence blocks until a reconcile at sequence >= seq has
// completed for id, or ctx is done. It is the HTTP-facing half of the
// sequence-waiter mechanism used by tenant create/delete.
func (s *Service) WaitForSequence(ctx context.Context, id types.TenantShardId, seq uint64) error {
	sh, ok := s.shardByID(id)
	if !ok {
		return fmt.Errorf("shard %s not found", id)
	}
	for {
		if sh.Sequence() >= seq {
			// A reconciler still in flight hands back a waiter that is
			// woken when it completes.
			if _, w := sh.GetReconcileNeeded(nil, false); w != nil {
				woken := make(chan struct{})
				go func() {
					_ = w.Wait()
					close(woken)
				}()
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-woken:
				}
			}
			if err := sh.LastError(); err != nil {
				return err
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
