package service

import (
	"context"
	"fmt"

	"github.com/cuemby/stormctl/pkg/heartbeat"
	"github.com/cuemby/stormctl/pkg/log"
	"github.com/cuemby/stormctl/pkg/scheduler"
	"github.com/cuemby/stormctl/pkg/shard"
	"github.com/cuemby/stormctl/pkg/types"
)

// StartupReconcile runs once, before the service accepts external
// requests: load durable state, abort any split left half-finished by a
// prior crash, rehydrate the scheduler, probe every pageserver, and
// compute each shard's reconcile-needed status against what was found.
func (s *Service) StartupReconcile(ctx context.Context) error {
	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.StartupScanTimeout)
	defer cancel()

	// 1. Load nodes + shards; abort any split whose tenant has mixed
	// shard counts (a crash between begin_shard_split and
	// complete_shard_split leaves parent and child rows coexisting).
	nodeRows, err := s.persistence.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("startup: list nodes: %w", err)
	}
	shardRows, err := s.persistence.ListTenantShards(ctx)
	if err != nil {
		return fmt.Errorf("startup: list tenant shards: %w", err)
	}

	countsByTenant := make(map[types.TenantId]map[types.ShardCount]int)
	for _, rec := range shardRows {
		m := countsByTenant[rec.TenantShardID.TenantId]
		if m == nil {
			m = make(map[types.ShardCount]int)
			countsByTenant[rec.TenantShardID.TenantId] = m
		}
		m[rec.TenantShardID.ShardCount]++
	}
	abortedAny := false
	for tenant, counts := range countsByTenant {
		if len(counts) <= 1 {
			continue
		}
		log.Logger.Warn().Str("tenant_id", string(tenant)).Msg("mixed shard counts at startup, aborting in-progress split")
		if err := s.persistence.AbortShardSplit(ctx, tenant); err != nil {
			return fmt.Errorf("startup: abort stale split for %s: %w", tenant, err)
		}
		abortedAny = true
	}
	if abortedAny {
		shardRows, err = s.persistence.ListTenantShards(ctx)
		if err != nil {
			return fmt.Errorf("startup: reload tenant shards after abort: %w", err)
		}
	}

	s.mu.Lock()
	for _, n := range nodeRows {
		s.nodes[n.ID] = n
		s.scheduler.NodeUpsert(n)
	}
	for _, rec := range shardRows {
		sh := shard.New(rec.TenantShardID, rec.PlacementPolicy)
		sh.ShardSchedulingPolicy = rec.ShardSchedulingPolicy
		sh.SplitState = rec.SplitState
		sh.StripeSize = rec.StripeSize
		sh.Generation = rec.Generation
		// 2. Best-effort initial intent from the persisted attachment.
		sh.SeedIntent(rec.AttachedNode, rec.SecondaryNodes)
		if rec.AttachedNode != nil {
			s.scheduler.SetAttached(*rec.AttachedNode)
		}
		for _, sec := range rec.SecondaryNodes {
			s.scheduler.PushSecondary(sec)
		}
		s.shards[rec.TenantShardID] = sh
	}
	s.mu.Unlock()

	// 3. In parallel (bounded by scanCtx's deadline), list_location_config
	// on every node.
	type scanResult struct {
		node types.NodeId
		cfgs map[string]types.LocationConfig
		err  error
	}
	resultCh := make(chan scanResult, len(nodeRows))
	for _, n := range nodeRows {
		n := n
		go func() {
			cfgs, err := s.pageClient.ListLocationConfig(scanCtx, n)
			resultCh <- scanResult{node: n.ID, cfgs: cfgs, err: err}
		}()
	}

	observedByNode := make(map[types.NodeId]map[string]types.LocationConfig, len(nodeRows))
	for range nodeRows {
		select {
		case r := <-resultCh:
			if r.err != nil {
				log.Logger.Warn().Err(r.err).Str("node_id", string(r.node)).Msg("startup scan: list_location_config failed")
				continue
			}
			observedByNode[r.node] = r.cfgs
		case <-scanCtx.Done():
			log.Logger.Warn().Msg("startup scan: deadline exceeded before every node responded")
		}
	}

	// 4. Initial heartbeat round.
	hb := heartbeat.New(heartbeat.DefaultConfig(), s.pageClient)
	hb.RunOnce(scanCtx, s.nodeSnapshot())

	// 5. Populate observed state. Shards observed on a node but unknown
	// to the controller are logged and left out of s.shards; no detach
	// is issued for them.
	for nodeID, cfgs := range observedByNode {
		for wireID, cfg := range cfgs {
			shardID, err := types.ParseTenantShardId(wireID)
			if err != nil {
				continue
			}
			sh, ok := s.shardByID(shardID)
			if !ok {
				log.Logger.Warn().Str("tenant_shard_id", wireID).Str("node_id", string(nodeID)).
					Msg("observed shard unknown to controller, needs background detach")
				continue
			}
			sh.ApplyObserved(nodeID, cfg)
		}
	}

	// 6. Schedule every shard against a fresh per-tenant context.
	contexts := make(map[types.TenantId]*scheduler.ScheduleContext)
	for _, sh := range s.shardSnapshot() {
		sctx, ok := contexts[sh.ID.TenantId]
		if !ok {
			sctx = scheduler.NewScheduleContext()
			contexts[sh.ID.TenantId] = sctx
		}
		if err := sh.Schedule(s.scheduler, sctx); err != nil {
			log.Logger.Warn().Err(err).Str("tenant_shard_id", sh.ID.String()).Msg("startup schedule failed")
		}
	}

	// 7. Notify stably-attached shards immediately; spawn reconcilers for
	// everything else.
	for _, sh := range s.shardSnapshot() {
		if node, ok := sh.StablyAttached(); ok {
			n := s.nodeSnapshot()[node]
			if err := s.computeHook.Notify(ctx, sh.ID, n, sh.StripeSize); err != nil {
				log.Logger.Warn().Err(err).Str("tenant_shard_id", sh.ID.String()).Msg("startup compute notify failed")
			}
			continue
		}
		s.maybeReconcileShard(ctx, sh)
	}

	return nil
}
