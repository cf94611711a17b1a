package service

import (
	"context"
	"fmt"

	"github.com/cuemby/stormctl/pkg/apierror"
	"github.com/cuemby/stormctl/pkg/log"
	"github.com/cuemby/stormctl/pkg/scheduler"
	"github.com/cuemby/stormctl/pkg/shard"
	"github.com/cuemby/stormctl/pkg/storage"
	"github.com/cuemby/stormctl/pkg/types"
)

// SplitTenant drives tenant from its current shard count to
// newShardCount. Persist-first: begin_shard_split is durable before any
// pageserver RPC runs, so a crash after that commit but before the RPC
// leaves startup_reconcile's mixed-count detection to clean up via
// abort_shard_split. A pageserver RPC failure aborts the same way; only
// once the split's children are confirmed does complete_shard_split
// replace the parent rows atomically.
func (s *Service) SplitTenant(ctx context.Context, tenant types.TenantId, newShardCount types.ShardCount) error {
	release := s.tenantLocks.Lock(tenant)
	defer release()

	parents := s.shardsForTenant(tenant)
	if len(parents) == 0 {
		return apierror.NotFound(fmt.Sprintf("tenant %s not found", tenant))
	}
	parentZero := parents[0]
	for _, p := range parents {
		if p.ID.IsShardZero() {
			parentZero = p
			break
		}
	}
	attached, ok := parentZero.IntentAttached()
	if !ok {
		return apierror.PreconditionFailed("tenant shard zero has no attached location to split from")
	}

	if err := s.persistence.BeginShardSplit(ctx, tenant, newShardCount); err != nil {
		return apierror.Wrap(apierror.KindInternal, "persist begin_shard_split", err)
	}

	n := s.nodeSnapshot()[attached]
	if n == nil {
		_ = s.persistence.AbortShardSplit(ctx, tenant)
		return apierror.ResourceUnavailable("attached node unknown, aborting split")
	}
	childIDs, err := s.pageClient.TenantShardSplit(ctx, n, parentZero.ID, newShardCount, parentZero.StripeSize)
	if err != nil {
		if abortErr := s.persistence.AbortShardSplit(ctx, tenant); abortErr != nil {
			log.Logger.Error().Err(abortErr).Str("tenant_id", string(tenant)).Msg("split: abort_shard_split itself failed, manual cleanup required")
		}
		return apierror.Wrap(apierror.KindResourceUnavailable, "pageserver shard_split RPC failed", err)
	}

	children := make([]*storage.ShardRecord, 0, len(childIDs))
	for _, id := range childIDs {
		children = append(children, &storage.ShardRecord{
			TenantShardID:         id,
			AttachedNode:          &attached,
			PlacementPolicy:       parentZero.PlacementPolicy,
			ShardSchedulingPolicy: parentZero.ShardSchedulingPolicy,
			SplitState:            types.SplitIdle,
			StripeSize:            parentZero.StripeSize,
		})
	}
	if err := s.persistence.CompleteShardSplit(ctx, tenant, children); err != nil {
		return apierror.Wrap(apierror.KindInternal, "persist complete_shard_split", err)
	}

	for _, p := range parents {
		if n, ok := p.IntentAttached(); ok {
			s.scheduler.ClearAttached(n)
		}
		for _, n := range p.SecondaryNodes() {
			s.scheduler.RemoveSecondary(n)
		}
	}

	s.mu.Lock()
	for _, p := range parents {
		delete(s.shards, p.ID)
	}
	s.mu.Unlock()

	sctx := scheduler.NewScheduleContext()
	var newShards []*shard.Shard
	for _, rec := range children {
		sh := shard.New(rec.TenantShardID, rec.PlacementPolicy)
		sh.StripeSize = rec.StripeSize
		sh.SeedIntent(rec.AttachedNode, nil)
		s.scheduler.SetAttached(attached)

		s.mu.Lock()
		s.shards[rec.TenantShardID] = sh
		s.mu.Unlock()
		newShards = append(newShards, sh)
	}
	for _, sh := range newShards {
		if err := sh.Schedule(s.scheduler, sctx); err != nil {
			log.Logger.Warn().Err(err).Str("tenant_shard_id", sh.ID.String()).Msg("split: post-split schedule failed")
			continue
		}
		s.maybeReconcileShard(ctx, sh)
	}

	log.Logger.Info().Str("tenant_id", string(tenant)).Int("children", len(children)).Msg("shard split complete")
	return nil
}
