package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/stormctl/pkg/apierror"
	"github.com/cuemby/stormctl/pkg/log"
	"github.com/cuemby/stormctl/pkg/scheduler"
	"github.com/cuemby/stormctl/pkg/shard"
	"github.com/cuemby/stormctl/pkg/storage"
	"github.com/cuemby/stormctl/pkg/types"
)

// CreateTenantRequest describes a new tenant to place.
type CreateTenantRequest struct {
	TenantID        types.TenantId
	ShardCount      types.ShardCount
	StripeSize      uint32
	PlacementPolicy types.PlacementPolicy
}

// DefaultReconcileWait bounds how long CreateTenant/DeleteTenant wait
// for their shards to reach a reconciled state before returning anyway.
const DefaultReconcileWait = 30 * time.Second

// CreateTenant persists one shard row per requested shard (idempotent on
// unique-key conflict), schedules each shard in a shared per-tenant
// context, spawns reconcilers, and waits bounded for them to converge.
func (s *Service) CreateTenant(ctx context.Context, req CreateTenantRequest) error {
	release := s.tenantLocks.Lock(req.TenantID)
	defer release()

	stripeSize := req.StripeSize
	if stripeSize == 0 {
		stripeSize = types.DefaultStripeSize
	}

	shardCount := req.ShardCount
	n := shardCount.Count()
	if shardCount.Unsharded() {
		n = 1
	}

	shards := make([]*shard.Shard, 0, n)
	for i := 0; i < n; i++ {
		id := types.TenantShardId{TenantId: req.TenantID, ShardNumber: types.ShardNumber(i), ShardCount: shardCount}
		if _, exists := s.shardByID(id); exists {
			continue // idempotent retry: shard already created
		}
		rec := &storage.ShardRecord{
			TenantShardID:         id,
			PlacementPolicy:       req.PlacementPolicy,
			ShardSchedulingPolicy: types.ShardSchedulingActive,
			SplitState:            types.SplitIdle,
			StripeSize:            stripeSize,
		}
		if err := s.persistence.InsertTenantShard(ctx, rec); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				continue // another caller's concurrent retry won the race
			}
			return apierror.Wrap(apierror.KindInternal, "persist tenant shard", err)
		}

		sh := shard.New(id, req.PlacementPolicy)
		sh.StripeSize = stripeSize
		s.mu.Lock()
		s.shards[id] = sh
		s.mu.Unlock()
		shards = append(shards, sh)
	}

	sctx := scheduler.NewScheduleContext()
	for _, sh := range shards {
		if err := sh.Schedule(s.scheduler, sctx); err != nil {
			return apierror.Wrap(apierror.KindResourceUnavailable, "schedule tenant shard", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, DefaultReconcileWait)
	defer cancel()
	for _, sh := range shards {
		s.maybeReconcileShard(ctx, sh)
	}
	for _, sh := range shards {
		if err := s.WaitForSequence(waitCtx, sh.ID, sh.Sequence()); err != nil {
			log.Logger.Warn().Err(err).Str("tenant_shard_id", sh.ID.String()).Msg("create tenant: reconcile did not converge before deadline")
		}
	}
	return nil
}

// ConfigureLocationRequest updates one shard's placement policy.
type ConfigureLocationRequest struct {
	TenantShardID   types.TenantShardId
	PlacementPolicy types.PlacementPolicy
}

// ConfigureLocation updates the placement policy of a shard already known
// in memory, reschedules it under the new policy, and kicks a reconcile.
// A shard not known in memory is rejected with NotFound; this path does
// not create shards. Unlike CreateTenant/DeleteTenant, this does not
// block for reconcile to finish: the request succeeds once persisted.
func (s *Service) ConfigureLocation(ctx context.Context, req ConfigureLocationRequest) error {
	release := s.tenantLocks.Lock(req.TenantShardID.TenantId)
	defer release()

	sh, ok := s.shardByID(req.TenantShardID)
	if !ok {
		return apierror.NotFound(fmt.Sprintf("tenant shard %s not found", req.TenantShardID))
	}

	rec, err := s.persistence.GetTenantShard(ctx, req.TenantShardID)
	if err != nil {
		return apierror.Wrap(apierror.KindInternal, "load tenant shard for location config", err)
	}
	rec.PlacementPolicy = req.PlacementPolicy
	if err := s.persistence.UpdateTenantShard(ctx, rec); err != nil {
		return apierror.Wrap(apierror.KindInternal, "persist location config", err)
	}

	sh.SetPlacementPolicy(req.PlacementPolicy)
	if err := sh.Schedule(s.scheduler, scheduler.NewScheduleContext()); err != nil {
		return apierror.Wrap(apierror.KindResourceUnavailable, "reschedule after location config", err)
	}
	s.maybeReconcileShard(ctx, sh)
	return nil
}

// DeleteTenant sets every shard of tenant to Detached, reconciles that
// (clearing all locations), then removes the tenant from persistence and
// from memory. It issues no tenant_delete RPC to the pageservers.
func (s *Service) DeleteTenant(ctx context.Context, tenant types.TenantId) error {
	release := s.tenantLocks.Lock(tenant)
	defer release()

	shards := s.shardsForTenant(tenant)
	if len(shards) == 0 {
		return nil // idempotent: already deleted
	}

	sctx := scheduler.NewScheduleContext()
	for _, sh := range shards {
		sh.SetPlacementPolicy(types.PlacementPolicy{Kind: types.PlacementDetached})
		if err := sh.Schedule(s.scheduler, sctx); err != nil {
			return apierror.Wrap(apierror.KindResourceUnavailable, "schedule detach for delete", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, DefaultReconcileWait)
	defer cancel()
	for _, sh := range shards {
		s.maybeReconcileShard(ctx, sh)
	}
	for _, sh := range shards {
		if err := s.WaitForSequence(waitCtx, sh.ID, sh.Sequence()); err != nil {
			log.Logger.Warn().Err(err).Str("tenant_shard_id", sh.ID.String()).Msg("delete tenant: detach reconcile did not converge before deadline")
		}
	}

	for _, sh := range shards {
		if err := s.persistence.DeleteTenantShard(ctx, sh.ID); err != nil {
			return apierror.Wrap(apierror.KindInternal, "delete tenant shard row", err)
		}
	}

	s.mu.Lock()
	for _, sh := range shards {
		delete(s.shards, sh.ID)
	}
	s.mu.Unlock()

	log.Logger.Info().Str("tenant_id", string(tenant)).Int("shards", len(shards)).Msg("tenant deleted")
	return nil
}
