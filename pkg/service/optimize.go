package service

import (
	"context"
	"fmt"

	"github.com/cuemby/stormctl/pkg/log"
	"github.com/cuemby/stormctl/pkg/shard"
	"github.com/cuemby/stormctl/pkg/types"
)

// MaxOptimizationsPerPass bounds how many placement optimizations one
// OptimizeAll call applies.
const MaxOptimizationsPerPass = 2

// SecondaryWarmthThresholdBytes is the residual secondary-download work
// below which a migration target is considered warm enough to take over
// as attached without a large synchronous catch-up.
const SecondaryWarmthThresholdBytes = 10 << 30 // 10 GiB

// OptimizeAll looks, per tenant, for a secondary that is a strictly
// better attachment than the current one under soft placement
// constraints, and migrates to it if the secondary is warm enough.
// Returns the number of optimizations actually applied.
func (s *Service) OptimizeAll(ctx context.Context) int {
	applied := 0
	byTenant := make(map[types.TenantId][]*shard.Shard)
	for _, sh := range s.shardSnapshot() {
		if !sh.ShardSchedulingPolicy.PermitsOptimization() {
			continue
		}
		byTenant[sh.ID.TenantId] = append(byTenant[sh.ID.TenantId], sh)
	}

	for _, shards := range byTenant {
		if applied >= MaxOptimizationsPerPass {
			break
		}
		for _, sh := range shards {
			if applied >= MaxOptimizationsPerPass {
				break
			}
			opt, ok := s.proposeMigration(sh)
			if !ok {
				continue
			}
			warm, err := s.secondaryIsWarm(ctx, sh, opt.ToNode)
			if err != nil {
				log.Logger.Debug().Err(err).Str("tenant_shard_id", sh.ID.String()).Msg("optimizer: secondary status check failed, skipping")
				continue
			}
			if !warm {
				continue
			}
			if sh.ApplyOptimization(s.scheduler, opt) {
				s.maybeReconcileShard(ctx, sh)
				applied++
			}
		}
	}
	return applied
}

// proposeMigration looks for a secondary of sh whose node utilization is
// strictly lower than the currently attached node's, which stands in for
// the soft-affinity cost comparison a real ScheduleContext would score;
// it is a deliberate simplification of "soft constraints" scoring.
func (s *Service) proposeMigration(sh *shard.Shard) (shard.Optimization, bool) {
	attached, ok := sh.IntentAttached()
	if !ok {
		return shard.Optimization{}, false
	}
	nodes := s.nodeSnapshot()
	attachedNode, ok := nodes[attached]
	if !ok {
		return shard.Optimization{}, false
	}
	for _, secondary := range sh.SecondaryNodes() {
		candidate, ok := nodes[secondary]
		if !ok || !candidate.MaySchedule() {
			continue
		}
		if candidate.UtilizationScore < attachedNode.UtilizationScore {
			return shard.Optimization{
				Kind:     shard.OptimizationMigrateAttachment,
				Sequence: sh.Sequence(),
				FromNode: attached,
				ToNode:   secondary,
			}, true
		}
	}
	return shard.Optimization{}, false
}

func (s *Service) secondaryIsWarm(ctx context.Context, sh *shard.Shard, node types.NodeId) (bool, error) {
	n := s.nodeSnapshot()[node]
	if n == nil {
		return false, fmt.Errorf("node %s unknown", node)
	}
	progress, err := s.pageClient.SecondaryStatus(ctx, n, sh.ID)
	if err != nil {
		return false, err
	}
	return progress.BytesRemaining < SecondaryWarmthThresholdBytes, nil
}

// AutosplitTenants queries every node for its largest shards and issues
// a split to SplitToMax for the single largest shard reported across the
// whole cluster. No size threshold or shard-count filter is applied: any
// reported shard is a candidate.
func (s *Service) AutosplitTenants(ctx context.Context) error {
	var best *pageclientTopItem
	for _, n := range s.nodeSnapshot() {
		items, err := s.pageClient.TopTenantShards(ctx, n)
		if err != nil {
			log.Logger.Debug().Err(err).Str("node_id", string(n.ID)).Msg("autosplit: top_tenant_shards failed")
			continue
		}
		for _, item := range items {
			if best == nil || item.MaxLogicalSize > best.MaxLogicalSize {
				it := item
				best = &it
			}
		}
	}
	if best == nil {
		return nil
	}
	return s.SplitTenant(ctx, best.TenantShardID.TenantId, types.ShardCount(SplitToMax))
}

type pageclientTopItem = types.TopTenantShardItem

// SplitToMax is the target shard count autosplit drives a hot tenant to.
const SplitToMax = 8
