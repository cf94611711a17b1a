package service

import (
	"context"
	"fmt"

	"github.com/cuemby/stormctl/pkg/apierror"
	"github.com/cuemby/stormctl/pkg/log"
	"github.com/cuemby/stormctl/pkg/types"
)

// RegisterNode persists a new pageserver node and admits it to the
// scheduler. Re-registering an existing node ID updates its connection
// details in place.
func (s *Service) RegisterNode(ctx context.Context, node *types.Node) error {
	release := s.nodeLocks.Lock(node.ID)
	defer release()

	if node.SchedulingPolicy == "" {
		node.SchedulingPolicy = types.NodeSchedulingActive
	}
	if err := s.persistence.UpsertNode(ctx, node); err != nil {
		return apierror.Wrap(apierror.KindInternal, "persist node registration", err)
	}

	s.mu.Lock()
	s.nodes[node.ID] = node
	s.scheduler.NodeUpsert(node)
	s.mu.Unlock()

	log.Logger.Info().Str("node_id", string(node.ID)).Str("address", node.Address()).Msg("node registered")
	return nil
}

// ConfigureNode directly sets a node's scheduling policy, outside the
// drain/fill state machine. Rejected if a drain or fill operation is
// currently in progress for the node; callers that want to change policy
// mid-operation should cancel the operation first.
func (s *Service) ConfigureNode(ctx context.Context, node types.NodeId, policy types.NodeSchedulingPolicy) error {
	release := s.nodeLocks.Lock(node)
	defer release()

	s.mu.Lock()
	n, ok := s.nodes[node]
	if !ok {
		s.mu.Unlock()
		return apierror.NotFound(fmt.Sprintf("node %s not found", node))
	}
	if _, busy := s.ongoing.get(string(node)); busy {
		s.mu.Unlock()
		return apierror.Conflict(ErrOperationInProgress.Error())
	}
	n.SchedulingPolicy = policy
	s.mu.Unlock()

	if err := s.persistence.UpsertNode(ctx, n); err != nil {
		return apierror.Wrap(apierror.KindInternal, "persist node scheduling policy", err)
	}
	return nil
}

// MigrateTenant forces every shard of tenant currently attached on any
// node to instead attach on target, bypassing the optimizer's
// warmth/utilization checks. If the shard already has an attached node
// other than target, the migration goes through the two-phase handover:
// the old node is kept as AttachedStale and target as AttachedMulti until
// the reconciler observes target accepted its location, at which point
// the old node is cut over to Detached. A fresh generation is persisted
// before the new attachment is scheduled, per the same rule
// maybeReconcileShard enforces for every other attach-producing path.
func (s *Service) MigrateTenant(ctx context.Context, tenant types.TenantId, target types.NodeId) error {
	release := s.tenantLocks.Lock(tenant)
	defer release()

	shards := s.shardsForTenant(tenant)
	if len(shards) == 0 {
		return apierror.NotFound(fmt.Sprintf("tenant %s not found", tenant))
	}
	if s.nodeSnapshot()[target] == nil {
		return apierror.NotFound(fmt.Sprintf("target node %s not found", target))
	}

	for _, sh := range shards {
		current, hasAttached := sh.IntentAttached()
		if hasAttached && current == target {
			continue // already attached there
		}
		secondary := sh.SecondaryNodes()
		filtered := secondary[:0]
		for _, n := range secondary {
			if n != target {
				filtered = append(filtered, n)
			}
		}
		sh.SeedIntent(&target, filtered)
		if hasAttached {
			sh.BeginHandover(current)
		}
		s.scheduler.SetAttached(target)
		s.maybeReconcileShard(ctx, sh)
	}
	return nil
}
