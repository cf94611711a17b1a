package service

import (
	"context"
	"fmt"

	"github.com/cuemby/stormctl/pkg/apierror"
	"github.com/cuemby/stormctl/pkg/log"
	"github.com/cuemby/stormctl/pkg/types"
)

// ErrOperationInProgress is returned when a drain or fill is requested
// for a node that already has one ongoing.
var ErrOperationInProgress = fmt.Errorf("service: an operation is already in progress for this node")

func (s *Service) beginOperation(ctx context.Context, node types.NodeId, kind OperationKind, policy types.NodeSchedulingPolicy) (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	n, ok := s.nodes[node]
	if !ok {
		s.mu.Unlock()
		return nil, nil, apierror.NotFound(fmt.Sprintf("node %s not found", node))
	}
	if _, busy := s.ongoing.get(string(node)); busy {
		s.mu.Unlock()
		return nil, nil, apierror.Conflict(ErrOperationInProgress.Error())
	}
	n.SchedulingPolicy = policy
	s.mu.Unlock()

	if err := s.persistence.UpsertNode(ctx, n); err != nil {
		return nil, nil, apierror.Wrap(apierror.KindInternal, "persist node scheduling policy", err)
	}

	opCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.ongoing.set(string(node), &Operation{Kind: kind, Cancel: cancel, Done: make(chan struct{})})
	s.mu.Unlock()
	return opCtx, cancel, nil
}

func (s *Service) endOperation(ctx context.Context, node types.NodeId, finalPolicy types.NodeSchedulingPolicy) {
	s.mu.Lock()
	op, ok := s.ongoing.get(string(node))
	if ok {
		close(op.Done)
		s.ongoing.clear(string(node))
	}
	n, exists := s.nodes[node]
	if exists {
		n.SchedulingPolicy = finalPolicy
	}
	s.mu.Unlock()

	if exists {
		if err := s.persistence.UpsertNode(ctx, n); err != nil {
			log.Logger.Warn().Err(err).Str("node_id", string(node)).Msg("failed to persist final scheduling policy")
		}
	}
}

// DrainNode moves every shard attached on node to a secondary elsewhere,
// batched by MaxReconcilesPerOperation, then marks the node
// PauseForRestart. Cancellable: an external scheduling-policy change
// aborts the drain and reverts to Active.
func (s *Service) DrainNode(ctx context.Context, node types.NodeId) error {
	release := s.nodeLocks.Lock(node)
	defer release()

	opCtx, _, err := s.beginOperation(ctx, node, OperationDrain, types.NodeSchedulingDraining)
	if err != nil {
		return err
	}

	var toMove []types.TenantShardId
	for _, sh := range s.shardSnapshot() {
		if attached, ok := sh.IntentAttached(); ok && attached == node {
			toMove = append(toMove, sh.ID)
		}
	}

	batch := s.cfg.MaxReconcilesPerOperation
	if batch <= 0 {
		batch = len(toMove)
	}
	for i := 0; i < len(toMove); i += batch {
		select {
		case <-opCtx.Done():
			s.endOperation(ctx, node, types.NodeSchedulingActive)
			return apierror.ShuttingDown("drain cancelled")
		default:
		}
		if !s.nodeStillDraining(node) {
			s.endOperation(ctx, node, types.NodeSchedulingActive)
			return apierror.Conflict("node scheduling policy changed externally during drain")
		}

		end := i + batch
		if end > len(toMove) {
			end = len(toMove)
		}
		for _, id := range toMove[i:end] {
			sh, ok := s.shardByID(id)
			if !ok {
				continue
			}
			if err := sh.RescheduleToSecondary("", s.scheduler); err != nil {
				log.Logger.Warn().Err(err).Str("tenant_shard_id", id.String()).Msg("drain: reschedule failed")
				continue
			}
			s.maybeReconcileShard(ctx, sh)
		}
		for _, id := range toMove[i:end] {
			sh, ok := s.shardByID(id)
			if !ok {
				continue
			}
			_ = s.WaitForSequence(ctx, id, sh.Sequence())
		}
	}

	s.endOperation(ctx, node, types.NodeSchedulingPauseForRestart)
	log.Logger.Info().Str("node_id", string(node)).Int("shards_moved", len(toMove)).Msg("drain complete")
	return nil
}

func (s *Service) nodeStillDraining(node types.NodeId) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[node]
	return ok && n.SchedulingPolicy == types.NodeSchedulingDraining
}

func (s *Service) nodeStillFilling(node types.NodeId) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[node]
	return ok && n.SchedulingPolicy == types.NodeSchedulingFilling
}

// FillNode promotes secondaries of node to attached until its attached
// count reaches the cluster's fair share, capping per-tenant promotions
// at max(shard_count/node_count, 1) so one tenant can't be concentrated
// onto the filling node.
func (s *Service) FillNode(ctx context.Context, node types.NodeId) error {
	release := s.nodeLocks.Lock(node)
	defer release()

	opCtx, _, err := s.beginOperation(ctx, node, OperationFill, types.NodeSchedulingFilling)
	if err != nil {
		return err
	}

	requirement := s.scheduler.ComputeFillRequirement(node)
	nodeCount := len(s.nodeSnapshot())
	shardsPerTenant := make(map[types.TenantId]int)
	for _, sh := range s.shardSnapshot() {
		shardsPerTenant[sh.ID.TenantId]++
	}

	promotedPerTenant := make(map[types.TenantId]int)
	var plan []types.TenantShardId
	for _, sh := range s.shardSnapshot() {
		if len(plan) >= requirement {
			break
		}
		if !sh.HasSecondary(node) {
			continue
		}
		perTenantCap := 1
		if nodeCount > 0 && shardsPerTenant[sh.ID.TenantId]/nodeCount > perTenantCap {
			perTenantCap = shardsPerTenant[sh.ID.TenantId] / nodeCount
		}
		if promotedPerTenant[sh.ID.TenantId] >= perTenantCap {
			continue
		}
		plan = append(plan, sh.ID)
		promotedPerTenant[sh.ID.TenantId]++
	}

	batch := s.cfg.MaxReconcilesPerOperation
	if batch <= 0 {
		batch = len(plan)
	}
	for i := 0; i < len(plan); i += batch {
		select {
		case <-opCtx.Done():
			s.endOperation(ctx, node, types.NodeSchedulingActive)
			return apierror.ShuttingDown("fill cancelled")
		default:
		}
		if !s.nodeStillFilling(node) {
			s.endOperation(ctx, node, types.NodeSchedulingActive)
			return apierror.Conflict("node scheduling policy changed externally during fill")
		}

		end := i + batch
		if end > len(plan) {
			end = len(plan)
		}
		for _, id := range plan[i:end] {
			sh, ok := s.shardByID(id)
			if !ok {
				continue
			}
			if err := sh.RescheduleToSecondary(node, s.scheduler); err != nil {
				log.Logger.Warn().Err(err).Str("tenant_shard_id", id.String()).Msg("fill: promote failed")
				continue
			}
			s.maybeReconcileShard(ctx, sh)
		}
	}

	s.endOperation(ctx, node, types.NodeSchedulingActive)
	log.Logger.Info().Str("node_id", string(node)).Int("shards_promoted", len(plan)).Msg("fill complete")
	return nil
}
