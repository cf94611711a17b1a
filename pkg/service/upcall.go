package service

import (
	"context"

	"github.com/cuemby/stormctl/pkg/apierror"
	"github.com/cuemby/stormctl/pkg/log"
	"github.com/cuemby/stormctl/pkg/types"
)

// ReAttachEntry is one row of a re_attach response: the shard's new
// generation and the mode the pageserver should come up in.
type ReAttachEntry struct {
	TenantShardID types.TenantShardId
	Generation    *uint32
	Mode          types.LocationConfigMode
}

// ReAttach implements the pageserver startup handshake: for
// every shard whose attached pageserver is node, bump its generation
// (persist-first) and report AttachedSingle with the new generation; for
// every shard where node is merely a secondary, report Secondary with no
// generation. If the node's scheduling policy was a restart-related
// transitional state, it's reset to Active.
func (s *Service) ReAttach(ctx context.Context, node types.NodeId, register *types.Node) ([]ReAttachEntry, error) {
	release := s.nodeLocks.Lock(node)
	defer release()

	if register != nil {
		if err := s.persistence.UpsertNode(ctx, register); err != nil {
			return nil, apierror.Wrap(apierror.KindInternal, "persist re-attach node registration", err)
		}
		s.mu.Lock()
		s.nodes[node] = register
		s.scheduler.NodeUpsert(register)
		s.mu.Unlock()
	}

	var entries []ReAttachEntry
	for _, sh := range s.shardSnapshot() {
		attachedNode, hasAttached := sh.IntentAttached()
		attached := hasAttached && attachedNode == node
		secondary := sh.HasSecondary(node)
		if !attached && !secondary {
			continue
		}
		if attached {
			gen, err := s.persistence.ReAttach(ctx, sh.ID, node)
			if err != nil {
				return nil, apierror.Wrap(apierror.KindInternal, "persist re-attach generation bump", err)
			}
			sh.SetGeneration(gen)
			v := gen.Uint32()
			entries = append(entries, ReAttachEntry{TenantShardID: sh.ID, Generation: &v, Mode: types.LocationAttachedSingle})
		} else {
			entries = append(entries, ReAttachEntry{TenantShardID: sh.ID, Mode: types.LocationSecondary})
		}
	}

	s.mu.Lock()
	if n, ok := s.nodes[node]; ok {
		switch n.SchedulingPolicy {
		case types.NodeSchedulingPauseForRestart, types.NodeSchedulingDraining, types.NodeSchedulingFilling:
			n.SchedulingPolicy = types.NodeSchedulingActive
		}
	}
	s.mu.Unlock()

	log.Logger.Info().Str("node_id", string(node)).Int("shards", len(entries)).Msg("re-attach processed")
	return entries, nil
}

// ValidateClaim is one entry of a validate request: a shard and the
// generation the caller believes is current.
type ValidateClaim struct {
	TenantShardID types.TenantShardId
	Generation    uint32
}

// ValidateResult pairs a claim with whether it matched.
type ValidateResult struct {
	TenantShardID types.TenantShardId
	Valid         bool
}

// Validate checks each claimed (shard, generation) pair against
// in-memory state. A shard absent from the controller's map (e.g.
// already deleted) is reported valid, for post-deletion idempotency.
func (s *Service) Validate(_ context.Context, claims []ValidateClaim) []ValidateResult {
	out := make([]ValidateResult, 0, len(claims))
	for _, c := range claims {
		sh, ok := s.shardByID(c.TenantShardID)
		if !ok {
			out = append(out, ValidateResult{TenantShardID: c.TenantShardID, Valid: true})
			continue
		}
		gen := sh.GetGeneration()
		valid := gen.Valid() && gen.Uint32() == c.Generation
		out = append(out, ValidateResult{TenantShardID: c.TenantShardID, Valid: valid})
	}
	return out
}

// AttachHook is the test/admin upcall that forces a shard's intent to a
// specific node and bumps its generation, bypassing the scheduler.
func (s *Service) AttachHook(ctx context.Context, id types.TenantShardId, node types.NodeId) error {
	release := s.tenantLocks.Lock(id.TenantId)
	defer release()

	sh, ok := s.shardByID(id)
	if !ok {
		return apierror.NotFound("tenant shard not found")
	}

	gen, err := s.persistence.ReAttach(ctx, id, node)
	if err != nil {
		return apierror.Wrap(apierror.KindInternal, "persist attach-hook generation bump", err)
	}
	sh.SetGeneration(gen)
	sh.SeedIntent(&node, nil)
	s.scheduler.SetAttached(node)

	s.maybeReconcileShard(ctx, sh)
	return nil
}
