// Package reconciler runs the single-shot per-shard reconcile task: given
// a snapshot of intent/observed state, it drives one or more pageservers
// towards the desired LocationConfig and notifies the compute hook.
// Structured as a per-shard task spawned by shard.Shard.SpawnReconciler
// rather than a periodic full-table scan, so supersession and waiter
// wake-up compose cleanly with concurrent mutations to the same shard.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/stormctl/pkg/computehook"
	"github.com/cuemby/stormctl/pkg/log"
	"github.com/cuemby/stormctl/pkg/pageclient"
	"github.com/cuemby/stormctl/pkg/shard"
	"github.com/cuemby/stormctl/pkg/types"
)

// Result is posted to the orchestrator's result channel when a task
// finishes, successfully or not.
type Result struct {
	TenantShardID              types.TenantShardId
	Sequence                   uint64
	Generation                 types.Generation
	Observed                   map[types.NodeId]types.LocationConfig
	PendingComputeNotification bool
	Err                        error
}

// Task is a single-shot reconcile bound to one sequence number.
type Task struct {
	TenantShardID types.TenantShardId
	Sequence      uint64
	Intent        shard.IntentState
	Observed      shard.ObservedState
	Generation    types.Generation
	StripeSize    uint32
	Nodes         map[types.NodeId]*types.Node

	// HandoverFrom is set when a live migration handover is in flight: the
	// node being migrated away from. While set, that node is kept as
	// AttachedStale instead of Detached and the new Intent.Attached node
	// is handed AttachedMulti instead of AttachedSingle.
	HandoverFrom *types.NodeId

	PageClient  pageclient.Client
	ComputeHook computehook.Hook
}

// Run drives a single shard's observed state towards its intent and
// returns the result
// to post back to the orchestrator. It never panics on a pageserver
// error: a failed RPC is recorded in Result.Err and the shard will be
// re-reconciled later because observed will still differ from intent.
func (t *Task) Run(ctx context.Context) Result {
	logger := log.WithTenantShard(t.TenantShardID.String())
	observed := make(map[types.NodeId]types.LocationConfig)

	desired := t.desiredConfigs()
	gen := t.Generation

	var firstErr error
	for node, cfg := range desired {
		n, ok := t.Nodes[node]
		if !ok {
			continue
		}
		cfgCopy := cfg
		if cfg.AttachedMode() && gen.Valid() {
			v := gen.Uint32()
			cfgCopy.Generation = &v
		}
		if err := t.PageClient.LocationConfig(ctx, n, t.TenantShardID, cfgCopy); err != nil {
			logger.Warn().Err(err).Str("node_id", string(node)).Msg("location_config RPC failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("location_config on %s: %w", node, err)
			}
			continue
		}
		observed[node] = cfgCopy

		if cfgCopy.AttachedMode() {
			if err := t.PageClient.HeatmapUpload(ctx, n, t.TenantShardID); err != nil {
				logger.Debug().Err(err).Msg("heatmap_upload failed, non-fatal")
			}
		} else if cfgCopy.Mode == types.LocationSecondary {
			if err := t.PageClient.SecondaryDownload(ctx, n, t.TenantShardID); err != nil {
				logger.Debug().Err(err).Msg("secondary_download failed, non-fatal")
			}
		}
	}

	pendingNotification := false
	if firstErr == nil && t.Intent.Attached != nil {
		attachedNode := t.Nodes[*t.Intent.Attached]
		if err := t.ComputeHook.Notify(ctx, t.TenantShardID, attachedNode, t.StripeSize); err != nil {
			logger.Warn().Err(err).Msg("compute hook notification failed, will retry next reconcile")
			pendingNotification = true
		}
	}

	return Result{
		TenantShardID:              t.TenantShardID,
		Sequence:                   t.Sequence,
		Generation:                 gen,
		Observed:                   observed,
		PendingComputeNotification: pendingNotification,
		Err:                        firstErr,
	}
}

// desiredConfigs computes the (node, desired-mode) pairs: the attached
// node gets AttachedSingle, secondaries get Secondary, and any node this
// shard was last observed on but that intent no longer wants gets
// Detached so a stale location left over from a prior intent is cleaned
// up. Nodes with no observed location for this shard are left alone:
// they were never attached or secondary here and issuing a Detach RPC
// to them would be a pointless, unbounded fan-out to the whole cluster.
//
// Live migration's two-phase AttachedMulti/AttachedStale handover is
// driven from here too: when HandoverFrom is set, the new primary
// (Intent.Attached) is handed AttachedMulti instead of AttachedSingle and
// the old primary named by HandoverFrom, if still observed attached, is
// handed AttachedStale rather than Detached, so both pageservers accept
// writes during the handover window instead of the old primary being
// dropped outright.
func (t *Task) desiredConfigs() map[types.NodeId]types.LocationConfig {
	out := make(map[types.NodeId]types.LocationConfig)
	attachedMode := types.LocationAttachedSingle
	if t.HandoverFrom != nil {
		attachedMode = types.LocationAttachedMulti
	}
	if t.Intent.Attached != nil {
		out[*t.Intent.Attached] = types.LocationConfig{
			Mode:        attachedMode,
			ShardNumber: t.TenantShardID.ShardNumber,
			ShardCount:  t.TenantShardID.ShardCount,
			StripeSize:  t.StripeSize,
		}
	}
	for _, n := range t.Intent.Secondary {
		out[n] = types.LocationConfig{
			Mode:        types.LocationSecondary,
			ShardNumber: t.TenantShardID.ShardNumber,
			ShardCount:  t.TenantShardID.ShardCount,
			StripeSize:  t.StripeSize,
		}
	}
	for node, observedCfg := range t.Observed.Locations {
		if _, wanted := out[node]; wanted {
			continue
		}
		if t.HandoverFrom != nil && node == *t.HandoverFrom && observedCfg.AttachedMode() {
			out[node] = types.LocationConfig{
				Mode:        types.LocationAttachedStale,
				ShardNumber: t.TenantShardID.ShardNumber,
				ShardCount:  t.TenantShardID.ShardCount,
				StripeSize:  t.StripeSize,
			}
			continue
		}
		out[node] = types.LocationConfig{Mode: types.LocationDetached}
	}
	return out
}

// Default timeout/backoff pair for the production pageclient.HTTPClient,
// kept here so callers share one source of truth.
const (
	DefaultRPCTimeout  = 10 * time.Second
	DefaultMaxRetries  = 3
	DefaultInitialBack = 250 * time.Millisecond
)
