package pageclient

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/stormctl/pkg/types"
)

// Fake is an in-memory Client used by tests and by the reconciler's own
// unit tests: it simulates a pageserver's location_config table without
// any network I/O.
type Fake struct {
	mu        sync.Mutex
	locations map[types.NodeId]map[types.TenantShardId]types.LocationConfig
}

// NewFake returns an empty fake pageserver fleet.
func NewFake() *Fake {
	return &Fake{locations: make(map[types.NodeId]map[types.TenantShardId]types.LocationConfig)}
}

func (f *Fake) LocationConfig(_ context.Context, node *types.Node, id types.TenantShardId, cfg types.LocationConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locations[node.ID] == nil {
		f.locations[node.ID] = make(map[types.TenantShardId]types.LocationConfig)
	}
	f.locations[node.ID][id] = cfg
	return nil
}

func (f *Fake) ListLocationConfig(_ context.Context, node *types.Node) (map[string]types.LocationConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]types.LocationConfig)
	for id, cfg := range f.locations[node.ID] {
		out[id.String()] = cfg
	}
	return out, nil
}

func (f *Fake) Get(node types.NodeId, id types.TenantShardId) (types.LocationConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.locations[node][id]
	return cfg, ok
}

func (f *Fake) HeatmapUpload(context.Context, *types.Node, types.TenantShardId) error    { return nil }
func (f *Fake) SecondaryDownload(context.Context, *types.Node, types.TenantShardId) error { return nil }

func (f *Fake) ScanRemoteStorage(_ context.Context, node *types.Node, tenant types.TenantId) (map[types.TenantShardId]types.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[types.TenantShardId]types.Generation)
	for id, cfg := range f.locations[node.ID] {
		if id.TenantId == tenant && cfg.Generation != nil {
			out[id] = types.NewGeneration(*cfg.Generation)
		}
	}
	return out, nil
}

func (f *Fake) TimeTravelRemoteStorage(context.Context, *types.Node, types.TenantShardId, time.Time) error {
	return nil
}

func (f *Fake) TenantDelete(_ context.Context, node *types.Node, id types.TenantShardId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locations[node.ID], id)
	return nil
}

// TenantShardSplit simulates the pageserver splitting parent into
// newShardCount children, all initially resident on the same node the
// parent was attached to: it copies the parent's location_config to each
// child id and drops the parent's own entry, the same remote-storage
// transition the real pageserver performs.
func (f *Fake) TenantShardSplit(_ context.Context, node *types.Node, parent types.TenantShardId, newShardCount types.ShardCount, _ uint32) ([]types.TenantShardId, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parentCfg := f.locations[node.ID][parent]
	delete(f.locations[node.ID], parent)
	if f.locations[node.ID] == nil {
		f.locations[node.ID] = make(map[types.TenantShardId]types.LocationConfig)
	}
	children := make([]types.TenantShardId, 0, newShardCount.Count())
	for i := 0; i < newShardCount.Count(); i++ {
		id := types.TenantShardId{TenantId: parent.TenantId, ShardNumber: types.ShardNumber(i), ShardCount: newShardCount}
		f.locations[node.ID][id] = parentCfg
		children = append(children, id)
	}
	return children, nil
}

func (f *Fake) SecondaryStatus(context.Context, *types.Node, types.TenantShardId) (types.SecondaryProgress, error) {
	return types.SecondaryProgress{}, nil
}

func (f *Fake) TopTenantShards(context.Context, *types.Node) ([]types.TopTenantShardItem, error) {
	return nil, nil
}
