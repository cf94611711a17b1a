package heartbeat_test

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/stormctl/pkg/heartbeat"
	"github.com/cuemby/stormctl/pkg/pageclient"
	"github.com/cuemby/stormctl/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestRunOnceMarksRespondingNodeActive(t *testing.T) {
	fake := pageclient.NewFake()
	hb := heartbeat.New(heartbeat.DefaultConfig(), fake)
	nodes := map[types.NodeId]*types.Node{
		"a": {ID: "a", HTTPHost: "127.0.0.1", HTTPPort: 9898},
	}

	transitions := hb.RunOnce(context.Background(), nodes)
	require.Len(t, transitions, 1)
	require.Equal(t, types.NodeActive, transitions[0].To)
}

func TestRunOnceTransitionsActiveToOfflineAfterThreshold(t *testing.T) {
	fake := pageclient.NewFake()
	cfg := heartbeat.Config{Interval: time.Second, Timeout: 10 * time.Millisecond, MaxFailures: 2}
	toggle := &toggleClient{Fake: fake}
	hb := heartbeat.New(cfg, toggle)
	nodes := map[types.NodeId]*types.Node{"a": {ID: "a", HTTPHost: "127.0.0.1", HTTPPort: 9898}}

	seed := hb.RunOnce(context.Background(), nodes) // node responds: offline -> active
	require.Len(t, seed, 1)
	require.Equal(t, types.NodeActive, seed[0].To)

	toggle.fail = true
	first := hb.RunOnce(context.Background(), nodes) // failure 1 of 2, no transition yet
	require.Empty(t, first)

	second := hb.RunOnce(context.Background(), nodes) // failure 2 of 2, crosses threshold
	require.Len(t, second, 1)
	require.Equal(t, types.NodeOffline, second[0].To)
}

type toggleClient struct {
	*pageclient.Fake
	fail bool
}

func (c *toggleClient) ListLocationConfig(ctx context.Context, n *types.Node) (map[string]types.LocationConfig, error) {
	if c.fail {
		return nil, context.DeadlineExceeded
	}
	return c.Fake.ListLocationConfig(ctx, n)
}
