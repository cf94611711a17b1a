// Package heartbeat polls pageserver availability and reports
// transitions, using consecutive-failure tracking (in the style of a
// health-checker's Checker/Status loop) applied to node-level
// pageserver polling instead of container health checks.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/stormctl/pkg/pageclient"
	"github.com/cuemby/stormctl/pkg/types"
)

// Transition describes a node whose availability changed on the most
// recent round.
type Transition struct {
	NodeID types.NodeId
	From   types.NodeAvailability
	To     types.NodeAvailability
}

// status tracks consecutive-failure state for one node.
type status struct {
	consecutiveFailures int
	available           types.NodeAvailability
}

// Config controls polling cadence and the failure threshold before a
// node is marked Offline.
type Config struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures int
}

// DefaultConfig returns a reasonable default polling cadence.
func DefaultConfig() Config {
	return Config{Interval: 10 * time.Second, Timeout: 5 * time.Second, MaxFailures: 3}
}

// Heartbeater polls a node set's pageserver HTTP endpoint on a ticker
// and reports availability transitions to a caller-supplied channel.
type Heartbeater struct {
	cfg    Config
	client pageclient.Client

	mu       sync.Mutex
	statuses map[types.NodeId]*status
}

// New returns a Heartbeater using client to probe nodes.
func New(cfg Config, client pageclient.Client) *Heartbeater {
	return &Heartbeater{cfg: cfg, client: client, statuses: make(map[types.NodeId]*status)}
}

// RunOnce probes every node in nodes exactly once (used by the startup
// reconcile's initial heartbeat round) and returns the transitions
// produced, without sleeping.
func (h *Heartbeater) RunOnce(ctx context.Context, nodes map[types.NodeId]*types.Node) []Transition {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	type probeResult struct {
		id types.NodeId
		ok bool
	}
	resultCh := make(chan probeResult, len(nodes))
	for id, n := range nodes {
		go func(id types.NodeId, n *types.Node) {
			_, err := h.client.ListLocationConfig(ctx, n)
			resultCh <- probeResult{id: id, ok: err == nil}
		}(id, n)
	}

	results := make(map[types.NodeId]bool, len(nodes))
	for range nodes {
		select {
		case r := <-resultCh:
			results[r.id] = r.ok
		case <-ctx.Done():
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	var transitions []Transition
	for id, ok := range results {
		st, exists := h.statuses[id]
		if !exists {
			st = &status{available: types.NodeOffline}
			h.statuses[id] = st
		}
		prev := st.available
		if ok {
			st.consecutiveFailures = 0
			st.available = types.NodeActive
		} else {
			st.consecutiveFailures++
			if st.consecutiveFailures >= h.cfg.MaxFailures {
				st.available = types.NodeOffline
			}
		}
		if st.available != prev {
			transitions = append(transitions, Transition{NodeID: id, From: prev, To: st.available})
		}
	}
	return transitions
}

// Run loops RunOnce on cfg.Interval until ctx is canceled, sending every
// batch of transitions it produces to out. Callers typically run this
// in its own goroutine and select on out alongside ctx.Done().
func (h *Heartbeater) Run(ctx context.Context, nodes func() map[types.NodeId]*types.Node, out chan<- []Transition) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			transitions := h.RunOnce(ctx, nodes())
			if len(transitions) > 0 {
				select {
				case out <- transitions:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
