package metrics

import (
	"time"

	"github.com/cuemby/stormctl/pkg/service"
	"github.com/cuemby/stormctl/pkg/types"
)

// Collector periodically samples a Service's in-memory state into the
// package's gauges describing a point-in-time snapshot. It does not
// touch the package's counters and histograms, and no other code in this
// module updates them.
type Collector struct {
	svc    *service.Service
	stopCh chan struct{}
}

// NewCollector returns a Collector sampling svc every 15 seconds.
func NewCollector(svc *service.Service) *Collector {
	return &Collector{
		svc:    svc,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on its own goroutine. Stop must be
// called to release it.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectShardMetrics()
	c.collectReconcilerMetrics()
}

func (c *Collector) collectNodeMetrics() {
	nodes := c.svc.Nodes()

	nodeCounts := make(map[string]map[string]int)
	attachedByNode := make(map[string]int)
	for id := range nodes {
		attachedByNode[string(id)] = 0
	}

	for _, node := range nodes {
		availability := node.Availability.String()
		policy := string(node.SchedulingPolicy)
		if nodeCounts[availability] == nil {
			nodeCounts[availability] = make(map[string]int)
		}
		nodeCounts[availability][policy]++
	}

	for availability, policies := range nodeCounts {
		for policy, count := range policies {
			NodesTotal.WithLabelValues(availability, policy).Set(float64(count))
		}
	}

	for _, sh := range c.svc.Shards() {
		if node, ok := sh.IntentAttached(); ok {
			attachedByNode[string(node)]++
		}
	}
	for id, count := range attachedByNode {
		AttachedShardsPerNode.WithLabelValues(id).Set(float64(count))
	}
}

func (c *Collector) collectShardMetrics() {
	counts := make(map[types.PlacementPolicyKind]int)
	for _, sh := range c.svc.Shards() {
		counts[sh.PlacementPolicy.Kind]++
	}
	for kind, count := range counts {
		TenantShardsTotal.WithLabelValues(string(kind)).Set(float64(count))
	}
}

func (c *Collector) collectReconcilerMetrics() {
	ReconcilerSemaphoreInUse.Set(float64(c.svc.ReconcilerSlotsInUse()))
	DelayedReconcileBacklog.Set(float64(c.svc.DelayedReconcileBacklog()))
}
