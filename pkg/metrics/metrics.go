// Package metrics exposes Prometheus metrics for the controller:
// placement state, reconcile outcomes, generation issuance, and API
// request latency. Registered at package init and scraped via Handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stormctl_nodes_total",
			Help: "Total number of registered pageserver nodes by availability and scheduling policy",
		},
		[]string{"availability", "scheduling_policy"},
	)

	TenantShardsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stormctl_tenant_shards_total",
			Help: "Total number of tracked tenant shards by placement policy kind",
		},
		[]string{"placement_kind"},
	)

	AttachedShardsPerNode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stormctl_attached_shards_per_node",
			Help: "Number of attached shard locations scheduled onto each node",
		},
		[]string{"node_id"},
	)

	GenerationsIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stormctl_generations_issued_total",
			Help: "Total number of generation numbers issued across all shards",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stormctl_reconcile_duration_seconds",
			Help:    "Time taken by a single per-shard reconcile task",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormctl_reconcile_outcomes_total",
			Help: "Total number of reconcile tasks completed, by outcome",
		},
		[]string{"outcome"}, // "ok" or "error"
	)

	ReconcilerSemaphoreInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stormctl_reconciler_semaphore_in_use",
			Help: "Number of concurrent reconcile tasks currently holding a permit",
		},
	)

	DelayedReconcileBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stormctl_delayed_reconcile_backlog",
			Help: "Number of shards waiting in the delayed-reconcile backlog",
		},
	)

	DrainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stormctl_drain_duration_seconds",
			Help:    "Time taken for a node drain operation to complete",
			Buckets: prometheus.DefBuckets,
		},
	)

	FillDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stormctl_fill_duration_seconds",
			Help:    "Time taken for a node fill operation to complete",
			Buckets: prometheus.DefBuckets,
		},
	)

	OptimizationsAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stormctl_optimizations_applied_total",
			Help: "Total number of placement optimizations applied by the background sweep",
		},
	)

	SplitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormctl_splits_total",
			Help: "Total number of shard splits, by outcome",
		},
		[]string{"outcome"}, // "completed" or "aborted"
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormctl_api_requests_total",
			Help: "Total number of HTTP API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stormctl_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		TenantShardsTotal,
		AttachedShardsPerNode,
		GenerationsIssuedTotal,
		ReconcileDuration,
		ReconcileOutcomesTotal,
		ReconcilerSemaphoreInUse,
		DelayedReconcileBacklog,
		DrainDuration,
		FillDuration,
		OptimizationsAppliedTotal,
		SplitsTotal,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
