/*
Package scheduler maintains per-node placement bookkeeping: attached-shard
count, secondary-shard count, and utilization. It is not the source of
truth for placement — TenantShard.Intent is — and is rebuilt from the
tenant map at startup, then kept in sync on every intent mutation via
NodeUpsert/NodeRemove and the SetAttached/PushSecondary family of
mutators.

ScheduleShard picks a node minimizing, in order: hard-affinity violations
(the avoid list), soft-affinity cost (ScheduleContext.Avoid), attached
count, and utilization. ComputeFillRequirement and
NodesByAttachedShardCount support fill/drain planning by comparing a
node's load against the cluster-wide fair share from
ExpectedAttachedShardCount. ConsistencyCheck asserts the counters still
match a fresh scan, for use after startup reconcile or periodic audits.
*/
package scheduler
