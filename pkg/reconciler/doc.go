/*
Package reconciler runs one reconcile attempt for one tenant shard.

A Task is a frozen snapshot: sequence number, intent, generation, stripe
size, and the node set at the moment shard.Shard.SpawnReconciler was
called. Run drives every node towards its desired LocationConfig
(AttachedSingle for the intent.attached node, Secondary for each
intent.secondary node, Detached for anything else observed), then
notifies the compute hook once the attached location is confirmed. A
failed location_config RPC stops notification and is recorded on the
Result; a failed compute-hook notification sets
PendingComputeNotification so the next reconcile retries it. Neither
failure mode panics — the caller re-reconciles because observed state
will still disagree with intent.
*/
package reconciler
