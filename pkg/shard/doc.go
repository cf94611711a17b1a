/*
Package shard implements the TenantShard state machine: one per
(tenant, shard number, shard count) placement unit.

Each Shard separates what the controller wants (IntentState) from what
was last observed on pageservers (ObservedState). Schedule computes
intent from PlacementPolicy, filling missing attached/secondary slots via
the scheduler; it is idempotent when intent already satisfies the
policy. GetReconcileNeeded compares intent against observed to decide
whether a Reconciler task should run, returning WaitExisting with a
parked Waiter when one is already in flight for this shard.

SpawnReconciler hands a reconciler a snapshot of (intent, observed,
generation) bound to a sequence number; calling it again while a task is
still running cancels that task and supersedes it, bumping the sequence
so a stale task's late result is ignored by completeReconcile. Generation
is only ever advanced, through the types.Max merge in ApplyObserved and
SetGeneration, never decremented.
*/
package shard
