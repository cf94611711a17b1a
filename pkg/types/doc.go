/*
Package types defines the core data structures used throughout the storage
controller.

This package contains the fundamental types representing the controller's
placement model: tenants, shards, generations, pageserver nodes, and the
wire-level location config exchanged with pageservers. These types are used
by every other package for state management, API serialization, and
scheduling decisions.

# Core Types

Placement identity:
  - TenantId, ShardNumber, ShardCount: the coordinates of a shard
  - TenantShardId: the full placement unit, with a stable wire format
  - Generation: an opaque, monotonically increasing counter that prevents
    two pageservers from both believing they hold the writable copy of a
    shard

Nodes:
  - NodeId, Node: pageserver identity, address, availability and
    scheduling policy
  - NodeAvailability: Active or Offline, as observed by heartbeats
  - NodeSchedulingPolicy: Active, Pause, Draining, Filling, PauseForRestart

Placement:
  - PlacementPolicy: Detached, Secondary, or Attached(n secondaries)
  - ShardSchedulingPolicy: Active, Essential, Pause, Stop — progressively
    restricts what the background scheduler may do to a shard's intent
  - LocationConfig, LocationConfigMode: the wire contract sent to a
    pageserver via location_config

Other:
  - SplitState: Idle or Splitting
  - AuxFilePolicy: decoded via ParseAuxFilePolicy, which returns ok=false
    for the unspecified sentinel rather than panicking
  - Event: an admin-surfaced state transition

# Generations

Generation is intentionally narrow: NewGeneration wraps a counter value
read from storage or reported by a pageserver, Next advances one, and Max
merges two; there is no subtraction. Every generation stored for a shard must
be threaded through Max when merged with an observed value, so that a
late-arriving stale response from a pageserver can never move a shard's
recorded generation backwards.

# Wire format

TenantShardId.String renders "<tenant>-<shard><count>" in lowercase hex,
e.g. "d34db33f-0103" for shard 1 of 3. A ShardCount of zero is the
unsharded sentinel and renders as the bare tenant id; ParseTenantShardId
is the inverse.

# Thread safety

Types in this package are plain values with no internal synchronization.
Node and the placement types are read-shared across the scheduler, the
shard state machine, and the HTTP API; callers holding a stored instance
must not mutate it in place — copy, mutate the copy, and persist the
copy instead.
*/
package types
