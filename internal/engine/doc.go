// Package engine binds a replica to a remote collection.
//
// The Replicator owns the lifecycle: it fetches a snapshot, seeds the
// replica, attaches one handler per lifecycle event to the remote feed and
// detaches them again on Disconnect. Remote events are classified by
// replica.Store.ApplyChange, tagged SourceRemote.
//
// LIFECYCLE:
//
//	Disconnected -> Connecting -> Connected -> Disconnecting -> Disconnected
//
// A failed Connect returns to Disconnected with the replica unchanged. The
// replica keeps its records after Disconnect so callers can read the last
// known state while offline.
//
// CRITICAL PATTERNS:
//
// Feed order: remote events are applied in the order the collection
// delivers them. The engine never buffers, batches or reorders.
//
// Fixed configuration: identity strategy, publication and subscriber are
// fixed at construction. Only the sorter can change afterwards.
package engine
