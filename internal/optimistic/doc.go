// Package optimistic applies mutations to a replica before the remote
// collection confirms them.
//
// Every mutation is written to the replica immediately, tagged
// SourceOptimistic, and the matching remote call runs in the background.
// When that call fails the coordinator writes a compensating change,
// tagged SourceCompensation, that restores the replica. Callers only ever
// see the optimistic result; failures surface on the change broadcast.
//
// LANES:
//
// Remote calls for the same uuid run one at a time in submission order.
// When a call fails while later calls for the same uuid are still queued,
// its compensation is carried to the next call instead of being applied:
// the later optimistic writes stay visible, and if the next call fails
// too the replica is restored to the last remotely confirmed value rather
// than to an intermediate speculative one.
//
// Lock order is lane, then replica. Listeners on the replica must not call
// the coordinator synchronously.
package optimistic
