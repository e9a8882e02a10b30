// Package replica holds the local record replica and its single mutation
// primitive.
//
// Every change reaches the record sequence through Store: remote feed
// events, snapshots, optimistic writes and their compensations. Routing all
// of them through ApplyChange keeps the replica invariants in one place:
//
//   - no two records share an identity value
//   - records hold exactly the visible subset under the publication
//   - records stay sorted by the sorter after every mutation
//   - Last describes the change that produced the current records
//
// CONCURRENCY:
//
// Mutations are serialised by a writer lock held across apply and
// broadcast, so listeners observe changes one at a time in apply order.
// Readers use a separate lock and may call Records, Last or Find from
// inside a listener. A listener must not call a mutating method
// synchronously; doing so deadlocks.
package replica
