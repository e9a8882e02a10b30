// Package collection defines the remote collection boundary the replica
// synchronizes with, plus reference implementations.
//
// A Collection is the external collaborator: it persists records, answers
// queries and announces every change on a lifecycle event feed. The replica
// never assumes anything about the transport; Memory, the SQL store and the
// websocket client all satisfy the same interface.
//
// EVENT ORDERING:
//
// Every implementation delivers events through a Hub, which hands them to
// handlers one at a time in the order the mutations were committed. A
// handler may call back into the collection; the nested event is delivered
// after the current handler returns.
package collection

import (
	"context"
	"errors"

	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
)

// Handler receives the full post-mutation record of a lifecycle event.
// For removed events it receives the record as it was before removal.
type Handler func(record.Record)

// Collection is a remote record collection.
//
// Identity arguments are the value of the collection's own id field. Calls
// are independent; no implementation retries.
type Collection interface {
	// Find returns the page of records matching q.
	Find(ctx context.Context, q queryir.Query) (queryir.Page, error)

	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id record.Value) (record.Record, error)

	// Create stores data, assigning an id when it has none, and emits created.
	Create(ctx context.Context, data record.Record) (record.Record, error)

	// Update replaces the record with the given id and emits updated.
	Update(ctx context.Context, id record.Value, data record.Record) (record.Record, error)

	// Patch merges data into the record with the given id and emits patched.
	Patch(ctx context.Context, id record.Value, data record.Record) (record.Record, error)

	// Remove deletes the record with the given id and emits removed.
	Remove(ctx context.Context, id record.Value) (record.Record, error)

	// On registers h for event and returns a function that detaches it.
	// Detaching is idempotent.
	On(event record.Event, h Handler) (off func())
}

// Operation names a collection call. Used as a metric label and as the
// method name on the websocket wire.
type Operation string

const (
	OpFind   Operation = "find"
	OpGet    Operation = "get"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpPatch  Operation = "patch"
	OpRemove Operation = "remove"
)

// Operations lists every collection call.
var Operations = []Operation{OpFind, OpGet, OpCreate, OpUpdate, OpPatch, OpRemove}

// Valid reports whether o names a collection call.
func (o Operation) Valid() bool {
	for _, op := range Operations {
		if op == o {
			return true
		}
	}
	return false
}

// Sentinel errors. Implementations wrap them so callers can test with
// errors.Is regardless of transport.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record id already exists")
	ErrInvalid  = errors.New("invalid request")
)
