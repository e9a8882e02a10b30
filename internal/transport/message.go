// Package transport serves a collection over a websocket and consumes one.
//
// Frames are JSON text messages of three kinds: a call from client to
// server, the result answering it, and a lifecycle event pushed by the
// server. Events and results share one ordered stream per connection, so
// the event produced by a call reaches the client before the call's result.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/replica/internal/collection"
	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
)

// Message kinds.
const (
	KindCall   = "call"
	KindResult = "result"
	KindEvent  = "event"
)

// Wire error codes.
const (
	CodeNotFound = "not_found"
	CodeConflict = "conflict"
	CodeInvalid  = "invalid"
	CodeInternal = "internal"
)

// Message is one websocket frame.
type Message struct {
	Kind   string               `json:"kind"`
	ID     uint64               `json:"id,omitempty"`
	Method collection.Operation `json:"method,omitempty"`
	Target json.RawMessage      `json:"target,omitempty"`
	Query  record.Record        `json:"query,omitempty"`
	Data   record.Record        `json:"data,omitempty"`
	Event  record.Event         `json:"event,omitempty"`
	Record record.Record        `json:"record,omitempty"`
	Page   *queryir.Page        `json:"page,omitempty"`
	Error  *WireError           `json:"error,omitempty"`
}

// WireError carries a collection error across the connection.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *WireError) Error() string {
	return e.Code + ": " + e.Message
}

// toWire classifies err by the collection sentinel it wraps.
func toWire(err error) *WireError {
	code := CodeInternal
	switch {
	case errors.Is(err, collection.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, collection.ErrConflict):
		code = CodeConflict
	case errors.Is(err, collection.ErrInvalid):
		code = CodeInvalid
	}
	return &WireError{Code: code, Message: err.Error()}
}

// fromWire rebuilds an error that errors.Is matches against the same
// sentinel the server saw.
func fromWire(e *WireError) error {
	switch e.Code {
	case CodeNotFound:
		return fmt.Errorf("%w (remote: %s)", collection.ErrNotFound, e.Message)
	case CodeConflict:
		return fmt.Errorf("%w (remote: %s)", collection.ErrConflict, e.Message)
	case CodeInvalid:
		return fmt.Errorf("%w (remote: %s)", collection.ErrInvalid, e.Message)
	default:
		return e
	}
}

func encodeTarget(v record.Value) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return record.MarshalValue(v)
}

func decodeTarget(raw json.RawMessage) (record.Value, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: call has no target id", collection.ErrInvalid)
	}
	return record.Unmarshal(raw)
}
