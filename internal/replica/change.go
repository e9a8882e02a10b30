package replica

import (
	"fmt"

	"github.com/roach88/replica/internal/record"
)

// Source tags where a change came from.
type Source int

const (
	// SourceNone marks changes with no originating write: snapshots,
	// listener markers and re-sorts.
	SourceNone Source = iota

	// SourceRemote marks changes delivered by the remote event feed.
	SourceRemote

	// SourceOptimistic marks local writes applied before the remote call
	// confirming them resolves.
	SourceOptimistic

	// SourceCompensation marks writes undoing an optimistic change whose
	// remote call failed.
	SourceCompensation
)

func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceRemote:
		return "remote"
	case SourceOptimistic:
		return "optimistic"
	case SourceCompensation:
		return "compensation"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// MarshalText encodes the source by name.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSource returns the source with the given name.
func ParseSource(name string) (Source, error) {
	for _, s := range []Source{SourceNone, SourceRemote, SourceOptimistic, SourceCompensation} {
		if s.String() == name {
			return s, nil
		}
	}
	return SourceNone, fmt.Errorf("unknown source %q", name)
}

// Action classifies the effect of a change on the replica.
type Action string

const (
	ActionMutated         Action = "mutated"
	ActionRemove          Action = "remove"
	ActionLeftPub         Action = "left-pub"
	ActionSnapshot        Action = "snapshot"
	ActionAddListeners    Action = "add-listeners"
	ActionRemoveListeners Action = "remove-listeners"
	ActionChangeSort      Action = "change-sort"
)

// Actions lists every action.
var Actions = []Action{
	ActionMutated, ActionRemove, ActionLeftPub, ActionSnapshot,
	ActionAddListeners, ActionRemoveListeners, ActionChangeSort,
}

// IsMarker reports whether a is a listener marker. Markers announce feed
// attachment and never change records.
func (a Action) IsMarker() bool {
	return a == ActionAddListeners || a == ActionRemoveListeners
}

// Change describes one broadcast.
//
// Seq is strictly increasing across every broadcast of a Store. Event and
// Record are set only for record changes; Record is the incoming record
// (for removals, the record that was removed or announced as removed).
type Change struct {
	Seq    int64         `json:"seq"`
	Source Source        `json:"source"`
	Event  record.Event  `json:"event,omitempty"`
	Action Action        `json:"action"`
	Record record.Record `json:"record,omitempty"`
}

func (c Change) String() string {
	if c.Record == nil {
		return fmt.Sprintf("#%d %s", c.Seq, c.Action)
	}
	return fmt.Sprintf("#%d %s %s/%s", c.Seq, c.Action, c.Source, c.Event)
}

// Listener receives every broadcast: the records after the change and the
// change itself. The slice is a private copy; records in it are shared
// and must not be modified.
type Listener func(records []record.Record, change Change)

// Publication decides whether a record is visible in the replica.
type Publication func(record.Record) bool

// Sorter is a three-way comparator ordering the replica.
type Sorter func(a, b record.Record) int

// Observer is notified after every broadcast. Implemented by the metrics
// package.
type Observer interface {
	ObserveChange(change Change, size int)
}

// UnmarshalText decodes a source name.
func (s *Source) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
