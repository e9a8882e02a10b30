package testutil

import (
	"slices"
	"sync"

	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/replica"
)

// Broadcast is one recorded broadcast.
type Broadcast struct {
	Records []record.Record
	Change  replica.Change
}

// Recorder collects broadcasts. Its Listen method is a replica.Listener.
//
// Thread-safety: safe for concurrent use; optimistic compensations arrive
// on background goroutines.
type Recorder struct {
	mu   sync.Mutex
	seen []Broadcast
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Listen records one broadcast.
func (r *Recorder) Listen(records []record.Record, change replica.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, Broadcast{Records: records, Change: change})
}

// Broadcasts returns everything recorded so far.
func (r *Recorder) Broadcasts() []Broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.seen)
}

// Changes returns the recorded changes.
func (r *Recorder) Changes() []replica.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]replica.Change, len(r.seen))
	for i, b := range r.seen {
		out[i] = b.Change
	}
	return out
}

// Actions returns the recorded actions.
func (r *Recorder) Actions() []replica.Action {
	changes := r.Changes()
	out := make([]replica.Action, len(changes))
	for i, c := range changes {
		out[i] = c.Action
	}
	return out
}

// Last returns the most recent broadcast and whether there was one.
func (r *Recorder) Last() (Broadcast, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seen) == 0 {
		return Broadcast{}, false
	}
	return r.seen[len(r.seen)-1], true
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = nil
}
