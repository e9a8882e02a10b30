package optimistic

import (
	"context"
	"sync"

	"github.com/roach88/replica/internal/collection"
	"github.com/roach88/replica/internal/fifo"
	"github.com/roach88/replica/internal/record"
)

// undo is the change that reverts one optimistic write.
type undo struct {
	event  record.Event
	record record.Record
}

// call is one queued remote call.
type call struct {
	ctx      context.Context
	op       collection.Operation
	uuid     record.Value
	remoteID record.Value
	payload  record.Record
	undo     undo
}

// lane serialises remote calls for one uuid.
type lane struct {
	key string

	// mu is held while an optimistic write is applied and queued, and
	// while a finished call decides between compensating and carrying.
	mu       sync.Mutex
	calls    *fifo.Queue[*call]
	running  bool
	carry    *undo
	remoteID record.Value

	// users counts holders; guarded by lanes.mu.
	users int
}

// lanes is the set of active lanes keyed by identity.
type lanes struct {
	mu sync.Mutex
	m  map[string]*lane
}

func newLanes() *lanes {
	return &lanes{m: make(map[string]*lane)}
}

// acquire returns the lane for id, creating it if needed. Every acquire
// must be paired with release.
func (ls *lanes) acquire(id record.Value) *lane {
	key := record.Key(id)

	ls.mu.Lock()
	defer ls.mu.Unlock()

	l, ok := ls.m[key]
	if !ok {
		l = &lane{key: key, calls: fifo.New[*call]()}
		ls.m[key] = l
	}
	l.users++
	return l
}

// release drops one hold and forgets the lane once nobody holds it.
func (ls *lanes) release(l *lane) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	l.users--
	if l.users == 0 {
		delete(ls.m, l.key)
	}
}

// active returns the number of lanes currently held.
func (ls *lanes) active() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.m)
}
