package replica

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/replica/internal/querymem"
	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
)

// Store is the local replica: an ordered record sequence without
// duplicate identities plus the descriptor of the last change.
type Store struct {
	// write serialises mutations across apply and broadcast.
	write sync.Mutex

	// mu guards records, last and sorter for readers.
	mu      sync.RWMutex
	records []record.Record
	last    Change
	sorter  Sorter

	identity    record.IdentityFunc
	publication Publication
	subscriber  Listener
	observer    Observer
	clock       *Clock
	logger      *slog.Logger

	lmu       sync.Mutex
	listeners []listenerEntry
	nextID    int64
}

type listenerEntry struct {
	id int64
	fn Listener
}

// Option configures a Store.
type Option func(*Store)

// WithIdentity sets the identity strategy. Default: record.RemoteID.
func WithIdentity(fn record.IdentityFunc) Option {
	return func(s *Store) {
		s.identity = fn
	}
}

// WithPublication restricts the replica to records fn accepts.
func WithPublication(fn Publication) Option {
	return func(s *Store) {
		s.publication = fn
	}
}

// WithSorter keeps the replica sorted by fn.
func WithSorter(fn Sorter) Option {
	return func(s *Store) {
		s.sorter = fn
	}
}

// WithSubscriber sets the callback invoked after the listeners on every
// broadcast.
func WithSubscriber(fn Listener) Option {
	return func(s *Store) {
		s.subscriber = fn
	}
}

// WithObserver reports every broadcast to o.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observer = o
	}
}

// WithClock sets the clock stamping broadcasts.
func WithClock(c *Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithLogger sets the logger for classification decisions.
// Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore creates an empty replica.
func NewStore(opts ...Option) *Store {
	s := &Store{
		identity: record.RemoteID,
		clock:    NewClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for every broadcast. The returned function
// removes it and is idempotent.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			defer s.lmu.Unlock()
			s.listeners = slices.DeleteFunc(s.listeners, func(e listenerEntry) bool {
				return e.id == id
			})
		})
	}
}

// ApplyChange applies one record event and broadcasts the result.
//
// The record is located by identity and removed if present. A removal
// stops there. Any other event inserts the record unless the publication
// rejects it, in which case a previously visible record is announced as
// left-pub. The sequence is re-sorted after insertion.
//
// A removal of a record the replica does not hold is broadcast only when
// it arrives from the remote feed and the publication accepts it: it
// confirms a removal the replica already reflects, for example after an
// optimistic create was rolled back.
//
// Returns the broadcast change and true, or false when nothing was
// broadcast. Fails with record.ErrMissingIdentity when the record has no
// identity; the replica is left untouched.
func (s *Store) ApplyChange(event record.Event, rec record.Record, source Source) (Change, bool, error) {
	if !event.Valid() {
		return Change{}, false, fmt.Errorf("apply change: invalid event %q", event)
	}
	id, err := s.identity(rec)
	if err != nil {
		return Change{}, false, fmt.Errorf("apply %s: %w", event, err)
	}
	rec = rec.Clone()

	s.write.Lock()
	defer s.write.Unlock()

	s.mu.Lock()
	next := slices.Clone(s.records)
	index := s.indexOf(next, id)
	if index >= 0 {
		next = slices.Delete(next, index, index+1)
	}

	var action Action
	switch {
	case event == record.EventRemoved:
		if index >= 0 || (source == SourceRemote && s.visible(rec)) {
			action = ActionRemove
		}
	case !s.visible(rec):
		if index >= 0 {
			action = ActionLeftPub
		}
	default:
		next = append(next, rec)
		if s.sorter != nil {
			slices.SortStableFunc(next, s.sorter)
		}
		action = ActionMutated
	}

	if action == "" {
		s.mu.Unlock()
		s.logger.Debug("change ignored",
			"event", event,
			"source", source,
			"identity", record.Key(id),
		)
		return Change{}, false, nil
	}

	change := Change{
		Seq:    s.clock.Next(),
		Source: source,
		Event:  event,
		Action: action,
		Record: rec,
	}
	s.records = next
	s.last = change
	s.mu.Unlock()

	s.logger.Debug("change applied",
		"seq", change.Seq,
		"action", action,
		"event", event,
		"source", source,
		"identity", record.Key(id),
		"records", len(next),
	)
	s.broadcast(next, change)
	return change, true, nil
}

// Snapshot replaces the replica wholesale and broadcasts a snapshot.
//
// Records rejected by the publication are dropped, as are records without
// identity and later duplicates of an identity already seen. The result is
// sorted by the current sorter.
func (s *Store) Snapshot(records []record.Record) Change {
	s.write.Lock()
	defer s.write.Unlock()

	next := make([]record.Record, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		id, err := s.identity(r)
		if err != nil {
			s.logger.Warn("snapshot record skipped", "error", err)
			continue
		}
		key := record.Key(id)
		if seen[key] {
			s.logger.Warn("snapshot duplicate identity skipped", "identity", key)
			continue
		}
		seen[key] = true
		if !s.visible(r) {
			continue
		}
		next = append(next, r.Clone())
	}

	s.mu.Lock()
	if s.sorter != nil {
		slices.SortStableFunc(next, s.sorter)
	}
	change := Change{Seq: s.clock.Next(), Action: ActionSnapshot}
	s.records = next
	s.last = change
	s.mu.Unlock()

	s.logger.Debug("snapshot applied", "seq", change.Seq, "records", len(next))
	s.broadcast(next, change)
	return change
}

// Resort replaces the sorter, re-sorts the records and broadcasts
// change-sort. A nil sorter keeps the current order. Publication
// membership is not re-evaluated.
func (s *Store) Resort(sorter Sorter) Change {
	s.write.Lock()
	defer s.write.Unlock()

	s.mu.Lock()
	s.sorter = sorter
	next := slices.Clone(s.records)
	if sorter != nil {
		slices.SortStableFunc(next, sorter)
	}
	change := Change{Seq: s.clock.Next(), Action: ActionChangeSort}
	s.records = next
	s.last = change
	s.mu.Unlock()

	s.broadcast(next, change)
	return change
}

// Mark broadcasts a listener marker. Markers leave the records and Last
// unchanged.
func (s *Store) Mark(action Action) (Change, error) {
	if !action.IsMarker() {
		return Change{}, fmt.Errorf("mark: %q is not a listener marker", action)
	}

	s.write.Lock()
	defer s.write.Unlock()

	s.mu.RLock()
	records := slices.Clone(s.records)
	s.mu.RUnlock()

	change := Change{Seq: s.clock.Next(), Action: action}
	s.broadcast(records, change)
	return change, nil
}

// Records returns a copy of the record sequence. The records themselves
// are shared and must not be modified.
func (s *Store) Records() []record.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Last returns the descriptor of the change that produced the current
// records. It is the zero Change before the first mutation.
func (s *Store) Last() Change {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Get returns the record whose identity loosely equals id.
func (s *Store) Get(id record.Value) (record.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(s.records, id); i >= 0 {
		return s.records[i], true
	}
	return nil, false
}

// Find evaluates q against the records as the remote collection would.
// The page holds copies; writing to them leaves the replica untouched.
func (s *Store) Find(q queryir.Query, paginate queryir.Paginate) queryir.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page := querymem.Find(s.records, q, paginate)
	for i, r := range page.Data {
		page.Data[i] = r.Clone()
	}
	return page
}

// Sorter returns the current sorter.
func (s *Store) Sorter() Sorter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorter
}

// Identity returns the configured identity strategy.
func (s *Store) Identity() record.IdentityFunc {
	return s.identity
}

// Visible reports whether the publication accepts r.
func (s *Store) Visible(r record.Record) bool {
	return s.visible(r)
}

func (s *Store) visible(r record.Record) bool {
	return s.publication == nil || s.publication(r)
}

// indexOf returns the position of the record whose identity loosely equals
// id, or -1. Records without identity never match.
func (s *Store) indexOf(records []record.Record, id record.Value) int {
	for i, r := range records {
		other, err := s.identity(r)
		if err != nil {
			continue
		}
		if record.LooseEqual(other, id) {
			return i
		}
	}
	return -1
}

// broadcast delivers change to listeners then the subscriber. Called with
// the write lock held and mu released.
func (s *Store) broadcast(records []record.Record, change Change) {
	s.lmu.Lock()
	listeners := slices.Clone(s.listeners)
	s.lmu.Unlock()

	for _, l := range listeners {
		l.fn(slices.Clone(records), change)
	}
	if s.subscriber != nil {
		s.subscriber(slices.Clone(records), change)
	}
	if s.observer != nil {
		s.observer.ObserveChange(change, len(records))
	}
}
