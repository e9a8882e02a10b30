package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/replica/internal/collection"
	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/replica"
)

// State is a replicator lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Replicator keeps a replica.Store in sync with a remote collection.
//
// Thread-safety model:
//   - Connect, Disconnect: serialised against each other; safe from any goroutine
//   - ChangeSort, State, Connected, Store: safe from any goroutine
//   - Remote event handlers run on the collection's delivery goroutine
type Replicator struct {
	remote collection.Collection
	store  *replica.Store
	query  queryir.Query

	useUUID bool
	ids     IDGenerator
	logger  *slog.Logger

	storeOpts []replica.Option

	// lifecycle serialises Connect and Disconnect.
	lifecycle sync.Mutex
	state     atomic.Int32
	listening atomic.Bool
	offs      []func()
}

// Option configures a Replicator.
type Option func(*Replicator)

// WithQuery sets the query used for the snapshot. Only its filter and sort
// are sent; the collection's pagination is aggregated away.
func WithQuery(q queryir.Query) Option {
	return func(r *Replicator) {
		r.query = q
	}
}

// WithPublication restricts the replica to records fn accepts.
func WithPublication(fn replica.Publication) Option {
	return func(r *Replicator) {
		r.storeOpts = append(r.storeOpts, replica.WithPublication(fn))
	}
}

// WithSort sets the initial sorter.
func WithSort(fn replica.Sorter) Option {
	return func(r *Replicator) {
		r.storeOpts = append(r.storeOpts, replica.WithSorter(fn))
	}
}

// WithSubscriber sets the callback invoked on every broadcast.
func WithSubscriber(fn replica.Listener) Option {
	return func(r *Replicator) {
		r.storeOpts = append(r.storeOpts, replica.WithSubscriber(fn))
	}
}

// WithObserver reports every broadcast to o.
func WithObserver(o replica.Observer) Option {
	return func(r *Replicator) {
		r.storeOpts = append(r.storeOpts, replica.WithObserver(o))
	}
}

// WithUUID selects the uuid identity strategy. Required by the optimistic
// coordinator. Default: id, falling back to _id.
func WithUUID(on bool) Option {
	return func(r *Replicator) {
		r.useUUID = on
	}
}

// WithShortIDs selects ULIDs instead of UUIDs for generated identities.
func WithShortIDs(short bool) Option {
	return func(r *Replicator) {
		r.ids = GeneratorFor(short)
	}
}

// WithIDGenerator sets the identity generator directly.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Replicator) {
		r.ids = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Replicator) {
		r.logger = l
	}
}

// New creates a disconnected replicator for remote with an empty replica.
func New(remote collection.Collection, opts ...Option) *Replicator {
	r := &Replicator{
		remote: remote,
		ids:    UUIDGenerator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	storeOpts := append([]replica.Option{
		replica.WithIdentity(record.IdentityFor(r.useUUID)),
		replica.WithLogger(r.logger),
	}, r.storeOpts...)
	r.store = replica.NewStore(storeOpts...)
	r.storeOpts = nil
	return r
}

// Connect fetches a snapshot, replaces the replica with it and attaches
// the remote feed.
//
// A feed already attached is detached first. When the snapshot fetch
// fails Connect returns a CONNECTION error, the replica keeps its prior
// content and the replicator is left disconnected.
func (r *Replicator) Connect(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.setState(StateConnecting)
	r.detach()

	records, err := collection.Snapshot(ctx, r.remote, r.query)
	if err != nil {
		r.setState(StateDisconnected)
		r.logger.Error("snapshot fetch failed", "error", err)
		return NewConnectionError(err)
	}

	r.store.Snapshot(records)
	r.attach()
	r.setState(StateConnected)
	return nil
}

// Disconnect detaches the remote feed. Records are retained. In-flight
// optimistic remote calls are not cancelled.
func (r *Replicator) Disconnect() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.State() == StateDisconnected && !r.listening.Load() {
		return
	}
	r.setState(StateDisconnecting)
	r.detach()
	r.setState(StateDisconnected)
}

// ChangeSort replaces the sorter, re-sorts the replica and broadcasts
// change-sort.
func (r *Replicator) ChangeSort(sorter replica.Sorter) {
	r.store.Resort(sorter)
}

// State returns the lifecycle state.
func (r *Replicator) State() State {
	return State(r.state.Load())
}

// Connected reports whether the remote feed is attached.
func (r *Replicator) Connected() bool {
	return r.listening.Load()
}

// Store returns the replica.
func (r *Replicator) Store() *replica.Store {
	return r.store
}

// Remote returns the remote collection.
func (r *Replicator) Remote() collection.Collection {
	return r.remote
}

// UseUUID reports whether the uuid identity strategy is in use.
func (r *Replicator) UseUUID() bool {
	return r.useUUID
}

// NewID returns a fresh client-side identity.
func (r *Replicator) NewID() string {
	return r.ids.Generate()
}

// Logger returns the replicator's logger.
func (r *Replicator) Logger() *slog.Logger {
	return r.logger
}

func (r *Replicator) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	if prev != s {
		r.logger.Info("replicator state", "from", prev, "to", s)
	}
}

// attach registers one handler per lifecycle event and broadcasts
// add-listeners.
func (r *Replicator) attach() {
	r.offs = make([]func(), 0, len(record.Events))
	for _, ev := range record.Events {
		r.offs = append(r.offs, r.remote.On(ev, r.handler(ev)))
	}
	r.listening.Store(true)
	r.logger.Debug("listeners attached", "events", len(r.offs))
	r.mark(replica.ActionAddListeners)
}

// detach removes the handlers and broadcasts remove-listeners. No-op when
// not listening.
func (r *Replicator) detach() {
	if !r.listening.Load() {
		return
	}
	for _, off := range r.offs {
		off()
	}
	r.offs = nil
	r.listening.Store(false)
	r.logger.Debug("listeners detached")
	r.mark(replica.ActionRemoveListeners)
}

func (r *Replicator) mark(action replica.Action) {
	if _, err := r.store.Mark(action); err != nil {
		r.logger.Error("marker broadcast failed", "action", action, "error", err)
	}
}

func (r *Replicator) handler(ev record.Event) collection.Handler {
	return func(rec record.Record) {
		if _, _, err := r.store.ApplyChange(ev, rec, replica.SourceRemote); err != nil {
			r.logger.Warn("remote event dropped", "event", ev, "error", err)
		}
	}
}
