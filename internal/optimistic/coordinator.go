package optimistic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/replica/internal/collection"
	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/querymem"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/replica"
)

// Mutator is the read and write surface a coordinator offers in place of
// the remote collection.
type Mutator interface {
	Find(ctx context.Context, q queryir.Query) (queryir.Page, error)
	Get(ctx context.Context, uuid record.Value, fields ...string) (record.Record, error)
	Create(ctx context.Context, data record.Record, fields ...string) (record.Record, error)
	Update(ctx context.Context, uuid record.Value, data record.Record) (record.Record, error)
	Patch(ctx context.Context, uuid record.Value, data record.Record) (record.Record, error)
	Remove(ctx context.Context, uuid record.Value) (record.Record, error)
}

var _ Mutator = (*Coordinator)(nil)

// Observer is notified of remote call outcomes and compensations.
// Implemented by the metrics package.
type Observer interface {
	ObserveRemoteCall(op collection.Operation, err error, elapsed time.Duration)
	ObserveCompensation(op collection.Operation)
}

// Coordinator applies optimistic mutations to a replicator's replica.
//
// Thread-safety: all methods are safe for concurrent use.
type Coordinator struct {
	rep      *engine.Replicator
	store    *replica.Store
	remote   collection.Collection
	paginate queryir.Paginate
	observer Observer
	logger   *slog.Logger

	lanes *lanes

	// pending counts submitted remote calls that have not resolved.
	mu      sync.Mutex
	idle    *sync.Cond
	pending int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPaginate sets the paging applied by Find.
func WithPaginate(p queryir.Paginate) Option {
	return func(c *Coordinator) {
		c.paginate = p
	}
}

// WithObserver reports remote call outcomes to o.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// WithLogger sets the logger. Default: the replicator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// New creates a coordinator for rep.
//
// MANDATORY: rep must use the uuid identity strategy. A record written
// locally needs an identity before the remote collection has assigned
// one, which only a client-generated uuid provides.
func New(rep *engine.Replicator, opts ...Option) (*Coordinator, error) {
	if !rep.UseUUID() {
		return nil, engine.NewInvalidArgumentError("replicator must use uuid identity for optimistic mutations")
	}
	c := &Coordinator{
		rep:    rep,
		store:  rep.Store(),
		remote: rep.Remote(),
		logger: rep.Logger(),
		lanes:  newLanes(),
	}
	c.idle = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Find evaluates q against the replica. It never touches the remote
// collection.
func (c *Coordinator) Find(ctx context.Context, q queryir.Query) (queryir.Page, error) {
	return c.store.Find(q, c.paginate), nil
}

// Get returns the replica record with the given uuid. When fields are
// given the result is projected to them plus the identity fields.
func (c *Coordinator) Get(ctx context.Context, uuid record.Value, fields ...string) (record.Record, error) {
	r, ok := c.store.Get(uuid)
	if !ok {
		return nil, engine.NewNotFoundError(uuid)
	}
	return project(r.Clone(), fields), nil
}

// Create writes data to the replica and creates it remotely.
//
// A uuid is generated when data has none. Fails with DUPLICATE_IDENTITY
// when the replica already holds the uuid. If the remote create fails the
// record is removed again. fields project the returned record as in Get;
// the replica always holds the full record.
func (c *Coordinator) Create(ctx context.Context, data record.Record, fields ...string) (record.Record, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}

	next := data.Clone()
	if next == nil {
		next = record.Record{}
	}
	if isNull(next[record.FieldUUID]) {
		next[record.FieldUUID] = record.String(c.rep.NewID())
	}
	uuid := next[record.FieldUUID]

	l := c.lanes.acquire(uuid)
	defer c.lanes.release(l)
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := c.store.Get(uuid); exists {
		return nil, engine.NewDuplicateIdentityError(uuid)
	}
	if err := c.apply(record.EventCreated, next); err != nil {
		return nil, err
	}
	c.submit(l, &call{
		ctx:     ctx,
		op:      collection.OpCreate,
		uuid:    uuid,
		payload: next,
		undo:    undo{event: record.EventRemoved, record: next},
	})
	return project(next.Clone(), fields), nil
}

// CreateMany creates each record independently. Results are positional;
// a failed entry is nil and its error is joined into the returned error.
func (c *Coordinator) CreateMany(ctx context.Context, data []record.Record) ([]record.Record, error) {
	out := make([]record.Record, len(data))
	var errs []error
	for i, d := range data {
		r, err := c.Create(ctx, d)
		if err != nil {
			errs = append(errs, fmt.Errorf("create[%d]: %w", i, err))
			continue
		}
		out[i] = r
	}
	return out, errors.Join(errs...)
}

// Update replaces the record with the given uuid.
//
// data must carry a uuid; it is forced to the existing record's value so
// the identity keeps its type. id and _id are carried over from the
// existing record when data lacks them. A null uuid is rejected: replacing
// several records at once is ambiguous.
func (c *Coordinator) Update(ctx context.Context, uuid record.Value, data record.Record) (record.Record, error) {
	if isNull(uuid) {
		return nil, engine.NewInvalidArgumentError("cannot replace multiple records; use PatchMany")
	}
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	if !data.Has(record.FieldUUID) {
		return nil, engine.NewInvalidArgumentError("optimistic update requires uuid in data")
	}

	l := c.lanes.acquire(uuid)
	defer c.lanes.release(l)
	l.mu.Lock()
	defer l.mu.Unlock()

	before, ok := c.store.Get(uuid)
	if !ok {
		return nil, engine.NewNotFoundError(uuid)
	}

	next := data.Clone()
	next[record.FieldUUID] = before[record.FieldUUID]
	for _, f := range []string{record.FieldID, record.FieldOID} {
		if v, has := before[f]; has && !next.Has(f) {
			next[f] = v
		}
	}

	if err := c.apply(record.EventUpdated, next); err != nil {
		return nil, err
	}
	c.submit(l, &call{
		ctx:      ctx,
		op:       collection.OpUpdate,
		uuid:     uuid,
		remoteID: remoteID(before),
		payload:  next,
		undo:     undo{event: record.EventUpdated, record: before},
	})
	return next.Clone(), nil
}

// Patch merges data into the record with the given uuid.
func (c *Coordinator) Patch(ctx context.Context, uuid record.Value, data record.Record) (record.Record, error) {
	if isNull(uuid) {
		return nil, engine.NewInvalidArgumentError("patch requires a uuid; use PatchMany")
	}
	if err := c.checkConnected(); err != nil {
		return nil, err
	}

	l := c.lanes.acquire(uuid)
	defer c.lanes.release(l)
	l.mu.Lock()
	defer l.mu.Unlock()

	before, ok := c.store.Get(uuid)
	if !ok {
		return nil, engine.NewNotFoundError(uuid)
	}

	after := before.Merge(data)
	after[record.FieldUUID] = before[record.FieldUUID]

	if err := c.apply(record.EventPatched, after); err != nil {
		return nil, err
	}
	c.submit(l, &call{
		ctx:      ctx,
		op:       collection.OpPatch,
		uuid:     uuid,
		remoteID: remoteID(before),
		payload:  data.Clone(),
		undo:     undo{event: record.EventUpdated, record: before},
	})
	return after.Clone(), nil
}

// PatchMany patches every replica record matching q, each with its own
// remote call and compensation. A zero query matches every record.
func (c *Coordinator) PatchMany(ctx context.Context, q queryir.Query, data record.Record) ([]record.Record, error) {
	return c.each(q, func(uuid record.Value) (record.Record, error) {
		return c.Patch(ctx, uuid, data)
	})
}

// Remove removes the record with the given uuid. If the remote remove
// fails the record is restored.
func (c *Coordinator) Remove(ctx context.Context, uuid record.Value) (record.Record, error) {
	if isNull(uuid) {
		return nil, engine.NewInvalidArgumentError("remove requires a uuid; use RemoveMany")
	}
	if err := c.checkConnected(); err != nil {
		return nil, err
	}

	l := c.lanes.acquire(uuid)
	defer c.lanes.release(l)
	l.mu.Lock()
	defer l.mu.Unlock()

	before, ok := c.store.Get(uuid)
	if !ok {
		return nil, engine.NewNotFoundError(uuid)
	}

	if err := c.apply(record.EventRemoved, before); err != nil {
		return nil, err
	}
	c.submit(l, &call{
		ctx:      ctx,
		op:       collection.OpRemove,
		uuid:     uuid,
		remoteID: remoteID(before),
		undo:     undo{event: record.EventCreated, record: before},
	})
	return before.Clone(), nil
}

// RemoveMany removes every replica record matching q. A zero query
// matches every record.
func (c *Coordinator) RemoveMany(ctx context.Context, q queryir.Query) ([]record.Record, error) {
	return c.each(q, func(uuid record.Value) (record.Record, error) {
		return c.Remove(ctx, uuid)
	})
}

// Wait blocks until every submitted remote call has resolved and any
// compensation has been applied. Mutations may run concurrently; calls
// submitted while waiting are waited for too.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pending > 0 {
		c.idle.Wait()
	}
}

func (c *Coordinator) checkConnected() error {
	if !c.rep.Connected() {
		return engine.NewNotConnectedError()
	}
	return nil
}

// apply writes an optimistic change. Called with the lane held.
func (c *Coordinator) apply(event record.Event, r record.Record) error {
	if _, _, err := c.store.ApplyChange(event, r, replica.SourceOptimistic); err != nil {
		return engine.NewInvalidArgumentError("optimistic %s: %v", event, err)
	}
	return nil
}

// each runs fn for the uuid of every replica record matching q.
func (c *Coordinator) each(q queryir.Query, fn func(record.Value) (record.Record, error)) ([]record.Record, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}

	page := c.store.Find(q, queryir.Paginate{})
	out := make([]record.Record, 0, len(page.Data))
	var errs []error
	for _, r := range page.Data {
		res, err := fn(r[record.FieldUUID])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

// submit queues a remote call on l and starts its drain loop if idle.
// Called with l.mu held.
func (c *Coordinator) submit(l *lane, cl *call) {
	cl.ctx = context.WithoutCancel(cl.ctx)
	c.mu.Lock()
	c.pending++
	c.mu.Unlock()
	l.calls.Enqueue(cl)
	if l.running {
		return
	}
	l.running = true

	// The drain loop holds the lane until the queue is empty.
	c.lanes.mu.Lock()
	l.users++
	c.lanes.mu.Unlock()
	go c.drain(l)
}

// drain runs l's queued calls in order.
func (c *Coordinator) drain(l *lane) {
	defer c.lanes.release(l)

	for {
		l.mu.Lock()
		cl, ok := l.calls.TryDequeue()
		if !ok {
			l.running = false
			l.mu.Unlock()
			return
		}
		revert := cl.undo
		if l.carry != nil {
			revert = *l.carry
			l.carry = nil
		}
		id := c.resolveRemoteID(l, cl)
		l.mu.Unlock()

		result, err := c.execute(cl, id)

		l.mu.Lock()
		switch {
		case err != nil && l.calls.Len() > 0:
			c.logger.Warn("remote call failed; compensation carried to next call",
				"op", cl.op,
				"uuid", l.key,
				"error", err,
			)
			l.carry = &revert
		case err != nil:
			c.compensate(cl, revert, err)
		case cl.op == collection.OpCreate:
			if rid := remoteID(result); rid != nil {
				l.remoteID = rid
			}
		}
		l.mu.Unlock()
		c.resolved()
	}
}

func (c *Coordinator) resolved() {
	c.mu.Lock()
	c.pending--
	if c.pending == 0 {
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

// resolveRemoteID picks the identity the remote collection knows the
// record by. Called with l.mu held.
func (c *Coordinator) resolveRemoteID(l *lane, cl *call) record.Value {
	if cl.op == collection.OpCreate {
		return nil
	}
	if cl.remoteID != nil {
		return cl.remoteID
	}
	if l.remoteID != nil {
		return l.remoteID
	}
	if r, ok := c.store.Get(cl.uuid); ok {
		return remoteID(r)
	}
	return nil
}

func (c *Coordinator) execute(cl *call, id record.Value) (record.Record, error) {
	if cl.op != collection.OpCreate && id == nil {
		err := engine.NewInvalidArgumentError("%s: record has no remote identity", cl.op)
		c.observeCall(cl.op, err, 0)
		return nil, err
	}

	start := time.Now()
	var (
		result record.Record
		err    error
	)
	switch cl.op {
	case collection.OpCreate:
		result, err = c.remote.Create(cl.ctx, cl.payload.Clone())
	case collection.OpUpdate:
		result, err = c.remote.Update(cl.ctx, id, cl.payload.Clone())
	case collection.OpPatch:
		result, err = c.remote.Patch(cl.ctx, id, cl.payload.Clone())
	case collection.OpRemove:
		result, err = c.remote.Remove(cl.ctx, id)
	default:
		err = fmt.Errorf("unsupported operation %q", cl.op)
	}
	elapsed := time.Since(start)
	c.observeCall(cl.op, err, elapsed)

	if err == nil {
		c.logger.Debug("remote call confirmed", "op", cl.op, "uuid", record.Key(cl.uuid), "elapsed", elapsed)
	}
	return result, err
}

// compensate reverts an optimistic write. Called with the lane held.
func (c *Coordinator) compensate(cl *call, revert undo, cause error) {
	c.logger.Error("remote call failed; compensating",
		"op", cl.op,
		"uuid", record.Key(cl.uuid),
		"revert", revert.event,
		"error", cause,
	)
	if c.observer != nil {
		c.observer.ObserveCompensation(cl.op)
	}
	if _, _, err := c.store.ApplyChange(revert.event, revert.record, replica.SourceCompensation); err != nil {
		c.logger.Error("compensation failed", "op", cl.op, "error", err)
	}
}

func (c *Coordinator) observeCall(op collection.Operation, err error, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRemoteCall(op, err, elapsed)
	}
}

func project(r record.Record, fields []string) record.Record {
	if len(fields) == 0 {
		return r
	}
	return querymem.Project(r, fields)
}

func isNull(v record.Value) bool {
	switch v.(type) {
	case nil, record.Null:
		return true
	}
	return false
}

func remoteID(r record.Record) record.Value {
	id, err := record.RemoteID(r)
	if err != nil {
		return nil
	}
	return id
}
