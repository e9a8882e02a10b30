package collection

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
)

// ErrInjected is the default error returned by a Faulty collection.
var ErrInjected = errors.New("injected failure")

// Faulty wraps a Collection and fails or holds selected calls.
// A failed call never reaches the wrapped collection.
type Faulty struct {
	inner Collection

	mu      sync.Mutex
	always  map[Operation]error
	pending map[Operation][]error
	gates   map[Operation]chan struct{}
}

// NewFaulty wraps inner. With no rules it behaves exactly like inner.
func NewFaulty(inner Collection) *Faulty {
	return &Faulty{
		inner:   inner,
		always:  make(map[Operation]error),
		pending: make(map[Operation][]error),
		gates:   make(map[Operation]chan struct{}),
	}
}

// FailAlways makes every op call fail with err (ErrInjected when nil).
func (f *Faulty) FailAlways(op Operation, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.always[op] = orInjected(err)
}

// FailNext makes the next op call fail with err (ErrInjected when nil).
// Repeated calls queue further failures.
func (f *Faulty) FailNext(op Operation, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[op] = append(f.pending[op], orInjected(err))
}

// Hold blocks op calls until the returned release function is called.
// Calls already waiting and calls arriving later both proceed on release.
func (f *Faulty) Hold(op Operation) (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[op] = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gates[op] == gate {
				delete(f.gates, op)
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Heal removes every failure rule. Holds stay in place.
func (f *Faulty) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.always = make(map[Operation]error)
	f.pending = make(map[Operation][]error)
}

func orInjected(err error) error {
	if err == nil {
		return ErrInjected
	}
	return err
}

// admit waits for any hold on op and returns the injected error, if any.
func (f *Faulty) admit(ctx context.Context, op Operation) error {
	f.mu.Lock()
	gate := f.gates[op]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.pending[op]; len(q) > 0 {
		err := q[0]
		f.pending[op] = q[1:]
		return err
	}
	return f.always[op]
}

// Find implements Collection.
func (f *Faulty) Find(ctx context.Context, q queryir.Query) (queryir.Page, error) {
	if err := f.admit(ctx, OpFind); err != nil {
		return queryir.Page{}, err
	}
	return f.inner.Find(ctx, q)
}

// Get implements Collection.
func (f *Faulty) Get(ctx context.Context, id record.Value) (record.Record, error) {
	if err := f.admit(ctx, OpGet); err != nil {
		return nil, err
	}
	return f.inner.Get(ctx, id)
}

// Create implements Collection.
func (f *Faulty) Create(ctx context.Context, data record.Record) (record.Record, error) {
	if err := f.admit(ctx, OpCreate); err != nil {
		return nil, err
	}
	return f.inner.Create(ctx, data)
}

// Update implements Collection.
func (f *Faulty) Update(ctx context.Context, id record.Value, data record.Record) (record.Record, error) {
	if err := f.admit(ctx, OpUpdate); err != nil {
		return nil, err
	}
	return f.inner.Update(ctx, id, data)
}

// Patch implements Collection.
func (f *Faulty) Patch(ctx context.Context, id record.Value, data record.Record) (record.Record, error) {
	if err := f.admit(ctx, OpPatch); err != nil {
		return nil, err
	}
	return f.inner.Patch(ctx, id, data)
}

// Remove implements Collection.
func (f *Faulty) Remove(ctx context.Context, id record.Value) (record.Record, error) {
	if err := f.admit(ctx, OpRemove); err != nil {
		return nil, err
	}
	return f.inner.Remove(ctx, id)
}

// On implements Collection.
func (f *Faulty) On(event record.Event, h Handler) func() {
	return f.inner.On(event, h)
}
