package collection

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/replica/internal/querymem"
	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
)

// Memory is an in-process Collection.
//
// Records keep insertion order; ids missing on create are assigned from an
// increasing counter starting at 0. Find honours server-side pagination.
type Memory struct {
	mu       sync.RWMutex
	idField  string
	paginate queryir.Paginate
	nextID   int64
	order    []string
	byKey    map[string]record.Record

	hub *Hub
}

// MemoryOption configures a Memory collection.
type MemoryOption func(*Memory)

// WithIDField sets the identity field. Default: "id".
func WithIDField(field string) MemoryOption {
	return func(m *Memory) {
		m.idField = field
	}
}

// WithPaginate enables server-side paging for Find.
func WithPaginate(p queryir.Paginate) MemoryOption {
	return func(m *Memory) {
		m.paginate = p
	}
}

// NewMemory creates an empty memory collection.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		idField: record.FieldID,
		byKey:   make(map[string]record.Record),
		hub:     NewHub(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Seed inserts records without emitting events.
func (m *Memory) Seed(records ...record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		if _, err := m.insertLocked(r); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// All returns copies of every record in insertion order.
func (m *Memory) All() []record.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]record.Record, len(m.order))
	for i, k := range m.order {
		out[i] = m.byKey[k].Clone()
	}
	return out
}

// Find implements Collection.
func (m *Memory) Find(ctx context.Context, q queryir.Query) (queryir.Page, error) {
	if err := ctx.Err(); err != nil {
		return queryir.Page{}, err
	}

	m.mu.RLock()
	records := make([]record.Record, len(m.order))
	for i, k := range m.order {
		records[i] = m.byKey[k]
	}
	page := querymem.Find(records, q, m.paginate)
	m.mu.RUnlock()

	for i, r := range page.Data {
		page.Data[i] = r.Clone()
	}
	return page, nil
}

// Get implements Collection.
func (m *Memory) Get(ctx context.Context, id record.Value) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.byKey[record.Key(id)]
	if !ok {
		return nil, m.notFound(id)
	}
	return r.Clone(), nil
}

// Create implements Collection.
func (m *Memory) Create(ctx context.Context, data record.Record) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	stored, err := m.insertLocked(data)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.hub.Publish(record.EventCreated, stored)
	m.mu.Unlock()

	m.hub.Flush()
	return stored.Clone(), nil
}

// Update implements Collection. The stored record is data with the id
// field forced to id.
func (m *Memory) Update(ctx context.Context, id record.Value, data record.Record) (record.Record, error) {
	return m.replace(ctx, id, record.EventUpdated, func(record.Record) record.Record {
		return data.Clone()
	})
}

// Patch implements Collection.
func (m *Memory) Patch(ctx context.Context, id record.Value, data record.Record) (record.Record, error) {
	return m.replace(ctx, id, record.EventPatched, func(prev record.Record) record.Record {
		return prev.Merge(data)
	})
}

// Remove implements Collection.
func (m *Memory) Remove(ctx context.Context, id record.Value) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	key := record.Key(id)
	prev, ok := m.byKey[key]
	if !ok {
		m.mu.Unlock()
		return nil, m.notFound(id)
	}
	delete(m.byKey, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.hub.Publish(record.EventRemoved, prev)
	m.mu.Unlock()

	m.hub.Flush()
	return prev, nil
}

// On implements Collection.
func (m *Memory) On(event record.Event, h Handler) func() {
	return m.hub.On(event, h)
}

// Listeners returns the number of handlers attached for event.
func (m *Memory) Listeners(event record.Event) int {
	return m.hub.Listeners(event)
}

func (m *Memory) replace(ctx context.Context, id record.Value, event record.Event, next func(record.Record) record.Record) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	key := record.Key(id)
	prev, ok := m.byKey[key]
	if !ok {
		m.mu.Unlock()
		return nil, m.notFound(id)
	}
	stored := next(prev)
	stored[m.idField] = prev[m.idField]
	m.byKey[key] = stored
	m.hub.Publish(event, stored)
	m.mu.Unlock()

	m.hub.Flush()
	return stored.Clone(), nil
}

// insertLocked stores a clone of data, assigning an id if needed.
// Caller must hold m.mu for writing.
func (m *Memory) insertLocked(data record.Record) (record.Record, error) {
	stored := data.Clone()
	if stored == nil {
		stored = record.Record{}
	}

	id, ok := stored[m.idField]
	if !ok {
		id = record.Int(m.nextID)
		stored[m.idField] = id
	}
	if n, isInt := id.(record.Int); isInt && int64(n) >= m.nextID {
		m.nextID = int64(n) + 1
	}

	key := record.Key(id)
	if _, exists := m.byKey[key]; exists {
		return nil, fmt.Errorf("%w: %s=%v", ErrConflict, m.idField, record.ToAny(id))
	}
	m.byKey[key] = stored
	m.order = append(m.order, key)
	return stored, nil
}

func (m *Memory) notFound(id record.Value) error {
	return fmt.Errorf("%w: %s=%v", ErrNotFound, m.idField, record.ToAny(id))
}
