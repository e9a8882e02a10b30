package collection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
)

func seedFive(t *testing.T, opts ...MemoryOption) *Memory {
	t.Helper()
	m := NewMemory(opts...)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Seed(record.Record{
			"id":    record.Int(i),
			"uuid":  record.Int(1000 + i),
			"order": record.Int(i),
		}))
	}
	return m
}

type recorder struct {
	events []record.Event
	recs   []record.Record
}

func (r *recorder) attach(c Collection) {
	for _, ev := range record.Events {
		c.On(ev, func(rec record.Record) {
			r.events = append(r.events, ev)
			r.recs = append(r.recs, rec)
		})
	}
}

func TestMemory_CreateAssignsIDAndEmits(t *testing.T) {
	ctx := context.Background()
	m := seedFive(t)
	var rec recorder
	rec.attach(m)

	created, err := m.Create(ctx, record.Record{"uuid": record.Int(1099)})
	require.NoError(t, err)

	assert.Equal(t, record.Int(5), created["id"])
	assert.Equal(t, []record.Event{record.EventCreated}, rec.events)
	assert.Equal(t, created, rec.recs[0])
	assert.Equal(t, 6, m.Len())
}

func TestMemory_CreateConflict(t *testing.T) {
	m := seedFive(t)

	_, err := m.Create(context.Background(), record.Record{"id": record.String("3")})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict), "numeric-string id collides with Int id")
}

func TestMemory_UpdateReplacesAndKeepsID(t *testing.T) {
	ctx := context.Background()
	m := seedFive(t)
	var rec recorder
	rec.attach(m)

	updated, err := m.Update(ctx, record.Int(1), record.Record{"uuid": record.Int(1001), "order": record.Int(42)})
	require.NoError(t, err)

	assert.Equal(t, record.Record{"id": record.Int(1), "uuid": record.Int(1001), "order": record.Int(42)}, updated)
	assert.Equal(t, []record.Event{record.EventUpdated}, rec.events)
}

func TestMemory_PatchMerges(t *testing.T) {
	ctx := context.Background()
	m := seedFive(t)
	var rec recorder
	rec.attach(m)

	patched, err := m.Patch(ctx, record.Int(1), record.Record{"order": record.Int(99)})
	require.NoError(t, err)

	assert.Equal(t, record.Record{"id": record.Int(1), "uuid": record.Int(1001), "order": record.Int(99)}, patched)
	assert.Equal(t, []record.Event{record.EventPatched}, rec.events)
}

func TestMemory_RemoveEmitsPreImage(t *testing.T) {
	ctx := context.Background()
	m := seedFive(t)
	var rec recorder
	rec.attach(m)

	removed, err := m.Remove(ctx, record.Int(2))
	require.NoError(t, err)

	assert.Equal(t, record.Int(1002), removed["uuid"])
	assert.Equal(t, []record.Event{record.EventRemoved}, rec.events)
	assert.Equal(t, 4, m.Len())

	_, err = m.Get(ctx, record.Int(2))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_NotFound(t *testing.T) {
	ctx := context.Background()
	m := seedFive(t)

	_, err := m.Update(ctx, record.Int(77), record.Record{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Patch(ctx, record.Int(77), record.Record{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Remove(ctx, record.Int(77))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_FindPaginates(t *testing.T) {
	m := seedFive(t, WithPaginate(queryir.Paginate{Default: 2, Max: 4}))

	page, err := m.Find(context.Background(), queryir.Query{Sort: []queryir.SortKey{{Field: "order", Desc: true}}})
	require.NoError(t, err)

	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Data, 2)
	assert.Equal(t, record.Int(4), page.Data[0]["id"])
}

func TestMemory_FindReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := seedFive(t)

	page, err := m.Find(ctx, queryir.Query{})
	require.NoError(t, err)
	page.Data[0]["order"] = record.Int(-1)

	got, err := m.Get(ctx, record.Int(0))
	require.NoError(t, err)
	assert.Equal(t, record.Int(0), got["order"])
}

func TestMemory_CustomIDField(t *testing.T) {
	m := NewMemory(WithIDField("_id"))

	created, err := m.Create(context.Background(), record.Record{"name": record.String("x")})
	require.NoError(t, err)

	assert.Equal(t, record.Int(0), created["_id"])
	assert.NotContains(t, created, "id")
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().Create(ctx, record.Record{})
	assert.ErrorIs(t, err, context.Canceled)
}
