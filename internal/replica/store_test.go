package replica

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
)

func rec(id, order int) record.Record {
	return record.Record{
		"id":    record.Int(id),
		"uuid":  record.Int(1000 + id),
		"order": record.Int(order),
	}
}

func byOrder(a, b record.Record) int {
	return record.Compare(a["order"], b["order"])
}

func seedFive() []record.Record {
	out := make([]record.Record, 5)
	for i := range out {
		out[i] = rec(i, i)
	}
	return out
}

type recorder struct {
	changes []Change
	sizes   []int
}

func (r *recorder) listen(records []record.Record, c Change) {
	r.changes = append(r.changes, c)
	r.sizes = append(r.sizes, len(records))
}

func (r *recorder) actions() []Action {
	out := make([]Action, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Action
	}
	return out
}

func ids(records []record.Record) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = int64(r["id"].(record.Int))
	}
	return out
}

func TestStore_ApplyCreated_Inserts(t *testing.T) {
	var rc recorder
	s := NewStore(WithSorter(byOrder), WithSubscriber(rc.listen))
	s.Snapshot(seedFive())

	c, ok, err := s.ApplyChange(record.EventCreated, rec(99, 99), SourceRemote)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, ActionMutated, c.Action)
	assert.Equal(t, SourceRemote, c.Source)
	assert.Equal(t, record.EventCreated, c.Event)

	records := s.Records()
	require.Len(t, records, 6)
	assert.Equal(t, rec(99, 99), records[5])
	assert.Equal(t, []Action{ActionSnapshot, ActionMutated}, rc.actions())
	assert.Equal(t, c, s.Last())
}

func TestStore_ApplyUpdated_ReplacesWithoutDuplicate(t *testing.T) {
	s := NewStore(WithSorter(byOrder))
	s.Snapshot(seedFive())

	_, ok, err := s.ApplyChange(record.EventUpdated, rec(2, 10), SourceRemote)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []int64{0, 1, 3, 4, 2}, ids(s.Records()))
}

func TestStore_IdentityIsLooselyCompared(t *testing.T) {
	s := NewStore()
	s.Snapshot(seedFive())

	patched := rec(3, 30)
	patched["id"] = record.String("3")
	_, ok, err := s.ApplyChange(record.EventPatched, patched, SourceRemote)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 5, s.Len())
	got, found := s.Get(record.Int(3))
	require.True(t, found)
	assert.Equal(t, record.Int(30), got["order"])
}

func TestStore_LargeIntegerIdentitiesStayDistinct(t *testing.T) {
	s := NewStore()

	for _, id := range []int64{9007199254740992, 9007199254740993} {
		_, ok, err := s.ApplyChange(record.EventCreated, record.Record{"id": record.Int(id)}, SourceRemote)
		require.NoError(t, err)
		require.True(t, ok)
	}

	assert.Equal(t, 2, s.Len())
	got, found := s.Get(record.Int(9007199254740993))
	require.True(t, found)
	assert.Equal(t, record.Int(9007199254740993), got["id"])
}

func TestStore_FindReturnsCopies(t *testing.T) {
	s := NewStore(WithSorter(byOrder))
	s.Snapshot(seedFive())

	page := s.Find(queryir.Query{}, queryir.Paginate{})
	require.Len(t, page.Data, 5)
	page.Data[0]["order"] = record.Int(777)
	page.Data[0]["uuid"] = record.Int(1004)

	got, found := s.Get(record.Int(0))
	require.True(t, found)
	assert.Equal(t, record.Int(0), got["order"])
	assert.Equal(t, record.Int(1000), got["uuid"])
}

func TestStore_RemoveExisting(t *testing.T) {
	var rc recorder
	s := NewStore(WithSubscriber(rc.listen))
	s.Snapshot(seedFive())

	c, ok, err := s.ApplyChange(record.EventRemoved, rec(1, 1), SourceRemote)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ActionRemove, c.Action)
	assert.Equal(t, []int64{0, 2, 3, 4}, ids(s.Records()))
	assert.Equal(t, []int{5, 4}, rc.sizes)
}

func TestStore_RemoveAbsent(t *testing.T) {
	visible := func(r record.Record) bool {
		return record.Compare(r["order"], record.Float(3.5)) <= 0
	}

	tests := []struct {
		name        string
		publication Publication
		source      Source
		record      record.Record
		broadcast   bool
	}{
		{name: "remote without publication", source: SourceRemote, record: rec(42, 1), broadcast: true},
		{name: "remote accepted by publication", publication: visible, source: SourceRemote, record: rec(42, 1), broadcast: true},
		{name: "remote rejected by publication", publication: visible, source: SourceRemote, record: rec(42, 9), broadcast: false},
		{name: "optimistic", source: SourceOptimistic, record: rec(42, 1), broadcast: false},
		{name: "compensation", source: SourceCompensation, record: rec(42, 1), broadcast: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rc recorder
			s := NewStore(WithPublication(tt.publication), WithSubscriber(rc.listen))
			s.Snapshot(seedFive()[:3])
			before := s.Last()

			c, ok, err := s.ApplyChange(record.EventRemoved, tt.record, tt.source)
			require.NoError(t, err)
			assert.Equal(t, tt.broadcast, ok)
			assert.Equal(t, 3, s.Len())
			if tt.broadcast {
				assert.Equal(t, ActionRemove, c.Action)
				assert.Equal(t, c, s.Last())
				assert.Len(t, rc.changes, 2)
			} else {
				assert.Equal(t, before, s.Last())
				assert.Len(t, rc.changes, 1)
			}
		})
	}
}

func TestStore_LeftPublication(t *testing.T) {
	var rc recorder
	s := NewStore(
		WithSorter(byOrder),
		WithSubscriber(rc.listen),
		WithPublication(func(r record.Record) bool {
			return record.Compare(r["order"], record.Float(3.5)) <= 0
		}),
	)
	s.Snapshot(seedFive())
	require.Equal(t, 4, s.Len(), "record with order 4 is not published")

	c, ok, err := s.ApplyChange(record.EventPatched, rec(1, 99), SourceRemote)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ActionLeftPub, c.Action)
	assert.Equal(t, []int64{0, 2, 3}, ids(s.Records()))

	// Still invisible: nothing to announce.
	_, ok, err = s.ApplyChange(record.EventPatched, rec(1, 100), SourceRemote)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []Action{ActionSnapshot, ActionLeftPub}, rc.actions())

	// Back into view.
	c, ok, err = s.ApplyChange(record.EventPatched, rec(1, 1), SourceRemote)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ActionMutated, c.Action)
	assert.Equal(t, []int64{0, 1, 2, 3}, ids(s.Records()))
}

func TestStore_MissingIdentity(t *testing.T) {
	var rc recorder
	s := NewStore(WithIdentity(record.FieldIdentity(record.FieldUUID)), WithSubscriber(rc.listen))
	s.Snapshot(seedFive())

	_, ok, err := s.ApplyChange(record.EventCreated, record.Record{"id": record.Int(7)}, SourceRemote)
	require.ErrorIs(t, err, record.ErrMissingIdentity)
	assert.False(t, ok)
	assert.Equal(t, 5, s.Len())
	assert.Len(t, rc.changes, 1)
}

func TestStore_InvalidEvent(t *testing.T) {
	s := NewStore()
	_, _, err := s.ApplyChange(record.EventNone, rec(1, 1), SourceRemote)
	require.Error(t, err)
}

func TestStore_CompensatedCreateRestoresRecords(t *testing.T) {
	s := NewStore(WithIdentity(record.FieldIdentity(record.FieldUUID)), WithSorter(byOrder))
	s.Snapshot(seedFive())
	before := s.Records()

	_, _, err := s.ApplyChange(record.EventCreated, rec(99, 2), SourceOptimistic)
	require.NoError(t, err)
	require.Equal(t, 6, s.Len())

	c, ok, err := s.ApplyChange(record.EventRemoved, rec(99, 2), SourceCompensation)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SourceCompensation, c.Source)
	assert.Equal(t, before, s.Records())
}

func TestStore_SortedAfterEveryMutation(t *testing.T) {
	s := NewStore(WithSorter(byOrder))
	s.Snapshot([]record.Record{rec(0, 5), rec(1, 3), rec(2, 9)})

	events := []struct {
		event record.Event
		rec   record.Record
	}{
		{record.EventCreated, rec(3, 1)},
		{record.EventPatched, rec(2, 0)},
		{record.EventUpdated, rec(0, 7)},
		{record.EventRemoved, rec(1, 3)},
		{record.EventCreated, rec(4, 7)},
	}
	for _, e := range events {
		_, _, err := s.ApplyChange(e.event, e.rec, SourceRemote)
		require.NoError(t, err)

		records := s.Records()
		resorted := slices.Clone(records)
		slices.SortStableFunc(resorted, byOrder)
		assert.Equal(t, records, resorted)
	}
	// Equal keys keep insertion order.
	assert.Equal(t, []int64{2, 3, 0, 4}, ids(s.Records()))
}

func TestStore_SnapshotFiltersSortsAndDeduplicates(t *testing.T) {
	s := NewStore(
		WithSorter(func(a, b record.Record) int { return -byOrder(a, b) }),
		WithPublication(func(r record.Record) bool { return r["order"] != record.Int(2) }),
	)
	input := []record.Record{rec(0, 0), rec(1, 1), rec(2, 2), rec(1, 50), {"order": record.Int(7)}}

	c := s.Snapshot(input)
	assert.Equal(t, ActionSnapshot, c.Action)
	assert.Equal(t, SourceNone, c.Source)
	assert.Nil(t, c.Record)
	assert.Equal(t, []int64{1, 0}, ids(s.Records()))

	// The input is not retained.
	input[0]["order"] = record.Int(100)
	got, _ := s.Get(record.Int(0))
	assert.Equal(t, record.Int(0), got["order"])
}

func TestStore_Resort(t *testing.T) {
	var rc recorder
	s := NewStore(WithSubscriber(rc.listen))
	s.Snapshot([]record.Record{rec(0, 2), rec(1, 0), rec(2, 1)})
	assert.Equal(t, []int64{0, 1, 2}, ids(s.Records()))

	c := s.Resort(byOrder)
	assert.Equal(t, ActionChangeSort, c.Action)
	assert.Equal(t, []int64{1, 2, 0}, ids(s.Records()))
	assert.Equal(t, c, s.Last())
	assert.NotNil(t, s.Sorter())

	// Later inserts use the new sorter.
	_, _, err := s.ApplyChange(record.EventCreated, rec(3, -1), SourceRemote)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2, 0}, ids(s.Records()))
}

func TestStore_MarkDoesNotReplaceLast(t *testing.T) {
	var rc recorder
	s := NewStore(WithSubscriber(rc.listen))
	snap := s.Snapshot(seedFive())

	c, err := s.Mark(ActionAddListeners)
	require.NoError(t, err)
	assert.Equal(t, ActionAddListeners, c.Action)
	assert.Equal(t, snap, s.Last())
	assert.Equal(t, []int{5, 5}, rc.sizes)

	_, err = s.Mark(ActionMutated)
	require.Error(t, err)
}

func TestStore_SeqStrictlyIncreases(t *testing.T) {
	var rc recorder
	s := NewStore(WithSubscriber(rc.listen), WithClock(NewClockAt(41)))
	s.Snapshot(seedFive())
	_, _ = s.Mark(ActionAddListeners)
	_, _, _ = s.ApplyChange(record.EventCreated, rec(9, 9), SourceRemote)
	s.Resort(byOrder)

	require.Len(t, rc.changes, 4)
	for i, c := range rc.changes {
		assert.Equal(t, int64(42+i), c.Seq)
	}
}

func TestStore_ListenersThenSubscriber(t *testing.T) {
	var order []string
	s := NewStore(WithSubscriber(func([]record.Record, Change) { order = append(order, "subscriber") }))
	s.Subscribe(func([]record.Record, Change) { order = append(order, "first") })
	off := s.Subscribe(func([]record.Record, Change) { order = append(order, "second") })

	s.Snapshot(nil)
	assert.Equal(t, []string{"first", "second", "subscriber"}, order)

	off()
	off()
	order = nil
	s.Snapshot(nil)
	assert.Equal(t, []string{"first", "subscriber"}, order)
}

func TestStore_ListenerMayReadStore(t *testing.T) {
	s := NewStore()
	var seen []Change
	s.Subscribe(func(records []record.Record, c Change) {
		assert.Len(t, s.Records(), len(records))
		seen = append(seen, s.Last())
	})

	s.Snapshot(seedFive())
	_, _, err := s.ApplyChange(record.EventCreated, rec(7, 7), SourceRemote)
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, ActionMutated, seen[1].Action)
}

func TestStore_BroadcastSliceIsPrivate(t *testing.T) {
	s := NewStore()
	s.Subscribe(func(records []record.Record, _ Change) {
		if len(records) > 0 {
			records[0] = nil
		}
	})
	s.Snapshot(seedFive())
	assert.NotNil(t, s.Records()[0])
}

type countingObserver struct {
	sizes map[Action]int
}

func (o *countingObserver) ObserveChange(c Change, size int) {
	o.sizes[c.Action] = size
}

func TestStore_Observer(t *testing.T) {
	o := &countingObserver{sizes: map[Action]int{}}
	s := NewStore(WithObserver(o))
	s.Snapshot(seedFive())
	_, _, _ = s.ApplyChange(record.EventRemoved, rec(0, 0), SourceRemote)

	assert.Equal(t, map[Action]int{ActionSnapshot: 5, ActionRemove: 4}, o.sizes)
}

func TestSource_Text(t *testing.T) {
	for _, src := range []Source{SourceNone, SourceRemote, SourceOptimistic, SourceCompensation} {
		text, err := src.MarshalText()
		require.NoError(t, err)

		var back Source
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, src, back)
	}

	_, err := ParseSource("bogus")
	require.Error(t, err)
}
