package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/collection"
	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/replica"
	"github.com/roach88/replica/internal/testutil"
)

func seededMemory(t *testing.T, opts ...collection.MemoryOption) *collection.Memory {
	t.Helper()
	m := collection.NewMemory(opts...)
	require.NoError(t, m.Seed(testutil.SeedRecords(5)...))
	return m
}

func TestReplicator_RemoteCreateAfterConnect(t *testing.T) {
	ctx := context.Background()
	remote := seededMemory(t)
	rec := testutil.NewRecorder()

	r := New(remote, WithSort(SortBy("order")), WithSubscriber(rec.Listen))
	require.NoError(t, r.Connect(ctx))

	created := testutil.Rec(99, 99)
	_, err := remote.Create(ctx, created)
	require.NoError(t, err)

	records := r.Store().Records()
	require.Len(t, records, 6)
	assert.Equal(t, created, records[5])
	assert.Equal(t,
		[]replica.Action{replica.ActionSnapshot, replica.ActionAddListeners, replica.ActionMutated},
		rec.Actions())

	last, _ := rec.Last()
	assert.Equal(t, replica.SourceRemote, last.Change.Source)
	assert.Equal(t, record.EventCreated, last.Change.Event)
}

func TestReplicator_RemotePatchLeavesPublication(t *testing.T) {
	ctx := context.Background()
	remote := seededMemory(t)
	rec := testutil.NewRecorder()

	r := New(remote,
		WithSort(SortBy("order")),
		WithSubscriber(rec.Listen),
		WithPublication(func(r record.Record) bool {
			return record.Compare(r["order"], record.Float(3.5)) <= 0
		}),
	)
	require.NoError(t, r.Connect(ctx))
	require.Equal(t, 4, r.Store().Len())

	_, err := remote.Patch(ctx, record.Int(1), record.Record{"order": record.Int(99)})
	require.NoError(t, err)

	_, found := r.Store().Get(record.Int(1))
	assert.False(t, found)
	assert.Equal(t, []int64{0, 2, 3}, testutil.Ints(r.Store().Records(), "id"))

	last, _ := rec.Last()
	assert.Equal(t, replica.ActionLeftPub, last.Change.Action)
	assert.Equal(t, record.Int(99), last.Change.Record["order"])
}

func TestReplicator_AllRemoteEvents(t *testing.T) {
	ctx := context.Background()
	remote := seededMemory(t)
	r := New(remote, WithUUID(true), WithSort(MultiSort(queryir.SortKey{Field: "order", Desc: true})))
	require.NoError(t, r.Connect(ctx))

	_, err := remote.Update(ctx, record.Int(0), testutil.Rec(0, 10))
	require.NoError(t, err)
	_, err = remote.Remove(ctx, record.Int(4))
	require.NoError(t, err)
	_, err = remote.Patch(ctx, record.Int(2), record.Record{"order": record.Int(-1)})
	require.NoError(t, err)

	assert.Equal(t, []int64{0, 3, 1, 2}, testutil.Ints(r.Store().Records(), "id"))
}

func TestReplicator_ConnectHonoursQueryAndPagination(t *testing.T) {
	ctx := context.Background()
	remote := seededMemory(t, collection.WithPaginate(queryir.Paginate{Default: 2, Max: 2}))

	q := queryir.Query{
		Filter: queryir.Compare{Field: "order", Op: queryir.OpLt, Value: record.Int(4)},
		Sort:   []queryir.SortKey{{Field: "order", Desc: true}},
	}
	r := New(remote, WithQuery(q))
	require.NoError(t, r.Connect(ctx))

	assert.Equal(t, []int64{3, 2, 1, 0}, testutil.Ints(r.Store().Records(), "id"))
}

func TestReplicator_ConnectFailureLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	remote := collection.NewFaulty(seededMemory(t))
	rec := testutil.NewRecorder()
	r := New(remote, WithSubscriber(rec.Listen))

	require.NoError(t, r.Connect(ctx))
	before := r.Store().Records()

	remote.FailNext(collection.OpFind, nil)
	err := r.Connect(ctx)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.ErrorIs(t, err, collection.ErrInjected)

	assert.Equal(t, before, r.Store().Records())
	assert.Equal(t, StateDisconnected, r.State())
	assert.False(t, r.Connected())
	assert.Equal(t,
		[]replica.Action{replica.ActionSnapshot, replica.ActionAddListeners, replica.ActionRemoveListeners},
		rec.Actions())
}

func TestReplicator_ReconnectDoesNotDoubleSubscribe(t *testing.T) {
	ctx := context.Background()
	remote := seededMemory(t)
	rec := testutil.NewRecorder()
	r := New(remote, WithSubscriber(rec.Listen))

	require.NoError(t, r.Connect(ctx))
	require.NoError(t, r.Connect(ctx))

	for _, ev := range record.Events {
		assert.Equal(t, 1, remote.Listeners(ev), "listeners for %s", ev)
	}
	assert.Equal(t, []replica.Action{
		replica.ActionSnapshot, replica.ActionAddListeners,
		replica.ActionRemoveListeners,
		replica.ActionSnapshot, replica.ActionAddListeners,
	}, rec.Actions())

	_, err := remote.Create(ctx, testutil.Rec(7, 7))
	require.NoError(t, err)
	assert.Len(t, rec.Actions(), 6)
}

func TestReplicator_Disconnect(t *testing.T) {
	ctx := context.Background()
	remote := seededMemory(t)
	rec := testutil.NewRecorder()
	r := New(remote, WithSort(SortBy("order")), WithSubscriber(rec.Listen))

	r.Disconnect()
	assert.Empty(t, rec.Actions(), "disconnect before connect broadcasts nothing")

	require.NoError(t, r.Connect(ctx))
	assert.Equal(t, StateConnected, r.State())
	assert.True(t, r.Connected())

	r.Disconnect()
	r.Disconnect()
	assert.Equal(t, StateDisconnected, r.State())
	assert.False(t, r.Connected())
	assert.Equal(t,
		[]replica.Action{replica.ActionSnapshot, replica.ActionAddListeners, replica.ActionRemoveListeners},
		rec.Actions())

	for _, ev := range record.Events {
		assert.Zero(t, remote.Listeners(ev))
	}

	// Records persist and later remote events are ignored.
	_, err := remote.Create(ctx, testutil.Rec(50, 50))
	require.NoError(t, err)
	assert.Equal(t, testutil.SeedRecords(5), r.Store().Records())
	assert.Equal(t, replica.ActionSnapshot, r.Store().Last().Action)
}

func TestReplicator_ChangeSort(t *testing.T) {
	ctx := context.Background()
	remote := seededMemory(t)
	rec := testutil.NewRecorder()
	r := New(remote, WithSubscriber(rec.Listen))
	require.NoError(t, r.Connect(ctx))

	r.ChangeSort(MultiSort(queryir.SortKey{Field: "order", Desc: true}))
	assert.Equal(t, []int64{4, 3, 2, 1, 0}, testutil.Ints(r.Store().Records(), "id"))

	last, _ := rec.Last()
	assert.Equal(t, replica.ActionChangeSort, last.Change.Action)
}

func TestReplicator_NewID(t *testing.T) {
	r := New(collection.NewMemory(), WithIDGenerator(NewFixedGenerator("a", "b")))
	assert.Equal(t, "a", r.NewID())
	assert.Equal(t, "b", r.NewID())

	short := New(collection.NewMemory(), WithShortIDs(true))
	assert.Len(t, short.NewID(), 26)

	long := New(collection.NewMemory())
	assert.Len(t, long.NewID(), 36)
	assert.False(t, long.UseUUID())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnecting", StateDisconnecting.String())
	assert.Equal(t, "state(9)", State(9).String())
}
