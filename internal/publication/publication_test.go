package publication

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/testutil"
)

func TestFromQuery(t *testing.T) {
	pub := FromQuery(queryir.Compare{Field: "order", Op: queryir.OpLte, Value: record.Float(3.5)})
	assert.True(t, pub(testutil.Rec(1, 3)))
	assert.False(t, pub(testutil.Rec(1, 4)))
	assert.False(t, pub(record.Record{"id": record.Int(1)}))

	assert.True(t, FromQuery(nil)(record.Record{}))
}

func TestFromFilter(t *testing.T) {
	pub, err := FromFilter(record.MustRecord(map[string]any{
		"order": map[string]any{"$lte": 3.5},
		"$or": []any{
			map[string]any{"id": 1},
			map[string]any{"id": map[string]any{"$gte": 3}},
		},
	}))
	require.NoError(t, err)

	assert.True(t, pub(testutil.Rec(1, 1)))
	assert.False(t, pub(testutil.Rec(2, 2)))
	assert.True(t, pub(testutil.Rec(3, 3)))
	assert.False(t, pub(testutil.Rec(4, 4)))
}

func TestFromFilter_RejectsPagingKeys(t *testing.T) {
	_, err := FromFilter(record.MustRecord(map[string]any{"$limit": 2}))
	require.Error(t, err)

	_, err = FromFilter(record.MustRecord(map[string]any{"$sort": map[string]any{"order": 1}}))
	require.Error(t, err)
}

func TestAll(t *testing.T) {
	assert.Nil(t, All())
	assert.Nil(t, All(nil, nil))

	low := FromQuery(queryir.Compare{Field: "order", Op: queryir.OpLt, Value: record.Int(3)})
	odd := FromQuery(queryir.In{Field: "id", Values: []record.Value{record.Int(1), record.Int(3)}})

	both := All(low, nil, odd)
	assert.True(t, both(testutil.Rec(1, 1)))
	assert.False(t, both(testutil.Rec(2, 2)))
	assert.False(t, both(testutil.Rec(3, 3)))
}

func TestFromCUE(t *testing.T) {
	pub, err := FromCUE(`
order: <=3.5
status?: "open" | "pending"
`)
	require.NoError(t, err)

	assert.True(t, pub(testutil.Rec(1, 1)))
	assert.False(t, pub(testutil.Rec(1, 99)))
	assert.False(t, pub(record.Record{"id": record.Int(1)}), "constrained field must be present")

	open := testutil.Rec(2, 2)
	open["status"] = record.String("open")
	assert.True(t, pub(open))

	closed := testutil.Rec(2, 2)
	closed["status"] = record.String("closed")
	assert.False(t, pub(closed))
}

func TestFromCUE_Invalid(t *testing.T) {
	_, err := FromCUE(`order: <=`)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)

	_, err = FromCUE(`"just a string"`)
	require.Error(t, err)
}

func TestConstraint_ConcurrentAccept(t *testing.T) {
	c, err := CompileCUE("pub.cue", `order: >=2`)
	require.NoError(t, err)
	assert.Equal(t, `order: >=2`, c.Source())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.Equal(t, i%5 >= 2, c.Accept(testutil.Rec(i, i%5)))
		}(i)
	}
	wg.Wait()
}
