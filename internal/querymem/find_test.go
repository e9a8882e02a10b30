package querymem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
)

func seed() []record.Record {
	out := make([]record.Record, 0, 5)
	for i := 0; i < 5; i++ {
		out = append(out, record.Record{
			"id":    record.Int(i),
			"uuid":  record.Int(1000 + i),
			"order": record.Int(4 - i),
			"name":  record.String(string(rune('a' + i%2))),
		})
	}
	return out
}

func ids(page queryir.Page) []int64 {
	out := make([]int64, len(page.Data))
	for i, r := range page.Data {
		out[i] = int64(r["id"].(record.Int))
	}
	return out
}

func TestFind_FilterSortUnpaginated(t *testing.T) {
	q := queryir.Query{
		Filter: queryir.Compare{Field: "order", Op: queryir.OpLte, Value: record.Float(3.5)},
		Sort:   []queryir.SortKey{{Field: "order"}},
	}

	page := Find(seed(), q, queryir.Paginate{})

	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 4, page.Limit)
	assert.Equal(t, []int64{4, 3, 2, 1}, ids(page))
}

func TestFind_MultiKeyStableSort(t *testing.T) {
	q := queryir.Query{Sort: []queryir.SortKey{{Field: "name", Desc: true}, {Field: "order"}}}

	page := Find(seed(), q, queryir.Paginate{})

	// name b: ids 1,3 (order 3,1) ; name a: ids 0,2,4 (order 4,2,0)
	assert.Equal(t, []int64{3, 1, 4, 2, 0}, ids(page))
}

func TestFind_SkipLimitPaginate(t *testing.T) {
	q := queryir.Query{Sort: []queryir.SortKey{{Field: "id"}}, Skip: 1}

	page := Find(seed(), q, queryir.Paginate{Default: 2, Max: 3})
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, 1, page.Skip)
	assert.Equal(t, []int64{1, 2}, ids(page))

	page = Find(seed(), q.WithLimit(10), queryir.Paginate{Default: 2, Max: 3})
	assert.Equal(t, 3, page.Limit)
	assert.Equal(t, []int64{1, 2, 3}, ids(page))

	page = Find(seed(), q.WithSkip(9), queryir.Paginate{})
	assert.Equal(t, 5, page.Total)
	assert.Empty(t, page.Data)
}

func TestFind_LimitZeroCountsOnly(t *testing.T) {
	page := Find(seed(), queryir.Query{}.WithLimit(0), queryir.Paginate{})

	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 0, page.Limit)
	assert.Empty(t, page.Data)
}

func TestFind_SelectKeepsIdentity(t *testing.T) {
	q := queryir.Query{Select: []string{"name"}, Sort: []queryir.SortKey{{Field: "id"}}}

	page := Find(seed(), q, queryir.Paginate{})
	require.Len(t, page.Data, 5)

	assert.Equal(t, record.Record{
		"id":   record.Int(0),
		"uuid": record.Int(1000),
		"name": record.String("a"),
	}, page.Data[0])
}

func TestFind_DoesNotReorderInput(t *testing.T) {
	in := seed()
	Find(in, queryir.Query{Sort: []queryir.SortKey{{Field: "order"}}}, queryir.Paginate{})

	assert.Equal(t, record.Int(0), in[0]["id"])
}

func TestComparator_MissingFieldsSortFirst(t *testing.T) {
	cmp := Comparator([]queryir.SortKey{{Field: "order"}})

	assert.Negative(t, cmp(record.Record{}, record.Record{"order": record.Int(0)}))
	assert.Zero(t, cmp(record.Record{}, record.Record{"order": record.Null{}}))
	assert.Nil(t, Comparator(nil))
}

func TestFilter(t *testing.T) {
	got := Filter(seed(), queryir.In{Field: "id", Values: []record.Value{record.Int(1), record.Int(3)}})
	require.Len(t, got, 2)
	assert.Equal(t, record.Int(1), got[0]["id"])
}
