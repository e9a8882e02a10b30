package engine

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/testutil"
)

func TestSortBy(t *testing.T) {
	records := []record.Record{
		{"id": record.Int(0), "name": record.String("c")},
		{"id": record.Int(1)},
		{"id": record.Int(2), "name": record.String("a")},
	}
	slices.SortStableFunc(records, SortBy("name"))
	assert.Equal(t, []int64{1, 2, 0}, testutil.Ints(records, "id"))
}

func TestMultiSort(t *testing.T) {
	records := []record.Record{
		{"id": record.Int(0), "a": record.Int(1), "b": record.Int(1)},
		{"id": record.Int(1), "a": record.Int(2), "b": record.Int(1)},
		{"id": record.Int(2), "a": record.Int(1), "b": record.Int(2)},
		{"id": record.Int(3), "a": record.Int(2), "b": record.Int(1)},
	}
	slices.SortStableFunc(records, MultiSort(
		queryir.SortKey{Field: "a", Desc: true},
		queryir.SortKey{Field: "b"},
	))
	assert.Equal(t, []int64{1, 3, 0, 2}, testutil.Ints(records, "id"))
}

func TestMultiSort_NoKeysKeepsOrder(t *testing.T) {
	records := testutil.SeedRecords(4)
	slices.Reverse(records)
	slices.SortStableFunc(records, MultiSort())
	assert.Equal(t, []int64{3, 2, 1, 0}, testutil.Ints(records, "id"))
}
