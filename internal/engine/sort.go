package engine

import (
	"github.com/roach88/replica/internal/querymem"
	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/replica"
)

// SortBy orders records ascending by one field. Missing fields sort as
// null, before every other value.
func SortBy(field string) replica.Sorter {
	return MultiSort(queryir.SortKey{Field: field})
}

// MultiSort orders records by several keys, each ascending or descending.
// Later keys break ties of earlier ones; full ties keep their order when
// used with a stable sort.
func MultiSort(keys ...queryir.SortKey) replica.Sorter {
	cmp := querymem.Comparator(keys)
	if cmp == nil {
		return func(record.Record, record.Record) int { return 0 }
	}
	return cmp
}
