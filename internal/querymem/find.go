package querymem

import (
	"slices"

	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
)

// AlwaysSelect lists the fields $select keeps regardless of the requested
// projection, so a projected record can still be addressed.
var AlwaysSelect = []string{record.FieldID, record.FieldOID, record.FieldUUID}

// Comparator returns a three-way comparator ordering records by keys.
// Missing fields sort as null. Returns nil when keys is empty.
func Comparator(keys []queryir.SortKey) func(a, b record.Record) int {
	if len(keys) == 0 {
		return nil
	}
	return func(a, b record.Record) int {
		for _, k := range keys {
			c := record.Compare(fieldOrNull(a, k.Field), fieldOrNull(b, k.Field))
			if k.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	}
}

func fieldOrNull(r record.Record, field string) record.Value {
	if v, ok := r[field]; ok {
		return v
	}
	return record.Null{}
}

// Project returns a copy of r restricted to fields plus AlwaysSelect.
// A nil fields slice returns r unchanged.
func Project(r record.Record, fields []string) record.Record {
	if fields == nil {
		return r
	}
	keep := make([]string, 0, len(fields)+len(AlwaysSelect))
	keep = append(keep, AlwaysSelect...)
	keep = append(keep, fields...)
	return r.Pick(keep...)
}

// Find evaluates q over records: filter, stable sort, count, skip, limit,
// project. The input slice is not modified; returned records are the input
// records (or projections of them), not copies.
func Find(records []record.Record, q queryir.Query, paginate queryir.Paginate) queryir.Page {
	matched := Filter(records, q.Filter)

	if cmp := Comparator(q.Sort); cmp != nil {
		slices.SortStableFunc(matched, cmp)
	}

	page := queryir.Page{Total: len(matched), Skip: q.Skip}

	start := min(q.Skip, len(matched))
	rest := matched[start:]

	if limit, ok := paginate.EffectiveLimit(q); ok {
		page.Limit = limit
		if limit < len(rest) {
			rest = rest[:limit]
		}
	} else {
		page.Limit = len(rest)
	}

	page.Data = make([]record.Record, len(rest))
	for i, r := range rest {
		page.Data[i] = Project(r, q.Select)
	}
	return page
}

// Filter returns the records matching p, in input order.
func Filter(records []record.Record, p queryir.Predicate) []record.Record {
	out := make([]record.Record, 0, len(records))
	for _, r := range records {
		if Match(p, r) {
			out = append(out, r)
		}
	}
	return out
}
