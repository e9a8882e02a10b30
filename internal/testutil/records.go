package testutil

import (
	"github.com/roach88/replica/internal/record"
)

// Rec returns {id, uuid: 1000+id, order}.
func Rec(id, order int) record.Record {
	return record.Record{
		"id":    record.Int(id),
		"uuid":  record.Int(1000 + id),
		"order": record.Int(order),
	}
}

// SeedRecords returns n records {id: i, uuid: 1000+i, order: i}.
func SeedRecords(n int) []record.Record {
	out := make([]record.Record, n)
	for i := range out {
		out[i] = Rec(i, i)
	}
	return out
}

// Field returns the values of field across records, in order. Missing
// fields yield nil.
func Field(records []record.Record, field string) []record.Value {
	out := make([]record.Value, len(records))
	for i, r := range records {
		out[i] = r[field]
	}
	return out
}

// Ints returns the integer values of field across records. Non-integer
// values yield -1.
func Ints(records []record.Record, field string) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		if n, ok := r[field].(record.Int); ok {
			out[i] = int64(n)
		} else {
			out[i] = -1
		}
	}
	return out
}
