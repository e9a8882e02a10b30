// Package querymem evaluates queryir queries against in-memory records.
//
// It is the local read emulation used by the optimistic coordinator's
// find/get and the backend of collection.Memory. Results must agree with
// what querysql produces against the SQL collection for the same data.
package querymem

import (
	"fmt"

	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
)

// Match reports whether r satisfies p. A nil predicate matches everything.
func Match(p queryir.Predicate, r record.Record) bool {
	switch pred := p.(type) {
	case nil:
		return true
	case queryir.Compare:
		return matchCompare(pred, r)
	case queryir.In:
		return matchIn(pred, r)
	case queryir.And:
		for _, sub := range pred.Predicates {
			if !Match(sub, r) {
				return false
			}
		}
		return true
	case queryir.Or:
		for _, sub := range pred.Predicates {
			if Match(sub, r) {
				return true
			}
		}
		return false
	default:
		panic(fmt.Sprintf("querymem: unsupported predicate type %T", p))
	}
}

// Matcher returns p as a record predicate.
func Matcher(p queryir.Predicate) func(record.Record) bool {
	return func(r record.Record) bool {
		return Match(p, r)
	}
}

// matchCompare evaluates one comparison.
//
// A missing field behaves like null for $eq/$ne and fails every range
// operator.
func matchCompare(c queryir.Compare, r record.Record) bool {
	v, present := r[c.Field]
	if !present {
		v = record.Null{}
	}

	switch c.Op {
	case queryir.OpEq:
		return record.LooseEqual(v, c.Value)
	case queryir.OpNe:
		return !record.LooseEqual(v, c.Value)
	}

	if !present || !record.Comparable(v, c.Value) {
		return false
	}
	cmp := record.Compare(v, c.Value)
	switch c.Op {
	case queryir.OpLt:
		return cmp < 0
	case queryir.OpLte:
		return cmp <= 0
	case queryir.OpGt:
		return cmp > 0
	case queryir.OpGte:
		return cmp >= 0
	}
	return false
}

func matchIn(in queryir.In, r record.Record) bool {
	v, present := r[in.Field]
	if !present {
		v = record.Null{}
	}
	found := false
	for _, candidate := range in.Values {
		if record.LooseEqual(v, candidate) {
			found = true
			break
		}
	}
	return found != in.Negate
}
