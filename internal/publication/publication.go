// Package publication builds visibility predicates for a replica.
//
// A publication decides which remote records the replica holds. It can be
// written as a query filter, evaluated the same way local finds are, or as
// a CUE constraint a visible record must satisfy.
package publication

import (
	"fmt"

	"github.com/roach88/replica/internal/querymem"
	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/replica"
)

// FromQuery returns a publication accepting records that match p.
// A nil predicate accepts everything.
func FromQuery(p queryir.Predicate) replica.Publication {
	return replica.Publication(querymem.Matcher(p))
}

// FromFilter parses a query-style filter record, for example
// {"order": {"$lte": 3.5}}, and returns the matching publication.
// Sort and paging keys are rejected.
func FromFilter(filter record.Record) (replica.Publication, error) {
	q, err := queryir.ParseRecord(filter)
	if err != nil {
		return nil, fmt.Errorf("publication filter: %w", err)
	}
	if len(q.Sort) > 0 || q.Skip != 0 || q.Limit != nil || q.Select != nil {
		return nil, fmt.Errorf("publication filter: only filter operators are allowed")
	}
	if res := queryir.Validate(q); !res.IsClean {
		return nil, fmt.Errorf("publication filter: %s", res.Warnings[0])
	}
	return FromQuery(q.Filter), nil
}

// All combines publications; a record is visible when every one accepts
// it. Nil entries are skipped. With no entries it returns nil, meaning
// everything is visible.
func All(pubs ...replica.Publication) replica.Publication {
	var set []replica.Publication
	for _, p := range pubs {
		if p != nil {
			set = append(set, p)
		}
	}
	switch len(set) {
	case 0:
		return nil
	case 1:
		return set[0]
	}
	return func(r record.Record) bool {
		for _, p := range set {
			if !p(r) {
				return false
			}
		}
		return true
	}
}
