package queryir

import "github.com/roach88/replica/internal/record"

// Query is a filter plus result modifiers.
//
// The zero Query matches every record, keeps the backend's natural order,
// skips nothing and applies the backend's default page size.
type Query struct {
	Filter Predicate // nil = match all
	Sort   []SortKey // applied in order; earlier keys dominate
	Skip   int       // records to drop after sorting
	Limit  *int      // nil = backend default; 0 = count only
	Select []string  // nil = all fields
}

// SortKey orders by one field.
type SortKey struct {
	Field string
	Desc  bool
}

// HasLimit reports whether the query carries an explicit $limit.
func (q Query) HasLimit() bool {
	return q.Limit != nil
}

// WithLimit returns a copy of q limited to n records.
func (q Query) WithLimit(n int) Query {
	q.Limit = &n
	return q
}

// WithSkip returns a copy of q skipping n records.
func (q Query) WithSkip(n int) Query {
	q.Skip = n
	return q
}

// FilterOnly returns a copy of q with only the filter kept. Used when a
// caller needs every matching record regardless of paging.
func (q Query) FilterOnly() Query {
	return Query{Filter: q.Filter}
}

// Predicate represents a filter condition in the QueryIR.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Compare: field <op> literal
//   - In: field ∈ values (or ∉ when Negate)
//   - And: all predicates must be true
//   - Or: at least one predicate must be true
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "$eq"
	OpNe  Op = "$ne"
	OpLt  Op = "$lt"
	OpLte Op = "$lte"
	OpGt  Op = "$gt"
	OpGte Op = "$gte"
)

// Ops lists the comparison operators in encoding order.
var Ops = []Op{OpEq, OpNe, OpLt, OpLte, OpGt, OpGte}

// IsRange reports whether the operator orders values rather than testing
// equality.
func (o Op) IsRange() bool {
	switch o {
	case OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// Compare represents a field-operator-literal predicate.
//
// Semantics:
//
//	<field> <op> <value>
//
// Example:
//
//	Compare{Field: "order", Op: OpLte, Value: record.Float(3.5)}
//
// matches {order: 1} and {order: 3.5}, not {order: 99} and not a record
// without an order field.
//
// $eq against Null matches records where the field is absent or null; $ne
// against a value matches records where the field is absent.
type Compare struct {
	Field string
	Op    Op
	Value record.Value
}

func (Compare) predicateNode() {}

// In represents set membership.
//
// Semantics:
//
//	<field> IN (<values>)        Negate = false ($in)
//	<field> NOT IN (<values>)    Negate = true  ($nin)
//
// An empty value list matches nothing for $in and everything for $nin.
type In struct {
	Field  string
	Values []record.Value
	Negate bool
}

func (In) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// An empty And is true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or represents a disjunction of predicates (at least one must be true).
// An empty Or is false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Fields returns the distinct field names referenced by p, in first-seen
// order.
func Fields(p Predicate) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch pred := p.(type) {
		case Compare:
			if !seen[pred.Field] {
				seen[pred.Field] = true
				out = append(out, pred.Field)
			}
		case In:
			if !seen[pred.Field] {
				seen[pred.Field] = true
				out = append(out, pred.Field)
			}
		case And:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		case Or:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		}
	}
	walk(p)
	return out
}

// Conjoin returns the conjunction of the non-nil predicates. It returns nil
// when none remain and the predicate itself when only one does.
func Conjoin(preds ...Predicate) Predicate {
	var kept []Predicate
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return And{Predicates: kept}
}
