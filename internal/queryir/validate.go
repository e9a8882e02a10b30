package queryir

import (
	"fmt"

	"github.com/roach88/replica/internal/record"
)

// ValidationResult contains the structural analysis of a query.
//
// A query with warnings still evaluates; the warnings point at constructs
// that can never match or that backends treat differently.
type ValidationResult struct {
	// IsClean indicates the query raised no warnings.
	IsClean bool

	// Warnings lists suspicious constructs in traversal order.
	// Empty when IsClean is true.
	Warnings []string
}

// Validate checks a query for constructs that are legal but almost
// certainly mistakes:
//  1. Empty field names in predicates, $sort or $select
//  2. Range operators against null, list or object literals (never match)
//  3. Empty $in lists (never match) and empty $or (never match)
//  4. Duplicate $sort fields (later keys are dead)
//  5. nil predicates nested inside And/Or
//
// Validate is a pure function with no side effects.
func Validate(q Query) ValidationResult {
	v := &validator{
		warnings: []string{},
	}
	v.validateQuery(q)

	return ValidationResult{
		IsClean:  len(v.warnings) == 0,
		Warnings: v.warnings,
	}
}

// validator accumulates warnings during traversal.
type validator struct {
	warnings []string
}

// addWarning appends a warning message.
func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	if q.Filter != nil {
		v.validatePredicate(q.Filter)
	}

	seen := make(map[string]bool, len(q.Sort))
	for _, k := range q.Sort {
		if k.Field == "" {
			v.addWarning("$sort has an empty field name")
			continue
		}
		if seen[k.Field] {
			v.addWarning("$sort field '%s' appears more than once - later key is never consulted", k.Field)
		}
		seen[k.Field] = true
	}

	for _, f := range q.Select {
		if f == "" {
			v.addWarning("$select has an empty field name")
		}
	}
}

// validatePredicate recursively validates a predicate node.
func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
		v.addWarning("nil predicate inside a conjunction or disjunction")
	case Compare:
		v.validateCompare(pred)
	case In:
		if pred.Field == "" {
			v.addWarning("membership test on an empty field name")
		}
		if len(pred.Values) == 0 && !pred.Negate {
			v.addWarning("Field '%s' tested with an empty $in list - matches nothing", pred.Field)
		}
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case Or:
		if len(pred.Predicates) == 0 {
			v.addWarning("empty $or - matches nothing")
		}
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	default:
		v.addWarning("Unknown predicate type: %T", p)
	}
}

func (v *validator) validateCompare(c Compare) {
	if c.Field == "" {
		v.addWarning("comparison on an empty field name")
	}
	if !c.Op.IsRange() {
		return
	}
	switch c.Value.(type) {
	case nil, record.Null, record.Array, record.Record:
		v.addWarning("Field '%s' compared with %s against %T - range operators never match it", c.Field, c.Op, c.Value)
	}
}
