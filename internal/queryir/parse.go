package queryir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/replica/internal/record"
)

// Reserved query keys.
const (
	KeySort   = "$sort"
	KeySkip   = "$skip"
	KeyLimit  = "$limit"
	KeySelect = "$select"
	KeyOr     = "$or"
	KeyAnd    = "$and"
	KeyIn     = "$in"
	KeyNin    = "$nin"
)

// Parse converts a query map into a Query.
//
// The map may come from encoding/json, gopkg.in/yaml.v3 or a Go literal.
// Field entries are conjoined in canonical key order so that Parse is
// deterministic.
//
// $sort accepts three forms:
//
//	{"order": 1, "name": -1}        // map; keys applied in canonical order
//	[{"order": 1}, {"name": -1}]    // list of single-entry maps; order kept
//	["order", "-name"]              // list of names; "-" prefix = descending
func Parse(m map[string]any) (Query, error) {
	rec, err := record.FromMap(m)
	if err != nil {
		return Query{}, fmt.Errorf("parse query: %w", err)
	}
	return ParseRecord(rec)
}

// ParseRecord is Parse over an already-converted record.
func ParseRecord(rec record.Record) (Query, error) {
	var q Query
	var preds []Predicate

	for _, key := range rec.SortedKeys() {
		val := rec[key]
		switch key {
		case KeySort:
			keys, err := parseSort(val)
			if err != nil {
				return Query{}, err
			}
			q.Sort = keys
		case KeySkip:
			n, err := parseCount(key, val)
			if err != nil {
				return Query{}, err
			}
			q.Skip = n
		case KeyLimit:
			n, err := parseCount(key, val)
			if err != nil {
				return Query{}, err
			}
			q.Limit = &n
		case KeySelect:
			fields, err := parseSelect(val)
			if err != nil {
				return Query{}, err
			}
			q.Select = fields
		case KeyOr, KeyAnd:
			p, err := parseJunction(key, val)
			if err != nil {
				return Query{}, err
			}
			preds = append(preds, p)
		default:
			if strings.HasPrefix(key, "$") {
				return Query{}, fmt.Errorf("unknown query operator %q", key)
			}
			p, err := parseField(key, val)
			if err != nil {
				return Query{}, err
			}
			preds = append(preds, p)
		}
	}

	q.Filter = Conjoin(preds...)
	return q, nil
}

// ParseFilter parses a query map that may only hold filter entries.
func ParseFilter(rec record.Record) (Predicate, error) {
	q, err := ParseRecord(rec)
	if err != nil {
		return nil, err
	}
	if q.Sort != nil || q.Skip != 0 || q.Limit != nil || q.Select != nil {
		return nil, fmt.Errorf("filter may not carry $sort, $skip, $limit or $select")
	}
	return q.Filter, nil
}

func parseJunction(key string, val record.Value) (Predicate, error) {
	arr, ok := val.(record.Array)
	if !ok {
		return nil, fmt.Errorf("%s expects a list, got %T", key, val)
	}
	preds := make([]Predicate, 0, len(arr))
	for i, elem := range arr {
		sub, ok := elem.(record.Record)
		if !ok {
			return nil, fmt.Errorf("%s[%d] expects a query object, got %T", key, i, elem)
		}
		p, err := ParseFilter(sub)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		if p == nil {
			p = And{}
		}
		preds = append(preds, p)
	}
	if key == KeyOr {
		return Or{Predicates: preds}, nil
	}
	return And{Predicates: preds}, nil
}

// parseField parses one field entry: a literal or an operator map.
// A nested record whose keys are not all operators is a literal.
func parseField(field string, val record.Value) (Predicate, error) {
	ops, ok := val.(record.Record)
	if !ok || len(ops) == 0 || !allOperators(ops) {
		return Compare{Field: field, Op: OpEq, Value: val}, nil
	}

	var preds []Predicate
	for _, key := range ops.SortedKeys() {
		arg := ops[key]
		switch key {
		case KeyIn, KeyNin:
			arr, ok := arg.(record.Array)
			if !ok {
				return nil, fmt.Errorf("field %q: %s expects a list, got %T", field, key, arg)
			}
			preds = append(preds, In{Field: field, Values: []record.Value(arr), Negate: key == KeyNin})
		default:
			op := Op(key)
			if !isCompareOp(op) {
				return nil, fmt.Errorf("field %q: unknown operator %q", field, key)
			}
			preds = append(preds, Compare{Field: field, Op: op, Value: arg})
		}
	}
	return Conjoin(preds...), nil
}

func allOperators(r record.Record) bool {
	for k := range r {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func isCompareOp(op Op) bool {
	for _, o := range Ops {
		if o == op {
			return true
		}
	}
	return false
}

func parseSort(val record.Value) ([]SortKey, error) {
	switch v := val.(type) {
	case record.Record:
		keys := make([]SortKey, 0, len(v))
		for _, field := range v.SortedKeys() {
			desc, err := parseDirection(field, v[field])
			if err != nil {
				return nil, err
			}
			keys = append(keys, SortKey{Field: field, Desc: desc})
		}
		return keys, nil
	case record.Array:
		keys := make([]SortKey, 0, len(v))
		for i, elem := range v {
			switch e := elem.(type) {
			case record.String:
				name := string(e)
				desc := strings.HasPrefix(name, "-")
				name = strings.TrimPrefix(name, "-")
				if name == "" {
					return nil, fmt.Errorf("$sort[%d]: empty field name", i)
				}
				keys = append(keys, SortKey{Field: name, Desc: desc})
			case record.Record:
				if len(e) != 1 {
					return nil, fmt.Errorf("$sort[%d]: expected a single field, got %d", i, len(e))
				}
				for field, dir := range e {
					desc, err := parseDirection(field, dir)
					if err != nil {
						return nil, err
					}
					keys = append(keys, SortKey{Field: field, Desc: desc})
				}
			default:
				return nil, fmt.Errorf("$sort[%d]: unsupported entry %T", i, elem)
			}
		}
		return keys, nil
	default:
		return nil, fmt.Errorf("$sort expects an object or list, got %T", val)
	}
}

func parseDirection(field string, val record.Value) (bool, error) {
	switch v := val.(type) {
	case record.Int:
		switch v {
		case 1:
			return false, nil
		case -1:
			return true, nil
		}
	case record.String:
		switch string(v) {
		case "1":
			return false, nil
		case "-1":
			return true, nil
		}
	}
	return false, fmt.Errorf("$sort.%s: direction must be 1 or -1, got %v", field, record.ToAny(val))
}

// parseCount accepts non-negative integers, also as decimal strings the
// way query strings carry them.
func parseCount(key string, val record.Value) (int, error) {
	switch v := val.(type) {
	case record.Int:
		if v < 0 {
			return 0, fmt.Errorf("%s must not be negative, got %d", key, v)
		}
		return int(v), nil
	case record.String:
		n, err := strconv.Atoi(string(v))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		if n < 0 {
			return 0, fmt.Errorf("%s must not be negative, got %d", key, n)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s expects an integer, got %T", key, val)
	}
}

func parseSelect(val record.Value) ([]string, error) {
	arr, ok := val.(record.Array)
	if !ok {
		return nil, fmt.Errorf("$select expects a list, got %T", val)
	}
	fields := make([]string, 0, len(arr))
	for i, elem := range arr {
		s, ok := elem.(record.String)
		if !ok {
			return nil, fmt.Errorf("$select[%d] expects a field name, got %T", i, elem)
		}
		fields = append(fields, string(s))
	}
	return fields, nil
}

// Encode converts a Query back into its map form. Parse(Encode(q)) yields
// a query equivalent to q; conjunctions come back flattened where the map
// form allows and as $and otherwise.
func Encode(q Query) record.Record {
	out := record.Record{}
	if q.Filter != nil {
		encodeInto(out, q.Filter)
	}
	if len(q.Sort) > 0 {
		arr := make(record.Array, len(q.Sort))
		for i, k := range q.Sort {
			dir := record.Int(1)
			if k.Desc {
				dir = -1
			}
			arr[i] = record.Record{k.Field: dir}
		}
		out[KeySort] = arr
	}
	if q.Skip > 0 {
		out[KeySkip] = record.Int(q.Skip)
	}
	if q.Limit != nil {
		out[KeyLimit] = record.Int(*q.Limit)
	}
	if q.Select != nil {
		arr := make(record.Array, len(q.Select))
		for i, f := range q.Select {
			arr[i] = record.String(f)
		}
		out[KeySelect] = arr
	}
	return out
}

// EncodeFilter converts a predicate into its map form.
func EncodeFilter(p Predicate) record.Record {
	out := record.Record{}
	if p != nil {
		encodeInto(out, p)
	}
	return out
}

// encodeInto merges p into out. Entries that would collide with an
// existing key are pushed into $and.
func encodeInto(out record.Record, p Predicate) {
	switch pred := p.(type) {
	case And:
		for _, sub := range pred.Predicates {
			encodeInto(out, sub)
		}
	case Or:
		arr := make(record.Array, len(pred.Predicates))
		for i, sub := range pred.Predicates {
			arr[i] = EncodeFilter(sub)
		}
		addAnd(out, KeyOr, arr)
	case Compare:
		addOperator(out, pred.Field, string(pred.Op), pred.Value)
	case In:
		key := KeyIn
		if pred.Negate {
			key = KeyNin
		}
		addOperator(out, pred.Field, key, record.Array(pred.Values))
	}
}

func addAnd(out record.Record, key string, val record.Value) {
	if _, taken := out[key]; !taken {
		out[key] = val
		return
	}
	and, _ := out[KeyAnd].(record.Array)
	out[KeyAnd] = append(and, record.Record{key: val})
}

func addOperator(out record.Record, field, op string, val record.Value) {
	existing, taken := out[field]
	if !taken {
		out[field] = record.Record{op: val}
		return
	}
	ops, isOps := existing.(record.Record)
	if isOps && allOperators(ops) {
		if _, dup := ops[op]; !dup {
			ops[op] = val
			return
		}
	}
	and, _ := out[KeyAnd].(record.Array)
	out[KeyAnd] = append(and, record.Record{field: record.Record{op: val}})
}
