package record

import (
	"cmp"
	"math"
	"strconv"
	"strings"
)

// LooseEqual compares two values the way a remote layer that coerces
// between numbers and numeric strings expects: Int(1001), Float(1001) and
// String("1001") are all equal. Arrays and records compare element-wise
// with LooseEqual. Null equals only Null.
//
// Integral numbers compare exactly as int64, so ids beyond 2^53 stay
// distinct.
func LooseEqual(a, b Value) bool {
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return an.equal(bn)
		}
		if bs, ok := b.(String); ok {
			if n, ok := parseNumeric(string(bs)); ok {
				return an.equal(n)
			}
		}
		return false
	}
	if as, ok := a.(String); ok {
		switch bv := b.(type) {
		case String:
			return as == bv
		case Int, Float:
			return LooseEqual(b, a)
		}
		return false
	}
	switch av := a.(type) {
	case nil, Null:
		switch b.(type) {
		case nil, Null:
			return true
		}
		return false
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !LooseEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Record:
		bv, ok := b.(Record)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !LooseEqual(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

// Key returns a string that is identical for two identity values exactly
// when they are LooseEqual scalars. It is used to index values in maps.
func Key(v Value) string {
	switch val := v.(type) {
	case Int, Float:
		n, _ := asNumber(val)
		return n.key()
	case String:
		if n, ok := parseNumeric(string(val)); ok {
			return n.key()
		}
		return "s:" + string(val)
	case Bool:
		return "b:" + strconv.FormatBool(bool(val))
	case nil, Null:
		return "null"
	default:
		b, err := MarshalCanonical(v)
		if err != nil {
			return "?"
		}
		return "j:" + string(b)
	}
}

// Compare defines a total order over values, used by sorters and $sort.
// Kinds are ranked Null < Bool < number < String < Array < Record; within a
// kind the natural order applies, Int and Float compare numerically.
func Compare(a, b Value) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}

	switch av := a.(type) {
	case Bool:
		bv := b.(Bool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		default:
			return 1
		}
	case Int, Float:
		an, _ := asNumber(a)
		bn, _ := asNumber(b)
		if an.integral && bn.integral {
			return cmp.Compare(an.i, bn.i)
		}
		return cmp.Compare(an.f, bn.f)
	case String:
		return strings.Compare(string(av), string(b.(String)))
	case Array:
		bv := b.(Array)
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := Compare(av[i], bv[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(av), len(bv))
	case Record:
		bv := b.(Record)
		ak, bk := av.SortedKeys(), bv.SortedKeys()
		for i := 0; i < len(ak) && i < len(bk); i++ {
			if c := compareKeysRFC8785(ak[i], bk[i]); c != 0 {
				return c
			}
			if c := Compare(av[ak[i]], bv[bk[i]]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(ak), len(bk))
	}
	return 0
}

// Comparable reports whether a and b belong to the same ordering class
// (both numbers, both strings or both booleans). Range operators only match
// comparable pairs.
func Comparable(a, b Value) bool {
	ra, rb := rank(a), rank(b)
	return ra == rb && ra >= 1 && ra <= 3
}

func rank(v Value) int {
	switch v.(type) {
	case nil, Null:
		return 0
	case Bool:
		return 1
	case Int, Float:
		return 2
	case String:
		return 3
	case Array:
		return 4
	case Record:
		return 5
	}
	return 6
}

// number is a numeric value. Integral values within int64 range carry
// their exact int64 form in i.
type number struct {
	i        int64
	f        float64
	integral bool
}

func fromFloat(f float64) number {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return number{i: int64(f), f: f, integral: true}
	}
	return number{f: f}
}

func (n number) equal(o number) bool {
	if n.integral && o.integral {
		return n.i == o.i
	}
	if n.integral != o.integral {
		return false
	}
	return n.f == o.f
}

func (n number) key() string {
	if n.integral {
		return "n:" + strconv.FormatInt(n.i, 10)
	}
	return "n:" + strconv.FormatFloat(n.f, 'g', -1, 64)
}

func asNumber(v Value) (number, bool) {
	switch val := v.(type) {
	case Int:
		return number{i: int64(val), f: float64(val), integral: true}, true
	case Float:
		return fromFloat(float64(val)), true
	}
	return number{}, false
}

func parseNumeric(s string) (number, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return number{}, false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return number{i: i, f: float64(i), integral: true}, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return number{}, false
	}
	return fromFloat(f), true
}
