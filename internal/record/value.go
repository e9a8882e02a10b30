package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Value is a sealed interface representing the value kinds a record can hold.
// Only Null, String, Int, Float, Bool, Array and Record implement it.
type Value interface {
	recordValue() // Sealed - only these types implement it
}

// Null represents a JSON null value.
// Using an explicit type ensures all Values satisfy the sealed interface.
type Null struct{}

func (Null) recordValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String represents a string value.
type String string

func (String) recordValue() {}

// Int represents an integral number.
type Int int64

func (Int) recordValue() {}

// Float represents a non-integral number.
type Float float64

func (Float) recordValue() {}

// Bool represents a boolean value.
type Bool bool

func (Bool) recordValue() {}

// Array represents an ordered list of values.
type Array []Value

func (Array) recordValue() {}

// Record is a mapping of field name to Value. It doubles as the object kind
// for nested documents.
// Use SortedKeys() for deterministic iteration.
type Record map[string]Value

func (Record) recordValue() {}

// Get returns the value stored under field.
func (r Record) Get(field string) (Value, bool) {
	v, ok := r[field]
	return v, ok
}

// Has reports whether field is present, even when it holds Null.
func (r Record) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
func (r Record) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// Clone returns a deep copy of the record.
// Records handed to the replica are treated as immutable; every write path
// clones before storing.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge returns a new record holding r overlaid with every field of patch.
// Neither input is modified.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	if out == nil {
		out = make(Record, len(patch))
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

// Pick returns a new record holding only the named fields that are present.
func (r Record) Pick(fields ...string) Record {
	out := make(Record, len(fields))
	for _, f := range fields {
		if v, ok := r[f]; ok {
			out[f] = cloneValue(v)
		}
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Record:
		return val.Clone()
	case Array:
		arr := make(Array, len(val))
		for i, elem := range val {
			arr[i] = cloneValue(elem)
		}
		return arr
	default:
		return v
	}
}

// FromAny converts a Go value to a Value.
// Accepts the shapes produced by encoding/json, gopkg.in/yaml.v3 and
// literal Go maps: nil, bool, string, all integer and float kinds,
// json.Number, []any, map[string]any and existing Values.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return Int(val), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		return Int(val), nil
	case float32:
		return numberFromFloat(float64(val)), nil
	case float64:
		return numberFromFloat(val), nil
	case json.Number:
		return numberFromString(string(val))
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			v, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = v
		}
		return arr, nil
	case map[string]any:
		return FromMap(val)
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// FromMap converts a map[string]any into a Record.
func FromMap(m map[string]any) (Record, error) {
	rec := make(Record, len(m))
	for k, elem := range m {
		v, err := FromAny(elem)
		if err != nil {
			return nil, fmt.Errorf("object[%q]: %w", k, err)
		}
		rec[k] = v
	}
	return rec, nil
}

// MustRecord is like FromMap but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustRecord(m map[string]any) Record {
	rec, err := FromMap(m)
	if err != nil {
		panic(err)
	}
	return rec
}

// ToAny converts a Value back to plain Go values (nil, bool, string, int64,
// float64, []any, map[string]any).
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Record:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	default:
		return nil
	}
}

// numberFromFloat keeps integral floats as Int so that 3 decoded by a YAML or
// JSON decoder compares and serialises the same as the literal Int(3).
func numberFromFloat(f float64) Value {
	if f == float64(int64(f)) && f >= -(1<<53) && f <= 1<<53 {
		return Int(int64(f))
	}
	return Float(f)
}

func numberFromString(s string) (Value, error) {
	if !strings.ContainsAny(s, ".eE") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(n), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return numberFromFloat(f), nil
}

// Unmarshal decodes JSON into a Value. Integral numbers become Int, all
// other numbers Float, null becomes Null.
func Unmarshal(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}

// UnmarshalJSON implements json.Unmarshaler for Record.
func (r *Record) UnmarshalJSON(data []byte) error {
	v, err := Unmarshal(data)
	if err != nil {
		return err
	}
	rec, ok := v.(Record)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	*r = rec
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for Array.
func (a *Array) UnmarshalJSON(data []byte) error {
	v, err := Unmarshal(data)
	if err != nil {
		return err
	}
	arr, ok := v.(Array)
	if !ok {
		return fmt.Errorf("expected JSON array, got %T", v)
	}
	*a = arr
	return nil
}

// MarshalJSON implements json.Marshaler for Record with sorted keys.
// NOTE: This is NOT canonical marshaling. Use MarshalCanonical for hashing.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, k := range r.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalValue(r[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalValue marshals a Value to JSON bytes.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Float:
		return json.Marshal(float64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Array:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := MarshalValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case Record:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}
