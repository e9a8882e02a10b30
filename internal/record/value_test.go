package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFromAny(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected Value
	}{
		{"nil", nil, Null{}},
		{"bool", true, Bool(true)},
		{"string", "x", String("x")},
		{"int", 7, Int(7)},
		{"uint8", uint8(200), Int(200)},
		{"integral float", 3.0, Int(3)},
		{"fractional float", 2.5, Float(2.5)},
		{"json integer", json.Number("42"), Int(42)},
		{"json exponent integral", json.Number("1e3"), Int(1000)},
		{"json fraction", json.Number("0.25"), Float(0.25)},
		{"existing value", String("kept"), String("kept")},
		{"slice", []any{1, "a", nil}, Array{Int(1), String("a"), Null{}}},
		{"map", map[string]any{"a": map[string]any{"b": false}}, Record{"a": Record{"b": Bool(false)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFromAnyErrors(t *testing.T) {
	_, err := FromAny(struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")

	_, err = FromAny(map[string]any{"nested": []any{make(chan int)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `object["nested"]: array[0]`)

	_, err = FromAny(json.Number("12abc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid number")
}

func TestFromAnyYAML(t *testing.T) {
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal([]byte("uuid: 1001\nscore: 1.5\ntags: [a, b]\ndone: null\n"), &raw))

	rec, err := FromMap(raw)
	require.NoError(t, err)
	assert.Equal(t, Record{
		"uuid":  Int(1001),
		"score": Float(1.5),
		"tags":  Array{String("a"), String("b")},
		"done":  Null{},
	}, rec)
}

func TestMustRecordPanics(t *testing.T) {
	assert.Panics(t, func() { MustRecord(map[string]any{"bad": struct{}{}}) })
	assert.NotPanics(t, func() { MustRecord(map[string]any{"ok": 1}) })
}

func TestUnmarshal(t *testing.T) {
	v, err := Unmarshal([]byte(`{"id":1,"price":9.99,"big":9007199254740993,"tags":["x"],"gone":null}`))
	require.NoError(t, err)
	assert.Equal(t, Record{
		"id":    Int(1),
		"price": Float(9.99),
		"big":   Int(9007199254740993),
		"tags":  Array{String("x")},
		"gone":  Null{},
	}, v)

	_, err = Unmarshal([]byte(`{`))
	require.Error(t, err)
}

func TestRecordUnmarshalJSON(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"a":1}`), &rec))
	assert.Equal(t, Record{"a": Int(1)}, rec)

	err := json.Unmarshal([]byte(`[1]`), &rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected JSON object")

	var arr Array
	require.NoError(t, json.Unmarshal([]byte(`[1,"a"]`), &arr))
	assert.Equal(t, Array{Int(1), String("a")}, arr)

	err = json.Unmarshal([]byte(`{}`), &arr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected JSON array")
}

func TestRecordMarshalJSON(t *testing.T) {
	rec := Record{
		"z": Int(1),
		"a": Array{Float(1.5), Null{}, Bool(true)},
		"m": Record{"s": String("x")},
	}

	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1.5,null,true],"m":{"s":"x"},"z":1}`, string(b))
}

func TestToAny(t *testing.T) {
	rec := Record{
		"n":   Null{},
		"s":   String("x"),
		"i":   Int(2),
		"f":   Float(0.5),
		"b":   Bool(true),
		"arr": Array{Int(1)},
		"obj": Record{"k": String("v")},
	}

	assert.Equal(t, map[string]any{
		"n":   nil,
		"s":   "x",
		"i":   int64(2),
		"f":   0.5,
		"b":   true,
		"arr": []any{int64(1)},
		"obj": map[string]any{"k": "v"},
	}, ToAny(rec))
}

func TestRecordClone(t *testing.T) {
	orig := Record{
		"nested": Record{"n": Int(1)},
		"list":   Array{Record{"x": Int(1)}},
	}
	clone := orig.Clone()
	assert.Equal(t, orig, clone)

	clone["nested"].(Record)["n"] = Int(2)
	clone["list"].(Array)[0].(Record)["x"] = Int(2)
	clone["added"] = Bool(true)

	assert.Equal(t, Int(1), orig["nested"].(Record)["n"])
	assert.Equal(t, Int(1), orig["list"].(Array)[0].(Record)["x"])
	assert.False(t, orig.Has("added"))

	var nilRec Record
	assert.Nil(t, nilRec.Clone())
}

func TestRecordMerge(t *testing.T) {
	base := Record{"a": Int(1), "b": Int(2)}
	patch := Record{"b": Int(3), "c": Record{"d": Int(4)}}

	merged := base.Merge(patch)
	assert.Equal(t, Record{"a": Int(1), "b": Int(3), "c": Record{"d": Int(4)}}, merged)
	assert.Equal(t, Record{"a": Int(1), "b": Int(2)}, base)

	patch["c"].(Record)["d"] = Int(5)
	assert.Equal(t, Int(4), merged["c"].(Record)["d"])

	var empty Record
	assert.Equal(t, Record{"x": Int(1)}, empty.Merge(Record{"x": Int(1)}))
}

func TestRecordPickAndHas(t *testing.T) {
	rec := Record{"a": Int(1), "b": Null{}, "c": Int(3)}

	assert.Equal(t, Record{"a": Int(1), "b": Null{}}, rec.Pick("a", "b", "missing"))
	assert.True(t, rec.Has("b"))
	assert.False(t, rec.Has("missing"))

	v, ok := rec.Get("c")
	assert.True(t, ok)
	assert.Equal(t, Int(3), v)
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "none", EventNone.String())
	assert.Equal(t, "patched", EventPatched.String())
	for _, e := range Events {
		assert.True(t, e.Valid(), e)
	}
	assert.False(t, EventNone.Valid())
	assert.False(t, Event("moved").Valid())
}
