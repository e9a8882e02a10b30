package record

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterminism(t *testing.T) {
	rec := Record{"uuid": String("u-1"), "order": Int(2)}

	h1, err := Hash(rec)
	require.NoError(t, err)
	h2, err := Hash(rec.Clone())
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "Hash must be deterministic")
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestHashKeyOrderIndependent(t *testing.T) {
	a := Record{}
	a["x"] = Int(1)
	a["y"] = Int(2)
	b := Record{}
	b["y"] = Int(2)
	b["x"] = Int(1)

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHashChangesWithContent(t *testing.T) {
	h1, err := Hash(Record{"order": Int(1)})
	require.NoError(t, err)
	h2, err := Hash(Record{"order": Int(2)})
	require.NoError(t, err)
	h3, err := Hash(Record{"order": String("1")})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.NotEqual(t, h1, h3, "hashing is exact, not loose")
}

func TestHashDomainSeparated(t *testing.T) {
	canonical, err := MarshalCanonical(Int(1))
	require.NoError(t, err)

	h, err := Hash(Int(1))
	require.NoError(t, err)
	assert.Equal(t, hashWithDomain(DomainRecord, canonical), h)
	assert.NotEqual(t, hashWithDomain("other/v1", canonical), h)
}

func TestHashRejectsNonFinite(t *testing.T) {
	_, err := Hash(Record{"x": Float(math.NaN())})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash:")
}

func TestHashOfRecordIgnoresRemoteIDs(t *testing.T) {
	local := Record{"uuid": String("u-1"), "order": Int(2), "meta": Record{"tag": String("x")}}
	stored := Record{
		"id":    Int(17),
		"_id":   String("abc"),
		"uuid":  String("u-1"),
		"order": Int(2),
		"meta":  Record{"tag": String("x"), "id": Int(3)},
	}

	h1, err := HashOfRecord(local)
	require.NoError(t, err)
	h2, err := HashOfRecord(stored)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// The input is not modified.
	assert.True(t, stored.Has("id"))
	assert.True(t, stored["meta"].(Record).Has("id"))
}

func TestStripProps(t *testing.T) {
	rec := Record{
		"a":    Int(1),
		"drop": Int(2),
		"nested": Record{
			"drop": Int(3),
			"keep": Int(4),
		},
		"list": Array{Record{"drop": Int(5)}},
	}

	got := StripProps(rec, "drop")
	assert.Equal(t, Record{
		"a":      Int(1),
		"nested": Record{"keep": Int(4)},
		"list":   Array{Record{"drop": Int(5)}},
	}, got)
}
