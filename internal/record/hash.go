package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
)

// DomainRecord prefixes record content hashes.
// Version suffix enables future algorithm migration.
const DomainRecord = "replica/record/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the content hash of any value over its canonical JSON form.
// Equal values hash equally regardless of key order.
func Hash(v Value) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}

// HashOfRecord hashes a record's content ignoring the remote identity
// fields "id" and "_id" at every depth, so that the same logical record
// hashes equally before and after the remote layer assigns it an id.
func HashOfRecord(r Record) (string, error) {
	return Hash(StripProps(r, FieldID, FieldOID))
}

// StripProps returns a copy of r without the named fields, recursing into
// nested records. Arrays are copied as-is.
func StripProps(r Record, blacklist ...string) Record {
	out := make(Record, len(r))
	for k, v := range r {
		if slices.Contains(blacklist, k) {
			continue
		}
		if nested, ok := v.(Record); ok {
			out[k] = StripProps(nested, blacklist...)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}
