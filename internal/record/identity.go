package record

import (
	"errors"
	"fmt"
)

// ErrMissingIdentity is returned when a record carries none of the fields
// its identity strategy looks at.
var ErrMissingIdentity = errors.New("record has no identity field")

// Identity field names.
const (
	FieldUUID = "uuid"
	FieldID   = "id"
	FieldOID  = "_id"
)

// IdentityFunc extracts the identity value of a record.
// It is resolved once when a replicator is constructed.
type IdentityFunc func(Record) (Value, error)

// FieldIdentity returns an IdentityFunc reading a single named field.
func FieldIdentity(field string) IdentityFunc {
	return func(r Record) (Value, error) {
		v, ok := r[field]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingIdentity, field)
		}
		if _, isNull := v.(Null); isNull {
			return nil, fmt.Errorf("%w: %q is null", ErrMissingIdentity, field)
		}
		return v, nil
	}
}

// RemoteID returns the identity the remote collection knows a record by:
// "id" when present, otherwise "_id".
func RemoteID(r Record) (Value, error) {
	if v, ok := r[FieldID]; ok {
		return v, nil
	}
	if v, ok := r[FieldOID]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: neither %q nor %q present", ErrMissingIdentity, FieldID, FieldOID)
}

// IdentityFor returns the identity strategy for the uuid-mode toggle:
// "uuid" when useUUID is set, otherwise "id" falling back to "_id".
func IdentityFor(useUUID bool) IdentityFunc {
	if useUUID {
		return FieldIdentity(FieldUUID)
	}
	return RemoteID
}
