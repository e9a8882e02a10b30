package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/replica/internal/record"
)

// Error is returned by replicator and optimistic operations.
//
// Local errors are returned synchronously and never leave the replica
// mutated. Remote failures of optimistic writes are not surfaced as Errors;
// they turn into compensating changes.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Identity is the record identity involved, if any.
	Identity record.Value

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes errors.
type ErrorCode string

const (
	// ErrCodeNotConnected indicates a mutation while the feed is detached.
	ErrCodeNotConnected ErrorCode = "NOT_CONNECTED"

	// ErrCodeNotFound indicates no local record has the identity.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeDuplicateIdentity indicates a create with an identity already held.
	ErrCodeDuplicateIdentity ErrorCode = "DUPLICATE_IDENTITY"

	// ErrCodeInvalidArgument indicates an ambiguous or malformed request.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeConnection indicates the snapshot fetch failed.
	ErrCodeConnection ErrorCode = "CONNECTION"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Identity != nil {
		msg += fmt.Sprintf(" (identity=%s)", record.Key(e.Identity))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsNotConnected reports whether err is a NOT_CONNECTED error.
func IsNotConnected(err error) bool { return hasCode(err, ErrCodeNotConnected) }

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsDuplicateIdentity reports whether err is a DUPLICATE_IDENTITY error.
func IsDuplicateIdentity(err error) bool { return hasCode(err, ErrCodeDuplicateIdentity) }

// IsInvalidArgument reports whether err is an INVALID_ARGUMENT error.
func IsInvalidArgument(err error) bool { return hasCode(err, ErrCodeInvalidArgument) }

// IsConnectionError reports whether err is a CONNECTION error.
func IsConnectionError(err error) bool { return hasCode(err, ErrCodeConnection) }

// NewNotConnectedError creates an Error for a mutation while offline.
func NewNotConnectedError() *Error {
	return &Error{
		Code:    ErrCodeNotConnected,
		Message: "replicator not connected to remote",
	}
}

// NewNotFoundError creates an Error for an identity absent locally.
func NewNotFoundError(identity record.Value) *Error {
	return &Error{
		Code:     ErrCodeNotFound,
		Message:  "no local record with identity",
		Identity: identity,
	}
}

// NewDuplicateIdentityError creates an Error for a colliding create.
func NewDuplicateIdentityError(identity record.Value) *Error {
	return &Error{
		Code:     ErrCodeDuplicateIdentity,
		Message:  "optimistic create requires a unique identity",
		Identity: identity,
	}
}

// NewInvalidArgumentError creates an Error for a malformed request.
func NewInvalidArgumentError(format string, args ...any) *Error {
	return &Error{
		Code:    ErrCodeInvalidArgument,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewConnectionError creates an Error wrapping a failed snapshot fetch.
func NewConnectionError(err error) *Error {
	return &Error{
		Code:    ErrCodeConnection,
		Message: "snapshot fetch failed",
		Err:     err,
	}
}
