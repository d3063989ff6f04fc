package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/store"
)

// Error is a hard failure of Invoke. Nothing was written.
//
// Error includes structured fields for diagnostics: the affected resource,
// the invocation's correlation id, and the underlying cause when there is
// one.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Key identifies the affected resource.
	Key model.Key

	// CorrelationID identifies the invocation.
	CorrelationID string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeUnknownResource indicates no active record exists for the key.
	ErrCodeUnknownResource ErrorCode = "UNKNOWN_RESOURCE"

	// ErrCodeValidationFailed indicates the event was malformed or violated
	// the resource type's rules.
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// ErrCodeUnknownResourceType indicates no policy is registered for the
	// event's resource type. It is a kind of validation failure.
	ErrCodeUnknownResourceType ErrorCode = "UNKNOWN_RESOURCE_TYPE"

	// ErrCodeStoreFailure indicates the ledger could not complete the
	// transaction, including serialization conflicts.
	ErrCodeStoreFailure ErrorCode = "STORE_FAILURE"
)

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Key != (model.Key{}) {
		msg += fmt.Sprintf(" (resource=%s)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the engine error code carried by err, or "" if err is not
// an engine error.
func CodeOf(err error) ErrorCode {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsUnknownResource returns true if the event named a resource that has
// never been registered.
func IsUnknownResource(err error) bool {
	return CodeOf(err) == ErrCodeUnknownResource
}

// IsValidationFailed returns true if the event was rejected by validation,
// including events for an unknown resource type.
func IsValidationFailed(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeValidationFailed || code == ErrCodeUnknownResourceType
}

// IsConflict returns true if the ledger aborted the transaction because of
// a concurrent writer. The event may be re-submitted.
func IsConflict(err error) bool {
	return errors.Is(err, store.ErrConflict)
}

func newUnknownResourceError(key model.Key) *Error {
	return &Error{
		Code:    ErrCodeUnknownResource,
		Message: "no active record for resource",
		Key:     key,
	}
}

func newValidationError(key model.Key, err error) *Error {
	return &Error{
		Code:    ErrCodeValidationFailed,
		Message: "event rejected",
		Key:     key,
		Err:     err,
	}
}

func newUnknownTypeError(key model.Key) *Error {
	return &Error{
		Code:    ErrCodeUnknownResourceType,
		Message: fmt.Sprintf("no policy registered for resource type %q", key.Type),
		Key:     key,
	}
}

func newStoreError(key model.Key, err error) *Error {
	return &Error{
		Code:    ErrCodeStoreFailure,
		Message: "ledger transaction failed",
		Key:     key,
		Err:     err,
	}
}
