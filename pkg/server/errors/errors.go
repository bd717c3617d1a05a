// Package errors defines the public error taxonomy returned by engine
// operations. Callers branch on the error class with errors.As; the message
// carries enough context to log without a stack trace.
package errors

import (
	"errors"
	"fmt"

	"github.com/inkwell-hq/inkwell/pkg/storage"
)

// ValidationError indicates malformed or semantically invalid input, such as
// an unknown permission level or a move that would create a cycle.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validation builds a ValidationError from a format string.
func Validation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError indicates a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// NotFound builds a NotFoundError for the named entity.
func NotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError indicates the operation lost a race with a concurrent
// transaction and can be retried.
type ConflictError struct {
	Message string
	Cause   error
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) Unwrap() error {
	return e.Cause
}

// AuthorizationError indicates the acting user may not perform the
// operation on the target resource.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

// Unauthorized builds an AuthorizationError from a format string.
func Unauthorized(format string, args ...interface{}) *AuthorizationError {
	return &AuthorizationError{Message: fmt.Sprintf(format, args...)}
}

// AlreadyResolvedError indicates a resolution was attempted on an access
// request that has already left the pending state.
type AlreadyResolvedError struct {
	RequestID string
	Status    string
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("access request %q is already %s", e.RequestID, e.Status)
}

// InternalError wraps an unexpected failure, typically from the datastore.
// The public message is safe to return to callers; the cause is for logs.
type InternalError struct {
	public   string
	internal error
}

func (e InternalError) Error() string {
	return e.public
}

func (e InternalError) Unwrap() error {
	return e.internal
}

// NewInternalError returns an InternalError with a public facing message and
// the underlying cause.
func NewInternalError(public string, internal error) InternalError {
	if public == "" {
		public = "internal server error"
	}
	return InternalError{public: public, internal: internal}
}

// HandleError maps a storage layer error onto the public taxonomy. Write
// conflicts surface as retriable ConflictErrors; anything unrecognized is
// wrapped as an InternalError.
func HandleError(public string, err error) error {
	switch {
	case errors.Is(err, storage.ErrWriteConflict):
		return &ConflictError{
			Message: "transaction conflicted with a concurrent update, please retry",
			Cause:   err,
		}
	case errors.Is(err, storage.ErrCollision):
		return &ConflictError{Message: err.Error(), Cause: err}
	default:
		return NewInternalError(public, err)
	}
}
