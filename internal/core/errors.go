package core

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. The typed errors below match them through their Is methods.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrPartialFailure = errors.New("partial failure")
	ErrTransient      = errors.New("transient store error")
)

// ValidationError rejects input before any mutation happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports an unknown id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError means an idempotency key is already claimed.
// Callers treat it as a successful no-op.
type ConflictError struct {
	Entity string
	Key    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Entity, e.Key)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Conflict builds a ConflictError.
func Conflict(entity, key string) error {
	return &ConflictError{Entity: entity, Key: key}
}

// PartialFailure is raised when a multi-leg ledger write could not be
// completed or rolled back. The transaction is left in pending_repair.
type PartialFailure struct {
	TransactionID string
	Stage         string
	Err           error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("transaction %s left pending repair after %s: %v", e.TransactionID, e.Stage, e.Err)
}

func (e *PartialFailure) Unwrap() error { return e.Err }

func (e *PartialFailure) Is(target error) bool { return target == ErrPartialFailure }

// TransientStoreError wraps a store failure that left nothing half-applied.
// The whole operation is safe to retry.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

func (e *TransientStoreError) Is(target error) bool { return target == ErrTransient }

// Transient wraps err as a TransientStoreError unless it already carries
// one of the domain classifications.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrPartialFailure) ||
		errors.Is(err, ErrTransient) {
		return err
	}
	return &TransientStoreError{Op: op, Err: err}
}

// ErrorKind names the taxonomy bucket of err, for logs and API payloads.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found_error"
	case errors.Is(err, ErrConflict):
		return "conflict_error"
	case errors.Is(err, ErrPartialFailure):
		return "partial_failure"
	case errors.Is(err, ErrTransient):
		return "transient_store_error"
	default:
		return "internal_error"
	}
}
