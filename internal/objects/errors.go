package objects

import (
	"errors"
	"fmt"
	"time"

	"github.com/openregister/openregister/internal/validation"
)

// Sentinel errors surfaced by the object service. Callers match them with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrNotAuthorized = errors.New("not authorized")
	ErrAlreadyExists = errors.New("object already exists")
	ErrInvalidInput  = errors.New("invalid input")
)

// ValidationError carries every violation found in a rejected payload
type ValidationError struct {
	Errors []validation.FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation failed: %s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("validation failed with %d errors", len(e.Errors))
}

// LockConflictError reports an active lock held by another user
type LockConflictError struct {
	Holder    string
	ExpiresAt time.Time
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("object is locked by %s until %s", e.Holder, e.ExpiresAt.UTC().Format(time.RFC3339))
}

// ReferenceError is a schema configuration problem: a $ref that does not resolve
type ReferenceError = validation.ReferenceError

// StoreError wraps a failure of the relational store or another collaborator
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	// Taxonomy errors from nested calls pass through unchanged.
	var (
		verr *ValidationError
		lerr *LockConflictError
		rerr *ReferenceError
		serr *StoreError
	)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrInvalidInput) ||
		errors.As(err, &verr) || errors.As(err, &lerr) || errors.As(err, &rerr) || errors.As(err, &serr) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
}

func notAuthorized(action, what string) error {
	return fmt.Errorf("%s on %s: %w", action, what, ErrNotAuthorized)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
