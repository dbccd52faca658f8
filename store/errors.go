package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a document looked up by id or filter doesn't exist.
	ErrNotFound = errors.New("lattice: document not found")

	// ErrAlreadyExists is returned when inserting a document with an existing id.
	ErrAlreadyExists = errors.New("lattice: document already exists")

	// ErrHasChildren is returned by protect rules when referencing documents exist.
	ErrHasChildren = errors.New("lattice: document has referencing children")

	// ErrParentNotFound is returned by parent validators when the referenced document is missing.
	ErrParentNotFound = errors.New("lattice: referenced parent not found")

	// ErrSelfReference is returned when a document would reference itself.
	ErrSelfReference = errors.New("lattice: document references itself")

	// ErrConcurrentModification is returned when a session commit loses an optimistic lock.
	ErrConcurrentModification = errors.New("lattice: document was modified concurrently")

	// ErrTransactionTooLarge is returned when a session buffers more writes than the store can commit atomically.
	ErrTransactionTooLarge = errors.New("lattice: transaction too large")

	// ErrSessionClosed is returned when a committed or aborted session is used again.
	ErrSessionClosed = errors.New("lattice: session already closed")

	// ErrInvalidUpdate is returned for updates that set and unset the same field or touch the id.
	ErrInvalidUpdate = errors.New("lattice: invalid update")

	// ErrInvalidID is returned when an identifier cannot be parsed.
	ErrInvalidID = errors.New("lattice: invalid document id")

	// ErrUnknownEntity is returned when a catalog lookup fails.
	ErrUnknownEntity = errors.New("lattice: unknown entity")

	// ErrDenied matches every DeleteError of kind DeleteDenied.
	ErrDenied = errors.New("lattice: delete denied")

	// ErrCascadeFailed matches every DeleteError of kind CascadeFailed.
	ErrCascadeFailed = errors.New("lattice: cascade failed")
)

// ConfigurationError reports an invalid rule declaration. It is raised when a
// registry is built and is not recoverable.
type ConfigurationError struct {
	Entity string
	Rule   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("lattice: configuration of %s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("lattice: configuration of %s: rule %q: %s", e.Entity, e.Rule, e.Reason)
}

// ValidationError reports a validator rejecting an insert or update.
type ValidationError struct {
	Entity    string
	Validator string
	Reason    string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("lattice: %s: validator %q failed: %s", e.Entity, e.Validator, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DeleteErrorKind distinguishes a veto from a failed cascade step.
type DeleteErrorKind int

const (
	// DeleteDenied means a deny rule vetoed the delete before any side effect.
	DeleteDenied DeleteErrorKind = iota + 1
	// CascadeFailed means a pre rule failed while cascading.
	CascadeFailed
)

func (k DeleteErrorKind) String() string {
	switch k {
	case DeleteDenied:
		return "denied"
	case CascadeFailed:
		return "cascade failed"
	}
	return "unknown"
}

// DeleteError reports a delete aborted by a delete rule.
type DeleteError struct {
	Entity string
	Rule   string
	Kind   DeleteErrorKind
	Err    error
}

func (e *DeleteError) Error() string {
	if e.Kind == DeleteDenied {
		return fmt.Sprintf("lattice: %s: delete denied by rule %q: %v", e.Entity, e.Rule, e.Err)
	}
	return fmt.Sprintf("lattice: %s: cascade step %q failed: %v", e.Entity, e.Rule, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDenied) and errors.Is(err, ErrCascadeFailed) work.
// errors.Is also walks into a nested DeleteError, so a veto raised by a child
// entity during a cascade matches both sentinels. Use [DeleteKindOf] to
// classify by the outermost error.
func (e *DeleteError) Is(target error) bool {
	switch target {
	case ErrDenied:
		return e.Kind == DeleteDenied
	case ErrCascadeFailed:
		return e.Kind == CascadeFailed
	}
	return false
}

// DeleteKindOf returns the kind of the outermost DeleteError in err's chain.
func DeleteKindOf(err error) (DeleteErrorKind, bool) {
	var de *DeleteError
	if !errors.As(err, &de) {
		return 0, false
	}
	return de.Kind, true
}

// StoreError wraps a failure reported by the store adapter.
type StoreError struct {
	Op     string
	Entity string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("lattice: %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// wrapStore wraps adapter errors, leaving the core's own error types untouched.
func wrapStore(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	var (
		se *StoreError
		ve *ValidationError
		de *DeleteError
	)
	if errors.As(err, &se) || errors.As(err, &ve) || errors.As(err, &de) {
		return err
	}
	return &StoreError{Op: op, Entity: entity, Err: err}
}
