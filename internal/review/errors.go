package review

import (
	"errors"
	"fmt"

	"coauthor/api/internal/blocks"
	"coauthor/api/internal/rbac"
)

var (
	ErrPermissionDenied       = errors.New("permission denied")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrAlreadyResolved        = errors.New("comment already resolved")
	ErrStaleVersion           = errors.New("stale version")
	ErrNotFound               = errors.New("not found")
)

// PermissionDeniedError reports that an author lacks the capability an
// operation requires, or is not an author of the document at all.
type PermissionDeniedError struct {
	AuthorID string
	Action   rbac.Action
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("author %q may not %s", e.AuthorID, e.Action)
}

func (e *PermissionDeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// TransitionError reports an operation attempted while an entity was not in an
// operable status.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	Op     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in status %q", e.Op, e.Entity, e.ID, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// StaleVersionError is an optimistic concurrency conflict: the caller or the
// store expected a different document revision.
type StaleVersionError struct {
	DocumentID string
	Expected   int64
	Actual     int64
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("document %s is at revision %d, expected %d", e.DocumentID, e.Actual, e.Expected)
}

func (e *StaleVersionError) Is(target error) bool {
	return target == ErrStaleVersion
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func invalid(field, reason string) error {
	return blocks.ValidationErrors{{Field: field, Reason: reason}}
}
