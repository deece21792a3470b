package changeset

import (
	"errors"
	"fmt"
	"strings"
)

// Context errors.
var (
	ErrEntityNotContained     = errors.New("changeset: entity is not tracked by the context")
	ErrEntityAlreadyContained = errors.New("changeset: entity is already tracked by the context")
	ErrLinkAlreadyContained   = errors.New("changeset: link is already tracked by the context")
	ErrSourceDeleted          = errors.New("changeset: an end of the relation is deleted")
	ErrEntitySetRequired      = errors.New("changeset: entity set name is required")
	ErrSaveInProgress         = errors.New("changeset: save already in progress")
)

// ContextError reports a rejected context operation.
type ContextError struct {
	Op     string // Context method (e.g. "AddObject")
	Entity string // Go type of the entity the operation was applied to
	Err    error
}

// Error returns the error string.
func (e *ContextError) Error() string {
	msg := strings.TrimPrefix(fmt.Sprint(e.Err), "changeset: ")
	if e.Entity == "" {
		return fmt.Sprintf("changeset: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("changeset: %s %s: %s", e.Op, e.Entity, msg)
}

// Unwrap returns the underlying error.
func (e *ContextError) Unwrap() error {
	return e.Err
}

// IsContextError returns true if the error is a ContextError.
func IsContextError(err error) bool {
	if err == nil {
		return false
	}
	var e *ContextError
	return errors.As(err, &e)
}

func newContextError(op string, entity any, err error) *ContextError {
	e := &ContextError{Op: op, Err: err}
	if entity != nil {
		e.Entity = fmt.Sprintf("%T", entity)
	}
	return e
}
