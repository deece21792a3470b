package bindgraph

import (
	"errors"
	"fmt"
	"strings"
)

// Structural invariant violations. These are raised synchronously to the
// caller of the mutation that triggered them and are never retried.
var (
	// ErrEntityTypeRequired is returned when a collection handed to the
	// observer does not carry an entity element type.
	ErrEntityTypeRequired = errors.New("bindgraph: argument must carry an entity type")

	// ErrComplexShared is returned when a complex value is assigned to a
	// second parent while it is still owned by the first.
	ErrComplexShared = errors.New("bindgraph: complex value is associated with multiple entities")

	// ErrRelationExists is returned when an entity is linked twice under the
	// same relation.
	ErrRelationExists = errors.New("bindgraph: entity already exists in relation")

	// ErrUnknownAction is returned for a collection change action outside the
	// known set.
	ErrUnknownAction = errors.New("bindgraph: unknown collection change action")

	// ErrUnsupportedAction is returned for a known action the observer was
	// configured to reject (Move under MoveReject).
	ErrUnsupportedAction = errors.New("bindgraph: unsupported collection change action")

	// ErrNilItem is returned when a nil item is added to or removed from a
	// tracked collection.
	ErrNilItem = errors.New("bindgraph: collection item is nil")

	// ErrNonEntityItem is returned when a tracked collection receives an item
	// whose type is not an entity type.
	ErrNonEntityItem = errors.New("bindgraph: collection item is not an entity")

	// ErrAlreadyObserved is returned when a collection already owned by one
	// observer is assigned into a graph owned by another.
	ErrAlreadyObserved = errors.New("bindgraph: value already observed elsewhere")

	// ErrMissingEntitySet is returned when an entity set label is required
	// but none could be resolved.
	ErrMissingEntitySet = errors.New("bindgraph: entity set name is required")

	// ErrNotifierRequired is returned when a value placed in an entity or
	// complex slot does not expose change notification.
	ErrNotifierRequired = errors.New("bindgraph: value does not implement PropertyNotifier")
)

// Precondition violations.
var (
	// ErrDetachedSource is returned when a relation is changed on a source
	// entity that the context no longer tracks.
	ErrDetachedSource = errors.New("bindgraph: source entity is detached or deleted")

	// ErrNotRoot is returned when a root-only operation is invoked on a child
	// collection.
	ErrNotRoot = errors.New("bindgraph: operation is only allowed on the root collection")

	// ErrNotTracking is returned when an operation requires an active
	// tracking session.
	ErrNotTracking = errors.New("bindgraph: collection is not tracked")

	// ErrAlreadyTracking is returned when StartTracking is called twice on the
	// same observer.
	ErrAlreadyTracking = errors.New("bindgraph: observer is already tracking a collection")
)

// StructuralError reports a violated graph invariant.
type StructuralError struct {
	Op   string // Operation that detected the violation (e.g. "add complex")
	Type string // Go type of the offending value, if any
	Err  error  // Underlying sentinel
}

// Error returns the error string.
func (e *StructuralError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("bindgraph: %s (%s): %s", e.Op, e.Type, trimPrefix(e.Err))
	}
	return fmt.Sprintf("bindgraph: %s: %s", e.Op, trimPrefix(e.Err))
}

// Unwrap returns the underlying error.
func (e *StructuralError) Unwrap() error {
	return e.Err
}

// NewStructuralError returns a new StructuralError. The type name is taken
// from v when it is non-nil.
func NewStructuralError(op string, v any, err error) *StructuralError {
	e := &StructuralError{Op: op, Err: err}
	if v != nil {
		e.Type = fmt.Sprintf("%T", v)
	}
	return e
}

// IsStructuralError returns true if the error is a StructuralError.
func IsStructuralError(err error) bool {
	if err == nil {
		return false
	}
	var e *StructuralError
	return errors.As(err, &e)
}

// PreconditionError reports an operation invoked outside its allowed
// lifecycle phase.
type PreconditionError struct {
	Op  string
	Err error
}

// Error returns the error string.
func (e *PreconditionError) Error() string {
	return fmt.Sprintf("bindgraph: %s: %s", e.Op, trimPrefix(e.Err))
}

// Unwrap returns the underlying error.
func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// NewPreconditionError returns a new PreconditionError.
func NewPreconditionError(op string, err error) *PreconditionError {
	return &PreconditionError{Op: op, Err: err}
}

// IsPreconditionError returns true if the error is a PreconditionError.
func IsPreconditionError(err error) bool {
	if err == nil {
		return false
	}
	var e *PreconditionError
	return errors.As(err, &e)
}

// AggregateError represents multiple errors collected from notification
// handlers raised by a single mutation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "bindgraph: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("bindgraph: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors for errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}

func trimPrefix(err error) string {
	if err == nil {
		return "<nil>"
	}
	return strings.TrimPrefix(err.Error(), "bindgraph: ")
}
