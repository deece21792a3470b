package changeset

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Op is the kind of a pending change.
type Op int

// Change operations.
const (
	OpInsert Op = iota + 1
	OpUpdate
	OpDelete
	OpAddLink
	OpSetLink
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpAddLink:
		return "add_link"
	case OpSetLink:
		return "set_link"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Change is one pending change, in the order it was recorded.
type Change struct {
	Op        Op
	EntitySet string
	Entity    any
	// Property and Target name the relation of a link change, or the parent
	// of an insert made beneath another entity. Target is nil when a
	// reference was cleared.
	Property string
	Target   any
}

// Batch is the set of changes persisted by one SaveChanges call.
type Batch struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Changes   []Change
}

// Len returns the number of changes in b.
func (b *Batch) Len() int {
	return len(b.Changes)
}

// Sink persists batches. A failed Write leaves the context unsettled.
type Sink interface {
	Write(ctx context.Context, b *Batch) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, b *Batch) error

// Write calls f(ctx, b).
func (f SinkFunc) Write(ctx context.Context, b *Batch) error {
	return f(ctx, b)
}

type discard struct{}

func (discard) Write(context.Context, *Batch) error { return nil }
