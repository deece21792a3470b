package binding

import (
	"fmt"
	"log/slog"

	"github.com/syssam/bindgraph"
	"github.com/syssam/bindgraph/entityinfo"
)

// MovePolicy decides how a Move notification is handled. A move never
// changes membership, so no policy touches the graph.
type MovePolicy int

const (
	// MoveIgnore accepts a Move without any context call.
	MoveIgnore MovePolicy = iota
	// MoveReject fails a Move with ErrUnsupportedAction.
	MoveReject
)

// String returns the policy name as used in configuration files.
func (p MovePolicy) String() string {
	switch p {
	case MoveIgnore:
		return "ignore"
	case MoveReject:
		return "reject"
	default:
		return fmt.Sprintf("MovePolicy(%d)", int(p))
	}
}

// ParseMovePolicy parses a policy name.
func ParseMovePolicy(s string) (MovePolicy, error) {
	switch s {
	case "", "ignore":
		return MoveIgnore, nil
	case "reject":
		return MoveReject, nil
	default:
		return 0, fmt.Errorf("binding: unknown move policy %q", s)
	}
}

// Option configures an Observer.
type Option func(*Observer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Observer) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClassifier sets the type classifier. Defaults to entityinfo.Default().
func WithClassifier(c *entityinfo.Classifier) Option {
	return func(o *Observer) {
		if c != nil {
			o.classifier = c
		}
	}
}

// WithEntityChanged installs an interceptor for entity property and
// reference changes.
func WithEntityChanged(fn bindgraph.EntityChangedFunc) Option {
	return func(o *Observer) {
		o.entityChanged = fn
	}
}

// WithCollectionChanged installs an interceptor for collection membership
// changes.
func WithCollectionChanged(fn bindgraph.CollectionChangedFunc) Option {
	return func(o *Observer) {
		o.collectionChanged = fn
	}
}

// WithMovePolicy sets how Move notifications are handled.
func WithMovePolicy(p MovePolicy) Option {
	return func(o *Observer) {
		o.movePolicy = p
	}
}
