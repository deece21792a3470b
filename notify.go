package bindgraph

import (
	"fmt"
	"reflect"
)

// PropertyHandler receives property change notifications. An empty property
// name means the whole object changed.
type PropertyHandler func(sender any, property string) error

// PropertyNotifier is implemented by bound objects that raise property
// change notifications. Handlers are registered under a key; registering the
// same key twice replaces the handler instead of adding a second delivery,
// and unregistering an unknown key is a no-op.
type PropertyNotifier interface {
	SubscribePropertyChanged(key any, fn PropertyHandler)
	UnsubscribePropertyChanged(key any)
}

// CollectionAction identifies the kind of membership change.
type CollectionAction int

// Collection change actions.
const (
	ActionAdd CollectionAction = iota
	ActionRemove
	ActionReplace
	ActionMove
	ActionReset
)

// String returns the action name.
func (a CollectionAction) String() string {
	switch a {
	case ActionAdd:
		return "Add"
	case ActionRemove:
		return "Remove"
	case ActionReplace:
		return "Replace"
	case ActionMove:
		return "Move"
	case ActionReset:
		return "Reset"
	default:
		return fmt.Sprintf("CollectionAction(%d)", int(a))
	}
}

// CollectionChangedEvent describes a membership change of a collection.
type CollectionChangedEvent struct {
	Action   CollectionAction
	NewItems []any
	OldItems []any
	NewIndex int
	OldIndex int
}

// CollectionHandler receives membership change notifications.
type CollectionHandler func(sender any, e CollectionChangedEvent) error

// CollectionNotifier is implemented by collections that raise membership
// change notifications, with the same keyed semantics as PropertyNotifier.
type CollectionNotifier interface {
	SubscribeCollectionChanged(key any, fn CollectionHandler)
	UnsubscribeCollectionChanged(key any)
}

// TrackedCollection is the collection shape the observer can track.
// ElemType must be callable on the zero value of the implementing type.
type TrackedCollection interface {
	CollectionNotifier
	// ElemType returns the static element type of the collection.
	ElemType() reflect.Type
	// Items returns a snapshot of the current members.
	Items() []any
	// AppendItems appends members, raising one Add notification per item.
	AppendItems(items ...any) error
	// Clear removes every member, raising a single Reset notification.
	Clear() error
	// Observer returns the observer currently tracking the collection.
	Observer() any
	// SetObserver records the observer tracking the collection.
	SetObserver(o any)
}

// EntitySetNamer may be implemented by entity types to name the remote
// collection they belong to. It is called on the zero value of the type.
type EntitySetNamer interface {
	EntitySet() string
}

type propertySub struct {
	key any
	fn  PropertyHandler
}

// Notifier is an embeddable PropertyNotifier. Handlers are delivered in
// subscription order.
type Notifier struct {
	handlers []propertySub
}

// SubscribePropertyChanged registers fn under key.
func (n *Notifier) SubscribePropertyChanged(key any, fn PropertyHandler) {
	for i := range n.handlers {
		if n.handlers[i].key == key {
			n.handlers[i].fn = fn
			return
		}
	}
	n.handlers = append(n.handlers, propertySub{key: key, fn: fn})
}

// UnsubscribePropertyChanged removes the handler registered under key.
func (n *Notifier) UnsubscribePropertyChanged(key any) {
	for i := range n.handlers {
		if n.handlers[i].key == key {
			n.handlers = append(n.handlers[:i], n.handlers[i+1:]...)
			return
		}
	}
}

// NotifyPropertyChanged delivers a change of property on sender to every
// subscriber and returns their joined errors.
func (n *Notifier) NotifyPropertyChanged(sender any, property string) error {
	if len(n.handlers) == 0 {
		return nil
	}
	hs := make([]propertySub, len(n.handlers))
	copy(hs, n.handlers)
	var errs []error
	for _, h := range hs {
		errs = append(errs, h.fn(sender, property))
	}
	return NewAggregateError(errs...)
}

// Subscribers returns the number of registered handlers.
func (n *Notifier) Subscribers() int {
	return len(n.handlers)
}

var _ PropertyNotifier = (*Notifier)(nil)
