// Package collection provides a generic tracked collection that raises
// membership change notifications.
//
// Collection[T] is the standard bindgraph.TrackedCollection. Members are
// compared by identity, so T is expected to be a pointer type:
//
//	orders := collection.New[*Order]()
//	obs.StartTracking(orders, "Orders")
//	orders.Add(&Order{ID: 1}) // raises ActionAdd
//
// Every mutator applies the change first and then notifies subscribers; the
// returned error is the joined result of the subscribers.
package collection

import (
	"fmt"
	"reflect"

	"github.com/syssam/bindgraph"
)

type subscription struct {
	key any
	fn  bindgraph.CollectionHandler
}

// Collection is an ordered list of T that notifies subscribers on change.
type Collection[T any] struct {
	items    []T
	subs     []subscription
	observer any
}

// New returns a collection holding items. No notifications are raised for
// the initial items.
func New[T any](items ...T) *Collection[T] {
	c := &Collection[T]{}
	c.items = append(c.items, items...)
	return c
}

// ElemType returns the element type T. It does not dereference c, so it is
// safe on a nil *Collection.
func (c *Collection[T]) ElemType() reflect.Type {
	return reflect.TypeFor[T]()
}

// Len returns the number of members.
func (c *Collection[T]) Len() int {
	return len(c.items)
}

// At returns the member at index i.
func (c *Collection[T]) At(i int) T {
	return c.items[i]
}

// Values returns a copy of the members.
func (c *Collection[T]) Values() []T {
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Items returns a copy of the members as untyped values.
func (c *Collection[T]) Items() []any {
	out := make([]any, len(c.items))
	for i, v := range c.items {
		out[i] = v
	}
	return out
}

// IndexOf returns the index of item, compared by identity, or -1.
func (c *Collection[T]) IndexOf(item T) int {
	for i := range c.items {
		if any(c.items[i]) == any(item) {
			return i
		}
	}
	return -1
}

// Contains reports whether item is a member.
func (c *Collection[T]) Contains(item T) bool {
	return c.IndexOf(item) >= 0
}

// Add appends item.
func (c *Collection[T]) Add(item T) error {
	return c.Insert(len(c.items), item)
}

// Insert inserts item at index i.
func (c *Collection[T]) Insert(i int, item T) error {
	if i < 0 || i > len(c.items) {
		return fmt.Errorf("collection: insert index %d out of range [0,%d]", i, len(c.items))
	}
	var zero T
	c.items = append(c.items, zero)
	copy(c.items[i+1:], c.items[i:])
	c.items[i] = item
	return c.notify(bindgraph.CollectionChangedEvent{
		Action:   bindgraph.ActionAdd,
		NewItems: []any{item},
		NewIndex: i,
		OldIndex: -1,
	})
}

// Remove removes item and reports whether it was a member.
func (c *Collection[T]) Remove(item T) (bool, error) {
	i := c.IndexOf(item)
	if i < 0 {
		return false, nil
	}
	return true, c.RemoveAt(i)
}

// RemoveAt removes the member at index i.
func (c *Collection[T]) RemoveAt(i int) error {
	if i < 0 || i >= len(c.items) {
		return fmt.Errorf("collection: remove index %d out of range [0,%d)", i, len(c.items))
	}
	old := c.items[i]
	c.items = append(c.items[:i], c.items[i+1:]...)
	return c.notify(bindgraph.CollectionChangedEvent{
		Action:   bindgraph.ActionRemove,
		OldItems: []any{old},
		NewIndex: -1,
		OldIndex: i,
	})
}

// Set replaces the member at index i.
func (c *Collection[T]) Set(i int, item T) error {
	if i < 0 || i >= len(c.items) {
		return fmt.Errorf("collection: set index %d out of range [0,%d)", i, len(c.items))
	}
	old := c.items[i]
	c.items[i] = item
	return c.notify(bindgraph.CollectionChangedEvent{
		Action:   bindgraph.ActionReplace,
		NewItems: []any{item},
		OldItems: []any{old},
		NewIndex: i,
		OldIndex: i,
	})
}

// Move moves the member at index from to index to.
func (c *Collection[T]) Move(from, to int) error {
	if from < 0 || from >= len(c.items) || to < 0 || to >= len(c.items) {
		return fmt.Errorf("collection: move %d->%d out of range [0,%d)", from, to, len(c.items))
	}
	item := c.items[from]
	c.items = append(c.items[:from], c.items[from+1:]...)
	c.items = append(c.items, item)
	copy(c.items[to+1:], c.items[to:])
	c.items[to] = item
	return c.notify(bindgraph.CollectionChangedEvent{
		Action:   bindgraph.ActionMove,
		NewItems: []any{item},
		OldItems: []any{item},
		NewIndex: to,
		OldIndex: from,
	})
}

// Clear removes every member and raises a single Reset.
func (c *Collection[T]) Clear() error {
	c.items = nil
	return c.notify(bindgraph.CollectionChangedEvent{
		Action:   bindgraph.ActionReset,
		NewIndex: -1,
		OldIndex: -1,
	})
}

// AppendItems appends items that must all be of type T.
func (c *Collection[T]) AppendItems(items ...any) error {
	typed := make([]T, 0, len(items))
	for _, v := range items {
		t, ok := v.(T)
		if !ok {
			return bindgraph.NewStructuralError("append", v, bindgraph.ErrNonEntityItem)
		}
		typed = append(typed, t)
	}
	var errs []error
	for _, t := range typed {
		errs = append(errs, c.Add(t))
	}
	return bindgraph.NewAggregateError(errs...)
}

// Observer returns the observer tracking the collection, or nil.
func (c *Collection[T]) Observer() any {
	return c.observer
}

// SetObserver records the observer tracking the collection.
func (c *Collection[T]) SetObserver(o any) {
	c.observer = o
}

// SubscribeCollectionChanged registers fn under key, replacing any handler
// already registered under the same key.
func (c *Collection[T]) SubscribeCollectionChanged(key any, fn bindgraph.CollectionHandler) {
	for i := range c.subs {
		if c.subs[i].key == key {
			c.subs[i].fn = fn
			return
		}
	}
	c.subs = append(c.subs, subscription{key: key, fn: fn})
}

// UnsubscribeCollectionChanged removes the handler registered under key.
func (c *Collection[T]) UnsubscribeCollectionChanged(key any) {
	for i := range c.subs {
		if c.subs[i].key == key {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

// Subscribers returns the number of registered handlers.
func (c *Collection[T]) Subscribers() int {
	return len(c.subs)
}

func (c *Collection[T]) notify(e bindgraph.CollectionChangedEvent) error {
	if len(c.subs) == 0 {
		return nil
	}
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	var errs []error
	for _, s := range subs {
		errs = append(errs, s.fn(c, e))
	}
	return bindgraph.NewAggregateError(errs...)
}

var _ bindgraph.TrackedCollection = (*Collection[any])(nil)
