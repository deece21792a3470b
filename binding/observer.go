// Package binding keeps a ChangeContext in sync with a graph of bound
// objects.
//
// An Observer starts from a root tracked collection, admits every entity,
// collection and complex value reachable from it, and subscribes to their
// change notifications. Each notification is turned into the minimal set of
// ChangeContext calls:
//
//	cc := changeset.New()
//	obs := binding.New(cc)
//	orders := collection.New[*Order]()
//	if err := obs.StartTracking(orders, "Orders"); err != nil {
//		return err
//	}
//	orders.Add(order) // cc.AddObject("Orders", order)
//
// An Observer is confined to the goroutine that mutates its bound objects.
package binding

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/syssam/bindgraph"
	"github.com/syssam/bindgraph/entityinfo"
)

// Observer tracks one root collection on behalf of a ChangeContext.
type Observer struct {
	cc                bindgraph.ChangeContext
	classifier        *entityinfo.Classifier
	graph             *bindingGraph
	entityChanged     bindgraph.EntityChangedFunc
	collectionChanged bindgraph.CollectionChangedFunc
	movePolicy        MovePolicy
	log               *slog.Logger

	// attaching routes admissions through AttachTo/AttachLink and
	// suppresses interceptors; set while loading persisted state.
	attaching bool
	// detaching routes removals through Detach instead of DeleteObject.
	detaching bool
	tracking  bool
}

// New returns an Observer driving cc.
func New(cc bindgraph.ChangeContext, opts ...Option) *Observer {
	o := &Observer{
		cc:         cc,
		classifier: entityinfo.Default(),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.graph = newBindingGraph(o)
	return o
}

// Context returns the ChangeContext driven by o.
func (o *Observer) Context() bindgraph.ChangeContext {
	return o.cc
}

// StartTracking admits root and everything reachable from it, synchronizing
// the context in attach mode. entitySet labels the members of root; when
// empty it is derived from the element type.
func (o *Observer) StartTracking(root bindgraph.TrackedCollection, entitySet string) error {
	const op = "start tracking"
	if o.tracking {
		return bindgraph.NewPreconditionError(op, bindgraph.ErrAlreadyTracking)
	}
	if isNil(root) {
		return bindgraph.NewStructuralError(op, nil, bindgraph.ErrEntityTypeRequired)
	}
	if !o.classifier.IsEntityType(root.ElemType()) {
		return bindgraph.NewStructuralError(op, root, bindgraph.ErrEntityTypeRequired)
	}
	err := o.attach(func() error {
		return o.graph.addCollection(nil, "", root, entitySet)
	})
	if err != nil {
		o.graph.reset()
		return err
	}
	o.tracking = true
	o.cc.SubscribeChangesSaved(o, o.onChangesSaved)
	o.log.Debug("binding: tracking started",
		"collection", fmt.Sprintf("%T", root),
		"entity_set", entitySet,
		"vertices", o.graph.Len(),
	)
	return nil
}

// StopTracking unsubscribes from every bound object and from the context.
// It is a no-op when o is not tracking.
func (o *Observer) StopTracking() {
	if !o.tracking {
		return
	}
	o.graph.reset()
	o.cc.UnsubscribeChangesSaved(o)
	o.tracking = false
	o.log.Debug("binding: tracking stopped")
}

// IsTracking reports whether StartTracking succeeded and StopTracking has
// not been called since.
func (o *Observer) IsTracking() bool {
	return o.tracking
}

// Tracks reports whether item is part of the tracked graph.
func (o *Observer) Tracks(item any) bool {
	return o.graph.Exists(item)
}

// Len returns the number of tracked objects, collections included.
func (o *Observer) Len() int {
	return o.graph.Len()
}

// Load appends already persisted items to coll. Items coll already holds
// are skipped, so the same query results can be loaded again. When coll is
// tracked the items are attached to the context rather than added.
func (o *Observer) Load(coll bindgraph.TrackedCollection, items ...any) error {
	items = newMembers(coll, items)
	if len(items) == 0 {
		return nil
	}
	if !o.graph.Exists(coll) {
		return coll.AppendItems(items...)
	}
	return o.attach(func() error {
		return coll.AppendItems(items...)
	})
}

// Clear removes every member of coll. With stopTracking the removed entities
// are detached from the context instead of being deleted.
func (o *Observer) Clear(coll bindgraph.TrackedCollection, stopTracking bool) error {
	if !stopTracking || !o.graph.Exists(coll) {
		return coll.Clear()
	}
	prev := o.detaching
	o.detaching = true
	defer func() { o.detaching = prev }()
	return coll.Clear()
}

// Detach stops tracking. It is only valid on the root collection.
func (o *Observer) Detach(coll bindgraph.TrackedCollection) error {
	const op = "detach"
	v := o.graph.Lookup(coll)
	if !o.tracking || v == nil {
		return bindgraph.NewPreconditionError(op, bindgraph.ErrNotTracking)
	}
	if v != o.graph.Root() {
		return bindgraph.NewPreconditionError(op, bindgraph.ErrNotRoot)
	}
	o.StopTracking()
	return nil
}

// RemoveNonTrackedEntities drops every entity the context no longer tracks,
// together with anything reachable only through it.
func (o *Observer) RemoveNonTrackedEntities() {
	o.graph.removeNonTrackedEntities()
}

func (o *Observer) onChangesSaved(err error) {
	if err != nil {
		o.log.Debug("binding: changes saved with error", "error", err)
	}
	o.RemoveNonTrackedEntities()
}

// onPropertyChanged is subscribed on every admitted entity and complex
// value.
func (o *Observer) onPropertyChanged(source any, property string) error {
	if property == "" {
		return o.HandleUpdateEntity(source, "", nil)
	}
	p, ok := o.classifier.Property(reflect.TypeOf(source), property)
	if !ok {
		value, _ := o.classifier.FieldValue(source, property)
		return o.HandleUpdateEntity(source, property, value)
	}

	o.graph.removeRelation(source, property)
	value := o.classifier.Value(source, p)
	switch p.Kind {
	case entityinfo.KindCollection:
		if value == nil {
			return nil
		}
		coll := value.(bindgraph.TrackedCollection)
		if coll.Observer() != nil {
			return bindgraph.NewStructuralError("set collection", value, bindgraph.ErrAlreadyObserved)
		}
		return o.attach(func() error {
			return o.graph.addCollection(source, property, coll, "")
		})
	case entityinfo.KindEntity:
		return o.graph.addEntity(source, property, value, "", source)
	case entityinfo.KindComplex:
		if value != nil {
			if err := o.graph.addComplex(source, property, value); err != nil {
				return err
			}
		}
		return o.HandleUpdateEntity(source, property, value)
	default:
		return nil
	}
}

// onCollectionChanged is subscribed on every admitted collection.
func (o *Observer) onCollectionChanged(sender any, e bindgraph.CollectionChangedEvent) error {
	coll, ok := sender.(bindgraph.TrackedCollection)
	if !ok {
		return bindgraph.NewStructuralError("collection changed", sender, bindgraph.ErrEntityTypeRequired)
	}
	switch e.Action {
	case bindgraph.ActionAdd:
		return o.onAdd(coll, e.NewItems)
	case bindgraph.ActionRemove:
		return o.onRemove(coll, e.OldItems)
	case bindgraph.ActionReplace:
		if err := o.onRemove(coll, e.OldItems); err != nil {
			return err
		}
		return o.onAdd(coll, e.NewItems)
	case bindgraph.ActionReset:
		if o.detaching {
			return o.graph.removeWithDetach(coll)
		}
		return o.graph.removeCollection(coll)
	case bindgraph.ActionMove:
		if o.movePolicy == MoveReject {
			return bindgraph.NewStructuralError("move", coll, bindgraph.ErrUnsupportedAction)
		}
		return nil
	default:
		return bindgraph.NewStructuralError(e.Action.String(), coll, bindgraph.ErrUnknownAction)
	}
}

func (o *Observer) onAdd(coll bindgraph.TrackedCollection, items []any) error {
	info := o.graph.collectionInfo(coll)
	for _, item := range items {
		if err := o.validateItem("add", item); err != nil {
			return err
		}
		if err := o.graph.addEntity(info.source, info.sourceProperty, item, info.targetSet, coll); err != nil {
			return err
		}
	}
	return nil
}

func (o *Observer) onRemove(coll bindgraph.TrackedCollection, items []any) error {
	info := o.graph.collectionInfo(coll)
	var parent any = coll
	if info.source != nil {
		parent = info.source
	}
	return o.graph.deepRemove(items, parent, info.sourceProperty, func(item any) error {
		return o.validateItem("remove", item)
	})
}

func (o *Observer) validateItem(op string, item any) error {
	if isNil(item) {
		return bindgraph.NewStructuralError(op, nil, bindgraph.ErrNilItem)
	}
	if !o.classifier.IsEntity(item) {
		return bindgraph.NewStructuralError(op, item, bindgraph.ErrNonEntityItem)
	}
	return nil
}

// attach runs fn with attach mode on, restoring the previous mode after.
func (o *Observer) attach(fn func() error) error {
	prev := o.attaching
	o.attaching = true
	defer func() { o.attaching = prev }()
	return fn()
}

func (o *Observer) subscribe(item any) error {
	switch v := item.(type) {
	case bindgraph.TrackedCollection:
		v.SetObserver(o)
		v.SubscribeCollectionChanged(o, o.onCollectionChanged)
	case bindgraph.PropertyNotifier:
		v.SubscribePropertyChanged(o, o.onPropertyChanged)
	default:
		return bindgraph.NewStructuralError("subscribe", item, bindgraph.ErrNotifierRequired)
	}
	return nil
}

func (o *Observer) unsubscribe(item any) {
	switch v := item.(type) {
	case bindgraph.TrackedCollection:
		v.UnsubscribeCollectionChanged(o)
		if v.Observer() == o {
			v.SetObserver(nil)
		}
	case bindgraph.PropertyNotifier:
		v.UnsubscribePropertyChanged(o)
	}
	o.log.Debug("binding: released", "type", fmt.Sprintf("%T", item))
}

// newMembers returns the items not yet held by coll, without repeats.
// Items of non-comparable types are kept and left to coll to validate.
func newMembers(coll bindgraph.TrackedCollection, items []any) []any {
	held := coll.Items()
	seen := make(map[any]struct{}, len(held)+len(items))
	for _, item := range held {
		if isComparable(item) {
			seen[item] = struct{}{}
		}
	}
	out := items[:0:0]
	for _, item := range items {
		if isComparable(item) {
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
		}
		out = append(out, item)
	}
	return out
}

func isComparable(v any) bool {
	return v != nil && reflect.TypeOf(v).Comparable()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}
