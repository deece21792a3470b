package binding

import (
	"fmt"
	"reflect"

	"github.com/syssam/bindgraph"
	"github.com/syssam/bindgraph/entityinfo"
	"github.com/syssam/bindgraph/graph"
)

// bindingGraph admits bound objects into the vertex/edge arena, keeps their
// subscriptions in step with their vertices and forwards structural changes
// to the observer's context handlers.
type bindingGraph struct {
	*graph.Graph
	o *Observer
}

func newBindingGraph(o *Observer) *bindingGraph {
	return &bindingGraph{Graph: graph.New(), o: o}
}

// collectionInfo locates a collection in the graph: its owning entity and
// property, the owner's entity set and the set of the collection's members.
type collectionInfo struct {
	source         any
	sourceProperty string
	sourceSet      string
	targetSet      string
}

func (g *bindingGraph) collectionInfo(coll any) collectionInfo {
	v := g.Lookup(coll)
	if v == nil {
		return collectionInfo{}
	}
	info := collectionInfo{targetSet: v.EntitySet}
	if v.Parent != nil {
		info.source = v.Parent.Item
		info.sourceProperty = v.ParentProperty
		info.sourceSet = v.Parent.EntitySet
	}
	return info
}

// addCollection admits coll as the member collection of source.property, or
// as the root when source is nil, followed by its members. A collection that
// is already admitted is left alone.
func (g *bindingGraph) addCollection(source any, property string, coll bindgraph.TrackedCollection, entitySet string) error {
	if g.Exists(coll) {
		return nil
	}
	if coll.Observer() != nil {
		return bindgraph.NewStructuralError("add collection", coll, bindgraph.ErrAlreadyObserved)
	}
	v, err := g.AddVertex(coll)
	if err != nil {
		return err
	}
	v.Kind = graph.KindCollection
	v.EntitySet = entitySet
	if source != nil {
		v.Parent = g.Lookup(source)
		v.ParentProperty = property
		if err := g.AddEdge(source, coll, property); err != nil {
			return err
		}
	} else if err := g.SetRoot(v); err != nil {
		return err
	}
	if err := g.o.subscribe(coll); err != nil {
		return err
	}
	for _, item := range coll.Items() {
		if isNil(item) {
			continue
		}
		if err := g.addEntity(source, property, item, entitySet, coll); err != nil {
			return err
		}
	}
	return nil
}

// addEntity admits target, links it from edgeSource and reports the change
// to the context. edgeSource is either source itself, for a reference
// property, or the collection holding target. A nil target only reports the
// cleared reference.
func (g *bindingGraph) addEntity(source any, property string, target any, targetSet string, edgeSource any) error {
	sv := g.Lookup(edgeSource)
	if sv == nil {
		return nil
	}
	var (
		tv    *graph.Vertex
		added bool
	)
	if !isNil(target) {
		if tv = g.Lookup(target); tv == nil {
			if _, ok := target.(bindgraph.PropertyNotifier); !ok {
				return bindgraph.NewStructuralError("add entity", target, bindgraph.ErrNotifierRequired)
			}
			v, err := g.AddVertex(target)
			if err != nil {
				return err
			}
			v.EntitySet = g.o.classifier.EntitySet(target, targetSet)
			if err := g.o.subscribe(target); err != nil {
				return err
			}
			tv, added = v, true
			g.o.log.Debug("binding: admitted entity",
				"type", fmt.Sprintf("%T", target),
				"entity_set", v.EntitySet,
			)
		}
		label := property
		if sv.IsCollection() {
			label = ""
		}
		if g.ExistsEdge(edgeSource, target, label) {
			return bindgraph.NewStructuralError("add entity", target, bindgraph.ErrRelationExists)
		}
		if err := g.AddEdge(edgeSource, target, label); err != nil {
			return err
		}
	} else {
		target = nil
	}

	var targetSetName string
	if tv != nil {
		targetSetName = tv.EntitySet
	}
	var err error
	switch {
	case !sv.IsCollection():
		err = g.o.HandleUpdateEntityReference(source, property, sv.EntitySet, target, targetSetName)
	case target != nil:
		var sourceSet string
		if sv.Parent != nil {
			sourceSet = sv.Parent.EntitySet
		}
		coll, _ := edgeSource.(bindgraph.TrackedCollection)
		err = g.o.HandleAddEntity(source, property, sourceSet, coll, target, targetSetName)
	}
	if err != nil {
		return err
	}
	if added {
		return g.addFromProperties(target)
	}
	return nil
}

// addComplex admits a complex value owned by source.property. A complex
// value has a single owner; admitting it twice fails without touching the
// graph.
func (g *bindingGraph) addComplex(source any, property string, target any) error {
	const op = "add complex"
	if g.Exists(target) {
		return bindgraph.NewStructuralError(op, target, bindgraph.ErrComplexShared)
	}
	if _, ok := target.(bindgraph.PropertyNotifier); !ok {
		return bindgraph.NewStructuralError(op, target, bindgraph.ErrNotifierRequired)
	}
	parent := g.Lookup(source)
	if parent == nil {
		return nil
	}
	v, err := g.AddVertex(target)
	if err != nil {
		return err
	}
	v.Kind = graph.KindComplex
	v.Parent = parent
	v.ParentProperty = property
	if err := g.o.subscribe(target); err != nil {
		return err
	}
	if err := g.AddEdge(source, target, property); err != nil {
		return err
	}
	return g.addFromProperties(target)
}

// addFromProperties admits every non-nil classified property of obj.
func (g *bindingGraph) addFromProperties(obj any) error {
	for _, p := range g.o.classifier.Properties(reflect.TypeOf(obj)) {
		value := g.o.classifier.Value(obj, p)
		if value == nil {
			continue
		}
		var err error
		switch p.Kind {
		case entityinfo.KindCollection:
			err = g.addCollection(obj, p.Name, value.(bindgraph.TrackedCollection), "")
		case entityinfo.KindEntity:
			err = g.addEntity(obj, p.Name, value, "", obj)
		case entityinfo.KindComplex:
			err = g.addComplex(obj, p.Name, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// remove reports the removal of item from parent to the context and drops
// the membership edge. When parentProperty is set, parent is the entity
// owning the collection under that property. Vertices are not evicted until
// the next sweep.
func (g *bindingGraph) remove(item, parent any, parentProperty string) error {
	if !g.Exists(item) {
		return nil
	}
	if parentProperty != "" {
		p, ok := g.o.classifier.Property(reflect.TypeOf(parent), parentProperty)
		if !ok {
			return nil
		}
		parent = g.o.classifier.Value(parent, p)
	}
	coll, _ := parent.(bindgraph.TrackedCollection)
	info := g.collectionInfo(parent)
	targetSet := info.targetSet
	if targetSet == "" {
		targetSet = g.Lookup(item).EntitySet
	}
	if err := g.o.HandleDeleteEntity(info.source, info.sourceProperty, info.sourceSet, coll, item, targetSet); err != nil {
		return err
	}
	g.RemoveEdge(parent, item, "")
	return nil
}

// removeCollection removes every member of coll and sweeps.
func (g *bindingGraph) removeCollection(coll any) error {
	defer g.sweep()
	for _, item := range g.members(coll) {
		if err := g.remove(item, coll, ""); err != nil {
			return err
		}
	}
	return nil
}

// removeWithDetach removes every member of coll together with the
// not-yet-saved entities added beneath them.
func (g *bindingGraph) removeWithDetach(coll any) error {
	info := g.collectionInfo(coll)
	parent := coll
	if info.source != nil {
		parent = info.source
	}
	return g.deepRemove(g.members(coll), parent, info.sourceProperty, nil)
}

// deepRemove removes items from parent. Entities added to the context
// beneath an item and not yet saved are removed first, deepest first, so a
// cascade never leaves pending inserts behind a deleted parent.
func (g *bindingGraph) deepRemove(items []any, parent any, parentProperty string, validate func(any) error) error {
	defer g.sweep()
	for _, item := range items {
		if validate != nil {
			if err := validate(item); err != nil {
				return err
			}
		}
		var pending []untracking
		g.collectUntracking(item, parent, parentProperty, &pending)
		for _, u := range pending {
			if err := g.remove(u.entity, u.parent, u.parentProperty); err != nil {
				return err
			}
		}
	}
	return nil
}

type untracking struct {
	entity         any
	parent         any
	parentProperty string
}

func (g *bindingGraph) collectUntracking(entity, parent any, parentProperty string, out *[]untracking) {
	for _, d := range g.o.cc.Entities() {
		if d.ParentEntity == entity && d.State == bindgraph.StateAdded {
			g.collectUntracking(d.Entity, d.ParentEntity, d.ParentProperty, out)
		}
	}
	*out = append(*out, untracking{entity: entity, parent: parent, parentProperty: parentProperty})
}

// removeRelation drops the outgoing edge of source labeled property and
// sweeps.
func (g *bindingGraph) removeRelation(source any, property string) {
	v := g.Lookup(source)
	if v == nil {
		return
	}
	if e := v.OutgoingLabeled(property); e != nil {
		g.RemoveEdge(source, e.Target.Item, property)
	}
	g.sweep()
}

// removeNonTrackedEntities cuts every entity the context no longer knows out
// of the graph and sweeps.
func (g *bindingGraph) removeNonTrackedEntities() {
	for _, v := range g.Vertices() {
		if v.Kind == graph.KindEntity && g.o.cc.EntityDescriptor(v.Item) == nil {
			g.ClearEdgesForVertex(v)
		}
	}
	g.sweep()
}

// ancestorEntity walks from a complex value up to the entity owning it. The
// returned property and value are those of the outermost complex value.
func (g *bindingGraph) ancestorEntity(item any, property string, value any) (any, string, any) {
	v := g.Lookup(item)
	if v == nil {
		return nil, "", nil
	}
	for v.IsComplex() {
		property = v.ParentProperty
		value = v.Item
		if v = v.Parent; v == nil {
			return nil, "", nil
		}
	}
	return v.Item, property, value
}

func (g *bindingGraph) members(coll any) []any {
	v := g.Lookup(coll)
	if v == nil {
		return nil
	}
	var items []any
	for _, e := range v.Outgoing() {
		items = append(items, e.Target.Item)
	}
	return items
}

func (g *bindingGraph) sweep() {
	g.SweepUnreachable(g.o.unsubscribe)
}

func (g *bindingGraph) reset() {
	g.Reset(g.o.unsubscribe)
}
