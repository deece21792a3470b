package binding

import (
	"fmt"

	"github.com/syssam/bindgraph"
)

// HandleAddEntity synchronizes the context after target joined collection.
// source and sourceProperty locate the collection on its owning entity and
// are empty for the root collection.
func (o *Observer) HandleAddEntity(source any, sourceProperty, sourceSet string, collection bindgraph.TrackedCollection, target any, targetSet string) error {
	const op = "add entity"
	if o.cc.IsApplyingChanges() {
		return nil
	}
	if source != nil && o.isDetachedOrDeleted(source) {
		return nil
	}
	desc := o.cc.EntityDescriptor(target)
	required := !o.attaching && (desc == nil ||
		(source != nil && !o.tracksLink(source, sourceProperty, target) && desc.State != bindgraph.StateDeleted))
	if required && o.collectionChanged != nil {
		vetoed := o.collectionChanged(&bindgraph.CollectionChange{
			Context:         o.cc,
			Action:          bindgraph.ActionAdd,
			Source:          source,
			SourceProperty:  sourceProperty,
			SourceEntitySet: sourceSet,
			Collection:      collection,
			Target:          target,
			TargetEntitySet: targetSet,
		})
		if vetoed {
			o.logVeto(op, target)
			return nil
		}
	}
	if source != nil && o.isDetachedOrDeleted(source) {
		return bindgraph.NewPreconditionError(op, bindgraph.ErrDetachedSource)
	}

	desc = o.cc.EntityDescriptor(target)
	switch {
	case source != nil && o.attaching:
		if desc == nil {
			if err := validateSet(op, targetSet, target); err != nil {
				return err
			}
			if err := o.cc.AttachTo(targetSet, target); err != nil {
				return err
			}
			return o.cc.AttachLink(source, sourceProperty, target)
		}
		if desc.State != bindgraph.StateDeleted && !o.tracksLink(source, sourceProperty, target) {
			return o.cc.AttachLink(source, sourceProperty, target)
		}
	case source != nil:
		if desc == nil {
			return o.cc.AddRelatedObject(source, sourceProperty, target)
		}
		if desc.State != bindgraph.StateDeleted && !o.tracksLink(source, sourceProperty, target) {
			return o.cc.AddLink(source, sourceProperty, target)
		}
	case desc == nil:
		if err := validateSet(op, targetSet, target); err != nil {
			return err
		}
		if o.attaching {
			return o.cc.AttachTo(targetSet, target)
		}
		return o.cc.AddObject(targetSet, target)
	}
	return nil
}

// HandleDeleteEntity synchronizes the context after target left collection.
// In detach mode the target is detached rather than deleted.
func (o *Observer) HandleDeleteEntity(source any, sourceProperty, sourceSet string, collection bindgraph.TrackedCollection, target any, targetSet string) error {
	const op = "delete entity"
	if o.cc.IsApplyingChanges() {
		return nil
	}
	if source != nil && o.isDetachedOrDeleted(source) {
		return nil
	}
	required := o.tracksEntity(target) && !o.detaching
	if required && o.collectionChanged != nil {
		vetoed := o.collectionChanged(&bindgraph.CollectionChange{
			Context:         o.cc,
			Action:          bindgraph.ActionRemove,
			Source:          source,
			SourceProperty:  sourceProperty,
			SourceEntitySet: sourceSet,
			Collection:      collection,
			Target:          target,
			TargetEntitySet: targetSet,
		})
		if vetoed {
			o.logVeto(op, target)
			return nil
		}
	}
	if source != nil && !o.tracksEntity(source) {
		return bindgraph.NewPreconditionError(op, bindgraph.ErrDetachedSource)
	}
	if !o.tracksEntity(target) {
		return nil
	}
	if o.detaching {
		o.cc.Detach(target)
		return nil
	}
	return o.cc.DeleteObject(target)
}

// HandleUpdateEntityReference synchronizes the context after the reference
// property sourceProperty of source was set to target. A nil target clears
// the reference.
func (o *Observer) HandleUpdateEntityReference(source any, sourceProperty, sourceSet string, target any, targetSet string) error {
	const op = "update reference"
	if o.cc.IsApplyingChanges() {
		return nil
	}
	if o.isDetachedOrDeleted(source) {
		return nil
	}
	var desc *bindgraph.EntityDescriptor
	if target != nil {
		desc = o.cc.EntityDescriptor(target)
	}
	required := !o.attaching && (desc == nil || !o.tracksLink(source, sourceProperty, target))
	if required && o.entityChanged != nil {
		vetoed := o.entityChanged(&bindgraph.EntityChange{
			Context:         o.cc,
			Entity:          source,
			PropertyName:    sourceProperty,
			PropertyValue:   target,
			SourceEntitySet: sourceSet,
			TargetEntitySet: targetSet,
		})
		if vetoed {
			o.logVeto(op, source)
			return nil
		}
	}
	if o.isDetachedOrDeleted(source) {
		return bindgraph.NewPreconditionError(op, bindgraph.ErrDetachedSource)
	}

	if target == nil {
		if o.attaching {
			return nil
		}
		return o.cc.SetLink(source, sourceProperty, nil)
	}
	desc = o.cc.EntityDescriptor(target)
	if desc == nil {
		if err := validateSet(op, targetSet, target); err != nil {
			return err
		}
		var err error
		if o.attaching {
			err = o.cc.AttachTo(targetSet, target)
		} else {
			err = o.cc.AddObject(targetSet, target)
		}
		if err != nil {
			return err
		}
		desc = o.cc.EntityDescriptor(target)
	}
	if o.tracksLink(source, sourceProperty, target) {
		return nil
	}
	if !o.attaching {
		return o.cc.SetLink(source, sourceProperty, target)
	}
	if desc == nil || desc.State != bindgraph.StateDeleted {
		return o.cc.AttachLink(source, sourceProperty, target)
	}
	return nil
}

// HandleUpdateEntity synchronizes the context after a property of entity
// changed. A complex value is resolved to the entity owning it, with the
// property of the outermost complex value reported as the changed one.
func (o *Observer) HandleUpdateEntity(entity any, property string, value any) error {
	if o.cc.IsApplyingChanges() {
		return nil
	}
	if !o.classifier.IsEntity(entity) {
		entity, property, value = o.graph.ancestorEntity(entity, property, value)
		if entity == nil {
			return nil
		}
	}
	if o.isDetachedOrDeleted(entity) {
		return nil
	}
	if o.entityChanged != nil {
		var set string
		if v := o.graph.Lookup(entity); v != nil {
			set = v.EntitySet
		}
		vetoed := o.entityChanged(&bindgraph.EntityChange{
			Context:         o.cc,
			Entity:          entity,
			PropertyName:    property,
			PropertyValue:   value,
			SourceEntitySet: set,
		})
		if vetoed {
			o.logVeto("update entity", entity)
			return nil
		}
	}
	if !o.tracksEntity(entity) {
		return nil
	}
	return o.cc.UpdateObject(entity)
}

func (o *Observer) tracksEntity(entity any) bool {
	return o.cc.EntityDescriptor(entity) != nil
}

func (o *Observer) tracksLink(source any, property string, target any) bool {
	return o.cc.LinkDescriptor(source, property, target) != nil
}

func (o *Observer) isDetachedOrDeleted(entity any) bool {
	d := o.cc.EntityDescriptor(entity)
	return d == nil || d.State == bindgraph.StateDeleted
}

func (o *Observer) logVeto(op string, item any) {
	o.log.Debug("binding: change handled by interceptor", "op", op, "type", fmt.Sprintf("%T", item))
}

func validateSet(op, set string, entity any) error {
	if set == "" {
		return bindgraph.NewStructuralError(op, entity, bindgraph.ErrMissingEntitySet)
	}
	return nil
}
