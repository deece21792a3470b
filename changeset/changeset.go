// Package changeset provides an in-memory ChangeContext.
//
// A Context tracks entity and link descriptors and their states. Calls
// made by an observer move descriptors between states; SaveChanges collects
// every pending change, in the order it was recorded, into a Batch for a
// Sink, and settles the states once the sink accepted it:
//
//	cc := changeset.New(changeset.WithSink(sink))
//	cc.AddObject("Orders", order)         // Added
//	cc.SaveChanges(ctx)                   // Unchanged
//	cc.UpdateObject(order)                // Modified
//	cc.DeleteObject(order)                // Deleted
//	cc.SaveChanges(ctx)                   // no longer tracked
//
// A Context is confined to one goroutine.
package changeset

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/bindgraph"
)

type entry struct {
	desc  bindgraph.EntityDescriptor
	order uint64
	// seq orders Entities by first attach.
	seq uint64
}

type link struct {
	desc  bindgraph.LinkDescriptor
	order uint64
}

type savedSub struct {
	key any
	fn  bindgraph.ChangesSavedFunc
}

// Context is an in-memory bindgraph.ChangeContext.
type Context struct {
	entities map[any]*entry
	links    []*link
	subs     []savedSub
	sink     Sink
	log      *slog.Logger
	now      func() time.Time
	order    uint64
	seq      uint64
	applying bool
	saving   bool
}

// Option configures a Context.
type Option func(*Context)

// WithSink sets the sink that persists batches. By default batches are
// discarded.
func WithSink(s Sink) Option {
	return func(c *Context) {
		if s != nil {
			c.sink = s
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock sets the clock used to stamp batches.
func WithClock(now func() time.Time) Option {
	return func(c *Context) {
		if now != nil {
			c.now = now
		}
	}
}

// New returns an empty Context.
func New(opts ...Option) *Context {
	c := &Context{
		entities: make(map[any]*entry),
		sink:     discard{},
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AttachTo starts tracking entity as Unchanged.
func (c *Context) AttachTo(entitySet string, entity any) error {
	const op = "AttachTo"
	if entitySet == "" {
		return newContextError(op, entity, ErrEntitySetRequired)
	}
	if _, ok := c.entities[entity]; ok {
		return newContextError(op, entity, ErrEntityAlreadyContained)
	}
	c.track(entity, entitySet, bindgraph.StateUnchanged)
	return nil
}

// AddObject starts tracking entity as Added.
func (c *Context) AddObject(entitySet string, entity any) error {
	const op = "AddObject"
	if entitySet == "" {
		return newContextError(op, entity, ErrEntitySetRequired)
	}
	if _, ok := c.entities[entity]; ok {
		return newContextError(op, entity, ErrEntityAlreadyContained)
	}
	c.track(entity, entitySet, bindgraph.StateAdded)
	return nil
}

// AddRelatedObject starts tracking target as Added beneath source, with an
// Added link from source.property. The target has no entity set of its own;
// it is inserted through its parent.
func (c *Context) AddRelatedObject(source any, property string, target any) error {
	const op = "AddRelatedObject"
	src, err := c.mustEntry(op, source)
	if err != nil {
		return err
	}
	if src.desc.State == bindgraph.StateDeleted {
		return newContextError(op, source, ErrSourceDeleted)
	}
	if _, ok := c.entities[target]; ok {
		return newContextError(op, target, ErrEntityAlreadyContained)
	}
	e := c.track(target, "", bindgraph.StateAdded)
	e.desc.ParentEntity = source
	e.desc.ParentProperty = property
	c.links = append(c.links, &link{
		desc:  bindgraph.LinkDescriptor{Source: source, Property: property, Target: target, State: bindgraph.StateAdded},
		order: c.nextOrder(),
	})
	return nil
}

// AttachLink starts tracking an Unchanged link.
func (c *Context) AttachLink(source any, property string, target any) error {
	return c.addLink("AttachLink", source, property, target, bindgraph.StateUnchanged)
}

// AddLink starts tracking an Added link.
func (c *Context) AddLink(source any, property string, target any) error {
	return c.addLink("AddLink", source, property, target, bindgraph.StateAdded)
}

func (c *Context) addLink(op string, source any, property string, target any, state bindgraph.EntityState) error {
	src, err := c.mustEntry(op, source)
	if err != nil {
		return err
	}
	tgt, err := c.mustEntry(op, target)
	if err != nil {
		return err
	}
	if state != bindgraph.StateUnchanged &&
		(src.desc.State == bindgraph.StateDeleted || tgt.desc.State == bindgraph.StateDeleted) {
		return newContextError(op, source, ErrSourceDeleted)
	}
	if c.findLink(source, property, target) >= 0 {
		return newContextError(op, source, ErrLinkAlreadyContained)
	}
	c.links = append(c.links, &link{
		desc:  bindgraph.LinkDescriptor{Source: source, Property: property, Target: target, State: state},
		order: c.nextOrder(),
	})
	return nil
}

// SetLink points the reference property of source at target, replacing any
// link already recorded for that property. A nil target clears the
// reference.
func (c *Context) SetLink(source any, property string, target any) error {
	const op = "SetLink"
	src, err := c.mustEntry(op, source)
	if err != nil {
		return err
	}
	if src.desc.State == bindgraph.StateDeleted {
		return newContextError(op, source, ErrSourceDeleted)
	}
	if target != nil {
		tgt, err := c.mustEntry(op, target)
		if err != nil {
			return err
		}
		if tgt.desc.State == bindgraph.StateDeleted {
			return newContextError(op, target, ErrSourceDeleted)
		}
	}
	c.links = slices.DeleteFunc(c.links, func(l *link) bool {
		return l.desc.Source == source && l.desc.Property == property
	})
	c.links = append(c.links, &link{
		desc:  bindgraph.LinkDescriptor{Source: source, Property: property, Target: target, State: bindgraph.StateModified},
		order: c.nextOrder(),
	})
	return nil
}

// DeleteObject marks entity Deleted. An entity that was never saved is
// detached instead.
func (c *Context) DeleteObject(entity any) error {
	e, err := c.mustEntry("DeleteObject", entity)
	if err != nil {
		return err
	}
	switch e.desc.State {
	case bindgraph.StateAdded:
		c.Detach(entity)
	case bindgraph.StateDeleted:
	default:
		e.desc.State = bindgraph.StateDeleted
		e.order = c.nextOrder()
	}
	return nil
}

// Detach stops tracking entity and every link touching it.
func (c *Context) Detach(entity any) bool {
	if _, ok := c.entities[entity]; !ok {
		return false
	}
	delete(c.entities, entity)
	c.links = slices.DeleteFunc(c.links, func(l *link) bool {
		return l.desc.Source == entity || l.desc.Target == entity
	})
	return true
}

// UpdateObject marks an Unchanged entity Modified.
func (c *Context) UpdateObject(entity any) error {
	e, err := c.mustEntry("UpdateObject", entity)
	if err != nil {
		return err
	}
	if e.desc.State == bindgraph.StateUnchanged {
		e.desc.State = bindgraph.StateModified
		e.order = c.nextOrder()
	}
	return nil
}

// EntityDescriptor returns a copy of the descriptor of entity, or nil.
func (c *Context) EntityDescriptor(entity any) *bindgraph.EntityDescriptor {
	e, ok := c.entities[entity]
	if !ok {
		return nil
	}
	d := e.desc
	return &d
}

// LinkDescriptor returns a copy of the descriptor of the link, or nil.
func (c *Context) LinkDescriptor(source any, property string, target any) *bindgraph.LinkDescriptor {
	i := c.findLink(source, property, target)
	if i < 0 {
		return nil
	}
	d := c.links[i].desc
	return &d
}

// Entities returns copies of all entity descriptors in tracking order.
func (c *Context) Entities() []*bindgraph.EntityDescriptor {
	es := make([]*entry, 0, len(c.entities))
	for _, e := range c.entities {
		es = append(es, e)
	}
	slices.SortFunc(es, func(a, b *entry) int {
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]*bindgraph.EntityDescriptor, len(es))
	for i, e := range es {
		d := e.desc
		out[i] = &d
	}
	return out
}

// Links returns copies of all link descriptors in recording order.
func (c *Context) Links() []*bindgraph.LinkDescriptor {
	out := make([]*bindgraph.LinkDescriptor, len(c.links))
	for i, l := range c.links {
		d := l.desc
		out[i] = &d
	}
	return out
}

// HasChanges reports whether any entity or link is pending.
func (c *Context) HasChanges() bool {
	return len(c.pending()) > 0
}

// IsApplyingChanges reports whether ApplyChanges is running.
func (c *Context) IsApplyingChanges() bool {
	return c.applying
}

// ApplyChanges runs fn while IsApplyingChanges reports true, so that an
// observer ignores the mutations fn makes to tracked objects.
func (c *Context) ApplyChanges(fn func() error) error {
	prev := c.applying
	c.applying = true
	defer func() { c.applying = prev }()
	return fn()
}

// SubscribeChangesSaved registers fn under key, replacing any handler
// already registered under the same key.
func (c *Context) SubscribeChangesSaved(key any, fn bindgraph.ChangesSavedFunc) {
	for i := range c.subs {
		if c.subs[i].key == key {
			c.subs[i].fn = fn
			return
		}
	}
	c.subs = append(c.subs, savedSub{key: key, fn: fn})
}

// UnsubscribeChangesSaved removes the handler registered under key.
func (c *Context) UnsubscribeChangesSaved(key any) {
	c.subs = slices.DeleteFunc(c.subs, func(s savedSub) bool { return s.key == key })
}

// SaveChanges writes every pending change to the sink as one batch. On
// success, Added and Modified descriptors become Unchanged and Deleted
// ones are dropped. Changes-saved subscribers are notified either way.
// An empty batch is not written.
func (c *Context) SaveChanges(ctx context.Context) (*Batch, error) {
	if c.saving {
		return nil, ErrSaveInProgress
	}
	c.saving = true
	defer func() { c.saving = false }()

	b := &Batch{
		ID:        uuid.New(),
		CreatedAt: c.now(),
		Changes:   c.pending(),
	}
	var err error
	if b.Len() > 0 {
		err = c.sink.Write(ctx, b)
	}
	if err != nil {
		c.log.Warn("changeset: save failed", "batch", b.ID, "changes", b.Len(), "error", err)
	} else {
		c.settle()
		c.log.Info("changeset: changes saved", "batch", b.ID, "changes", b.Len())
	}
	c.notifySaved(err)
	if err != nil {
		return nil, err
	}
	return b, nil
}

type pendingChange struct {
	order  uint64
	change Change
}

func (c *Context) pending() []Change {
	var ps []pendingChange
	for _, e := range c.entities {
		var op Op
		switch e.desc.State {
		case bindgraph.StateAdded:
			op = OpInsert
		case bindgraph.StateModified:
			op = OpUpdate
		case bindgraph.StateDeleted:
			op = OpDelete
		default:
			continue
		}
		ps = append(ps, pendingChange{order: e.order, change: Change{
			Op:        op,
			EntitySet: e.desc.EntitySet,
			Entity:    e.desc.Entity,
			Property:  e.desc.ParentProperty,
			Target:    e.desc.ParentEntity,
		}})
	}
	for _, l := range c.links {
		var op Op
		switch l.desc.State {
		case bindgraph.StateAdded:
			op = OpAddLink
		case bindgraph.StateModified:
			op = OpSetLink
		default:
			continue
		}
		var set string
		if src, ok := c.entities[l.desc.Source]; ok {
			set = src.desc.EntitySet
		}
		ps = append(ps, pendingChange{order: l.order, change: Change{
			Op:        op,
			EntitySet: set,
			Entity:    l.desc.Source,
			Property:  l.desc.Property,
			Target:    l.desc.Target,
		}})
	}
	slices.SortFunc(ps, func(a, b pendingChange) int {
		return cmp.Compare(a.order, b.order)
	})
	out := make([]Change, len(ps))
	for i, p := range ps {
		out[i] = p.change
	}
	return out
}

func (c *Context) settle() {
	for key, e := range c.entities {
		switch e.desc.State {
		case bindgraph.StateDeleted:
			delete(c.entities, key)
		case bindgraph.StateAdded, bindgraph.StateModified:
			e.desc.State = bindgraph.StateUnchanged
			e.desc.ParentEntity = nil
			e.desc.ParentProperty = ""
		}
	}
	c.links = slices.DeleteFunc(c.links, func(l *link) bool {
		_, src := c.entities[l.desc.Source]
		if !src || l.desc.Target == nil {
			return true
		}
		_, tgt := c.entities[l.desc.Target]
		return !tgt
	})
	for _, l := range c.links {
		l.desc.State = bindgraph.StateUnchanged
	}
}

func (c *Context) notifySaved(err error) {
	subs := slices.Clone(c.subs)
	for _, s := range subs {
		s.fn(err)
	}
}

func (c *Context) track(entity any, entitySet string, state bindgraph.EntityState) *entry {
	c.seq++
	e := &entry{
		desc:  bindgraph.EntityDescriptor{Entity: entity, EntitySet: entitySet, State: state},
		order: c.nextOrder(),
		seq:   c.seq,
	}
	c.entities[entity] = e
	return e
}

func (c *Context) mustEntry(op string, entity any) (*entry, error) {
	if entity == nil {
		return nil, newContextError(op, nil, ErrEntityNotContained)
	}
	e, ok := c.entities[entity]
	if !ok {
		return nil, newContextError(op, entity, ErrEntityNotContained)
	}
	return e, nil
}

func (c *Context) findLink(source any, property string, target any) int {
	return slices.IndexFunc(c.links, func(l *link) bool {
		return l.desc.Source == source && l.desc.Property == property && l.desc.Target == target
	})
}

func (c *Context) nextOrder() uint64 {
	c.order++
	return c.order
}

var _ bindgraph.ChangeContext = (*Context)(nil)
