package bindgraph

import "fmt"

// EntityState is the change-tracking state of an entity or link in a
// ChangeContext.
type EntityState int

// Entity and link states.
const (
	StateDetached EntityState = iota
	StateUnchanged
	StateAdded
	StateModified
	StateDeleted
)

// String returns the state name.
func (s EntityState) String() string {
	switch s {
	case StateDetached:
		return "Detached"
	case StateUnchanged:
		return "Unchanged"
	case StateAdded:
		return "Added"
	case StateModified:
		return "Modified"
	case StateDeleted:
		return "Deleted"
	default:
		return fmt.Sprintf("EntityState(%d)", int(s))
	}
}

// EntityDescriptor describes an entity tracked by a ChangeContext.
type EntityDescriptor struct {
	Entity    any
	EntitySet string
	State     EntityState
	// ParentEntity and ParentProperty are set for entities added through
	// AddRelatedObject and not yet saved.
	ParentEntity   any
	ParentProperty string
}

// LinkDescriptor describes a relation tracked by a ChangeContext.
type LinkDescriptor struct {
	Source   any
	Property string
	Target   any
	State    EntityState
}

// ChangesSavedFunc is invoked by a ChangeContext after pending changes were
// saved.
type ChangesSavedFunc func(err error)

// ChangeContext is the persistence context the observer drives. It never
// calls back into the graph; the only inbound edge is the changes-saved
// notification. Errors returned by mutating calls propagate unchanged to
// the notification that triggered them.
type ChangeContext interface {
	AttachTo(entitySet string, entity any) error
	AttachLink(source any, property string, target any) error
	AddObject(entitySet string, entity any) error
	AddRelatedObject(source any, property string, target any) error
	AddLink(source any, property string, target any) error
	// SetLink sets a reference relation; a nil target clears it.
	SetLink(source any, property string, target any) error
	DeleteObject(entity any) error
	// Detach stops tracking entity and reports whether it was tracked.
	Detach(entity any) bool
	UpdateObject(entity any) error

	EntityDescriptor(entity any) *EntityDescriptor
	LinkDescriptor(source any, property string, target any) *LinkDescriptor
	Entities() []*EntityDescriptor
	// IsApplyingChanges reports whether the context is materializing
	// results into tracked objects.
	IsApplyingChanges() bool

	SubscribeChangesSaved(key any, fn ChangesSavedFunc)
	UnsubscribeChangesSaved(key any)
}

// EntityChange describes a change to an entity offered to an
// EntityChangedFunc before the context is synchronized.
type EntityChange struct {
	Context         ChangeContext
	Entity          any
	PropertyName    string
	PropertyValue   any
	SourceEntitySet string
	TargetEntitySet string
}

// CollectionChange describes a membership change offered to a
// CollectionChangedFunc before the context is synchronized.
type CollectionChange struct {
	Context         ChangeContext
	Action          CollectionAction
	Source          any
	SourceProperty  string
	SourceEntitySet string
	Collection      TrackedCollection
	Target          any
	TargetEntitySet string
}

// EntityChangedFunc intercepts entity changes. Returning true suppresses the
// default context synchronization for that change.
type EntityChangedFunc func(*EntityChange) bool

// CollectionChangedFunc intercepts collection changes. Returning true
// suppresses the default context synchronization for that change.
type CollectionChangedFunc func(*CollectionChange) bool
