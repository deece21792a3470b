// Package entityinfo classifies Go types for change tracking.
//
// A Classifier answers three questions about a type: is it an entity, is it
// a tracked collection of entities, and which of its properties hold a
// nested entity, a collection, or a complex (notifying, non-entity) value.
// Answers are computed once per type under a write lock and cached for the
// lifetime of the Classifier; readers share a read lock. Negative answers,
// including types that cannot be classified at all, are cached too.
package entityinfo

import (
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-openapi/inflect"

	"github.com/syssam/bindgraph"
)

// TagName is the struct tag read by the classifier.
//
//	ID    int      `bind:"key"` // key field
//	Cache *Scratch `bind:"-"`   // never tracked
const TagName = "bind"

// Kind is the structural kind of a classified property.
type Kind int

// Property kinds.
const (
	KindEntity Kind = iota + 1
	KindCollection
	KindComplex
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindEntity:
		return "Entity"
	case KindCollection:
		return "Collection"
	case KindComplex:
		return "Complex"
	default:
		return "Unknown"
	}
}

// Property is an observable property of an entity or complex type.
type Property struct {
	Name  string
	Kind  Kind
	Type  reflect.Type
	index []int
}

// Stats reports cache population counters.
type Stats struct {
	// Computations counts writer-path classifications of any cache.
	Computations int64
	// PropertyComputations counts writer-path property classifications.
	PropertyComputations int64
}

type field struct {
	name  string
	index []int
}

type typeInfo struct {
	props   []Property
	byName  map[string]int
	scalars []field
}

var (
	trackedCollectionType = reflect.TypeFor[bindgraph.TrackedCollection]()
	propertyNotifierType  = reflect.TypeFor[bindgraph.PropertyNotifier]()
	entitySetNamerType    = reflect.TypeFor[bindgraph.EntitySetNamer]()
	timeType              = reflect.TypeFor[time.Time]()
)

// Classifier is a concurrency-safe, populate-once type classification cache.
type Classifier struct {
	mu          sync.RWMutex
	entities    map[reflect.Type]bool
	collections map[reflect.Type]bool
	types       map[reflect.Type]*typeInfo
	sets        map[reflect.Type]string
	naming      func(reflect.Type) string

	computations         atomic.Int64
	propertyComputations atomic.Int64
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithSetNaming sets the function deriving an entity set label from an
// entity type when neither a hint nor EntitySetNamer provides one.
func WithSetNaming(fn func(reflect.Type) string) Option {
	return func(c *Classifier) {
		c.naming = fn
	}
}

// NoSetNaming disables derived entity set labels.
func NoSetNaming() Option {
	return WithSetNaming(func(reflect.Type) string { return "" })
}

// PluralSetName labels an entity type with its pluralized struct name,
// e.g. *Order -> "Orders".
func PluralSetName(t reflect.Type) string {
	name := TypeSetName(t)
	if name == "" {
		return ""
	}
	return inflect.Pluralize(name)
}

// TypeSetName labels an entity type with its struct name.
func TypeSetName(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

// New returns an empty Classifier. Entity set labels default to
// PluralSetName.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		entities:    make(map[reflect.Type]bool),
		collections: make(map[reflect.Type]bool),
		types:       make(map[reflect.Type]*typeInfo),
		sets:        make(map[reflect.Type]string),
		naming:      PluralSetName,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultClassifier = New()

// Default returns the process-wide Classifier.
func Default() *Classifier {
	return defaultClassifier
}

// Stats returns the cache population counters.
func (c *Classifier) Stats() Stats {
	return Stats{
		Computations:         c.computations.Load(),
		PropertyComputations: c.propertyComputations.Load(),
	}
}

// IsEntityType reports whether t is an entity type.
func (c *Classifier) IsEntityType(t reflect.Type) bool {
	if t == nil {
		return false
	}
	c.mu.RLock()
	v, ok := c.entities[t]
	c.mu.RUnlock()
	if ok {
		return v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entityLocked(t)
}

// IsEntity reports whether v's dynamic type is an entity type.
func (c *Classifier) IsEntity(v any) bool {
	return v != nil && c.IsEntityType(reflect.TypeOf(v))
}

// IsTrackedCollectionType reports whether t is a tracked collection whose
// element type is an entity type.
func (c *Classifier) IsTrackedCollectionType(t reflect.Type) bool {
	if t == nil {
		return false
	}
	c.mu.RLock()
	v, ok := c.collections[t]
	c.mu.RUnlock()
	if ok {
		return v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collectionLocked(t)
}

// Properties returns the observable properties of t in declaration order.
// The returned slice is shared and must not be modified.
func (c *Classifier) Properties(t reflect.Type) []Property {
	ti := c.typeInfo(t)
	if ti == nil {
		return nil
	}
	return ti.props
}

// Property returns the observable property of t with the given name.
func (c *Classifier) Property(t reflect.Type, name string) (Property, bool) {
	ti := c.typeInfo(t)
	if ti == nil {
		return Property{}, false
	}
	i, ok := ti.byName[name]
	if !ok {
		return Property{}, false
	}
	return ti.props[i], true
}

// Value returns the value of p on obj, or nil when the value is a nil
// pointer or interface.
func (c *Classifier) Value(obj any, p Property) any {
	rv := reflect.ValueOf(obj)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil
	}
	fv, err := rv.Elem().FieldByIndexErr(p.index)
	if err != nil {
		return nil
	}
	switch fv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if fv.IsNil() {
			return nil
		}
	}
	return fv.Interface()
}

// FieldValue returns the value of the exported field name on obj, whether
// classified or not.
func (c *Classifier) FieldValue(obj any, name string) (any, bool) {
	rv := reflect.ValueOf(obj)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, false
	}
	f, ok := rv.Elem().Type().FieldByName(name)
	if !ok || !f.IsExported() {
		return nil, false
	}
	return rv.Elem().FieldByIndex(f.Index).Interface(), true
}

// EntitySet returns hint if non-empty, otherwise the label attached to the
// type of obj.
func (c *Classifier) EntitySet(obj any, hint string) string {
	if hint != "" || obj == nil {
		return hint
	}
	t := reflect.TypeOf(obj)
	c.mu.RLock()
	v, ok := c.sets[t]
	c.mu.RUnlock()
	if ok {
		return v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.sets[t]; ok {
		return v
	}
	c.computations.Add(1)
	v = c.setName(t)
	c.sets[t] = v
	return v
}

// Snapshot returns the scalar (unclassified) exported fields of entity.
func (c *Classifier) Snapshot(entity any) map[string]any {
	rv := reflect.ValueOf(entity)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil
	}
	ti := c.typeInfo(rv.Type())
	if ti == nil {
		return nil
	}
	out := make(map[string]any, len(ti.scalars))
	for _, f := range ti.scalars {
		out[f.name] = rv.Elem().FieldByIndex(f.index).Interface()
	}
	return out
}

func (c *Classifier) typeInfo(t reflect.Type) *typeInfo {
	if !isStructPointer(t) {
		return nil
	}
	c.mu.RLock()
	ti, ok := c.types[t]
	c.mu.RUnlock()
	if ok {
		return ti
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ti, ok := c.types[t]; ok {
		return ti
	}
	c.computations.Add(1)
	c.propertyComputations.Add(1)
	ti = c.classifyLocked(t)
	c.types[t] = ti
	return ti
}

func (c *Classifier) classifyLocked(t reflect.Type) *typeInfo {
	st := t.Elem()
	ti := &typeInfo{byName: make(map[string]int)}
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() || f.Anonymous || hasOption(f.Tag, "-") {
			continue
		}
		kind, ok := c.kindLocked(f.Type)
		if !ok {
			if isScalar(f.Type) {
				ti.scalars = append(ti.scalars, field{name: f.Name, index: f.Index})
			}
			continue
		}
		ti.byName[f.Name] = len(ti.props)
		ti.props = append(ti.props, Property{Name: f.Name, Kind: kind, Type: f.Type, index: f.Index})
	}
	return ti
}

func (c *Classifier) kindLocked(t reflect.Type) (Kind, bool) {
	switch {
	case c.collectionLocked(t):
		return KindCollection, true
	case c.entityLocked(t):
		return KindEntity, true
	case isStructPointer(t) && t.Implements(propertyNotifierType):
		return KindComplex, true
	default:
		return 0, false
	}
}

func (c *Classifier) entityLocked(t reflect.Type) bool {
	if v, ok := c.entities[t]; ok {
		return v
	}
	c.computations.Add(1)
	v := isStructPointer(t) && !c.collectionLocked(t) && hasKey(t.Elem())
	c.entities[t] = v
	return v
}

func (c *Classifier) collectionLocked(t reflect.Type) bool {
	if v, ok := c.collections[t]; ok {
		return v
	}
	c.computations.Add(1)
	v := false
	if t.Implements(trackedCollectionType) {
		if elem := zeroElemType(t); elem != nil && elem != t {
			v = c.entityLocked(elem)
		}
	}
	c.collections[t] = v
	return v
}

func (c *Classifier) setName(t reflect.Type) (name string) {
	if t.Implements(entitySetNamerType) {
		func() {
			defer func() {
				if recover() != nil {
					name = ""
				}
			}()
			name = reflect.Zero(t).Interface().(bindgraph.EntitySetNamer).EntitySet()
		}()
		if name != "" {
			return name
		}
	}
	if c.naming == nil {
		return ""
	}
	return c.naming(t)
}

// zeroElemType calls ElemType on the zero value of t. A panicking
// implementation is treated as a classification failure.
func zeroElemType(t reflect.Type) (elem reflect.Type) {
	defer func() {
		if recover() != nil {
			elem = nil
		}
	}()
	return reflect.Zero(t).Interface().(bindgraph.TrackedCollection).ElemType()
}

func hasKey(st reflect.Type) bool {
	tagged := false
	for i := 0; i < st.NumField(); i++ {
		if f := st.Field(i); f.IsExported() && hasOption(f.Tag, "key") {
			tagged = true
			break
		}
	}
	if tagged {
		return true
	}
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() || f.Anonymous {
			continue
		}
		switch f.Name {
		case "ID", "Id", st.Name() + "ID", st.Name() + "Id":
			return true
		}
	}
	return false
}

func hasOption(tag reflect.StructTag, opt string) bool {
	v, ok := tag.Lookup(TagName)
	if !ok {
		return false
	}
	for _, o := range strings.Split(v, ",") {
		if strings.TrimSpace(o) == opt {
			return true
		}
	}
	return false
}

func isStructPointer(t reflect.Type) bool {
	return t != nil && t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct
}

func isScalar(t reflect.Type) bool {
	if t == timeType {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	default:
		return false
	}
}
