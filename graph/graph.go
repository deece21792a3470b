package graph

import (
	"cmp"
	"errors"
	"fmt"
	"reflect"
	"slices"
)

// Graph errors.
var (
	ErrInvalidItem    = errors.New("graph: item must be a non-nil pointer")
	ErrVertexExists   = errors.New("graph: vertex already exists")
	ErrVertexNotFound = errors.New("graph: vertex not found")
	ErrRootSet        = errors.New("graph: root already set")
)

// Kind is the structural kind of a vertex.
type Kind int

// Vertex kinds. Entities are vertices that are neither collections nor
// complex values.
const (
	KindEntity Kind = iota
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
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Color is the reachability sweep marker.
type Color int

// Sweep colors.
const (
	White Color = iota
	Gray
	Black
)

// Edge is a directed link between two vertices. Label is the property name,
// or empty for collection membership.
type Edge struct {
	Source *Vertex
	Target *Vertex
	Label  string
}

// Vertex wraps one bound object.
type Vertex struct {
	Item      any
	Kind      Kind
	EntitySet string
	// Parent is a non-owning reference to the vertex that owns this one
	// through a single distinguished edge. Nil for the root and for
	// entities.
	Parent *Vertex
	// ParentProperty is the property on Parent that reaches this vertex.
	ParentProperty string

	color    Color
	seq      uint64
	incoming []*Edge
	outgoing []*Edge
}

// IsCollection reports whether v wraps a collection.
func (v *Vertex) IsCollection() bool { return v.Kind == KindCollection }

// IsComplex reports whether v wraps a complex value.
func (v *Vertex) IsComplex() bool { return v.Kind == KindComplex }

// IsRootCollection reports whether v is a collection without a parent.
func (v *Vertex) IsRootCollection() bool {
	return v.Kind == KindCollection && v.Parent == nil
}

// Color returns the current sweep marker. Outside a sweep it is White.
func (v *Vertex) Color() Color { return v.color }

// Outgoing returns a copy of the edges leaving v.
func (v *Vertex) Outgoing() []*Edge { return slices.Clone(v.outgoing) }

// Incoming returns a copy of the edges entering v.
func (v *Vertex) Incoming() []*Edge { return slices.Clone(v.incoming) }

// OutgoingLabeled returns the first outgoing edge with the given label.
func (v *Vertex) OutgoingLabeled(label string) *Edge {
	for _, e := range v.outgoing {
		if e.Label == label {
			return e
		}
	}
	return nil
}

// Graph is an identity-keyed directed graph with a single root.
type Graph struct {
	vertices map[any]*Vertex
	root     *Vertex
	seq      uint64
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{vertices: make(map[any]*Vertex)}
}

// AddVertex registers item and returns its new vertex. Callers must check
// Exists first; registering an item twice is an error.
func (g *Graph) AddVertex(item any) (*Vertex, error) {
	if !isIdentity(item) {
		return nil, fmt.Errorf("%w: %T", ErrInvalidItem, item)
	}
	if _, ok := g.vertices[item]; ok {
		return nil, fmt.Errorf("%w: %T", ErrVertexExists, item)
	}
	g.seq++
	v := &Vertex{Item: item, seq: g.seq}
	g.vertices[item] = v
	return v, nil
}

// Lookup returns the vertex of item, or nil.
func (g *Graph) Lookup(item any) *Vertex {
	if !isIdentity(item) {
		return nil
	}
	return g.vertices[item]
}

// Exists reports whether item has a vertex.
func (g *Graph) Exists(item any) bool {
	return g.Lookup(item) != nil
}

// Len returns the number of vertices.
func (g *Graph) Len() int {
	return len(g.vertices)
}

// Root returns the root vertex, or nil.
func (g *Graph) Root() *Vertex {
	return g.root
}

// SetRoot sets the root vertex. It may be called once per graph, with a
// registered vertex.
func (g *Graph) SetRoot(v *Vertex) error {
	if g.root != nil {
		return ErrRootSet
	}
	if v == nil || g.vertices[v.Item] != v {
		return ErrVertexNotFound
	}
	g.root = v
	return nil
}

// Vertices returns all vertices in insertion order.
func (g *Graph) Vertices() []*Vertex {
	vs := make([]*Vertex, 0, len(g.vertices))
	for _, v := range g.vertices {
		vs = append(vs, v)
	}
	slices.SortFunc(vs, func(a, b *Vertex) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return vs
}

// Items returns all bound objects in insertion order.
func (g *Graph) Items() []any {
	vs := g.Vertices()
	items := make([]any, len(vs))
	for i, v := range vs {
		items[i] = v.Item
	}
	return items
}

// AddEdge links source to target under label.
func (g *Graph) AddEdge(source, target any, label string) error {
	s, t := g.Lookup(source), g.Lookup(target)
	if s == nil || t == nil {
		return ErrVertexNotFound
	}
	e := &Edge{Source: s, Target: t, Label: label}
	s.outgoing = append(s.outgoing, e)
	t.incoming = append(t.incoming, e)
	return nil
}

// RemoveEdge removes the edge from source to target under label, if any.
func (g *Graph) RemoveEdge(source, target any, label string) {
	s, t := g.Lookup(source), g.Lookup(target)
	if s == nil || t == nil {
		return
	}
	i := slices.IndexFunc(s.outgoing, func(e *Edge) bool {
		return e.Target == t && e.Label == label
	})
	if i < 0 {
		return
	}
	e := s.outgoing[i]
	s.outgoing = slices.Delete(s.outgoing, i, i+1)
	t.incoming = removeEdge(t.incoming, e)
}

// ExistsEdge reports whether source links to target under label.
func (g *Graph) ExistsEdge(source, target any, label string) bool {
	s, t := g.Lookup(source), g.Lookup(target)
	if s == nil || t == nil {
		return false
	}
	return slices.ContainsFunc(s.outgoing, func(e *Edge) bool {
		return e.Target == t && e.Label == label
	})
}

// ClearEdgesForVertex removes every edge touching v.
func (g *Graph) ClearEdgesForVertex(v *Vertex) {
	for _, e := range v.outgoing {
		e.Target.incoming = removeEdge(e.Target.incoming, e)
	}
	for _, e := range v.incoming {
		e.Source.outgoing = removeEdge(e.Source.outgoing, e)
	}
	v.outgoing = nil
	v.incoming = nil
}

// SweepUnreachable evicts every vertex that cannot be reached from the root
// by a directed path. For each evicted vertex its edges are cleared,
// onEvict is called with its item, and it is removed from the graph. A
// graph without a root is left untouched.
func (g *Graph) SweepUnreachable(onEvict func(item any)) {
	if g.root == nil {
		return
	}
	// Colors are reset even if onEvict panics, so the next sweep starts
	// from an all-White graph.
	defer g.whiten()

	g.root.color = Gray
	queue := []*Vertex{g.root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range current.outgoing {
			if e.Target.color == White {
				e.Target.color = Gray
				queue = append(queue, e.Target)
			}
		}
		current.color = Black
	}

	var unreachable []*Vertex
	for _, v := range g.Vertices() {
		if v.color == White {
			unreachable = append(unreachable, v)
		}
	}
	for _, v := range unreachable {
		g.ClearEdgesForVertex(v)
		if onEvict != nil {
			onEvict(v.Item)
		}
		delete(g.vertices, v.Item)
	}
}

// Reset calls onEvict for every vertex and then empties the graph,
// including its root.
func (g *Graph) Reset(onEvict func(item any)) {
	if onEvict != nil {
		for _, v := range g.Vertices() {
			onEvict(v.Item)
		}
	}
	g.vertices = make(map[any]*Vertex)
	g.root = nil
}

func (g *Graph) whiten() {
	for _, v := range g.vertices {
		v.color = White
	}
}

func removeEdge(edges []*Edge, e *Edge) []*Edge {
	if i := slices.Index(edges, e); i >= 0 {
		return slices.Delete(edges, i, i+1)
	}
	return edges
}

func isIdentity(item any) bool {
	rv := reflect.ValueOf(item)
	return rv.IsValid() && rv.Kind() == reflect.Pointer && !rv.IsNil()
}
