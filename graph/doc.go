// Package graph provides the identity-keyed object graph used by change
// tracking.
//
// The graph mirrors a tree of bound objects. Each bound object is wrapped in
// exactly one Vertex, looked up by identity (the pointer stored in an any),
// never by value:
//
//	type Vertex struct {
//	    Item      any    // the bound object
//	    Kind      Kind   // Entity, Collection or Complex
//	    EntitySet string // remote collection label, resolved lazily
//	    Parent    *Vertex
//	    ...
//	}
//
// # Edges
//
// Edges are plain records linking two vertices:
//
//   - labeled with a property name for entity and complex references
//   - unlabeled for collection membership
//
// # Reachability
//
// Mutations only remove edges. Vertices orphaned by a removal are found by
// SweepUnreachable, a breadth-first tri-color (White/Gray/Black) walk from
// the single root collection. Everything still White after the walk is
// evicted, and the eviction callback lets the caller drop its notification
// subscriptions:
//
//	g.RemoveEdge(order, line, "Lines")
//	g.SweepUnreachable(func(item any) {
//	    unsubscribe(item)
//	})
//
// A vertex can be reachable through several paths, so eviction is never
// decided locally.
//
// # Concurrency
//
// A Graph is confined to one goroutine. It performs no locking.
package graph
