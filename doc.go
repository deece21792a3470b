// Package bindgraph tracks changes made to a graph of bound objects and
// replays them against a persistence context.
//
// A tracked graph is rooted at a collection of entities. Entities expose
// change notification through PropertyNotifier and collections through
// TrackedCollection. The binding package subscribes to those notifications,
// keeps an identity-keyed graph (package graph) of everything reachable from
// the root, and translates each mutation into calls on a ChangeContext:
//
//	orders := collection.New[*Order]()
//	obs := binding.New(changeset.New())
//	if err := obs.StartTracking(orders, "Orders"); err != nil {
//	    return err
//	}
//	// Issues ctx.AddObject("Orders", order).
//	if err := orders.Add(&Order{ID: 1}); err != nil {
//	    return err
//	}
//
// # Object kinds
//
// Types are classified by package entityinfo:
//
//   - Entity: pointer to a struct with a key field (tagged `bind:"key"`,
//     or named ID / ending in ID)
//   - Collection: a TrackedCollection whose element type is an entity
//   - Complex: a notifying pointer-to-struct that is neither of the above
//
// # Errors
//
// Structural invariant violations are reported as *StructuralError and
// lifecycle violations as *PreconditionError. Both wrap a sentinel that
// can be matched with errors.Is.
package bindgraph
