package binding_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/bindgraph"
	"github.com/syssam/bindgraph/binding"
	"github.com/syssam/bindgraph/collection"
	"github.com/syssam/bindgraph/entityinfo"
)

func TestStartTrackingAttachesGraph(t *testing.T) {
	t.Parallel()

	addr := &Address{City: "Bergen"}
	order := &Order{
		ID:           1,
		Customer:     &Customer{ID: 1},
		Lines:        collection.New(&OrderLine{ID: 1}),
		ShippingInfo: addr,
	}
	orders := collection.New(order)

	r := newRecorder()
	obs := binding.New(r, binding.WithLogger(discardLogger()))
	require.NoError(t, obs.StartTracking(orders, "Orders"))

	assert.Equal(t, []string{
		"AttachTo(Orders,Order1)",
		"AttachTo(Customers,Customer1)",
		"AttachLink(Order1,Customer,Customer1)",
		"AttachTo(OrderLines,Line1)",
		"AttachLink(Order1,Lines,Line1)",
	}, r.take())
	assert.Equal(t, 6, obs.Len())
	assert.True(t, obs.IsTracking())
	assert.True(t, obs.Tracks(addr))
	assert.Equal(t, 1, order.Subscribers())
	assert.Equal(t, 1, orders.Subscribers())
	assert.Same(t, obs, orders.Observer())
	assert.Same(t, obs, order.Lines.Observer())

	err := obs.StartTracking(orders, "Orders")
	require.ErrorIs(t, err, bindgraph.ErrAlreadyTracking)
	assert.True(t, bindgraph.IsPreconditionError(err))
}

func TestStartTrackingRequiresEntityType(t *testing.T) {
	t.Parallel()

	obs := binding.New(newRecorder(), binding.WithLogger(discardLogger()))
	err := obs.StartTracking(collection.New[*Address](), "Addresses")
	require.ErrorIs(t, err, bindgraph.ErrEntityTypeRequired)
	assert.True(t, bindgraph.IsStructuralError(err))
	assert.Contains(t, err.Error(), "argument must carry an entity type")

	err = obs.StartTracking(nil, "")
	assert.ErrorIs(t, err, bindgraph.ErrEntityTypeRequired)
	assert.False(t, obs.IsTracking())
}

func TestStartTrackingFailureLeavesNothingBehind(t *testing.T) {
	t.Parallel()

	t.Run("missing entity set", func(t *testing.T) {
		t.Parallel()
		order := &Order{ID: 1}
		orders := collection.New(order)
		obs := binding.New(newRecorder(),
			binding.WithLogger(discardLogger()),
			binding.WithClassifier(entityinfo.New(entityinfo.NoSetNaming())),
		)
		err := obs.StartTracking(orders, "")
		require.ErrorIs(t, err, bindgraph.ErrMissingEntitySet)
		assert.Zero(t, obs.Len())
		assert.Zero(t, order.Subscribers())
		assert.Zero(t, orders.Subscribers())
		assert.Nil(t, orders.Observer())
		assert.False(t, obs.IsTracking())
	})

	t.Run("notifier required", func(t *testing.T) {
		t.Parallel()
		obs := binding.New(newRecorder(), binding.WithLogger(discardLogger()))
		err := obs.StartTracking(collection.New(&Bare{ID: 1}), "Bares")
		require.ErrorIs(t, err, bindgraph.ErrNotifierRequired)
		assert.Zero(t, obs.Len())
	})
}

func TestAddToRootCollection(t *testing.T) {
	t.Parallel()

	orders := collection.New[*Order]()
	obs, r := track(t, orders)

	order := &Order{ID: 1}
	require.NoError(t, orders.Add(order))
	assert.Equal(t, []string{"AddObject(Orders,Order1)"}, r.take())
	assert.True(t, obs.Tracks(order))
	assert.Equal(t, bindgraph.StateAdded, r.EntityDescriptor(order).State)

	err := orders.Add(order)
	require.ErrorIs(t, err, bindgraph.ErrRelationExists)
	assert.Empty(t, r.take())

	err = orders.Add(nil)
	require.ErrorIs(t, err, bindgraph.ErrNilItem)
	assert.True(t, bindgraph.IsStructuralError(err))
}

func TestComplexPropertyUpdateRoutesToOwner(t *testing.T) {
	t.Parallel()

	addr := &Address{City: "Bergen"}
	order := &Order{ID: 1, ShippingInfo: addr}
	var changes []*bindgraph.EntityChange
	_, r := track(t, collection.New(order), binding.WithEntityChanged(func(c *bindgraph.EntityChange) bool {
		changes = append(changes, c)
		return false
	}))

	require.NoError(t, addr.SetCity("Oslo"))
	assert.Equal(t, []string{"UpdateObject(Order1)"}, r.take())
	require.Len(t, changes, 1)
	assert.Same(t, order, changes[0].Entity)
	assert.Equal(t, "ShippingInfo", changes[0].PropertyName)
	assert.Same(t, addr, changes[0].PropertyValue)
	assert.Equal(t, bindgraph.StateModified, r.EntityDescriptor(order).State)
}

func TestCascadingRemovalOfUnsavedChildren(t *testing.T) {
	t.Parallel()

	orders := collection.New[*Order]()
	obs, r := track(t, orders)

	lines := collection.New[*OrderLine]()
	order := &Order{ID: 1, Lines: lines}
	line := &OrderLine{ID: 1}
	require.NoError(t, orders.Add(order))
	require.NoError(t, lines.Add(line))
	assert.Equal(t, []string{
		"AddObject(Orders,Order1)",
		"AddRelatedObject(Order1,Lines,Line1)",
	}, r.take())

	_, err := orders.Remove(order)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"DeleteObject(Line1)",
		"DeleteObject(Order1)",
	}, r.take())
	assert.Nil(t, r.EntityDescriptor(line))
	assert.Nil(t, r.EntityDescriptor(order))

	assert.Equal(t, 1, obs.Len())
	assert.False(t, obs.Tracks(lines))
	assert.Zero(t, order.Subscribers())
	assert.Zero(t, line.Subscribers())
	assert.Zero(t, lines.Subscribers())
	assert.Nil(t, lines.Observer())
}

func TestWholeEntityAndScalarUpdates(t *testing.T) {
	t.Parallel()

	order := &Order{ID: 1}
	var changes []*bindgraph.EntityChange
	_, r := track(t, collection.New(order), binding.WithEntityChanged(func(c *bindgraph.EntityChange) bool {
		changes = append(changes, c)
		return false
	}))

	require.NoError(t, order.SetNote("gift wrap"))
	require.NoError(t, order.NotifyPropertyChanged(order, ""))
	assert.Equal(t, []string{"UpdateObject(Order1)", "UpdateObject(Order1)"}, r.take())
	require.Len(t, changes, 2)
	assert.Equal(t, "Note", changes[0].PropertyName)
	assert.Equal(t, "gift wrap", changes[0].PropertyValue)
	assert.Equal(t, "Orders", changes[0].SourceEntitySet)
	assert.Empty(t, changes[1].PropertyName)
}

func TestReferenceChanges(t *testing.T) {
	t.Parallel()

	shared := &Customer{ID: 1}
	o1 := &Order{ID: 1, Customer: shared}
	o2 := &Order{ID: 2, Customer: shared}
	obs, r := track(t, collection.New(o1, o2))

	assert.Equal(t, 1, shared.Subscribers(), "admission is idempotent")
	require.NoError(t, shared.SetName("Ada"))
	assert.Equal(t, []string{"UpdateObject(Customer1)"}, r.take())

	require.NoError(t, o1.SetCustomer(nil))
	assert.Equal(t, []string{"SetLink(Order1,Customer,<nil>)"}, r.take())
	assert.True(t, obs.Tracks(shared), "still reachable through Order2")

	fresh := &Customer{ID: 2}
	require.NoError(t, o2.SetCustomer(fresh))
	assert.Equal(t, []string{
		"AddObject(Customers,Customer2)",
		"SetLink(Order2,Customer,Customer2)",
	}, r.take())
	assert.False(t, obs.Tracks(shared))
	assert.Zero(t, shared.Subscribers())
	assert.True(t, obs.Tracks(fresh))
}

func TestComplexValueHasSingleOwner(t *testing.T) {
	t.Parallel()

	addr := &Address{City: "Bergen"}
	o1 := &Order{ID: 1, ShippingInfo: addr}
	o2 := &Order{ID: 2}
	obs, r := track(t, collection.New(o1, o2))
	before := obs.Len()

	err := o2.SetShippingInfo(addr)
	require.ErrorIs(t, err, bindgraph.ErrComplexShared)
	assert.True(t, bindgraph.IsStructuralError(err))
	assert.Equal(t, before, obs.Len())
	assert.Equal(t, 1, addr.Subscribers())
	assert.Empty(t, r.take())

	other := &Address{City: "Oslo"}
	require.NoError(t, o2.SetShippingInfo(other))
	assert.Equal(t, []string{"UpdateObject(Order2)"}, r.take())
	assert.True(t, obs.Tracks(other))

	require.NoError(t, o1.SetShippingInfo(nil))
	assert.False(t, obs.Tracks(addr))
	assert.Zero(t, addr.Subscribers())
}

func TestChildCollectionReplaced(t *testing.T) {
	t.Parallel()

	old := collection.New(&OrderLine{ID: 1})
	order := &Order{ID: 1, Lines: old}
	obs, r := track(t, collection.New(order))

	fresh := collection.New(&OrderLine{ID: 2})
	require.NoError(t, order.SetLines(fresh))
	assert.Equal(t, []string{
		"AttachTo(OrderLines,Line2)",
		"AttachLink(Order1,Lines,Line2)",
	}, r.take())
	assert.False(t, obs.Tracks(old))
	assert.Nil(t, old.Observer())
	assert.Same(t, obs, fresh.Observer())

	line := &OrderLine{ID: 3}
	require.NoError(t, fresh.Add(line))
	assert.Equal(t, []string{"AddRelatedObject(Order1,Lines,Line3)"}, r.take())
}

func TestCollectionObservedElsewhere(t *testing.T) {
	t.Parallel()

	lines := collection.New[*OrderLine]()
	track(t, collection.New(&Order{ID: 1, Lines: lines}))

	other := &Order{ID: 2}
	obs, _ := track(t, collection.New(other))
	err := other.SetLines(lines)
	require.ErrorIs(t, err, bindgraph.ErrAlreadyObserved)
	assert.False(t, obs.Tracks(lines))
}

func TestReplaceResetAndMove(t *testing.T) {
	t.Parallel()

	o1, o2, o3 := &Order{ID: 1}, &Order{ID: 2}, &Order{ID: 3}
	orders := collection.New(o1, o3)
	obs, r := track(t, orders)

	require.NoError(t, orders.Set(0, o2))
	assert.Equal(t, []string{"DeleteObject(Order1)", "AddObject(Orders,Order2)"}, r.take())
	assert.False(t, obs.Tracks(o1))

	require.NoError(t, orders.Move(0, 1))
	assert.Empty(t, r.take())

	require.NoError(t, orders.Clear())
	assert.Equal(t, []string{"DeleteObject(Order3)", "DeleteObject(Order2)"}, r.take(), "members are removed in admission order")
	assert.Equal(t, 1, obs.Len())
}

func TestMoveReject(t *testing.T) {
	t.Parallel()

	orders := collection.New(&Order{ID: 1}, &Order{ID: 2})
	_, r := track(t, orders, binding.WithMovePolicy(binding.MoveReject))

	err := orders.Move(0, 1)
	require.ErrorIs(t, err, bindgraph.ErrUnsupportedAction)
	assert.Empty(t, r.take())
}

func TestInterceptorVeto(t *testing.T) {
	t.Parallel()

	var offered []*bindgraph.CollectionChange
	orders := collection.New[*Order]()
	obs, r := track(t, orders, binding.WithCollectionChanged(func(c *bindgraph.CollectionChange) bool {
		offered = append(offered, c)
		return true
	}))

	order := &Order{ID: 1}
	require.NoError(t, orders.Add(order))
	assert.Empty(t, r.take())
	assert.True(t, obs.Tracks(order), "vetoed changes stay in the graph")
	require.Len(t, offered, 1)
	assert.Equal(t, bindgraph.ActionAdd, offered[0].Action)
	assert.Same(t, order, offered[0].Target)
	assert.Same(t, orders, offered[0].Collection)
	assert.Equal(t, "Orders", offered[0].TargetEntitySet)
	assert.Nil(t, offered[0].Source)
}

func TestDetachedSource(t *testing.T) {
	t.Parallel()

	lines := collection.New[*OrderLine]()
	order := &Order{ID: 1, Lines: lines}
	var r *recorder
	_, r = track(t, collection.New(order), binding.WithCollectionChanged(func(c *bindgraph.CollectionChange) bool {
		r.Context.Detach(c.Source)
		return false
	}))

	err := lines.Add(&OrderLine{ID: 1})
	require.ErrorIs(t, err, bindgraph.ErrDetachedSource)
	assert.True(t, bindgraph.IsPreconditionError(err))
	assert.Empty(t, r.take())
}

func TestDetachedReferenceSource(t *testing.T) {
	t.Parallel()

	order := &Order{ID: 1}
	var r *recorder
	_, r = track(t, collection.New(order), binding.WithEntityChanged(func(c *bindgraph.EntityChange) bool {
		r.Context.Detach(c.Entity)
		return false
	}))

	err := order.SetCustomer(&Customer{ID: 9})
	require.ErrorIs(t, err, bindgraph.ErrDetachedSource)
	assert.True(t, bindgraph.IsPreconditionError(err))
	assert.Empty(t, r.take())
	assert.Nil(t, r.EntityDescriptor(order))
}

func TestApplyingChangesIsIgnored(t *testing.T) {
	t.Parallel()

	orders := collection.New[*Order]()
	obs, r := track(t, orders)

	order := &Order{ID: 1}
	require.NoError(t, r.ApplyChanges(func() error {
		return orders.Add(order)
	}))
	assert.Empty(t, r.take())
	assert.True(t, obs.Tracks(order))
}

func TestLoadAttaches(t *testing.T) {
	t.Parallel()

	orders := collection.New[*Order]()
	obs, r := track(t, orders)

	require.NoError(t, obs.Load(orders, &Order{ID: 1, Customer: &Customer{ID: 5}}))
	assert.Equal(t, []string{
		"AttachTo(Orders,Order1)",
		"AttachTo(Customers,Customer5)",
		"AttachLink(Order1,Customer,Customer5)",
	}, r.take())

	require.NoError(t, orders.Add(&Order{ID: 2}))
	assert.Equal(t, []string{"AddObject(Orders,Order2)"}, r.take(), "attach mode ends with Load")

	untracked := collection.New[*Order]()
	require.NoError(t, obs.Load(untracked, &Order{ID: 3}))
	assert.Equal(t, 1, untracked.Len())
	assert.Empty(t, r.take())
}

func TestLoadSkipsHeldItems(t *testing.T) {
	t.Parallel()

	order := &Order{ID: 1}
	orders := collection.New(order)
	obs, r := track(t, orders)
	r.take()

	require.NoError(t, obs.Load(orders, order))
	assert.Equal(t, 1, orders.Len())
	assert.Empty(t, r.take())

	next := &Order{ID: 2}
	require.NoError(t, obs.Load(orders, order, next, next))
	assert.Equal(t, 2, orders.Len())
	assert.Equal(t, []string{"AttachTo(Orders,Order2)"}, r.take())

	untracked := collection.New(next)
	require.NoError(t, obs.Load(untracked, next))
	assert.Equal(t, 1, untracked.Len())
}

func TestClear(t *testing.T) {
	t.Parallel()

	t.Run("delete", func(t *testing.T) {
		t.Parallel()
		orders := collection.New(&Order{ID: 1})
		obs, r := track(t, orders)
		require.NoError(t, obs.Clear(orders, false))
		assert.Equal(t, []string{"DeleteObject(Order1)"}, r.take())
	})

	t.Run("detach", func(t *testing.T) {
		t.Parallel()
		lines := collection.New[*OrderLine]()
		order := &Order{ID: 1, Lines: lines}
		orders := collection.New(order)
		obs, r := track(t, orders)
		require.NoError(t, lines.Add(&OrderLine{ID: 9}))
		r.take()

		require.NoError(t, obs.Clear(orders, true))
		assert.Equal(t, []string{"Detach(Line9)", "Detach(Order1)"}, r.take())
		assert.Equal(t, 1, obs.Len())
		assert.True(t, obs.IsTracking())

		require.NoError(t, orders.Add(&Order{ID: 2}))
		assert.Equal(t, []string{"AddObject(Orders,Order2)"}, r.take(), "detach mode ends with Clear")
	})
}

func TestDetachAndStopTracking(t *testing.T) {
	t.Parallel()

	lines := collection.New[*OrderLine]()
	order := &Order{ID: 1, Lines: lines}
	orders := collection.New(order)
	obs, r := track(t, orders)

	err := obs.Detach(lines)
	require.ErrorIs(t, err, bindgraph.ErrNotRoot)
	assert.True(t, bindgraph.IsPreconditionError(err))
	assert.ErrorIs(t, obs.Detach(collection.New[*Order]()), bindgraph.ErrNotTracking)

	require.NoError(t, obs.Detach(orders))
	assert.False(t, obs.IsTracking())
	assert.Zero(t, obs.Len())
	assert.Zero(t, orders.Subscribers())
	assert.Zero(t, order.Subscribers())
	assert.Nil(t, orders.Observer())
	assert.Nil(t, lines.Observer())

	require.NoError(t, orders.Add(&Order{ID: 2}))
	assert.Empty(t, r.take())
	assert.ErrorIs(t, obs.Detach(orders), bindgraph.ErrNotTracking)
	obs.StopTracking()

	require.NoError(t, obs.StartTracking(orders, "Orders"), "an observer can track again")
	assert.Equal(t, 4, obs.Len())
}

func TestChangesSavedDropsUntrackedEntities(t *testing.T) {
	t.Parallel()

	customer := &Customer{ID: 1}
	order := &Order{ID: 1, Customer: customer}
	obs, r := track(t, collection.New(order))

	assert.True(t, r.Context.Detach(customer))
	_, err := r.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.False(t, obs.Tracks(customer))
	assert.Zero(t, customer.Subscribers())
	assert.True(t, obs.Tracks(order))

	obs.StopTracking()
	r.Context.Detach(order)
	_, err = r.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Zero(t, obs.Len())
}
