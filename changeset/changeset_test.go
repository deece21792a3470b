package changeset_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/bindgraph"
	"github.com/syssam/bindgraph/changeset"
)

type customer struct{ ID int }

type order struct{ ID int }

func TestEntityStates(t *testing.T) {
	t.Parallel()

	cc := changeset.New()
	o := &order{ID: 1}
	require.NoError(t, cc.AttachTo("Orders", o))
	assert.Equal(t, bindgraph.StateUnchanged, cc.EntityDescriptor(o).State)
	assert.Equal(t, "Orders", cc.EntityDescriptor(o).EntitySet)

	require.NoError(t, cc.UpdateObject(o))
	assert.Equal(t, bindgraph.StateModified, cc.EntityDescriptor(o).State)

	require.NoError(t, cc.DeleteObject(o))
	assert.Equal(t, bindgraph.StateDeleted, cc.EntityDescriptor(o).State)
	require.NoError(t, cc.UpdateObject(o))
	assert.Equal(t, bindgraph.StateDeleted, cc.EntityDescriptor(o).State)

	added := &order{ID: 2}
	require.NoError(t, cc.AddObject("Orders", added))
	require.NoError(t, cc.UpdateObject(added))
	assert.Equal(t, bindgraph.StateAdded, cc.EntityDescriptor(added).State)
	require.NoError(t, cc.DeleteObject(added))
	assert.Nil(t, cc.EntityDescriptor(added), "deleting an unsaved entity detaches it")
}

func TestErrors(t *testing.T) {
	t.Parallel()

	cc := changeset.New()
	o, c := &order{ID: 1}, &customer{ID: 1}

	err := cc.AddObject("", o)
	assert.ErrorIs(t, err, changeset.ErrEntitySetRequired)

	require.NoError(t, cc.AddObject("Orders", o))
	err = cc.AttachTo("Orders", o)
	require.ErrorIs(t, err, changeset.ErrEntityAlreadyContained)
	assert.True(t, changeset.IsContextError(err))
	assert.EqualError(t, err, "changeset: AttachTo *changeset_test.order: entity is already tracked by the context")

	assert.ErrorIs(t, cc.UpdateObject(c), changeset.ErrEntityNotContained)
	assert.ErrorIs(t, cc.DeleteObject(c), changeset.ErrEntityNotContained)
	assert.ErrorIs(t, cc.AddLink(o, "Customer", c), changeset.ErrEntityNotContained)
	assert.ErrorIs(t, cc.AddRelatedObject(c, "Orders", o), changeset.ErrEntityNotContained)

	require.NoError(t, cc.AttachTo("Customers", c))
	require.NoError(t, cc.AttachLink(c, "Orders", o))
	assert.ErrorIs(t, cc.AttachLink(c, "Orders", o), changeset.ErrLinkAlreadyContained)

	require.NoError(t, cc.DeleteObject(c))
	assert.ErrorIs(t, cc.SetLink(c, "Favorite", o), changeset.ErrSourceDeleted)
	assert.ErrorIs(t, cc.AddRelatedObject(c, "Orders", &order{}), changeset.ErrSourceDeleted)
	assert.False(t, changeset.IsContextError(nil))
}

func TestLinks(t *testing.T) {
	t.Parallel()

	cc := changeset.New()
	o, c1, c2 := &order{ID: 1}, &customer{ID: 1}, &customer{ID: 2}
	require.NoError(t, cc.AttachTo("Orders", o))
	require.NoError(t, cc.AttachTo("Customers", c1))
	require.NoError(t, cc.AttachTo("Customers", c2))

	require.NoError(t, cc.SetLink(o, "Customer", c1))
	require.NotNil(t, cc.LinkDescriptor(o, "Customer", c1))
	require.NoError(t, cc.SetLink(o, "Customer", c2))
	assert.Nil(t, cc.LinkDescriptor(o, "Customer", c1), "SetLink replaces the reference")
	assert.Equal(t, bindgraph.StateModified, cc.LinkDescriptor(o, "Customer", c2).State)

	require.NoError(t, cc.SetLink(o, "Customer", nil))
	assert.Len(t, cc.Links(), 1)
	assert.Nil(t, cc.Links()[0].Target)

	assert.True(t, cc.Detach(o))
	assert.Empty(t, cc.Links())
	assert.False(t, cc.Detach(o))
}

func TestAddRelatedObject(t *testing.T) {
	t.Parallel()

	cc := changeset.New()
	c, o := &customer{ID: 1}, &order{ID: 7}
	require.NoError(t, cc.AttachTo("Customers", c))
	require.NoError(t, cc.AddRelatedObject(c, "Orders", o))

	d := cc.EntityDescriptor(o)
	require.NotNil(t, d)
	assert.Equal(t, bindgraph.StateAdded, d.State)
	assert.Same(t, c, d.ParentEntity)
	assert.Equal(t, "Orders", d.ParentProperty)
	assert.Equal(t, bindgraph.StateAdded, cc.LinkDescriptor(c, "Orders", o).State)

	es := cc.Entities()
	require.Len(t, es, 2)
	assert.Same(t, c, es[0].Entity)
	assert.Same(t, o, es[1].Entity)
}

func TestApplyChanges(t *testing.T) {
	t.Parallel()

	cc := changeset.New()
	assert.False(t, cc.IsApplyingChanges())
	err := cc.ApplyChanges(func() error {
		assert.True(t, cc.IsApplyingChanges())
		return errors.New("materialize")
	})
	assert.EqualError(t, err, "materialize")
	assert.False(t, cc.IsApplyingChanges())
}

type memorySink struct {
	batches []*changeset.Batch
	err     error
}

func (m *memorySink) Write(_ context.Context, b *changeset.Batch) error {
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, b)
	return nil
}

func TestSaveChanges(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cc := changeset.New(changeset.WithSink(sink), changeset.WithClock(func() time.Time { return now }))

	var saved []error
	key := new(int)
	cc.SubscribeChangesSaved(key, func(err error) { saved = append(saved, err) })
	cc.SubscribeChangesSaved(key, func(err error) { saved = append(saved, err) })

	c, o, gone := &customer{ID: 1}, &order{ID: 1}, &order{ID: 2}
	require.NoError(t, cc.AttachTo("Orders", gone))
	require.NoError(t, cc.AddObject("Customers", c))
	require.NoError(t, cc.AddRelatedObject(c, "Orders", o))
	require.NoError(t, cc.DeleteObject(gone))
	assert.True(t, cc.HasChanges())

	b, err := cc.SaveChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, sink.batches, 1)
	assert.Same(t, b, sink.batches[0])
	assert.Equal(t, now, b.CreatedAt)
	assert.NotEqual(t, [16]byte{}, [16]byte(b.ID))

	ops := make([]changeset.Op, 0, b.Len())
	for _, ch := range b.Changes {
		ops = append(ops, ch.Op)
	}
	assert.Equal(t, []changeset.Op{
		changeset.OpInsert,
		changeset.OpInsert,
		changeset.OpAddLink,
		changeset.OpDelete,
	}, ops)
	assert.Same(t, c, b.Changes[1].Target, "related insert names its parent")

	assert.Equal(t, bindgraph.StateUnchanged, cc.EntityDescriptor(c).State)
	assert.Equal(t, bindgraph.StateUnchanged, cc.EntityDescriptor(o).State)
	assert.Nil(t, cc.EntityDescriptor(o).ParentEntity)
	assert.Nil(t, cc.EntityDescriptor(gone))
	assert.Equal(t, bindgraph.StateUnchanged, cc.LinkDescriptor(c, "Orders", o).State)
	assert.False(t, cc.HasChanges())
	assert.Equal(t, []error{nil}, saved)

	_, err = cc.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Len(t, sink.batches, 1, "empty batches are not written")

	cc.UnsubscribeChangesSaved(key)
	cc.UnsubscribeChangesSaved(key)
	_, err = cc.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Len(t, saved, 2)
}

func TestSaveChangesFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	sink := &memorySink{err: boom}
	cc := changeset.New(changeset.WithSink(changeset.SinkFunc(sink.Write)))

	var saved []error
	cc.SubscribeChangesSaved("k", func(err error) { saved = append(saved, err) })

	o := &order{ID: 1}
	require.NoError(t, cc.AddObject("Orders", o))
	_, err := cc.SaveChanges(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, bindgraph.StateAdded, cc.EntityDescriptor(o).State, "states are not settled")
	assert.Equal(t, []error{boom}, saved)
}

func TestOpString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "insert", changeset.OpInsert.String())
	assert.Equal(t, "set_link", changeset.OpSetLink.String())
	assert.Equal(t, "Op(0)", changeset.Op(0).String())
}
