package binding_test

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syssam/bindgraph"
	"github.com/syssam/bindgraph/binding"
	"github.com/syssam/bindgraph/changeset"
	"github.com/syssam/bindgraph/collection"
)

type Address struct {
	bindgraph.Notifier
	City string
}

func (a *Address) String() string { return "Address(" + a.City + ")" }

func (a *Address) SetCity(city string) error {
	a.City = city
	return a.NotifyPropertyChanged(a, "City")
}

type Customer struct {
	bindgraph.Notifier
	ID   int
	Name string
}

func (c *Customer) String() string { return fmt.Sprintf("Customer%d", c.ID) }

func (c *Customer) SetName(name string) error {
	c.Name = name
	return c.NotifyPropertyChanged(c, "Name")
}

type OrderLine struct {
	bindgraph.Notifier
	ID  int
	Qty int
}

func (l *OrderLine) String() string { return fmt.Sprintf("Line%d", l.ID) }

type Order struct {
	bindgraph.Notifier
	ID           int
	Note         string
	Customer     *Customer
	Lines        *collection.Collection[*OrderLine]
	ShippingInfo *Address
}

func (o *Order) String() string { return fmt.Sprintf("Order%d", o.ID) }

func (o *Order) SetNote(note string) error {
	o.Note = note
	return o.NotifyPropertyChanged(o, "Note")
}

func (o *Order) SetCustomer(c *Customer) error {
	o.Customer = c
	return o.NotifyPropertyChanged(o, "Customer")
}

func (o *Order) SetLines(lines *collection.Collection[*OrderLine]) error {
	o.Lines = lines
	return o.NotifyPropertyChanged(o, "Lines")
}

func (o *Order) SetShippingInfo(a *Address) error {
	o.ShippingInfo = a
	return o.NotifyPropertyChanged(o, "ShippingInfo")
}

// Bare is an entity without change notification.
type Bare struct {
	ID int
}

// recorder is a changeset.Context that records the calls made on it.
type recorder struct {
	*changeset.Context
	calls []string
}

func newRecorder() *recorder {
	return &recorder{Context: changeset.New(changeset.WithLogger(discardLogger()))}
}

func (r *recorder) record(format string, args ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) take() []string {
	calls := r.calls
	r.calls = nil
	return calls
}

func (r *recorder) AttachTo(set string, e any) error {
	r.record("AttachTo(%s,%v)", set, e)
	return r.Context.AttachTo(set, e)
}

func (r *recorder) AttachLink(s any, p string, t any) error {
	r.record("AttachLink(%v,%s,%v)", s, p, t)
	return r.Context.AttachLink(s, p, t)
}

func (r *recorder) AddObject(set string, e any) error {
	r.record("AddObject(%s,%v)", set, e)
	return r.Context.AddObject(set, e)
}

func (r *recorder) AddRelatedObject(s any, p string, t any) error {
	r.record("AddRelatedObject(%v,%s,%v)", s, p, t)
	return r.Context.AddRelatedObject(s, p, t)
}

func (r *recorder) AddLink(s any, p string, t any) error {
	r.record("AddLink(%v,%s,%v)", s, p, t)
	return r.Context.AddLink(s, p, t)
}

func (r *recorder) SetLink(s any, p string, t any) error {
	r.record("SetLink(%v,%s,%v)", s, p, t)
	return r.Context.SetLink(s, p, t)
}

func (r *recorder) DeleteObject(e any) error {
	r.record("DeleteObject(%v)", e)
	return r.Context.DeleteObject(e)
}

func (r *recorder) Detach(e any) bool {
	r.record("Detach(%v)", e)
	return r.Context.Detach(e)
}

func (r *recorder) UpdateObject(e any) error {
	r.record("UpdateObject(%v)", e)
	return r.Context.UpdateObject(e)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// track starts an observer on orders and discards the calls made while
// attaching.
func track(t *testing.T, orders *collection.Collection[*Order], opts ...binding.Option) (*binding.Observer, *recorder) {
	t.Helper()
	r := newRecorder()
	opts = append([]binding.Option{binding.WithLogger(discardLogger())}, opts...)
	obs := binding.New(r, opts...)
	require.NoError(t, obs.StartTracking(orders, "Orders"))
	r.take()
	return obs, r
}
