package reconcile

import (
	"testing"
	"time"

	"orderwatch/orders"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshotTarget struct {
	snap      *orders.Snapshot
	refetches int
}

func (t *snapshotTarget) ApplyPatch(p orders.Patch) bool     { return t.snap.Apply(p) }
func (t *snapshotTarget) Order(id int64) (orders.Order, bool) { return t.snap.Get(id) }
func (t *snapshotTarget) RequestRefetch()                     { t.refetches++ }

type collector struct {
	got []Notification
}

func (c *collector) Notify(n Notification) { c.got = append(c.got, n) }

func newTarget() *snapshotTarget {
	return &snapshotTarget{snap: orders.NewSnapshot([]orders.Order{
		{ID: 7, OrderNo: "T7", RestaurantName: "Noodle House", Status: orders.StatusConfirmed, UpdatedAt: "2024-05-01T12:00:00"},
		{ID: 8, OrderNo: "T8", RestaurantName: "Dumpling Bar", Status: orders.StatusPaid},
	})}
}

func preparing() orders.StatusEvent {
	return orders.StatusEvent{
		Type:           orders.TypeStatusUpdate,
		OrderID:        7,
		OrderNo:        "T7",
		RestaurantName: "Noodle House",
		OldStatus:      orders.StatusConfirmed,
		NewStatus:      orders.StatusPreparing,
		StatusLabel:    "制作中",
		UpdatedAt:      "2024-05-01T12:05:00",
	}
}

func TestConsumerTransition(t *testing.T) {
	c := &collector{}
	fixed := time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC)
	r := New(RoleConsumer, c, nil, WithClock(func() time.Time { return fixed }))
	target := newTarget()

	out := r.Reconcile(preparing(), target, SourcePush)
	assert.Equal(t, OutcomePatched, out)

	got, _ := target.snap.Get(7)
	assert.Equal(t, orders.StatusPreparing, got.Status)

	require.Len(t, c.got, 1)
	n := c.got[0]
	assert.Equal(t, "Noodle House 的订单已变为「制作中」", n.Message)
	assert.Equal(t, "订单状态更新", n.Title)
	assert.Equal(t, KindInfo, n.Kind)
	assert.Equal(t, SourcePush, n.Source)
	assert.Equal(t, fixed, n.CreatedAt)
	assert.NotEmpty(t, n.ID)
}

func TestDuplicateEventIsIdempotent(t *testing.T) {
	c := &collector{}
	r := New(RoleConsumer, c, nil)
	target := newTarget()

	r.Reconcile(preparing(), target, SourcePush)
	after1 := target.snap.Orders()
	r.Reconcile(preparing(), target, SourcePush)

	assert.Equal(t, after1, target.snap.Orders())
	assert.Len(t, c.got, 2)
	assert.NotEqual(t, c.got[0].ID, c.got[1].ID)
}

func TestMissingOrderNotInserted(t *testing.T) {
	c := &collector{}
	r := New(RoleConsumer, c, nil)
	target := newTarget()
	ev := preparing()
	ev.OrderID = 99

	assert.Equal(t, OutcomeMissing, r.Reconcile(ev, target, SourcePush))
	assert.Equal(t, 2, target.snap.Len())
	_, ok := target.snap.Get(99)
	assert.False(t, ok)
	assert.Len(t, c.got, 1)
}

func TestUnknownStatusShowsRawCode(t *testing.T) {
	c := &collector{}
	r := New(RoleConsumer, c, nil)
	ev := preparing()
	ev.NewStatus = "REFUNDED"

	r.Reconcile(ev, newTarget(), SourcePoll)
	require.Len(t, c.got, 1)
	assert.Equal(t, "REFUNDED", c.got[0].StatusLabel)
	assert.Equal(t, "Noodle House 的订单已变为「REFUNDED」", c.got[0].Message)
}

func TestMerchantTransitionNamesOrder(t *testing.T) {
	c := &collector{}
	r := New(RoleMerchant, c, nil)
	target := newTarget()

	assert.Equal(t, OutcomePatched, r.Reconcile(preparing(), target, SourcePush))
	require.Len(t, c.got, 1)
	assert.Equal(t, "订单 T7 已变为「制作中」", c.got[0].Message)
	assert.Zero(t, target.refetches)
}

func TestMerchantNewOrderRefetches(t *testing.T) {
	c := &collector{}
	r := New(RoleMerchant, c, nil)
	target := newTarget()
	before := target.snap.Orders()

	ev := orders.StatusEvent{Type: orders.TypeNewOrder, OrderID: 12, OrderNo: "T12",
		NewStatus: orders.StatusPaid, Message: "您有新订单，请及时处理"}
	assert.Equal(t, OutcomeRefetch, r.Reconcile(ev, target, SourcePush))

	assert.Equal(t, 1, target.refetches)
	assert.Equal(t, before, target.snap.Orders())
	require.Len(t, c.got, 1)
	assert.Equal(t, "新订单提醒", c.got[0].Title)
	assert.Equal(t, KindSuccess, c.got[0].Kind)
	assert.Equal(t, "您有新订单，请及时处理", c.got[0].Message)
}

func TestEventWithoutStatusIgnored(t *testing.T) {
	c := &collector{}
	r := New(RoleConsumer, c, nil)
	ev := orders.StatusEvent{Type: orders.TypeNewOrder, OrderID: 7}

	assert.Equal(t, OutcomeIgnored, r.Reconcile(ev, newTarget(), SourcePush))
	assert.Empty(t, c.got)
}

func TestRejectStale(t *testing.T) {
	ev := preparing()
	ev.UpdatedAt = "2024-05-01T11:00:00"

	c := &collector{}
	strict := New(RoleConsumer, c, nil, WithRejectStale(true))
	target := newTarget()
	assert.Equal(t, OutcomeStale, strict.Reconcile(ev, target, SourcePush))
	got, _ := target.snap.Get(7)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
	assert.Empty(t, c.got)

	// Default behavior overwrites regardless of order.
	lenient := New(RoleConsumer, c, nil)
	assert.Equal(t, OutcomePatched, lenient.Reconcile(ev, target, SourcePush))
	got, _ = target.snap.Get(7)
	assert.Equal(t, orders.StatusPreparing, got.Status)
}

func TestRejectStaleNeedsBothTimestamps(t *testing.T) {
	r := New(RoleConsumer, nil, nil, WithRejectStale(true))
	ev := preparing()
	ev.OrderID = 8 // held order has no updatedAt
	ev.UpdatedAt = "2020-01-01T00:00:00"
	assert.Equal(t, OutcomePatched, r.Reconcile(ev, newTarget(), SourcePush))
}
