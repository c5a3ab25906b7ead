package orderview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"orderwatch/orders"
	"orderwatch/realtime"
	"orderwatch/reconcile"
	"orderwatch/restapi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	state    realtime.State
	handlers map[string]realtime.Handler
	subCalls int

	// entered and gate, when set, hold subscribe until gate is closed.
	entered chan struct{}
	gate    chan struct{}
}

func newFakeConn(s realtime.State) *fakeConn {
	return &fakeConn{state: s, handlers: make(map[string]realtime.Handler)}
}

func (c *fakeConn) State() realtime.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) setState(s realtime.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *fakeConn) hold() (entered, gate chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entered = make(chan struct{})
	c.gate = make(chan struct{})
	return c.entered, c.gate
}

func (c *fakeConn) subscribe(topic string, h realtime.Handler) error {
	c.mu.Lock()
	entered, gate := c.entered, c.gate
	c.entered, c.gate = nil, nil
	c.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != realtime.StateConnected {
		return realtime.ErrNotConnected
	}
	c.handlers[topic] = h
	c.subCalls++
	return nil
}

func (c *fakeConn) SubscribeToUserOrders(id int64, h realtime.Handler) error {
	return c.subscribe(realtime.UserOrdersTopic(id), h)
}

func (c *fakeConn) SubscribeToMerchantOrders(id int64, h realtime.Handler) error {
	return c.subscribe(realtime.MerchantOrdersTopic(id), h)
}

func (c *fakeConn) Unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.handlers, topic)
	c.mu.Unlock()
}

func (c *fakeConn) push(topic string, ev orders.StatusEvent) bool {
	c.mu.Lock()
	h, ok := c.handlers[topic]
	c.mu.Unlock()
	if ok {
		h(ev)
	}
	return ok
}

func (c *fakeConn) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[topic]
	return ok
}

type fakeAPI struct {
	mu      sync.Mutex
	list    []orders.Order
	err     error
	calls   int
	queries []restapi.OrderQuery
}

func (a *fakeAPI) fetch(ctx context.Context, q restapi.OrderQuery) (*restapi.Page[orders.Order], error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.queries = append(a.queries, q)
	if a.err != nil {
		return nil, a.err
	}
	out := make([]orders.Order, len(a.list))
	copy(out, a.list)
	return &restapi.Page[orders.Order]{Content: out, TotalElements: int64(len(out)), Size: q.Size}, nil
}

func (a *fakeAPI) set(list []orders.Order, err error) {
	a.mu.Lock()
	a.list = list
	a.err = err
	a.mu.Unlock()
}

func (a *fakeAPI) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type toasts struct {
	mu   sync.Mutex
	list []reconcile.Notification
}

func (t *toasts) Notify(n reconcile.Notification) {
	t.mu.Lock()
	t.list = append(t.list, n)
	t.mu.Unlock()
}

func (t *toasts) all() []reconcile.Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]reconcile.Notification, len(t.list))
	copy(out, t.list)
	return out
}

func consumerOrders() []orders.Order {
	return []orders.Order{
		{ID: 7, OrderNo: "T7", RestaurantName: "Noodle House", Status: orders.StatusPaid},
		{ID: 8, OrderNo: "T8", RestaurantName: "Dumpling Bar", Status: orders.StatusCompleted},
	}
}

func newView(t *testing.T, role reconcile.Role, state realtime.State, interval time.Duration) (*View, *fakeConn, *fakeAPI, *toasts) {
	t.Helper()
	conn := newFakeConn(state)
	api := &fakeAPI{list: consumerOrders()}
	notes := &toasts{}
	rec := reconcile.New(role, notes, nil)
	v := New(Config{Role: role, Identity: 42, PageSize: 20, PollInterval: interval}, conn, api.fetch, rec, nil, nil)
	t.Cleanup(v.Unmount)
	return v, conn, api, notes
}

func statusOf(t *testing.T, v *View, id int64) string {
	t.Helper()
	o, ok := v.Order(id)
	require.True(t, ok)
	return o.Status
}

func TestMountLoadsAndSubscribes(t *testing.T) {
	v, conn, api, _ := newView(t, reconcile.RoleConsumer, realtime.StateConnected, time.Hour)
	require.NoError(t, v.Mount(context.Background()))

	assert.Len(t, v.Orders(), 2)
	assert.Equal(t, int64(2), v.Total())
	assert.True(t, conn.subscribed("/topic/user/42/orders"))
	assert.Equal(t, 20, api.queries[0].Size)
	assert.False(t, v.Polling())
}

func TestPushPatchesAndNotifies(t *testing.T) {
	v, conn, _, notes := newView(t, reconcile.RoleConsumer, realtime.StateConnected, time.Hour)
	require.NoError(t, v.Mount(context.Background()))

	ok := conn.push(v.Topic(), orders.StatusEvent{
		Type: orders.TypeOrderStatusUpdate, OrderID: 7, OrderNo: "T7",
		RestaurantName: "Noodle House", OldStatus: orders.StatusPaid, NewStatus: orders.StatusPreparing,
	})
	require.True(t, ok)

	assert.Equal(t, orders.StatusPreparing, statusOf(t, v, 7))
	got := notes.all()
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Message, "Noodle House")
	assert.Contains(t, got[0].Message, "制作中")
	assert.Equal(t, reconcile.SourcePush, got[0].Source)
}

func TestDuplicatePushIsIdempotent(t *testing.T) {
	v, conn, _, notes := newView(t, reconcile.RoleConsumer, realtime.StateConnected, time.Hour)
	require.NoError(t, v.Mount(context.Background()))

	ev := orders.StatusEvent{Type: orders.TypeOrderStatusUpdate, OrderID: 7, RestaurantName: "Noodle House", NewStatus: orders.StatusPreparing}
	conn.push(v.Topic(), ev)
	conn.push(v.Topic(), ev)

	assert.Equal(t, orders.StatusPreparing, statusOf(t, v, 7))
	assert.Equal(t, orders.StatusCompleted, statusOf(t, v, 8))
	assert.Len(t, notes.all(), 2)
}

func TestPollFallbackNotifiesOnce(t *testing.T) {
	v, conn, api, notes := newView(t, reconcile.RoleConsumer, realtime.StateConnected, 10*time.Millisecond)
	require.NoError(t, v.Mount(context.Background()))

	conn.setState(realtime.StateError)
	changed := consumerOrders()
	changed[0].Status = orders.StatusPreparing
	api.set(changed, nil)

	require.Eventually(t, func() bool { return len(notes.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, orders.StatusPreparing, statusOf(t, v, 7))

	got := notes.all()[0]
	assert.Equal(t, reconcile.SourcePoll, got.Source)
	assert.Equal(t, "Noodle House 的订单已变为「制作中」", got.Message)

	n := api.callCount()
	require.Eventually(t, func() bool { return api.callCount() > n+2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, notes.all(), 1)
}

func TestPollStopsWhileHidden(t *testing.T) {
	v, _, api, _ := newView(t, reconcile.RoleConsumer, realtime.StateDisconnected, 10*time.Millisecond)
	v.SetVisible(false)
	require.NoError(t, v.Mount(context.Background()))

	n := api.callCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, api.callCount())

	v.SetVisible(true)
	require.Eventually(t, func() bool { return api.callCount() > n }, time.Second, 5*time.Millisecond)
}

func TestRefetchFailureKeepsSnapshot(t *testing.T) {
	v, _, api, notes := newView(t, reconcile.RoleConsumer, realtime.StateDisconnected, time.Hour)
	require.NoError(t, v.Mount(context.Background()))

	api.set(nil, errors.New("503"))
	assert.Error(t, v.Refetch(context.Background()))
	assert.Len(t, v.Orders(), 2)
	assert.Empty(t, notes.all())
}

func TestMountReturnsInitialFetchError(t *testing.T) {
	v, _, api, _ := newView(t, reconcile.RoleConsumer, realtime.StateDisconnected, time.Hour)
	api.set(nil, errors.New("503"))

	assert.Error(t, v.Mount(context.Background()))
	assert.True(t, v.Mounted())
	assert.Empty(t, v.Orders())
}

func TestMerchantNewOrderRefetches(t *testing.T) {
	v, conn, api, notes := newView(t, reconcile.RoleMerchant, realtime.StateConnected, time.Hour)
	require.NoError(t, v.Mount(context.Background()))
	require.True(t, conn.subscribed("/topic/merchant/42/orders"))

	api.set(append(consumerOrders(), orders.Order{ID: 9, OrderNo: "T9", Status: orders.StatusPaid}), nil)
	conn.push(v.Topic(), orders.StatusEvent{Type: orders.TypeNewOrder, OrderID: 9, OrderNo: "T9", NewStatus: orders.StatusPaid, Message: "您有新订单，请及时处理"})

	require.Eventually(t, func() bool { return len(v.Orders()) == 3 }, time.Second, 5*time.Millisecond)
	got := notes.all()
	require.Len(t, got, 1)
	assert.Equal(t, reconcile.KindSuccess, got[0].Kind)
}

func TestSubscribesWhenConnectionComesUp(t *testing.T) {
	v, conn, _, _ := newView(t, reconcile.RoleConsumer, realtime.StateConnecting, time.Hour)
	require.NoError(t, v.Mount(context.Background()))
	assert.False(t, conn.subscribed(v.Topic()))

	conn.setState(realtime.StateConnected)
	v.OnConnectionState(realtime.StateConnected)
	assert.True(t, conn.subscribed(v.Topic()))
}

func TestUnmountUnsubscribes(t *testing.T) {
	v, conn, _, _ := newView(t, reconcile.RoleConsumer, realtime.StateConnected, time.Hour)
	require.NoError(t, v.Mount(context.Background()))

	v.Unmount()
	assert.False(t, conn.subscribed(v.Topic()))
	assert.False(t, v.Mounted())

	v.OnConnectionState(realtime.StateConnected)
	assert.False(t, conn.subscribed(v.Topic()))
}

func TestUnmountDuringSubscribeLeavesNoSubscription(t *testing.T) {
	v, conn, _, _ := newView(t, reconcile.RoleConsumer, realtime.StateConnecting, time.Hour)
	require.NoError(t, v.Mount(context.Background()))

	entered, gate := conn.hold()
	conn.setState(realtime.StateConnected)
	go v.OnConnectionState(realtime.StateConnected)
	<-entered

	unmounted := make(chan struct{})
	go func() {
		v.Unmount()
		close(unmounted)
	}()
	select {
	case <-unmounted:
		t.Fatal("Unmount returned while a subscribe was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case <-unmounted:
	case <-time.After(2 * time.Second):
		t.Fatal("Unmount never returned")
	}
	assert.False(t, conn.subscribed(v.Topic()))
	assert.False(t, v.Mounted())
}

func TestSetFilter(t *testing.T) {
	v, _, api, _ := newView(t, reconcile.RoleConsumer, realtime.StateConnected, time.Hour)
	require.NoError(t, v.Mount(context.Background()))

	require.NoError(t, v.SetFilter(context.Background(), orders.StatusPaid))
	assert.Equal(t, orders.StatusPaid, v.Status())
	api.mu.Lock()
	last := api.queries[len(api.queries)-1]
	api.mu.Unlock()
	assert.Equal(t, orders.StatusPaid, last.Status)

	err := v.SetFilter(context.Background(), "LOST")
	assert.ErrorIs(t, err, ErrUnknownStatus)
	assert.Equal(t, orders.StatusPaid, v.Status())
}
