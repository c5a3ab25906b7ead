// Package orderview holds the order list a page displays and keeps it
// current from push events, poll diffs and explicit refetches.
package orderview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"orderwatch/orders"
	"orderwatch/poller"
	"orderwatch/realtime"
	"orderwatch/reconcile"
	"orderwatch/restapi"

	"go.uber.org/zap"
)

// ErrUnknownStatus is returned by SetFilter for a code outside the status table.
var ErrUnknownStatus = errors.New("unknown order status")

// Refresh sources reported to the emitter.
const (
	SourceFetch = "fetch"
	SourcePoll  = "poll"
)

// FetchFunc loads one page of the role's order list.
type FetchFunc func(ctx context.Context, q restapi.OrderQuery) (*restapi.Page[orders.Order], error)

// Connection is the part of the push connection manager a view uses.
type Connection interface {
	State() realtime.State
	SubscribeToUserOrders(userID int64, h realtime.Handler) error
	SubscribeToMerchantOrders(restaurantID int64, h realtime.Handler) error
	Unsubscribe(topic string)
}

// EventEmitter is the interface the orderview package uses to emit events.
type EventEmitter interface {
	EmitSnapshotRefreshed(role string, count int, source string)
	EmitRefreshFailed(role string, err error)
}

type nopEmitter struct{}

func (nopEmitter) EmitSnapshotRefreshed(string, int, string) {}
func (nopEmitter) EmitRefreshFailed(string, error)           {}

// Config describes one view.
type Config struct {
	Role         reconcile.Role
	Identity     int64 // user id for consumers, restaurant id for merchants
	PageSize     int
	Status       string
	PollInterval time.Duration
}

// View is the order list page of one role.
type View struct {
	cfg     Config
	conn    Connection
	fetch   FetchFunc
	rec     *reconcile.Reconciler
	emitter EventEmitter
	log     *zap.Logger

	// fetchMu serializes list loads so a slow response never overwrites a
	// newer one.
	fetchMu sync.Mutex

	// subMu orders topic subscription against Unmount; it is taken before
	// mu when both are held.
	subMu sync.Mutex

	mu       sync.Mutex
	snap     *orders.Snapshot
	status   string
	total    int64
	visible  bool
	mounted  bool
	poller   *poller.Poller
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New creates an unmounted view.
func New(cfg Config, conn Connection, fetch FetchFunc, rec *reconcile.Reconciler, emitter EventEmitter, logger *zap.Logger) *View {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &View{
		cfg:     cfg,
		conn:    conn,
		fetch:   fetch,
		rec:     rec,
		emitter: emitter,
		log:     logger.Named("orderview").With(zap.String("role", string(cfg.Role))),
		snap:    orders.NewSnapshot(nil),
		status:  cfg.Status,
		visible: true,
	}
}

// Role returns the view's role.
func (v *View) Role() reconcile.Role { return v.cfg.Role }

// Topic returns the push destination the view listens on.
func (v *View) Topic() string {
	if v.cfg.Role == reconcile.RoleMerchant {
		return realtime.MerchantOrdersTopic(v.cfg.Identity)
	}
	return realtime.UserOrdersTopic(v.cfg.Identity)
}

// Mount loads the list, subscribes when the connection is up and starts
// the polling fallback. A failed initial load is returned, but the view
// stays mounted and the fallback keeps retrying.
func (v *View) Mount(ctx context.Context) error {
	v.mu.Lock()
	if v.mounted {
		v.mu.Unlock()
		return nil
	}
	v.mounted = true
	v.ctx, v.cancel = context.WithCancel(context.Background())
	v.poller = poller.New(v.conn, v.pollRefresh, v.cfg.PollInterval, v.log)
	v.poller.SetVisible(v.visible)
	p := v.poller
	v.mu.Unlock()

	err := v.Refetch(ctx)
	v.subscribeIfMounted()
	p.Start()
	if err != nil {
		return fmt.Errorf("initial order fetch: %w", err)
	}
	return nil
}

// Unmount cancels the view's subscription and stops its fallback. The
// push connection itself stays up.
func (v *View) Unmount() {
	v.subMu.Lock()
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		v.subMu.Unlock()
		return
	}
	v.mounted = false
	v.cancel()
	p := v.poller
	v.poller = nil
	v.mu.Unlock()

	v.conn.Unsubscribe(v.Topic())
	v.subMu.Unlock()

	p.Stop()
	v.inflight.Wait()
}

// Mounted reports whether the view is mounted.
func (v *View) Mounted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mounted
}

// OnConnectionState re-subscribes whenever the connection comes up.
func (v *View) OnConnectionState(s realtime.State) {
	if s != realtime.StateConnected {
		return
	}
	v.subscribeIfMounted()
}

func (v *View) subscribeIfMounted() {
	v.subMu.Lock()
	defer v.subMu.Unlock()
	if !v.Mounted() || v.conn.State() != realtime.StateConnected {
		return
	}
	var err error
	if v.cfg.Role == reconcile.RoleMerchant {
		err = v.conn.SubscribeToMerchantOrders(v.cfg.Identity, v.handlePush)
	} else {
		err = v.conn.SubscribeToUserOrders(v.cfg.Identity, v.handlePush)
	}
	if err != nil {
		v.log.Warn("subscribe failed", zap.String("topic", v.Topic()), zap.Error(err))
	}
}

func (v *View) handlePush(ev orders.StatusEvent) {
	v.rec.Reconcile(ev, v, reconcile.SourcePush)
}

// ApplyPatch patches the held snapshot.
func (v *View) ApplyPatch(p orders.Patch) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap.Apply(p)
}

// Order returns the held order with the given id.
func (v *View) Order(id int64) (orders.Order, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap.Get(id)
}

// RequestRefetch reloads the list in the background. It is dropped when
// the view is not mounted.
func (v *View) RequestRefetch() {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return
	}
	ctx := v.ctx
	v.inflight.Add(1)
	v.mu.Unlock()

	go func() {
		defer v.inflight.Done()
		if err := v.Refetch(ctx); err != nil && ctx.Err() == nil {
			v.log.Warn("background refetch failed", zap.Error(err))
		}
	}()
}

// Refetch loads the list for the current filter and replaces the snapshot.
// On failure the held snapshot is kept.
func (v *View) Refetch(ctx context.Context) error {
	v.fetchMu.Lock()
	defer v.fetchMu.Unlock()

	page, err := v.load(ctx)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.snap.Replace(page.Content)
	v.total = page.TotalElements
	n := v.snap.Len()
	v.mu.Unlock()
	v.emitter.EmitSnapshotRefreshed(string(v.cfg.Role), n, SourceFetch)
	return nil
}

// pollRefresh is the fallback refetch: every order whose status differs
// from the held copy is reconciled before the snapshot is replaced.
func (v *View) pollRefresh(ctx context.Context) error {
	v.fetchMu.Lock()
	defer v.fetchMu.Unlock()

	page, err := v.load(ctx)
	if err != nil {
		return err
	}
	v.mu.Lock()
	changed := v.snap.Diff(page.Content)
	v.mu.Unlock()

	for _, ev := range changed {
		v.rec.Reconcile(ev, v, reconcile.SourcePoll)
	}

	v.mu.Lock()
	v.snap.Replace(page.Content)
	v.total = page.TotalElements
	n := v.snap.Len()
	v.mu.Unlock()
	if len(changed) > 0 {
		v.log.Debug("poll found status changes", zap.Int("changed", len(changed)))
	}
	v.emitter.EmitSnapshotRefreshed(string(v.cfg.Role), n, SourcePoll)
	return nil
}

func (v *View) load(ctx context.Context) (*restapi.Page[orders.Order], error) {
	v.mu.Lock()
	q := restapi.OrderQuery{Status: v.status, Page: 0, Size: v.cfg.PageSize}
	v.mu.Unlock()

	page, err := v.fetch(ctx, q)
	if err != nil {
		if ctx.Err() == nil {
			v.log.Warn("order fetch failed", zap.String("status", q.Status), zap.Error(err))
			v.emitter.EmitRefreshFailed(string(v.cfg.Role), err)
		}
		return nil, err
	}
	if page == nil {
		page = &restapi.Page[orders.Order]{}
	}
	return page, nil
}

// SetFilter switches the status filter ("" for all) and reloads.
func (v *View) SetFilter(ctx context.Context, status string) error {
	if status != "" && !orders.IsKnown(status) {
		return fmt.Errorf("%w: %s", ErrUnknownStatus, status)
	}
	v.mu.Lock()
	v.status = status
	v.mu.Unlock()
	return v.Refetch(ctx)
}

// SetVisible forwards page visibility to the polling fallback.
func (v *View) SetVisible(visible bool) {
	v.mu.Lock()
	v.visible = visible
	p := v.poller
	v.mu.Unlock()
	if p != nil {
		p.SetVisible(visible)
	}
}

// Visible reports the last recorded visibility.
func (v *View) Visible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

// Polling reports whether the fallback would refetch on its next tick.
func (v *View) Polling() bool {
	v.mu.Lock()
	p := v.poller
	v.mu.Unlock()
	return p != nil && p.Active()
}

// Orders returns a copy of the held list.
func (v *View) Orders() []orders.Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap.Orders()
}

// Status returns the current filter.
func (v *View) Status() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Total returns the total element count of the last loaded page.
func (v *View) Total() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.total
}
