// Package reconcile turns order-status signals from the push and poll paths
// into one snapshot patch and one user-facing notification.
package reconcile

import (
	"fmt"
	"time"

	"orderwatch/orders"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Role selects consumer or merchant behavior.
type Role string

const (
	RoleConsumer Role = "consumer"
	RoleMerchant Role = "merchant"
)

// Source identifies which path produced a signal.
type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// Notification kinds
const (
	KindInfo    = "info"
	KindSuccess = "success"
)

const (
	titleStatusUpdate = "订单状态更新"
	titleNewOrder     = "新订单提醒"
)

// Notification is one user-facing toast.
type Notification struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	OrderID        int64     `json:"orderId,omitempty"`
	OrderNo        string    `json:"orderNo,omitempty"`
	RestaurantName string    `json:"restaurantName,omitempty"`
	Status         string    `json:"status,omitempty"`
	StatusLabel    string    `json:"statusLabel,omitempty"`
	Source         Source    `json:"source"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Notifier receives every notification the reconciler produces.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Target is the order snapshot owner a signal is reconciled into.
type Target interface {
	ApplyPatch(p orders.Patch) bool
	Order(id int64) (orders.Order, bool)
	RequestRefetch()
}

// Outcome reports what Reconcile did with a signal.
type Outcome int

const (
	OutcomePatched Outcome = iota + 1
	OutcomeMissing         // notified, but the order is not in the snapshot
	OutcomeRefetch         // merchant NEW_ORDER
	OutcomeStale
	OutcomeIgnored
)

// Reconciler is the single entry point shared by the push and poll paths.
type Reconciler struct {
	role        Role
	notifier    Notifier
	log         *zap.Logger
	rejectStale bool
	now         func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRejectStale drops events whose updatedAt is older than the held order's.
func WithRejectStale(on bool) Option {
	return func(r *Reconciler) { r.rejectStale = on }
}

// WithClock overrides the notification timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a Reconciler for the given role.
func New(role Role, notifier Notifier, logger *zap.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{
		role:     role,
		notifier: notifier,
		log:      logger.Named("reconcile"),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Role returns the role the reconciler was built for.
func (r *Reconciler) Role() Role { return r.role }

// Reconcile applies ev to target and emits its notification. Reapplying
// the same event leaves the snapshot unchanged and notifies again.
func (r *Reconciler) Reconcile(ev orders.StatusEvent, target Target, source Source) Outcome {
	if r.role == RoleMerchant && ev.IsNewOrder() {
		r.notify(r.newOrderNotification(ev, source))
		target.RequestRefetch()
		return OutcomeRefetch
	}
	if ev.NewStatus == "" {
		r.log.Debug("ignoring event without status",
			zap.String("type", ev.Type), zap.Int64("order_id", ev.OrderID))
		return OutcomeIgnored
	}
	if r.rejectStale && r.isStale(ev, target) {
		r.log.Debug("dropping stale event",
			zap.Int64("order_id", ev.OrderID), zap.String("updated_at", ev.UpdatedAt), zap.String("source", string(source)))
		return OutcomeStale
	}

	found := target.ApplyPatch(orders.PatchFor(ev))
	r.notify(r.transitionNotification(ev, source))
	if !found {
		r.log.Debug("order not in snapshot, patch dropped", zap.Int64("order_id", ev.OrderID))
		return OutcomeMissing
	}
	return OutcomePatched
}

func (r *Reconciler) isStale(ev orders.StatusEvent, target Target) bool {
	held, ok := target.Order(ev.OrderID)
	if !ok {
		return false
	}
	evAt, ok := orders.ParseTimestamp(ev.UpdatedAt)
	if !ok {
		return false
	}
	heldAt, ok := orders.ParseTimestamp(held.UpdatedAt)
	if !ok {
		return false
	}
	return evAt.Before(heldAt)
}

func (r *Reconciler) transitionNotification(ev orders.StatusEvent, source Source) Notification {
	label := orders.Label(ev.NewStatus)
	var msg string
	if r.role == RoleMerchant || ev.RestaurantName == "" {
		msg = fmt.Sprintf("订单 %s 已变为「%s」", orderRef(ev), label)
	} else {
		msg = fmt.Sprintf("%s 的订单已变为「%s」", ev.RestaurantName, label)
	}
	return Notification{
		Kind:           KindInfo,
		Title:          titleStatusUpdate,
		Message:        msg,
		OrderID:        ev.OrderID,
		OrderNo:        ev.OrderNo,
		RestaurantName: ev.RestaurantName,
		Status:         ev.NewStatus,
		StatusLabel:    label,
		Source:         source,
	}
}

func (r *Reconciler) newOrderNotification(ev orders.StatusEvent, source Source) Notification {
	msg := ev.Message
	if msg == "" {
		msg = fmt.Sprintf("您有新订单 %s，请及时处理", orderRef(ev))
	}
	return Notification{
		Kind:           KindSuccess,
		Title:          titleNewOrder,
		Message:        msg,
		OrderID:        ev.OrderID,
		OrderNo:        ev.OrderNo,
		RestaurantName: ev.RestaurantName,
		Status:         ev.NewStatus,
		StatusLabel:    orders.Label(ev.NewStatus),
		Source:         source,
	}
}

func (r *Reconciler) notify(n Notification) {
	n.ID = uuid.NewString()
	n.CreatedAt = r.now()
	if r.notifier != nil {
		r.notifier.Notify(n)
	}
}

func orderRef(ev orders.StatusEvent) string {
	if ev.OrderNo != "" {
		return ev.OrderNo
	}
	return fmt.Sprintf("#%d", ev.OrderID)
}
