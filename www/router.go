// Package www serves the local page API: connection status, the live order
// list, notification history and the SSE toast stream.
package www

import (
	"context"
	"net/http"

	"orderwatch/engine"
	"orderwatch/orders"
	"orderwatch/realtime"
	"orderwatch/reconcile"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Connection reports the push connection.
type Connection interface {
	State() realtime.State
	Topics() []string
}

// OrderView is the live order list.
type OrderView interface {
	Orders() []orders.Order
	Status() string
	Total() int64
	Visible() bool
	Polling() bool
	SetFilter(ctx context.Context, status string) error
	SetVisible(visible bool)
	Refetch(ctx context.Context) error
}

// NotificationStore is the notification history.
type NotificationStore interface {
	ListNotifications(limit int) ([]*reconcile.Notification, error)
	ListUnreadNotifications(limit int) ([]*reconcile.Notification, error)
	GetNotification(id string) (*reconcile.Notification, error)
	CountUnreadNotifications() (int, error)
	MarkNotificationRead(id string) error
	MarkAllNotificationsRead() (int64, error)
	DeleteNotification(id string) error
	DeleteAllNotifications() (int64, error)
}

// Relay reports the broker connection notifications are relayed over.
type Relay interface {
	Backend() string
	IsConnected() bool
}

// Deps holds everything the handlers read from. Store and Relay are
// optional.
type Deps struct {
	Role     reconcile.Role
	Identity int64
	Conn     Connection
	View     OrderView
	Store    NotificationStore
	Relay    Relay
	Events   *engine.EventBus
	Metrics  http.Handler
	Logger   *zap.Logger
}

// DepsFromEngine collects handler dependencies from a started engine.
func DepsFromEngine(eng *engine.Engine) Deps {
	d := Deps{
		Role:     eng.Role(),
		Identity: eng.Identity(),
		Conn:     eng.Connection(),
		View:     eng.View(),
		Events:   eng.Events,
		Metrics:  eng.Metrics().Handler(),
	}
	if db := eng.DB(); db != nil {
		d.Store = db
	}
	return d
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	deps     Deps
	log      *zap.Logger
	eventHub *EventHub
}

// NewRouter creates the chi router and returns it along with a stop function.
func NewRouter(deps Deps) (http.Handler, func()) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handlers{
		deps:     deps,
		log:      logger.Named("www"),
		eventHub: NewEventHub(),
	}
	h.eventHub.greeting = func() interface{} { return h.currentStatus() }

	h.eventHub.Start()
	var subID engine.SubscriberID
	if deps.Events != nil {
		subID = h.eventHub.SetupEngineListeners(deps.Events)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/events", h.eventHub.HandleSSE)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.apiStatus)
		r.Post("/visibility", h.apiVisibility)

		r.Get("/orders", h.apiListOrders)
		r.Put("/orders/filter", h.apiSetFilter)
		r.Post("/orders/refresh", h.apiRefreshOrders)

		if deps.Store == nil {
			return
		}
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.apiListNotifications)
			r.Get("/unread", h.apiListUnread)
			r.Get("/unread/count", h.apiUnreadCount)
			r.Get("/{id}", h.apiGetNotification)
			r.Put("/read-all", h.apiMarkAllRead)
			r.Put("/{id}/read", h.apiMarkRead)
			r.Delete("/{id}", h.apiDeleteNotification)
			r.Delete("/", h.apiDeleteAllNotifications)
		})
	})

	return r, func() {
		if deps.Events != nil {
			deps.Events.Unsubscribe(subID)
		}
		h.eventHub.Stop()
	}
}
