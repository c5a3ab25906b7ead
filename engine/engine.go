// Package engine assembles the push connection, reconciler and order view
// of one session and relays their events.
package engine

import (
	"context"
	"fmt"

	"orderwatch/config"
	"orderwatch/metrics"
	"orderwatch/orders"
	"orderwatch/orderview"
	"orderwatch/realtime"
	"orderwatch/reconcile"
	"orderwatch/restapi"
	"orderwatch/store"
	"orderwatch/transport"

	"go.uber.org/zap"
)

// OrderAPI is the REST surface the engine reads orders and identity from.
type OrderAPI interface {
	ListOrders(ctx context.Context, q restapi.OrderQuery) (*restapi.Page[orders.Order], error)
	ListMerchantOrders(ctx context.Context, q restapi.OrderQuery) (*restapi.Page[orders.Order], error)
	CurrentUser(ctx context.Context) (*restapi.User, error)
	MyRestaurant(ctx context.Context) (*restapi.Restaurant, error)
}

// Engine centralizes the notification subsystem of one session.
type Engine struct {
	cfg     *config.Config
	db      *store.DB
	log     *zap.Logger
	dialer  transport.Dialer
	api     OrderAPI
	metrics *metrics.Collector

	role     reconcile.Role
	identity int64
	conn     *realtime.Manager
	rec      *reconcile.Reconciler
	view     *orderview.View

	Events *EventBus
}

// Config holds the parameters needed to create an Engine. Dialer and API
// default to the STOMP dialer and REST client built from AppConfig.
type Config struct {
	AppConfig *config.Config
	DB        *store.DB
	Logger    *zap.Logger
	Dialer    transport.Dialer
	API       OrderAPI
	Metrics   *metrics.Collector
}

// New creates a new Engine. Call Start() to connect and mount the view.
func New(c Config) *Engine {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := c.AppConfig
	dialer := c.Dialer
	if dialer == nil {
		d := transport.NewStompDialer(cfg.Realtime.URL, logger)
		d.Host = cfg.Realtime.Host
		d.HeartbeatIncoming = cfg.Realtime.HeartbeatIncoming
		d.HeartbeatOutgoing = cfg.Realtime.HeartbeatOutgoing
		dialer = d
	}
	api := c.API
	if api == nil {
		api = restapi.NewClient(cfg.API.BaseURL, cfg.API.Timeout,
			restapi.WithToken(cfg.API.Token),
			restapi.WithRateLimit(cfg.API.RateLimit, cfg.API.Burst))
	}
	m := c.Metrics
	if m == nil {
		m = metrics.NewCollector("")
	}
	return &Engine{
		cfg:     cfg,
		db:      c.DB,
		log:     logger,
		dialer:  dialer,
		api:     api,
		metrics: m,
		Events:  NewEventBus(logger),
	}
}

// Start resolves the session identity, wires the subsystems, opens the
// push connection and mounts the order view. The connection is
// established asynchronously; a failed initial list load is logged and
// left to the polling fallback.
func (e *Engine) Start(ctx context.Context) error {
	e.role = reconcile.Role(e.cfg.Role)
	if e.role != reconcile.RoleConsumer && e.role != reconcile.RoleMerchant {
		return fmt.Errorf("unknown role %q", e.cfg.Role)
	}
	e.identity = e.cfg.Identity
	if e.identity == 0 {
		id, err := e.resolveIdentity(ctx)
		if err != nil {
			return fmt.Errorf("resolve %s identity: %w", e.role, err)
		}
		e.identity = id
	}

	e.conn = realtime.NewManager(e.dialer, realtime.Config{
		ReconnectDelay:    e.cfg.Realtime.ReconnectDelay,
		MaxReconnectDelay: e.cfg.Realtime.MaxReconnectDelay,
		ConnectTimeout:    e.cfg.Realtime.ConnectTimeout,
	}, &realtimeEmitter{bus: e.Events}, e.log)

	e.rec = reconcile.New(e.role, &busNotifier{bus: e.Events}, e.log,
		reconcile.WithRejectStale(e.cfg.Reconcile.RejectStale))

	fetch := orderview.FetchFunc(e.api.ListOrders)
	if e.role == reconcile.RoleMerchant {
		fetch = e.api.ListMerchantOrders
	}
	e.view = orderview.New(orderview.Config{
		Role:         e.role,
		Identity:     e.identity,
		PageSize:     e.cfg.PageSize(),
		Status:       e.cfg.Polling.Status,
		PollInterval: e.cfg.Polling.Interval,
	}, e.conn, fetch, e.rec, &viewEmitter{bus: e.Events}, e.log)

	e.wireEventHandlers()

	e.conn.Connect(e.identity)
	if err := e.view.Mount(ctx); err != nil {
		e.log.Warn("initial order load failed, polling will retry", zap.Error(err))
	}

	e.log.Info("engine started",
		zap.String("role", string(e.role)), zap.Int64("identity", e.identity), zap.String("topic", e.view.Topic()))
	return nil
}

// Stop unmounts the view and closes the push connection.
func (e *Engine) Stop() {
	if e.view != nil {
		e.view.Unmount()
	}
	if e.conn != nil {
		e.conn.Disconnect()
	}
	e.log.Info("engine stopped")
}

func (e *Engine) resolveIdentity(ctx context.Context) (int64, error) {
	if e.role == reconcile.RoleMerchant {
		r, err := e.api.MyRestaurant(ctx)
		if err != nil {
			return 0, err
		}
		return r.ID, nil
	}
	u, err := e.api.CurrentUser(ctx)
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

// AddNotifier forwards every notification to n, in addition to history.
func (e *Engine) AddNotifier(n reconcile.Notifier) SubscriberID {
	return e.Events.SubscribeTypes(func(evt Event) {
		n.Notify(evt.Payload.(reconcile.Notification))
	}, EventNotification)
}

// DB returns the database handle.
func (e *Engine) DB() *store.DB { return e.db }

// Metrics returns the metrics collector.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// Connection returns the push connection manager.
func (e *Engine) Connection() *realtime.Manager { return e.conn }

// View returns the order view.
func (e *Engine) View() *orderview.View { return e.view }

// Role returns the session role.
func (e *Engine) Role() reconcile.Role { return e.role }

// Identity returns the resolved user or restaurant id.
func (e *Engine) Identity() int64 { return e.identity }
