// Package metrics wraps the Prometheus collectors for the push connection,
// the polling fallback and the notification stream.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch results
const (
	FetchOK    = "ok"
	FetchError = "error"
)

var connectionStates = []string{"disconnected", "connecting", "connected", "error"}

// Collector holds the orderwatch collectors on a private registry.
type Collector struct {
	registry *prometheus.Registry

	connectionState  *prometheus.GaugeVec
	reconnects       prometheus.Counter
	messagesReceived *prometheus.CounterVec
	messagesDropped  *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	fetches          *prometheus.CounterVec
	snapshotSize     *prometheus.GaugeVec
}

// NewCollector creates and registers the collectors.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "orderwatch"
	}
	c := &Collector{registry: prometheus.NewRegistry()}

	c.connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "connection_state",
			Help:      "1 for the current push connection state, 0 for the others",
		},
		[]string{"state"},
	)
	c.reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after a drop or failed handshake",
		},
	)
	c.messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "messages_received_total",
			Help:      "Push messages decoded and delivered",
		},
		[]string{"topic"},
	)
	c.messagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "messages_dropped_total",
			Help:      "Push messages dropped for failing to decode",
		},
		[]string{"topic"},
	)
	c.notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "notifications_total",
			Help:      "Notifications produced by source and kind",
		},
		[]string{"source", "kind"},
	)
	c.fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "fetches_total",
			Help:      "Order list fetches by role and result",
		},
		[]string{"role", "result"},
	)
	c.snapshotSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "snapshot_orders",
			Help:      "Orders held in the view snapshot",
		},
		[]string{"role"},
	)

	c.registry.MustRegister(
		c.connectionState,
		c.reconnects,
		c.messagesReceived,
		c.messagesDropped,
		c.notifications,
		c.fetches,
		c.snapshotSize,
	)
	c.SetConnectionState("disconnected")
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetConnectionState marks state as current.
func (c *Collector) SetConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.connectionState.WithLabelValues(s).Set(v)
	}
}

func (c *Collector) RecordReconnectScheduled() {
	c.reconnects.Inc()
}

func (c *Collector) RecordMessageReceived(topic string) {
	c.messagesReceived.WithLabelValues(topic).Inc()
}

func (c *Collector) RecordMessageDropped(topic string) {
	c.messagesDropped.WithLabelValues(topic).Inc()
}

func (c *Collector) RecordNotification(source, kind string) {
	c.notifications.WithLabelValues(source, kind).Inc()
}

// RecordFetch counts one successful list fetch and the resulting snapshot size.
func (c *Collector) RecordFetch(role string, count int) {
	c.fetches.WithLabelValues(role, FetchOK).Inc()
	c.snapshotSize.WithLabelValues(role).Set(float64(count))
}

// RecordFetchFailed counts one failed list fetch.
func (c *Collector) RecordFetchFailed(role string) {
	c.fetches.WithLabelValues(role, FetchError).Inc()
}
