package www

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"orderwatch/engine"
	"orderwatch/reconcile"
)

// SSE event types sent to the page.
const (
	sseConnected      = "connected"
	sseConnection     = "connection-status"
	sseNotification   = "notification"
	sseOrdersRefresh  = "orders-refreshed"
	sseRefreshFailed  = "refresh-failed"
	sseClientBuffer   = 64
	sseBroadcastQueue = 256
)

// SSEEvent is one event pushed to the page.
type SSEEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// EventHub fans engine events out to every open /events stream.
type EventHub struct {
	mu      sync.RWMutex
	clients map[chan SSEEvent]struct{}

	broadcast chan SSEEvent
	stopOnce  sync.Once
	stop      chan struct{}
	keepalive time.Duration

	// greeting, when set, is the payload of the first event on every
	// stream so the page can draw the indicator without polling.
	greeting func() interface{}
}

// NewEventHub creates a stopped hub; call Start before serving.
func NewEventHub() *EventHub {
	return &EventHub{
		clients:   make(map[chan SSEEvent]struct{}),
		broadcast: make(chan SSEEvent, sseBroadcastQueue),
		stop:      make(chan struct{}),
		keepalive: 30 * time.Second,
	}
}

func (h *EventHub) Start() { go h.run() }

func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast queues evt for every client. Events are dropped when the queue
// is full; toasts are also kept in the notification history.
func (h *EventHub) Broadcast(evt SSEEvent) {
	select {
	case h.broadcast <- evt:
	default:
	}
}

// ClientCount returns the number of open streams.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) attach() chan SSEEvent {
	ch := make(chan SSEEvent, sseClientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) detach(ch chan SSEEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

func (h *EventHub) run() {
	for {
		select {
		case <-h.stop:
			return
		case evt := <-h.broadcast:
			h.mu.RLock()
			for ch := range h.clients {
				select {
				case ch <- evt:
				default: // slow client
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleSSE streams hub events until the client goes away or the hub stops.
func (h *EventHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	ch := h.attach()
	defer h.detach(ch)

	var hello interface{} = struct{}{}
	if h.greeting != nil {
		hello = h.greeting()
	}
	writeSSE(w, sseConnected, hello)
	flusher.Flush()

	tick := time.NewTicker(h.keepalive)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stop:
			return
		case evt := <-ch:
			if writeSSE(w, evt.Type, evt.Data) {
				flusher.Flush()
			}
		case <-tick.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writeSSE writes one event frame; unencodable payloads are skipped.
func writeSSE(w http.ResponseWriter, typ string, data interface{}) bool {
	b, err := json.Marshal(data)
	if err != nil {
		return false
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ, b)
	return true
}

// SetupEngineListeners forwards connection, notification and refresh
// events to the page and returns the bus subscription.
func (h *EventHub) SetupEngineListeners(bus *engine.EventBus) engine.SubscriberID {
	return bus.SubscribeTypes(func(evt engine.Event) {
		var typ string
		switch evt.Payload.(type) {
		case engine.ConnectionStateChangedEvent:
			typ = sseConnection
		case reconcile.Notification:
			typ = sseNotification
		case engine.SnapshotRefreshedEvent:
			typ = sseOrdersRefresh
		case engine.RefreshFailedEvent:
			typ = sseRefreshFailed
		default:
			return
		}
		h.Broadcast(SSEEvent{Type: typ, Data: evt.Payload})
	}, engine.EventConnectionStateChanged, engine.EventNotification,
		engine.EventSnapshotRefreshed, engine.EventRefreshFailed)
}
