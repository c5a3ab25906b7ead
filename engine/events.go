package engine

import "time"

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Push connection events
	EventConnectionStateChanged EventType = iota + 1
	EventReconnectScheduled
	EventMessageReceived
	EventMessageDropped

	// Reconciler events
	EventNotification

	// View events
	EventSnapshotRefreshed
	EventRefreshFailed
)

var eventNames = map[EventType]string{
	EventConnectionStateChanged: "connection-state",
	EventReconnectScheduled:     "reconnect-scheduled",
	EventMessageReceived:        "message-received",
	EventMessageDropped:         "message-dropped",
	EventNotification:           "notification",
	EventSnapshotRefreshed:      "snapshot-refreshed",
	EventRefreshFailed:          "refresh-failed",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return "unknown"
}

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// ConnectionStateChangedEvent is emitted on every push connection transition.
type ConnectionStateChangedEvent struct {
	OldState  string `json:"oldState"`
	NewState  string `json:"newState"`
	Indicator string `json:"indicator"`
	Error     string `json:"error,omitempty"`
}

// ReconnectScheduledEvent is emitted before each reconnect backoff wait.
type ReconnectScheduledEvent struct {
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

// MessageEvent is emitted per push message delivered or dropped.
type MessageEvent struct {
	Topic string `json:"topic"`
	Error string `json:"error,omitempty"`
}

// SnapshotRefreshedEvent is emitted after a view replaces its snapshot.
type SnapshotRefreshedEvent struct {
	Role   string `json:"role"`
	Count  int    `json:"count"`
	Source string `json:"source"`
}

// RefreshFailedEvent is emitted when a list fetch fails.
type RefreshFailedEvent struct {
	Role  string `json:"role"`
	Error string `json:"error"`
}
