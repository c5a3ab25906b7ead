package engine

import (
	"time"

	"orderwatch/realtime"
	"orderwatch/reconcile"
)

// realtimeEmitter adapts the engine's EventBus to the realtime.EventEmitter interface.
type realtimeEmitter struct {
	bus *EventBus
}

func (e *realtimeEmitter) EmitConnectionStateChanged(oldState, newState realtime.State, err error) {
	e.bus.Emit(Event{Type: EventConnectionStateChanged, Payload: ConnectionStateChangedEvent{
		OldState: string(oldState), NewState: string(newState),
		Indicator: newState.Indicator(), Error: errString(err),
	}})
}

func (e *realtimeEmitter) EmitReconnectScheduled(attempt int, delay time.Duration) {
	e.bus.Emit(Event{Type: EventReconnectScheduled, Payload: ReconnectScheduledEvent{Attempt: attempt, Delay: delay}})
}

func (e *realtimeEmitter) EmitMessageReceived(topic string) {
	e.bus.Emit(Event{Type: EventMessageReceived, Payload: MessageEvent{Topic: topic}})
}

func (e *realtimeEmitter) EmitMessageDropped(topic string, err error) {
	e.bus.Emit(Event{Type: EventMessageDropped, Payload: MessageEvent{Topic: topic, Error: errString(err)}})
}

// viewEmitter adapts the engine's EventBus to the orderview.EventEmitter interface.
type viewEmitter struct {
	bus *EventBus
}

func (e *viewEmitter) EmitSnapshotRefreshed(role string, count int, source string) {
	e.bus.Emit(Event{Type: EventSnapshotRefreshed, Payload: SnapshotRefreshedEvent{Role: role, Count: count, Source: source}})
}

func (e *viewEmitter) EmitRefreshFailed(role string, err error) {
	e.bus.Emit(Event{Type: EventRefreshFailed, Payload: RefreshFailedEvent{Role: role, Error: errString(err)}})
}

// busNotifier publishes reconciler notifications on the EventBus.
type busNotifier struct {
	bus *EventBus
}

func (n *busNotifier) Notify(note reconcile.Notification) {
	n.bus.Emit(Event{Type: EventNotification, Payload: note})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
