package engine

import (
	"orderwatch/realtime"
	"orderwatch/reconcile"

	"go.uber.org/zap"
)

// wireEventHandlers sets up the event chain:
// ConnectionStateChanged → view re-subscribe + metrics
// Notification → history + metrics
// push/view activity → metrics
func (e *Engine) wireEventHandlers() {
	e.Events.SubscribeTypes(func(evt Event) {
		ch := evt.Payload.(ConnectionStateChangedEvent)
		e.handleConnectionState(ch)
	}, EventConnectionStateChanged)

	e.Events.SubscribeTypes(func(evt Event) {
		e.handleNotification(evt.Payload.(reconcile.Notification))
	}, EventNotification)

	e.Events.SubscribeTypes(func(evt Event) {
		switch p := evt.Payload.(type) {
		case ReconnectScheduledEvent:
			e.metrics.RecordReconnectScheduled()
			e.log.Debug("reconnect scheduled", zap.Int("attempt", p.Attempt), zap.Duration("delay", p.Delay))
		case MessageEvent:
			if evt.Type == EventMessageDropped {
				e.metrics.RecordMessageDropped(p.Topic)
			} else {
				e.metrics.RecordMessageReceived(p.Topic)
			}
		case SnapshotRefreshedEvent:
			e.metrics.RecordFetch(p.Role, p.Count)
		case RefreshFailedEvent:
			e.metrics.RecordFetchFailed(p.Role)
		}
	}, EventReconnectScheduled, EventMessageReceived, EventMessageDropped, EventSnapshotRefreshed, EventRefreshFailed)
}

func (e *Engine) handleConnectionState(ch ConnectionStateChangedEvent) {
	e.metrics.SetConnectionState(ch.NewState)
	fields := []zap.Field{zap.String("from", ch.OldState), zap.String("to", ch.NewState)}
	if ch.Error != "" {
		fields = append(fields, zap.String("error", ch.Error))
		e.log.Warn("push connection state changed", fields...)
	} else {
		e.log.Info("push connection state changed", fields...)
	}
	if e.view != nil {
		e.view.OnConnectionState(realtime.State(ch.NewState))
	}
}

func (e *Engine) handleNotification(n reconcile.Notification) {
	e.metrics.RecordNotification(string(n.Source), n.Kind)
	e.log.Info("notification",
		zap.String("title", n.Title), zap.String("message", n.Message),
		zap.Int64("order_id", n.OrderID), zap.String("source", string(n.Source)))
	if e.db == nil {
		return
	}
	if err := e.db.InsertNotification(n); err != nil {
		e.log.Error("persist notification", zap.String("id", n.ID), zap.Error(err))
	}
}
