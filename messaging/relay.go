package messaging

import (
	"time"

	"orderwatch/reconcile"

	"go.uber.org/zap"
)

// Outbox stores messages until the drainer publishes them.
type Outbox interface {
	EnqueueOutbox(topic string, payload []byte, msgType, clientID string) error
}

// Relay enqueues every notification it receives for broker delivery. It
// satisfies reconcile.Notifier.
type Relay struct {
	outbox Outbox
	topic  string
	src    string
	ttl    time.Duration
	log    *zap.Logger
}

func NewRelay(outbox Outbox, topic, src string, ttl time.Duration, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		outbox: outbox,
		topic:  topic,
		src:    src,
		ttl:    ttl,
		log:    logger.Named("relay"),
	}
}

// Notify wraps n in an envelope and enqueues it. Failures are logged; the
// notification has already been shown locally.
func (r *Relay) Notify(n reconcile.Notification) {
	env, err := NewEnvelope(TypeNotification, r.src, r.ttl, n)
	if err != nil {
		r.log.Error("build envelope", zap.String("notification_id", n.ID), zap.Error(err))
		return
	}
	data, err := env.Encode()
	if err != nil {
		r.log.Error("encode envelope", zap.String("notification_id", n.ID), zap.Error(err))
		return
	}
	if err := r.outbox.EnqueueOutbox(r.topic, data, TypeNotification, r.src); err != nil {
		r.log.Error("enqueue notification", zap.String("notification_id", n.ID), zap.Error(err))
	}
}
