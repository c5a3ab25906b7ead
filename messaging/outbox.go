package messaging

import (
	"sync"
	"time"

	"orderwatch/store"

	"go.uber.org/zap"
)

const drainBatch = 50

// Publisher sends one encoded message.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// OutboxDrainer periodically sends pending outbox messages. Expired
// envelopes are acked without being sent.
type OutboxDrainer struct {
	db       *store.DB
	client   Publisher
	interval time.Duration
	log      *zap.Logger
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewOutboxDrainer(db *store.DB, client Publisher, interval time.Duration, logger *zap.Logger) *OutboxDrainer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxDrainer{
		db:       db,
		client:   client,
		interval: interval,
		log:      logger.Named("outbox"),
		stopChan: make(chan struct{}),
	}
}

func (d *OutboxDrainer) Start() {
	d.wg.Add(1)
	go d.run()
}

func (d *OutboxDrainer) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
	d.wg.Wait()
}

func (d *OutboxDrainer) run() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.drain()
		}
	}
}

// drain makes one pass over pending messages and reports how many were sent.
func (d *OutboxDrainer) drain() int {
	msgs, err := d.db.ListPendingOutbox(drainBatch)
	if err != nil {
		d.log.Warn("list pending", zap.Error(err))
		return 0
	}
	sent := 0
	now := time.Now()
	for _, msg := range msgs {
		if IsExpired(msg.Payload, now) {
			d.log.Debug("dropping expired message", zap.Int64("id", msg.ID), zap.String("type", msg.MsgType))
			d.ack(msg.ID)
			continue
		}
		if err := d.client.Publish(msg.Topic, msg.Payload); err != nil {
			d.log.Warn("publish failed", zap.String("topic", msg.Topic), zap.Int("retries", msg.Retries), zap.Error(err))
			if err := d.db.IncrementOutboxRetries(msg.ID); err != nil {
				d.log.Warn("increment retries", zap.Int64("id", msg.ID), zap.Error(err))
			}
			continue
		}
		d.ack(msg.ID)
		sent++
	}
	return sent
}

func (d *OutboxDrainer) ack(id int64) {
	if err := d.db.AckOutbox(id); err != nil {
		d.log.Warn("ack", zap.Int64("id", id), zap.Error(err))
	}
}
