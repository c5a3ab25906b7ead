package messaging

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"orderwatch/config"
	"orderwatch/reconcile"
	"orderwatch/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type fakePublisher struct {
	mu   sync.Mutex
	sent map[string][][]byte
	err  error
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.sent == nil {
		p.sent = make(map[string][][]byte)
	}
	p.sent[topic] = append(p.sent[topic], payload)
	return nil
}

func (p *fakePublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent[topic])
}

func TestEnvelopeExpiry(t *testing.T) {
	env, err := NewEnvelope(TypeNotification, "node-1", time.Minute, map[string]int{"orderId": 7})
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)

	assert.False(t, IsExpired(data, time.Now()))
	assert.True(t, IsExpired(data, time.Now().Add(2*time.Minute)))

	forever, err := NewEnvelope(TypeNotification, "node-1", 0, nil)
	require.NoError(t, err)
	data, _ = forever.Encode()
	assert.False(t, IsExpired(data, time.Now().Add(24*time.Hour)))

	assert.False(t, IsExpired([]byte(`not json`), time.Now()))
}

func TestRelayEnqueuesEnvelope(t *testing.T) {
	db := testDB(t)
	r := NewRelay(db, "orderwatch/notifications", "node-1", time.Minute, nil)

	r.Notify(reconcile.Notification{ID: "n1", Title: "订单状态更新", OrderID: 7, Source: reconcile.SourcePush})

	msgs, err := db.ListPendingOutbox(10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "orderwatch/notifications", msgs[0].Topic)
	assert.Equal(t, TypeNotification, msgs[0].MsgType)

	var env Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &env))
	assert.Equal(t, Version, env.Version)
	assert.Equal(t, "node-1", env.Src)
	var n reconcile.Notification
	require.NoError(t, json.Unmarshal(env.Payload, &n))
	assert.Equal(t, "n1", n.ID)
	assert.Equal(t, int64(7), n.OrderID)
}

func TestDrainPublishesAndAcks(t *testing.T) {
	db := testDB(t)
	pub := &fakePublisher{}
	NewRelay(db, "t", "node-1", time.Minute, nil).Notify(reconcile.Notification{ID: "a"})
	NewRelay(db, "t", "node-1", time.Minute, nil).Notify(reconcile.Notification{ID: "b"})

	d := NewOutboxDrainer(db, pub, time.Hour, nil)
	assert.Equal(t, 2, d.drain())
	assert.Equal(t, 2, pub.count("t"))

	pending, err := db.ListPendingOutbox(10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainSkipsExpired(t *testing.T) {
	db := testDB(t)
	pub := &fakePublisher{}
	env, err := NewEnvelope(TypeNotification, "node-1", time.Millisecond, nil)
	require.NoError(t, err)
	data, _ := env.Encode()
	require.NoError(t, db.EnqueueOutbox("t", data, TypeNotification, "node-1"))
	time.Sleep(5 * time.Millisecond)

	d := NewOutboxDrainer(db, pub, time.Hour, nil)
	assert.Equal(t, 0, d.drain())
	assert.Equal(t, 0, pub.count("t"))

	pending, _ := db.ListPendingOutbox(10)
	assert.Empty(t, pending)
}

func TestDrainFailureKeepsMessage(t *testing.T) {
	db := testDB(t)
	pub := &fakePublisher{err: errors.New("broker down")}
	NewRelay(db, "t", "node-1", time.Minute, nil).Notify(reconcile.Notification{ID: "a"})

	d := NewOutboxDrainer(db, pub, time.Hour, nil)
	assert.Equal(t, 0, d.drain())

	pending, err := db.ListPendingOutbox(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Retries)
}

func TestDrainerStartStop(t *testing.T) {
	db := testDB(t)
	pub := &fakePublisher{}
	NewRelay(db, "t", "node-1", time.Minute, nil).Notify(reconcile.Notification{ID: "a"})

	d := NewOutboxDrainer(db, pub, 10*time.Millisecond, nil)
	d.Start()
	require.Eventually(t, func() bool { return pub.count("t") == 1 }, time.Second, 5*time.Millisecond)
	d.Stop()
	d.Stop()
}

func TestClientUnknownBackend(t *testing.T) {
	c := NewClient(&config.MessagingConfig{Backend: "amqp"})
	assert.Error(t, c.Connect())
	assert.False(t, c.IsConnected())
	assert.Error(t, c.Publish("t", nil))
	c.Close()
}

func TestKafkaRequiresBrokers(t *testing.T) {
	c := NewClient(&config.MessagingConfig{Backend: "kafka"})
	assert.Error(t, c.Connect())

	c = NewClient(&config.MessagingConfig{Backend: "kafka", Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}}})
	require.NoError(t, c.Connect())
	assert.True(t, c.IsConnected())
	c.Close()
	assert.False(t, c.IsConnected())
}
