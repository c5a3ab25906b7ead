// Package realtime owns the single push connection of a session and the
// topic subscriptions multiplexed on it.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"orderwatch/orders"
	"orderwatch/transport"

	"go.uber.org/zap"
)

// ErrNotConnected is returned by subscribe calls made outside the connected state.
var ErrNotConnected = errors.New("push connection not connected")

// Handler receives decoded order-status events for one topic. A handler
// must not change subscriptions or disconnect synchronously: those calls
// wait for running handlers to return.
type Handler func(orders.StatusEvent)

// Config holds the connection timing parameters.
type Config struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	ConnectTimeout    time.Duration
}

type subscription struct {
	topic   string
	handler Handler
	handle  transport.Subscription

	// mu is read-held while the handler runs, so deactivate returns only
	// once no call is in flight.
	mu     sync.RWMutex
	active bool
}

func (s *subscription) isActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *subscription) deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

type transition struct {
	from, to State
	err      error
}

// Manager maintains one transport connection per identity and brokers topic
// subscriptions on top of it. Create exactly one per session.
type Manager struct {
	dialer  transport.Dialer
	cfg     Config
	emitter EventEmitter
	log     *zap.Logger

	// subMu serializes subscription changes; it is never held while
	// emitting or while a handler runs.
	subMu sync.Mutex

	mu       sync.Mutex
	state    State
	identity int64
	session  transport.Session
	subs     map[string]*subscription
	cancel   context.CancelFunc
	pending  []transition

	emitMu sync.Mutex
}

// NewManager creates a disconnected Manager.
func NewManager(dialer transport.Dialer, cfg Config, emitter EventEmitter, logger *zap.Logger) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dialer:  dialer,
		cfg:     cfg,
		emitter: emitter,
		log:     logger.Named("realtime"),
		state:   StateDisconnected,
		subs:    make(map[string]*subscription),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the identity passed to the last Connect.
func (m *Manager) Identity() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Topics returns the topics with a live subscription, sorted.
func (m *Manager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics := make([]string, 0, len(m.subs))
	for t := range m.subs {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Connect starts connecting on behalf of identity. It is a no-op while
// connecting or connected. From error or disconnected it restarts the
// handshake immediately.
func (m *Manager) Connect(identity int64) {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		state := m.state
		m.mu.Unlock()
		m.log.Debug("connect ignored", zap.String("state", string(state)))
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.identity = identity
	m.setStateLocked(StateConnecting, nil)
	m.mu.Unlock()

	m.flush()
	m.log.Info("push connecting", zap.Int64("identity", identity))
	go m.run(ctx)
}

// Disconnect cancels every subscription, tears down the transport and
// resets the state. Safe to call when already disconnected.
func (m *Manager) Disconnect() {
	m.subMu.Lock()
	m.mu.Lock()
	if m.state == StateDisconnected && m.cancel == nil && m.session == nil && len(m.subs) == 0 {
		m.mu.Unlock()
		m.subMu.Unlock()
		return
	}
	subs := m.subs
	m.subs = make(map[string]*subscription)
	sess := m.session
	m.session = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.setStateLocked(StateDisconnected, nil)
	m.mu.Unlock()
	m.subMu.Unlock()

	m.flush()
	for _, s := range subs {
		s.deactivate()
		m.cancelHandle(s)
	}
	if sess != nil {
		if err := sess.Close(); err != nil {
			m.log.Debug("close session", zap.Error(err))
		}
	}
	m.log.Info("push disconnected", zap.Int("subscriptions", len(subs)))
}

// SubscribeToUserOrders subscribes to a consumer's order events.
func (m *Manager) SubscribeToUserOrders(userID int64, h Handler) error {
	return m.subscribe(UserOrdersTopic(userID), h)
}

// SubscribeToMerchantOrders subscribes to a restaurant's order events.
func (m *Manager) SubscribeToMerchantOrders(restaurantID int64, h Handler) error {
	return m.subscribe(MerchantOrdersTopic(restaurantID), h)
}

func (m *Manager) subscribe(topic string, h Handler) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.mu.Lock()
	sess := m.session
	if m.state != StateConnected || sess == nil {
		state := m.state
		m.mu.Unlock()
		m.log.Warn("subscribe skipped, not connected",
			zap.String("topic", topic), zap.String("state", string(state)))
		return ErrNotConnected
	}
	prev := m.subs[topic]
	delete(m.subs, topic)
	m.mu.Unlock()

	if prev != nil {
		prev.deactivate()
		m.cancelHandle(prev)
		m.log.Debug("replaced subscription", zap.String("topic", topic))
	}

	s := &subscription{topic: topic, handler: h, active: true}
	m.mu.Lock()
	m.subs[topic] = s
	m.mu.Unlock()

	handle, err := sess.Subscribe(topic, m.deliver(s))

	m.mu.Lock()
	if err != nil || m.session != sess {
		if m.subs[topic] == s {
			delete(m.subs, topic)
		}
		m.mu.Unlock()
		s.deactivate()
		if err != nil {
			m.log.Warn("subscribe failed", zap.String("topic", topic), zap.Error(err))
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		if handle != nil {
			handle.Unsubscribe()
		}
		return ErrNotConnected
	}
	s.handle = handle
	m.mu.Unlock()

	m.log.Info("subscribed", zap.String("topic", topic))
	return nil
}

// Unsubscribe cancels one topic subscription, leaving the connection up.
func (m *Manager) Unsubscribe(topic string) {
	m.subMu.Lock()
	m.mu.Lock()
	s, ok := m.subs[topic]
	if ok {
		delete(m.subs, topic)
	}
	m.mu.Unlock()
	m.subMu.Unlock()

	if ok {
		s.deactivate()
		m.cancelHandle(s)
		m.log.Info("unsubscribed", zap.String("topic", topic))
	}
}

// UnsubscribeAll cancels every subscription, leaving the connection up.
func (m *Manager) UnsubscribeAll() {
	m.subMu.Lock()
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()
	m.subMu.Unlock()

	for _, s := range subs {
		s.deactivate()
		m.cancelHandle(s)
	}
}

func (m *Manager) cancelHandle(s *subscription) {
	m.mu.Lock()
	handle := s.handle
	s.handle = nil
	m.mu.Unlock()
	if handle == nil {
		return
	}
	if err := handle.Unsubscribe(); err != nil {
		m.log.Debug("unsubscribe", zap.String("topic", s.topic), zap.Error(err))
	}
}

// deliver wraps a handler with decoding. Malformed payloads and handler
// panics are logged and dropped; the subscription stays alive.
func (m *Manager) deliver(s *subscription) func([]byte) {
	return func(body []byte) {
		if !s.isActive() {
			return
		}
		ev, err := orders.DecodeStatusEvent(body)
		if err != nil {
			m.log.Warn("dropping malformed message",
				zap.String("topic", s.topic), zap.Error(err), zap.ByteString("body", truncate(body, 256)))
			m.emitter.EmitMessageDropped(s.topic, err)
			return
		}
		m.emitter.EmitMessageReceived(s.topic)
		m.dispatch(s, ev)
	}
}

func (m *Manager) dispatch(s *subscription, ev orders.StatusEvent) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			m.log.Error("subscription handler failed", zap.String("topic", s.topic), zap.Error(err))
			m.emitter.EmitMessageDropped(s.topic, err)
		}
	}()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active {
		return
	}
	s.handler(ev)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

// run dials until cancelled, reconnecting after every failure or drop.
func (m *Manager) run(ctx context.Context) {
	attempt := 0
	for {
		sess, err := m.dial(ctx)
		if ctx.Err() != nil {
			if sess != nil {
				sess.Close()
			}
			return
		}
		if err != nil {
			m.fail(ctx, err)
			attempt++
			if !m.backoff(ctx, attempt) {
				return
			}
			continue
		}

		if !m.attach(ctx, sess) {
			sess.Close()
			return
		}
		attempt = 0

		select {
		case <-ctx.Done():
			// Disconnect owns teardown.
			return
		case <-sess.Done():
		}

		m.detach(ctx, sess)
		attempt++
		if !m.backoff(ctx, attempt) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context) (transport.Session, error) {
	dctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	sess, err := m.dialer.Dial(dctx)
	if err != nil {
		if errors.Is(dctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("connect timeout after %v: %w", m.cfg.ConnectTimeout, err)
		}
		return nil, err
	}
	return sess, nil
}

// attach installs a fresh session and re-issues every held subscription.
func (m *Manager) attach(ctx context.Context, sess transport.Session) bool {
	m.subMu.Lock()
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		m.subMu.Unlock()
		return false
	}
	m.session = sess
	held := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		held = append(held, s)
	}
	m.mu.Unlock()

	restored := 0
	for _, s := range held {
		handle, err := sess.Subscribe(s.topic, m.deliver(s))
		if err != nil {
			m.log.Warn("restore subscription", zap.String("topic", s.topic), zap.Error(err))
			continue
		}
		m.mu.Lock()
		s.handle = handle
		m.mu.Unlock()
		restored++
	}

	m.mu.Lock()
	ok := ctx.Err() == nil && m.session == sess
	if ok {
		m.setStateLocked(StateConnected, nil)
	}
	m.mu.Unlock()
	m.subMu.Unlock()

	if !ok {
		return false
	}
	m.flush()
	m.log.Info("push connected", zap.Int64("identity", m.Identity()), zap.Int("restored", restored))
	return true
}

// detach records a transport-initiated drop.
func (m *Manager) detach(ctx context.Context, sess transport.Session) {
	err := sess.Err()
	m.mu.Lock()
	if ctx.Err() != nil || m.session != sess {
		m.mu.Unlock()
		return
	}
	m.session = nil
	for _, s := range m.subs {
		s.handle = nil
	}
	if err != nil {
		m.setStateLocked(StateError, err)
	} else {
		m.setStateLocked(StateDisconnected, nil)
	}
	m.mu.Unlock()

	m.flush()
	m.log.Warn("push connection lost", zap.Error(err))
}

func (m *Manager) fail(ctx context.Context, err error) {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateError, err)
	m.mu.Unlock()

	m.flush()
	m.log.Warn("push connect failed", zap.Error(err))
}

// backoff waits reconnectDelay * 2^(attempt-1), capped, with ±20% jitter.
// Returns false if cancelled.
func (m *Manager) backoff(ctx context.Context, attempt int) bool {
	base := m.cfg.ReconnectDelay
	for i := 1; i < attempt && base < m.cfg.MaxReconnectDelay; i++ {
		base *= 2
	}
	if base > m.cfg.MaxReconnectDelay {
		base = m.cfg.MaxReconnectDelay
	}
	delay := time.Duration(float64(base) * (0.8 + 0.4*rand.Float64()))

	m.emitter.EmitReconnectScheduled(attempt, delay)
	m.log.Debug("push reconnecting", zap.Duration("delay", delay.Round(time.Millisecond)), zap.Int("attempt", attempt))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) setStateLocked(s State, err error) {
	if m.state == s {
		return
	}
	m.pending = append(m.pending, transition{from: m.state, to: s, err: err})
	m.state = s
}

// flush emits queued transitions in order, outside m.mu. A call made while
// another goroutine (or a handler further up this one) is emitting leaves
// the queue to that emitter.
func (m *Manager) flush() {
	for {
		if !m.emitMu.TryLock() {
			return
		}
		for {
			m.mu.Lock()
			if len(m.pending) == 0 {
				m.mu.Unlock()
				break
			}
			t := m.pending[0]
			m.pending = m.pending[1:]
			m.mu.Unlock()
			m.emitter.EmitConnectionStateChanged(t.from, t.to, t.err)
		}
		m.emitMu.Unlock()

		m.mu.Lock()
		empty := len(m.pending) == 0
		m.mu.Unlock()
		if empty {
			return
		}
	}
}
