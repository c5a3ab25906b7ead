package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	unsubscribeTimeout = 2 * time.Second
	disconnectTimeout  = 2 * time.Second
)

var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// StompDialer dials a STOMP broker exposed as a raw WebSocket endpoint.
type StompDialer struct {
	URL               string
	Host              string // STOMP virtual host; defaults to the URL host
	Header            http.Header
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	Logger            *zap.Logger
}

// NewStompDialer creates a dialer for the given ws:// or wss:// endpoint.
func NewStompDialer(endpoint string, logger *zap.Logger) *StompDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StompDialer{URL: endpoint, Logger: logger}
}

// Dial opens the WebSocket and performs the STOMP CONNECT handshake.
func (d *StompDialer) Dial(ctx context.Context) (Session, error) {
	endpoint, err := wsEndpoint(d.URL)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		Proxy:        http.ProxyFromEnvironment,
		Subprotocols: stompSubprotocols,
	}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.HandshakeTimeout = time.Until(deadline)
	}
	ws, resp, err := dialer.DialContext(ctx, endpoint.String(), d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %s: %w", endpoint.Redacted(), resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", endpoint.Redacted(), err)
	}
	conn := newWSConn(ws)

	host := d.Host
	if host == "" {
		host = endpoint.Hostname()
	}
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Host(host),
		stomp.ConnOpt.HeartBeat(d.HeartbeatOutgoing, d.HeartbeatIncoming),
	}
	if d.HeartbeatIncoming > 0 {
		// A silent broker is declared dead after roughly two incoming
		// intervals instead of the library's fixed 5s grace.
		opts = append(opts, stomp.ConnOpt.HeartBeatError(d.HeartbeatIncoming))
	}

	// stomp.Connect has no context; closing the socket aborts it.
	type result struct {
		conn *stomp.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := stomp.Connect(conn, opts...)
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			conn.closeLocal()
			conn.Close()
			return nil, fmt.Errorf("stomp connect: %w", r.err)
		}
		return &stompSession{conn: r.conn, ws: conn, log: d.Logger}, nil
	case <-ctx.Done():
		conn.closeLocal()
		conn.Close()
		return nil, fmt.Errorf("stomp connect: %w", ctx.Err())
	}
}

// wsEndpoint accepts http(s) URLs too, since the backend documents its
// endpoint that way.
func wsEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	return u, nil
}

type stompSession struct {
	conn *stomp.Conn
	ws   *wsConn
	log  *zap.Logger
}

func (s *stompSession) Subscribe(destination string, handler func([]byte)) (Subscription, error) {
	sub, err := s.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("stomp subscribe %s: %w", destination, err)
	}
	h := &stompSubscription{sub: sub, destination: destination}
	go h.pump(handler, s.log)
	return h, nil
}

func (s *stompSession) Done() <-chan struct{} { return s.ws.done }

func (s *stompSession) Err() error { return s.ws.Err() }

func (s *stompSession) Close() error {
	s.ws.closeLocal()
	errCh := make(chan error, 1)
	go func() { errCh <- s.conn.Disconnect() }()

	var err error
	select {
	case err = <-errCh:
	case <-time.After(disconnectTimeout):
		err = fmt.Errorf("stomp disconnect: no receipt after %v", disconnectTimeout)
	}
	s.ws.Close()
	return err
}

type stompSubscription struct {
	sub         *stomp.Subscription
	destination string
}

func (h *stompSubscription) pump(handler func([]byte), log *zap.Logger) {
	for msg := range h.sub.C {
		if msg == nil {
			continue
		}
		if msg.Err != nil {
			log.Debug("stomp subscription error",
				zap.String("destination", h.destination), zap.Error(msg.Err))
			continue
		}
		handler(msg.Body)
	}
}

func (h *stompSubscription) Unsubscribe() error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.sub.Unsubscribe() }()
	select {
	case err := <-errCh:
		return err
	case <-time.After(unsubscribeTimeout):
		return ErrUnsubscribeTimeout
	}
}
