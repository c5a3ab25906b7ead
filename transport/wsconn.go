package transport

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosedByTransport is reported when the connection is closed from
// underneath the session, e.g. after a missed heartbeat or a STOMP ERROR
// frame.
var ErrClosedByTransport = errors.New("connection closed by transport")

// wsConn adapts a WebSocket to the byte stream STOMP expects. Each Write is
// sent as one text message; reads span message boundaries.
type wsConn struct {
	ws     *websocket.Conn
	reader io.Reader

	wmu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
	local  bool // close requested by this side
	clean  bool // peer sent a normal close frame
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws, done: make(chan struct{})}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				c.fail(err)
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		c.fail(err)
		return 0, err
	}
	return len(p), nil
}

// closeLocal marks the upcoming Close as requested by this side.
func (c *wsConn) closeLocal() {
	c.mu.Lock()
	c.local = true
	c.mu.Unlock()
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.err == nil && !c.local && !c.clean {
			c.err = ErrClosedByTransport
		}
		c.closed = true
		c.mu.Unlock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
		close(c.done)
	})
	return err
}

func (c *wsConn) fail(err error) {
	c.mu.Lock()
	if c.err == nil && !c.closed {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.clean = true
		} else {
			c.err = err
		}
	}
	c.mu.Unlock()
	c.Close()
}

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
