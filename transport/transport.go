// Package transport provides the push connection used for order-status
// delivery: STOMP frames carried over a WebSocket.
package transport

import (
	"context"
	"errors"
)

// ErrUnsubscribeTimeout is returned when the broker never acknowledges an
// UNSUBSCRIBE. The local handle is dead either way.
var ErrUnsubscribeTimeout = errors.New("unsubscribe not acknowledged")

// Dialer opens push sessions. Implementations must honor ctx for the whole
// handshake.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Session is one live push connection.
type Session interface {
	// Subscribe delivers every message body on destination to handler,
	// on a goroutine owned by the session.
	Subscribe(destination string, handler func(body []byte)) (Subscription, error)
	// Done is closed when the underlying connection ends for any reason.
	Done() <-chan struct{}
	// Err reports why Done was closed: nil after a local Close or a
	// normal close from the peer, non-nil for any failure.
	Err() error
	Close() error
}

// Subscription is a live transport-level subscription handle.
type Subscription interface {
	Unsubscribe() error
}
