package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"orderwatch/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu    sync.Mutex
	state realtime.State
}

func (c *fakeConn) State() realtime.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) set(s realtime.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func startPoller(t *testing.T, state realtime.State, interval time.Duration) (*Poller, *fakeConn, *atomic.Int32) {
	t.Helper()
	conn := &fakeConn{state: state}
	var calls atomic.Int32
	p := New(conn, func(context.Context) error {
		calls.Add(1)
		return nil
	}, interval, nil)
	return p, conn, &calls
}

func TestNoRefetchWhileConnected(t *testing.T) {
	p, _, calls := startPoller(t, realtime.StateConnected, 10*time.Millisecond)
	p.Start()
	time.Sleep(80 * time.Millisecond)
	p.Stop()

	assert.Equal(t, int32(0), calls.Load())
}

func TestRefetchEveryIntervalWhileDisconnected(t *testing.T) {
	p, _, calls := startPoller(t, realtime.StateDisconnected, 10*time.Millisecond)
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestNoRefetchWhileHidden(t *testing.T) {
	for _, state := range []realtime.State{realtime.StateDisconnected, realtime.StateError, realtime.StateConnected} {
		p, _, calls := startPoller(t, state, 10*time.Millisecond)
		p.SetVisible(false)
		p.Start()
		time.Sleep(60 * time.Millisecond)
		p.Stop()
		assert.Equal(t, int32(0), calls.Load(), "state %s", state)
	}
}

func TestRegainVisibilityFetchesImmediately(t *testing.T) {
	p, _, calls := startPoller(t, realtime.StateError, time.Hour)
	p.SetVisible(false)
	p.Start()
	defer p.Stop()

	p.SetVisible(true)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Already visible: no extra fetch.
	p.SetVisible(true)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestConnectionRecoveryStopsPolling(t *testing.T) {
	p, conn, calls := startPoller(t, realtime.StateError, 10*time.Millisecond)
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	conn.set(realtime.StateConnected)
	time.Sleep(30 * time.Millisecond)
	settled := calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, calls.Load())
	assert.False(t, p.Active())
}

func TestRefreshErrorKeepsPolling(t *testing.T) {
	conn := &fakeConn{state: realtime.StateDisconnected}
	var calls atomic.Int32
	p := New(conn, func(context.Context) error {
		calls.Add(1)
		return errors.New("503")
	}, 10*time.Millisecond, nil)
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestStopCancelsInFlightRefresh(t *testing.T) {
	conn := &fakeConn{state: realtime.StateDisconnected}
	entered := make(chan struct{})
	var once sync.Once
	p := New(conn, func(ctx context.Context) error {
		once.Do(func() { close(entered) })
		<-ctx.Done()
		return ctx.Err()
	}, 5*time.Millisecond, nil)
	p.Start()
	<-entered

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on in-flight refresh")
	}
	p.Stop()
}
