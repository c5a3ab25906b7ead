// Package poller runs the refetch timer that stands in for push delivery
// while the push connection is down.
package poller

import (
	"context"
	"sync"
	"time"

	"orderwatch/realtime"

	"go.uber.org/zap"
)

// StateSource reports the push connection state.
type StateSource interface {
	State() realtime.State
}

// RefreshFunc refetches the order list and reconciles differences. Errors
// are the callee's to report; the poller only skips to the next tick.
type RefreshFunc func(ctx context.Context) error

// Poller fires RefreshFunc on a fixed interval, but only while the push
// connection is not connected and the view is visible.
type Poller struct {
	conn     StateSource
	refresh  RefreshFunc
	interval time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	visible bool
	started bool

	wake     chan struct{}
	stopOnce sync.Once
	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a Poller. The view starts out visible.
func New(conn StateSource, refresh RefreshFunc, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		conn:     conn,
		refresh:  refresh,
		interval: interval,
		log:      logger.Named("poller"),
		visible:  true,
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// Start begins the poll loop.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop ends the poll loop and cancels an in-flight refresh.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()
	})
	p.wg.Wait()
}

// SetVisible records page visibility. Becoming visible restarts the
// interval and refetches immediately instead of waiting for a tick.
func (p *Poller) SetVisible(v bool) {
	p.mu.Lock()
	was := p.visible
	p.visible = v
	p.mu.Unlock()

	if v && !was {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// Visible reports the last recorded visibility.
func (p *Poller) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// Active reports whether a tick right now would refetch.
func (p *Poller) Active() bool {
	return p.Visible() && p.conn.State() != realtime.StateConnected
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-p.wake:
			ticker.Reset(p.interval)
			p.poll(ctx)
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if !p.Active() {
		return
	}
	if err := p.refresh(ctx); err != nil {
		p.log.Debug("poll refresh failed", zap.Error(err))
	}
}
