package remote

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

const defaultPollInterval = 5 * time.Second

// Refresher is polled for status.
type Refresher interface {
	RefreshStatus(ctx context.Context) error
}

// Poller refreshes the device status at a fixed cadence while visible.
// Hiding tears the loop down and waits for it to exit; showing re-arms it
// with an immediate refresh.
type Poller struct {
	refresher Refresher
	interval  time.Duration

	mu      sync.Mutex
	parent  context.Context
	visible bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPoller creates a stopped poller that starts out visible or hidden.
func NewPoller(r Refresher, interval time.Duration, visible bool) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{refresher: r, interval: interval, visible: visible}
}

// Start enables polling for the lifetime of ctx. The loop only runs while visible.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.parent = ctx
	if p.visible {
		p.armLocked()
	}
}

// SetVisible arms or disarms the loop.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.visible == visible {
		return
	}
	p.visible = visible
	zlog.Debug().Msgf("remote: visibility changed: visible=%t", visible)

	if visible {
		p.armLocked()
	} else {
		p.disarmLocked()
	}
}

// Visible reports the current visibility.
func (p *Poller) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// Running reports whether the loop is armed.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Stop disarms the loop and disables polling until the next Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.disarmLocked()
	p.parent = nil
}

func (p *Poller) armLocked() {
	if p.parent == nil || p.cancel != nil || p.parent.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(p.parent)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		p.loop(ctx)
	}()
}

func (p *Poller) disarmLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		_ = p.refresher.RefreshStatus(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
