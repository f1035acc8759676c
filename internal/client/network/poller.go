package network

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrPollerStarted is returned when Start is called twice.
var ErrPollerStarted = errors.New("poller already started")

// Poller periodically probes connectivity and feeds the monitor.
// It stands in for the OS-level online/offline signal.
type Poller struct {
	monitor  *Monitor
	logger   *slog.Logger
	stopCh   chan struct{}
	done     chan struct{}
	interval time.Duration
	mu       sync.Mutex
	started  bool
	stopped  bool
}

// NewPoller creates a poller; it does nothing until Start.
func NewPoller(monitor *Monitor, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		monitor:  monitor,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start probes immediately and then every interval until Stop or ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrPollerStarted
	}
	p.started = true

	go p.loop(ctx)
	return nil
}

// Stop terminates the loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopCh)
	p.mu.Unlock()

	<-p.done
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.monitor.Refresh(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := p.monitor.Refresh(ctx)
			p.logger.Debug("Connectivity polled", "online", online)
		}
	}
}
