// Package network tracks connectivity and notifies listeners on transitions.
package network

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/iudanet/offsync/internal/metrics"
)

//go:generate moq -out prober_mock.go . Prober

// Prober performs an active connectivity check, e.g. a lightweight request
// to the backend health endpoint. Any error means "unreachable".
type Prober interface {
	Ping(ctx context.Context) error
}

// Listener is called with the new status on every transition.
type Listener func(online bool)

type listenerEntry struct {
	fn Listener
	id uint64
}

// Config configures a Monitor.
type Config struct {
	Prober        Prober
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	ProbeTimeout  time.Duration // таймаут одной попытки probe
	ProbeAttempts int           // число попыток с экспоненциальной паузой
	InitialOnline bool
}

// Monitor is the single source of truth for connectivity inside the subsystem.
type Monitor struct {
	prober        Prober
	logger        *slog.Logger
	metrics       *metrics.Metrics
	listeners     []listenerEntry
	probeTimeout  time.Duration
	probeAttempts int
	nextID        uint64
	mu            sync.RWMutex
	online        bool
}

// NewMonitor creates a new network monitor
func NewMonitor(cfg Config) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.ProbeAttempts <= 0 {
		cfg.ProbeAttempts = 3
	}

	m := &Monitor{
		prober:        cfg.Prober,
		logger:        logger,
		metrics:       cfg.Metrics,
		probeTimeout:  cfg.ProbeTimeout,
		probeAttempts: cfg.ProbeAttempts,
		online:        cfg.InitialOnline,
	}
	m.metrics.Online(cfg.InitialOnline)

	return m
}

// IsOnline returns current network state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// AddListener registers fn and returns a function that removes it.
func (m *Monitor) AddListener(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, l := range m.listeners {
				if l.id == id {
					m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// SetOnline is the passive status signal. On a transition it updates the
// status and synchronously invokes every listener in registration order.
// Repeating the current status is a no-op.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	// Снимок списка: слушатель может отписаться во время вызова
	listeners := make([]listenerEntry, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.metrics.Online(online)
	m.logger.Info("Network status changed", "online", online)

	for _, l := range listeners {
		m.notify(l, online)
	}
}

// notify изолирует слушателя: паника одного не мешает остальным
func (m *Monitor) notify(l listenerEntry, online bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Network listener panicked", "listener_id", l.id, "error", r)
		}
	}()
	l.fn(online)
}

// CheckConnectivity actively probes the backend, independent of the passive
// flag. It never returns an error: every failure resolves to false.
// Without a configured Prober it falls back to the passive status.
func (m *Monitor) CheckConnectivity(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsOnline()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = m.probeTimeout * time.Duration(m.probeAttempts)

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(m.probeAttempts-1)), ctx)

	err := backoff.Retry(func() error {
		return m.ping(ctx)
	}, b)
	if err != nil {
		m.logger.Debug("Connectivity probe failed", "error", err)
		return false
	}

	return true
}

// Refresh probes connectivity and feeds the result into SetOnline.
// A probe cut short by ctx cancellation does not change the status.
func (m *Monitor) Refresh(ctx context.Context) bool {
	online := m.CheckConnectivity(ctx)
	if ctx.Err() != nil {
		return m.IsOnline()
	}
	m.SetOnline(online)
	return online
}

func (m *Monitor) ping(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	if err := m.prober.Ping(ctx); err != nil {
		return err
	}
	return ctx.Err()
}
