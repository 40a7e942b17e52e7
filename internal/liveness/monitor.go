// Package liveness marks runtimes dead when their keepalives stop arriving.
package liveness

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"runtimed/internal/registry"
	"runtimed/internal/store"
)

// ReasonTimeout is the dead reason recorded for runtimes that missed their keepalive window.
const ReasonTimeout = "keepalive timeout"

const (
	DefaultTimeout  = 30 * time.Second
	DefaultInterval = 5 * time.Second
)

// Pinger is anything that can answer a liveness probe, typically a kernel handle.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor tracks keepalives per runtime and sweeps for timed-out runtimes.
type Monitor struct {
	registry *registry.Registry
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// Config configures a Monitor. Zero durations fall back to the defaults.
type Config struct {
	Timeout  time.Duration
	Interval time.Duration
	Clock    func() time.Time
	Logger   *slog.Logger
}

// New creates a monitor over reg.
func New(reg *registry.Registry, cfg Config) *Monitor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{
		registry: reg,
		timeout:  cfg.Timeout,
		interval: cfg.Interval,
		now:      cfg.Clock,
		log:      cfg.Logger,
	}
}

// Heartbeat records a keepalive for runtimeID. Heartbeats for a dead runtime fail with
// store.ErrRuntimeDead; death is never reversed.
func (m *Monitor) Heartbeat(ctx context.Context, runtimeID string) error {
	return m.registry.Touch(runtimeID, m.now())
}

// Sweep marks dead every live runtime whose last keepalive is older than the timeout
// and returns their IDs.
func (m *Monitor) Sweep(ctx context.Context) []string {
	now := m.now()
	stale := func(rt store.Runtime) bool {
		return now.Sub(rt.LastKeepalive) > m.timeout
	}

	var killed []string
	for _, snap := range m.registry.List() {
		if snap.Status == store.RuntimeStatusDead || !stale(snap.Runtime) {
			continue
		}
		// Re-checked under the runtime lock; a heartbeat may have landed since List.
		ok, err := m.registry.MarkDeadIf(ctx, snap.ID, ReasonTimeout, stale)
		if err != nil {
			m.log.Error("failed to mark runtime dead", "runtime_id", snap.ID, "error", err)
			continue
		}
		if ok {
			m.log.Warn("runtime missed keepalive window",
				"runtime_id", snap.ID,
				"last_keepalive", snap.LastKeepalive,
				"timeout", m.timeout,
			)
			killed = append(killed, snap.ID)
		}
	}
	return killed
}

// Run sweeps on every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("liveness monitor started", "timeout", m.timeout, "interval", m.interval)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("liveness monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Watch pings p on every interval and turns each successful ping into a heartbeat
// for runtimeID. It returns when ctx is cancelled or the runtime is dead or gone.
// Failed pings are not heartbeats, so a silent kernel is left for Sweep to reap.
func (m *Monitor) Watch(ctx context.Context, runtimeID string, p Pinger, interval time.Duration) {
	if interval <= 0 {
		interval = m.interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			err := p.Ping(pingCtx)
			cancel()
			if err != nil {
				m.log.Debug("kernel ping failed", "runtime_id", runtimeID, "error", err)
				continue
			}
			if err := m.Heartbeat(ctx, runtimeID); err != nil {
				if errors.Is(err, store.ErrRuntimeDead) || errors.Is(err, store.ErrUnknownRuntime) {
					return
				}
				m.log.Warn("failed to record keepalive", "runtime_id", runtimeID, "error", err)
			}
		}
	}
}
