// Package idle releases the sink after it has been connected but idle for too long.
package idle

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

const (
	// DefaultInterval is the sampling interval used when Config.Interval is unset.
	DefaultInterval = 10 * time.Second
	// DefaultThreshold is the idle time used when Config.Threshold is unset.
	DefaultThreshold = 300 * time.Second
)

// Target is the scheduler side of the idle policy.
type Target interface {
	IdleStatus(ctx context.Context) (connected, idle bool, err error)
	ReleaseIdle(ctx context.Context) (bool, error)
}

// Config holds monitor configuration.
type Config struct {
	Interval  time.Duration // Sampling interval
	Threshold time.Duration // Idle duration before the sink is released
}

// Monitor samples the target on a fixed interval and accumulates idle time.
type Monitor struct {
	config Config
	target Target

	mu    sync.Mutex
	clock time.Duration
}

// NewMonitor creates a monitor. Zero durations fall back to the defaults.
func NewMonitor(config Config, target Target) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Threshold <= 0 {
		config.Threshold = DefaultThreshold
	}
	return &Monitor{config: config, target: target}
}

// Run ticks until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick takes one sample. It reports whether the sink was released.
func (m *Monitor) Tick(ctx context.Context) bool {
	connected, idle, err := m.target.IdleStatus(ctx)
	if err != nil {
		zlog.Debug().Msgf("idle: status unavailable: error=%v", err)
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !connected || !idle {
		m.clock = 0
		return false
	}

	m.clock += m.config.Interval
	if m.clock < m.config.Threshold {
		return false
	}

	idleFor := m.clock
	m.clock = 0
	released, err := m.target.ReleaseIdle(ctx)
	if err != nil {
		zlog.Warn().Msgf("idle: failed to release sink: error=%v", err)
		return false
	}
	if released {
		zlog.Info().Msgf("idle: released sink after inactivity: idle_for=%v", idleFor)
	}
	return released
}

// Elapsed returns the accumulated idle time.
func (m *Monitor) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock
}
