// Package heartbeat detects stalled story workers by tracking elapsed
// time since the last pulse. Grounded on original_source/src/timeout/heartbeat.rs,
// translated from a tokio background task + mpsc channel into a goroutine
// ticking on a time.Ticker and a buffered Go channel.
package heartbeat

import (
	"sync"
	"time"

	"ralph/internal/model"
)

// EventKind distinguishes a pre-threshold warning from a confirmed stall.
type EventKind string

const (
	EventWarning       EventKind = "warning"
	EventStallDetected EventKind = "stall_detected"
)

// Event reports how many consecutive heartbeats have been missed.
type Event struct {
	Kind   EventKind
	Missed int
}

// Monitor tracks time since the last Pulse and emits Events on Events()
// once misses accumulate.
type Monitor struct {
	cfg    model.TimeoutConfig
	mu     sync.Mutex
	last   time.Time
	events chan Event
	stop   chan struct{}
	once   sync.Once
}

// New creates a Monitor for the given timeout configuration. Call Start to
// begin the background ticker and Pulse() to record progress.
func New(cfg model.TimeoutConfig) *Monitor {
	return &Monitor{
		cfg:    cfg,
		last:   time.Now(),
		events: make(chan Event, 8),
		stop:   make(chan struct{}),
	}
}

// Events returns the channel a caller drains for Warning/StallDetected
// notifications.
func (m *Monitor) Events() <-chan Event { return m.events }

// Pulse records progress, resetting the missed-heartbeat count.
func (m *Monitor) Pulse() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = time.Now()
}

// Start begins the background monitoring loop. Safe to call once; Stop
// ends it. Restartable by constructing a new Monitor.
func (m *Monitor) Start() {
	interval := m.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.checkMissed(interval)
			}
		}
	}()
}

func (m *Monitor) checkMissed(interval time.Duration) {
	m.mu.Lock()
	elapsed := time.Since(m.last)
	m.mu.Unlock()

	missed := int(elapsed / interval)
	if missed <= 0 {
		return
	}

	var evt Event
	switch {
	case missed >= m.cfg.MissedHeartbeats:
		evt = Event{Kind: EventStallDetected, Missed: missed}
	case missed >= m.cfg.MissedHeartbeats-1:
		evt = Event{Kind: EventWarning, Missed: missed}
	default:
		return
	}

	select {
	case m.events <- evt:
	default: // event channel full; caller isn't draining fast enough, drop
	}
}

// Stop ends the background loop. Idempotent.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}
