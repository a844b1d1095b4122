package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ralph/internal/model"
)

func newTestMonitor(missedHeartbeats int) *Monitor {
	cfg := model.TimeoutConfig{HeartbeatInterval: time.Second, MissedHeartbeats: missedHeartbeats}
	return New(cfg)
}

func TestCheckMissedEmitsNothingWhenRecentlyPulsed(t *testing.T) {
	m := newTestMonitor(4)
	m.checkMissed(time.Second)
	select {
	case evt := <-m.Events():
		t.Fatalf("unexpected event: %+v", evt)
	default:
	}
}

func TestCheckMissedWarnsBeforeStalling(t *testing.T) {
	m := newTestMonitor(4)
	m.mu.Lock()
	m.last = time.Now().Add(-3 * time.Second)
	m.mu.Unlock()

	m.checkMissed(time.Second)

	evt := <-m.Events()
	require.Equal(t, EventWarning, evt.Kind)
}

func TestCheckMissedDetectsStallAfterThreshold(t *testing.T) {
	m := newTestMonitor(4)
	m.mu.Lock()
	m.last = time.Now().Add(-5 * time.Second)
	m.mu.Unlock()

	m.checkMissed(time.Second)

	evt := <-m.Events()
	require.Equal(t, EventStallDetected, evt.Kind)
}

func TestPulseResetsElapsed(t *testing.T) {
	m := newTestMonitor(4)
	m.mu.Lock()
	m.last = time.Now().Add(-10 * time.Second)
	m.mu.Unlock()

	m.Pulse()
	m.checkMissed(time.Second)

	select {
	case evt := <-m.Events():
		t.Fatalf("unexpected event after pulse: %+v", evt)
	default:
	}
}

func TestStopIsIdempotent(t *testing.T) {
	m := newTestMonitor(4)
	m.Start()
	m.Stop()
	require.NotPanics(t, m.Stop)
}
