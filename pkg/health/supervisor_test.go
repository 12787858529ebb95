package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/meshbroker/pkg/events"
	"github.com/cuemby/meshbroker/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(cfg Config) (*Supervisor, *events.Broker, events.Subscriber) {
	broker := events.NewBroker()
	broker.Start()
	sub := broker.Subscribe()
	return NewSupervisor(cfg, broker), broker, sub
}

func drainUntil(t *testing.T, sub events.Subscriber, want events.EventType, timeout time.Duration) *events.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-sub:
			if evt.Type == want {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %v", want)
			return nil
		}
	}
}

func TestSupervisorHealthRollup(t *testing.T) {
	sup, broker, _ := newTestSupervisor(Config{ReconnectAttempts: 1, ReconnectDelayMs: 1})
	defer broker.Stop()

	assert.Equal(t, types.OverallOffline, sup.Health())

	sup.Connected(types.BackendFast)
	assert.Equal(t, types.OverallDegraded, sup.Health())

	sup.Connected(types.BackendDurable)
	assert.Equal(t, types.OverallHealthy, sup.Health())

	sup.Disconnected(types.BackendFast, errors.New("boom"), nil)
	assert.Equal(t, types.OverallDegraded, sup.Health())

	sup.Disconnected(types.BackendDurable, errors.New("boom"), nil)
	assert.Equal(t, types.OverallOffline, sup.Health())
}

func TestSupervisorDisconnectEmitsErrorVsCleanDisconnect(t *testing.T) {
	sup, broker, sub := newTestSupervisor(Config{ReconnectAttempts: 0})
	defer broker.Stop()
	defer broker.Unsubscribe(sub)

	sup.Disconnected(types.BackendFast, errors.New("timeout"), nil)
	evt := drainUntil(t, sub, events.EventRedisError, time.Second)
	assert.Equal(t, "timeout", evt.Message)

	sup.Disconnected(types.BackendFast, nil, nil)
	drainUntil(t, sub, events.EventRedisDisconnected, time.Second)
}

// TestReconnectStormGuard exercises spec scenario 6: reconnect_attempts=3,
// reconnect_delay_ms=20, persistent failures. Exactly 3 attempts are made,
// spaced by linear backoff, followed by a single reconnect_failed event.
func TestReconnectStormGuard(t *testing.T) {
	sup, broker, sub := newTestSupervisor(Config{
		ReconnectAttempts: 3,
		ReconnectDelayMs:  20,
	})
	defer broker.Stop()
	defer broker.Unsubscribe(sub)

	var attempts int64
	var timestamps []time.Time
	start := time.Now()

	reconnect := func(ctx context.Context) error {
		n := atomic.AddInt64(&attempts, 1)
		_ = n
		timestamps = append(timestamps, time.Now())
		return errors.New("connection refused")
	}

	sup.Disconnected(types.BackendFast, errors.New("initial failure"), reconnect)

	drainUntil(t, sub, events.EventReconnectFailed, 3*time.Second)

	require.EqualValues(t, 3, atomic.LoadInt64(&attempts))
	require.Len(t, timestamps, 3)

	// Linear backoff: attempt i waits delay*i, so gaps from start should be
	// roughly >= 20ms, 40ms, 60ms cumulative.
	assert.GreaterOrEqual(t, timestamps[0].Sub(start), 15*time.Millisecond)
	assert.True(t, timestamps[1].After(timestamps[0]))
	assert.True(t, timestamps[2].After(timestamps[1]))

	assert.Equal(t, types.OverallOffline, sup.Health())
}

func TestReconnectSucceedsResetsErrorCount(t *testing.T) {
	sup, broker, sub := newTestSupervisor(Config{ReconnectAttempts: 5, ReconnectDelayMs: 5})
	defer broker.Stop()
	defer broker.Unsubscribe(sub)

	var calls int64
	reconnect := func(ctx context.Context) error {
		n := atomic.AddInt64(&calls, 1)
		if n >= 2 {
			return nil
		}
		return errors.New("not yet")
	}

	sup.Disconnected(types.BackendDurable, errors.New("lost connection"), reconnect)

	drainUntil(t, sub, events.EventKafkaConnected, 2*time.Second)

	status := sup.Status(types.BackendDurable)
	assert.True(t, status.Connected)
	assert.Equal(t, 0, status.ErrorCount)
}

// TestDedupGuardPreventsConcurrentReconnectLoops ensures a second Disconnected
// call while a reconnect loop is already running does not start a parallel
// loop, per property P10.
func TestDedupGuardPreventsConcurrentReconnectLoops(t *testing.T) {
	sup, broker, sub := newTestSupervisor(Config{ReconnectAttempts: 2, ReconnectDelayMs: 50})
	defer broker.Stop()
	defer broker.Unsubscribe(sub)

	var starts int64
	block := make(chan struct{})
	reconnect := func(ctx context.Context) error {
		atomic.AddInt64(&starts, 1)
		<-block
		return errors.New("still down")
	}

	sup.Disconnected(types.BackendFast, errors.New("e1"), reconnect)
	time.Sleep(20 * time.Millisecond)
	sup.Disconnected(types.BackendFast, errors.New("e2"), reconnect)

	close(block)
	drainUntil(t, sub, events.EventReconnectFailed, 3*time.Second)

	assert.LessOrEqual(t, atomic.LoadInt64(&starts), int64(2))
}

func TestResetClearsFailedState(t *testing.T) {
	sup, broker, sub := newTestSupervisor(Config{ReconnectAttempts: 1, ReconnectDelayMs: 1})
	defer broker.Stop()
	defer broker.Unsubscribe(sub)

	reconnect := func(ctx context.Context) error { return errors.New("down") }
	sup.Disconnected(types.BackendFast, errors.New("initial"), reconnect)
	drainUntil(t, sub, events.EventReconnectFailed, 2*time.Second)

	sup.Reset(types.BackendFast)
	status := sup.Status(types.BackendFast)
	assert.Equal(t, 0, status.ErrorCount)
}

func TestHealthCheckTimerStampsLastCheck(t *testing.T) {
	sup, broker, _ := newTestSupervisor(Config{HealthCheckIntervalMs: 10})
	defer broker.Stop()

	sup.StartHealthCheckTimer()
	defer sup.Stop()

	time.Sleep(50 * time.Millisecond)

	status := sup.Status(types.BackendFast)
	assert.False(t, status.LastHealthCheck.IsZero())
}
