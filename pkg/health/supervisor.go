package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/meshbroker/pkg/events"
	"github.com/cuemby/meshbroker/pkg/log"
	"github.com/cuemby/meshbroker/pkg/metrics"
	"github.com/cuemby/meshbroker/pkg/types"
)

// connState is the per-backend state machine of spec §4.F:
// connected -> disconnected -> reconnecting -> (connected | failed).
type connState string

const (
	stateConnected    connState = "connected"
	stateDisconnected connState = "disconnected"
	stateReconnecting connState = "reconnecting"
	stateFailed       connState = "failed"
)

// Config holds the supervisor's reconnect and health-check policy, mirroring
// spec §6's "supervisor" configuration block.
type Config struct {
	HealthCheckIntervalMs int
	ReconnectAttempts     int
	ReconnectDelayMs      int
}

// ReconnectFunc attempts to re-establish a backend connection. It is
// supplied by the caller (faststore/durablestore), never by the supervisor.
type ReconnectFunc func(ctx context.Context) error

type backendState struct {
	mu               sync.Mutex
	state            connState
	errorCount       int
	lastError        string
	lastHealthCheck  time.Time
	reconnectAttempt int
	reconnecting     atomic.Bool
}

// Supervisor tracks per-backend connectivity, drives linear-backoff
// reconnection with a per-backend dedup guard, and recomputes the
// overall health rollup on every transition.
type Supervisor struct {
	cfg      Config
	broker   *events.Broker
	mu       sync.RWMutex
	backends map[types.BackendName]*backendState
	rollup   types.OverallHealth
	stopCh   chan struct{}
}

// NewSupervisor creates a supervisor tracking the fast and durable backends.
func NewSupervisor(cfg Config, broker *events.Broker) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		broker: broker,
		backends: map[types.BackendName]*backendState{
			types.BackendFast:    {state: stateDisconnected},
			types.BackendDurable: {state: stateDisconnected},
		},
		rollup: types.OverallOffline,
		stopCh: make(chan struct{}),
	}
	return s
}

// StartHealthCheckTimer runs the periodic health-check ticker described in
// spec §4.F: it only stamps last_health_check, since authoritative state
// comes from connect/disconnect events.
func (s *Supervisor) StartHealthCheckTimer() {
	interval := time.Duration(s.cfg.HealthCheckIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				s.mu.RLock()
				for _, b := range s.backends {
					b.mu.Lock()
					b.lastHealthCheck = now
					b.mu.Unlock()
				}
				s.mu.RUnlock()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the health-check timer. It does not cancel in-flight reconnects.
func (s *Supervisor) Stop() {
	close(s.stopCh)
}

// Connected records a successful connect, resetting error_count and the
// reconnect attempt counter.
func (s *Supervisor) Connected(backend types.BackendName) {
	b := s.backend(backend)
	b.mu.Lock()
	b.state = stateConnected
	b.errorCount = 0
	b.reconnectAttempt = 0
	b.lastError = ""
	b.mu.Unlock()

	metrics.HealthStatus.WithLabelValues(string(backend)).Set(1)

	s.broker.Publish(&events.Event{Type: connectedEventFor(backend), Metadata: map[string]string{"backend": string(backend)}})
	s.recomputeRollup()
}

// Disconnected records a connection loss or error and launches (at most one
// concurrent) reconnect loop for the backend, per spec §4.F's dedup rule.
// cause == nil means a clean disconnect (emits *_disconnected); a non-nil
// cause means a transient backend error (emits *_error). A backend in the
// failed state stays failed and gets no new reconnect loop until Reset.
func (s *Supervisor) Disconnected(backend types.BackendName, cause error, reconnect ReconnectFunc) {
	b := s.backend(backend)
	b.mu.Lock()
	failed := b.state == stateFailed
	if !failed {
		b.state = stateDisconnected
	}
	b.errorCount++
	if cause != nil {
		b.lastError = cause.Error()
	}
	alreadyReconnecting := b.reconnecting.Load()
	b.mu.Unlock()

	metrics.HealthStatus.WithLabelValues(string(backend)).Set(0)

	evtType := disconnectedEventFor(backend)
	if cause != nil {
		evtType = errorEventFor(backend)
	}
	s.broker.Publish(&events.Event{Type: evtType, Message: errString(cause), Metadata: map[string]string{"backend": string(backend)}})
	s.recomputeRollup()

	if !alreadyReconnecting && !failed && reconnect != nil {
		go s.runReconnectLoop(backend, b, reconnect)
	}
}

// runReconnectLoop is the only place backend state transitions to
// reconnecting/failed. The atomic dedup guard ensures at most one loop runs
// per backend at a time, satisfying P10 (reconnect cap).
func (s *Supervisor) runReconnectLoop(backend types.BackendName, b *backendState, reconnect ReconnectFunc) {
	if !b.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer b.reconnecting.Store(false)

	b.mu.Lock()
	b.state = stateReconnecting
	b.mu.Unlock()

	logger := log.WithBackend(string(backend))
	delay := time.Duration(s.cfg.ReconnectDelayMs) * time.Millisecond

	for attempt := 1; attempt <= s.cfg.ReconnectAttempts; attempt++ {
		time.Sleep(delay * time.Duration(attempt))

		b.mu.Lock()
		b.reconnectAttempt = attempt
		b.mu.Unlock()

		metrics.ReconnectAttemptsTotal.WithLabelValues(string(backend)).Inc()

		ctx, cancel := context.WithTimeout(context.Background(), delay*time.Duration(attempt)+5*time.Second)
		err := reconnect(ctx)
		cancel()

		if err == nil {
			logger.Info().Int("attempt", attempt).Msg("backend reconnected")
			s.Connected(backend)
			return
		}

		logger.Warn().Int("attempt", attempt).Err(err).Msg("reconnect attempt failed")
		s.broker.Publish(&events.Event{
			Type:     events.EventReconnectAttemptFailed,
			Message:  err.Error(),
			Metadata: map[string]string{"backend": string(backend)},
		})
	}

	b.mu.Lock()
	b.state = stateFailed
	b.mu.Unlock()

	metrics.ReconnectFailedTotal.WithLabelValues(string(backend)).Inc()
	s.broker.Publish(&events.Event{
		Type:     events.EventReconnectFailed,
		Message:  string(backend),
		Metadata: map[string]string{"backend": string(backend)},
	})
	s.recomputeRollup()
}

// Reset clears a backend out of the failed state so a future Disconnected
// call can trigger reconnection again, per spec §7 kind 5's "external reset".
func (s *Supervisor) Reset(backend types.BackendName) {
	b := s.backend(backend)
	b.mu.Lock()
	b.state = stateDisconnected
	b.reconnectAttempt = 0
	b.errorCount = 0
	b.mu.Unlock()
}

// Status returns a snapshot of one backend's health, per the Health status
// shape of spec §3.
func (s *Supervisor) Status(backend types.BackendName) types.HealthState {
	b := s.backend(backend)
	b.mu.Lock()
	defer b.mu.Unlock()
	return types.HealthState{
		Connected:       b.state == stateConnected,
		LastHealthCheck: b.lastHealthCheck,
		ErrorCount:      b.errorCount,
		LastError:       b.lastError,
	}
}

// Health returns the overall rollup: healthy iff both backends connected,
// offline iff neither, degraded otherwise (property P9).
func (s *Supervisor) Health() types.OverallHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rollup
}

func (s *Supervisor) recomputeRollup() {
	fastUp := s.Status(types.BackendFast).Connected
	durableUp := s.Status(types.BackendDurable).Connected

	var next types.OverallHealth
	switch {
	case fastUp && durableUp:
		next = types.OverallHealthy
	case !fastUp && !durableUp:
		next = types.OverallOffline
	default:
		next = types.OverallDegraded
	}

	s.mu.Lock()
	changed := next != s.rollup
	s.rollup = next
	s.mu.Unlock()

	if changed {
		s.broker.Publish(&events.Event{
			Type:    events.EventHealthChanged,
			Message: string(next),
		})
	}
}

func (s *Supervisor) backend(name types.BackendName) *backendState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backends[name]
}

func connectedEventFor(backend types.BackendName) events.EventType {
	if backend == types.BackendFast {
		return events.EventRedisConnected
	}
	return events.EventKafkaConnected
}

func errorEventFor(backend types.BackendName) events.EventType {
	if backend == types.BackendFast {
		return events.EventRedisError
	}
	return events.EventKafkaError
}

func disconnectedEventFor(backend types.BackendName) events.EventType {
	if backend == types.BackendFast {
		return events.EventRedisDisconnected
	}
	return events.EventKafkaDisconnected
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
