package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ollm-core/agentcore/internal/backoff"
	"github.com/ollm-core/agentcore/internal/observability"
)

// HealthEventType names the events the health monitor emits.
type HealthEventType string

const (
	HealthEventCheck           HealthEventType = "health-check"
	HealthEventServerUnhealthy HealthEventType = "server-unhealthy"
	HealthEventServerRecovered HealthEventType = "server-recovered"
	HealthEventRestartAttempt  HealthEventType = "restart-attempt"
	HealthEventMaxRestarts     HealthEventType = "max-restarts-exceeded"
)

// HealthEvent is delivered to the monitor's listener on every check and
// state transition.
type HealthEvent struct {
	Type      HealthEventType
	ServerID  string
	Connected bool
	Attempt   int
	NextRetry time.Time
}

// HealthMonitorConfig configures polling and restart behavior.
type HealthMonitorConfig struct {
	CheckInterval      time.Duration
	AutoRestart        bool
	InitialBackoffMs   float64
	MaxBackoffMs       float64
	MaxRestartAttempts int
}

// DefaultHealthMonitorConfig returns the defaults: a 30s
// poll interval mirrors the MCP call timeout default.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		CheckInterval:      30 * time.Second,
		AutoRestart:        true,
		InitialBackoffMs:   backoff.DefaultPolicy().InitialMs,
		MaxBackoffMs:       backoff.DefaultPolicy().MaxMs,
		MaxRestartAttempts: 5,
	}
}

type serverHealthState struct {
	attempts    int
	unhealthy   bool
	nextRetryAt time.Time
}

// HealthMonitor polls a Manager's servers, emitting events and driving
// exponential-backoff auto-restart for servers in an error state.
type HealthMonitor struct {
	mu     sync.Mutex
	mgr    *Manager
	cfg    HealthMonitorConfig
	logger *slog.Logger
	states map[string]*serverHealthState

	onEvent func(HealthEvent)
	metrics *observability.Metrics

	stop chan struct{}
	done chan struct{}
}

// SetMetrics attaches optional prometheus instruments; call it before
// Start. A nil metrics value keeps the monitor silent.
func (h *HealthMonitor) SetMetrics(m *observability.Metrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics = m
}

// NewHealthMonitor creates a monitor over mgr's servers.
func NewHealthMonitor(mgr *Manager, cfg HealthMonitorConfig, logger *slog.Logger, onEvent func(HealthEvent)) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{
		mgr:     mgr,
		cfg:     cfg,
		logger:  logger,
		states:  make(map[string]*serverHealthState),
		onEvent: onEvent,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins polling in the background until Stop is called.
func (h *HealthMonitor) Start() {
	go h.run()
}

func (h *HealthMonitor) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	h.checkAll()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.checkAll()
		}
	}
}

func (h *HealthMonitor) checkAll() {
	for _, status := range h.mgr.Status() {
		h.check(status.ID, status.Connected)
	}
}

func (h *HealthMonitor) check(serverID string, connected bool) {
	h.emit(HealthEvent{Type: HealthEventCheck, ServerID: serverID, Connected: connected})
	h.metrics.SetMCPServerUp(serverID, connected)

	h.mu.Lock()
	st, ok := h.states[serverID]
	if !ok {
		st = &serverHealthState{}
		h.states[serverID] = st
	}
	wasUnhealthy := st.unhealthy
	h.mu.Unlock()

	if connected {
		if wasUnhealthy {
			h.mu.Lock()
			st.unhealthy = false
			st.attempts = 0 // recovery resets the attempt counter
			h.mu.Unlock()
			h.emit(HealthEvent{Type: HealthEventServerRecovered, ServerID: serverID})
		}
		return
	}

	h.mu.Lock()
	st.unhealthy = true
	h.mu.Unlock()
	h.emit(HealthEvent{Type: HealthEventServerUnhealthy, ServerID: serverID})

	if !h.cfg.AutoRestart {
		return
	}
	h.scheduleRestart(serverID, st, false)
}

// scheduleRestart computes the next backoff delay and attempts a restart.
// manual bypasses the attempt-count limit but does not reset the backoff
// state.
func (h *HealthMonitor) scheduleRestart(serverID string, st *serverHealthState, manual bool) {
	h.mu.Lock()
	if !manual && st.attempts >= h.cfg.MaxRestartAttempts {
		h.mu.Unlock()
		h.emit(HealthEvent{Type: HealthEventMaxRestarts, ServerID: serverID, Attempt: st.attempts})
		return
	}
	st.attempts++
	attempt := st.attempts
	policy := backoff.BackoffPolicy{
		InitialMs: h.cfg.InitialBackoffMs,
		MaxMs:     h.cfg.MaxBackoffMs,
		Factor:    2,
		Jitter:    0.1,
	}
	delay := backoff.ComputeBackoff(policy, attempt)
	st.nextRetryAt = time.Now().Add(delay)
	nextRetry := st.nextRetryAt
	h.mu.Unlock()

	h.emit(HealthEvent{Type: HealthEventRestartAttempt, ServerID: serverID, Attempt: attempt, NextRetry: nextRetry})
	h.metrics.ObserveMCPRestart(serverID)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-h.stop:
			return
		}
		if err := h.mgr.Disconnect(serverID); err != nil {
			h.logger.Debug("disconnect before restart failed", "server", serverID, "error", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.mgr.Connect(ctx, serverID); err != nil {
			h.logger.Warn("restart attempt failed", "server", serverID, "attempt", attempt, "error", err)
		}
	}()
}

// ManualRestart bypasses the attempt counter but does not reset stored
// backoff state for subsequent automatic attempts.
func (h *HealthMonitor) ManualRestart(serverID string) {
	h.mu.Lock()
	st, ok := h.states[serverID]
	if !ok {
		st = &serverHealthState{}
		h.states[serverID] = st
	}
	h.mu.Unlock()
	h.scheduleRestart(serverID, st, true)
}

func (h *HealthMonitor) emit(e HealthEvent) {
	h.mu.Lock()
	cb := h.onEvent
	h.mu.Unlock()
	if cb != nil {
		cb(e)
	}
}

// Stop halts polling and waits for the background goroutine to exit.
func (h *HealthMonitor) Stop() {
	close(h.stop)
	<-h.done
}
