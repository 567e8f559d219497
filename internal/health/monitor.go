// Package health tracks whether the chat transport is still alive.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/asheshgoplani/termbot/internal/logging"
)

var healthLog = logging.ForComponent(logging.CompHealth)

// State is the transport connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDegraded     State = "degraded"
)

const (
	// DefaultCheckInterval is how often Start runs Check.
	DefaultCheckInterval = 5 * time.Minute

	// StaleAfter is how long without a successful poll before the
	// transport counts as degraded.
	StaleAfter = 5 * time.Minute
)

// Status is a point-in-time view of the monitor.
type Status struct {
	State       State     `json:"state"`
	LastPoll    time.Time `json:"last_poll,omitempty"`
	LastMessage time.Time `json:"last_message,omitempty"`
	Uptime      float64   `json:"uptime_seconds"`
}

// Healthy reports connected or connecting.
func (s Status) Healthy() bool {
	return s.State == StateConnected || s.State == StateConnecting
}

// Degraded reports the degraded state.
func (s Status) Degraded() bool {
	return s.State == StateDegraded
}

// Monitor records transport activity and runs periodic checks.
type Monitor struct {
	interval time.Duration
	now      func() time.Time

	mu          sync.Mutex
	state       State
	lastPoll    time.Time
	lastMessage time.Time
	started     time.Time
	reconnect   func(ctx context.Context) error

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor in the disconnected state. A zero interval
// means DefaultCheckInterval.
func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Monitor{
		interval: interval,
		now:      time.Now,
		state:    StateDisconnected,
		started:  time.Now(),
	}
}

// SetReconnect installs the hook Check calls when the transport is degraded.
func (m *Monitor) SetReconnect(fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnect = fn
}

// SetState changes the state, logging transitions.
func (m *Monitor) SetState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(s)
}

func (m *Monitor) setStateLocked(s State) {
	if m.state == s {
		return
	}
	healthLog.Info("health_state_changed", "from", string(m.state), "to", string(s))
	m.state = s
}

// RecordPoll notes a successful update poll. A degraded monitor recovers.
func (m *Monitor) RecordPoll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPoll = m.now()
	if m.state == StateDegraded {
		healthLog.Info("health_recovered")
		m.state = StateConnected
	}
}

// RecordMessageSent notes a successful outgoing message.
func (m *Monitor) RecordMessageSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastMessage = m.now()
}

// Status returns the current status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:       m.state,
		LastPoll:    m.lastPoll,
		LastMessage: m.lastMessage,
		Uptime:      m.now().Sub(m.started).Seconds(),
	}
}

// Check marks the monitor degraded when no poll has succeeded for
// StaleAfter and runs the reconnect hook. It reports whether the transport
// is healthy.
func (m *Monitor) Check(ctx context.Context) bool {
	m.mu.Lock()
	if m.lastPoll.IsZero() {
		healthy := m.state == StateConnected || m.state == StateConnecting
		m.mu.Unlock()
		return healthy
	}
	since := m.now().Sub(m.lastPoll)
	if since <= StaleAfter {
		healthy := m.state == StateConnected || m.state == StateConnecting
		m.mu.Unlock()
		return healthy
	}
	healthLog.Warn("health_degraded", "since_last_poll", since.Round(time.Second).String())
	m.setStateLocked(StateDegraded)
	reconnect := m.reconnect
	m.mu.Unlock()

	if reconnect != nil {
		healthLog.Info("health_reconnect_triggered")
		if err := reconnect(ctx); err != nil {
			healthLog.Error("health_reconnect_failed", "error", err)
		}
	}
	return false
}

func (m *Monitor) logStatus() {
	s := m.Status()
	lastPoll := "never"
	if !s.LastPoll.IsZero() {
		lastPoll = m.now().Sub(s.LastPoll).Round(100 * time.Millisecond).String()
	}
	healthLog.Info("health_status",
		"state", string(s.State),
		"last_poll", lastPoll,
		"uptime", time.Duration(s.Uptime*float64(time.Second)).Round(time.Second).String())
}

// Start runs Check every interval until Stop or ctx is done. Calling Start
// on a running monitor does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	healthLog.Info("health_monitor_started", "interval", m.interval.String())
	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
				m.logStatus()
			}
		}
	}()
}

// Stop ends the check loop and waits for it.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
