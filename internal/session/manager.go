package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avagner/sessionguard/internal/common"
	"github.com/avagner/sessionguard/internal/logging"
	"github.com/avagner/sessionguard/internal/obs"
	"github.com/avagner/sessionguard/internal/syncbus"
	"github.com/avagner/sessionguard/internal/timex"
)

// Manager tracks one logical session's idle and absolute timeouts. Checks
// are event-driven: after every tick the next wake-up is scheduled at
// exactly the delay to the nearest threshold, so there is no fixed polling
// interval and the schedule is testable against a virtual clock.
type Manager struct {
	cfg        Config
	sinks      Sinks
	bus        syncbus.Bus
	logger     logging.Logger
	metrics    *obs.Metrics
	clock      timex.Clock
	instanceID string

	mu             sync.Mutex
	running        bool
	state          State
	extensionTotal time.Duration
	timer          timex.Timer
	cancelSub      context.CancelFunc
}

// NewManager constructs a session timeout manager. bus may be nil for
// uncoordinated single-instance use.
func NewManager(cfg Config, sinks Sinks, bus syncbus.Bus, logger logging.Logger, metrics *obs.Metrics, clock timex.Clock) *Manager {
	if clock == nil {
		clock = timex.Real()
	}
	return &Manager{
		cfg:        cfg,
		sinks:      sinks,
		bus:        bus,
		logger:     logger,
		metrics:    metrics,
		clock:      clock,
		instanceID: uuid.NewString(),
	}
}

// InstanceID identifies this manager on the sync bus.
func (m *Manager) InstanceID() string { return m.instanceID }

// State returns the current session snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.TimeRemaining = m.remainingLocked(m.clock.Now())
	return s
}

// deadlineLocked is the instant the session expires absent further
// extensions.
func (m *Manager) deadlineLocked() time.Time {
	return m.state.SessionStart.Add(m.cfg.Duration + m.extensionTotal)
}

func (m *Manager) remainingLocked(now time.Time) time.Duration {
	if m.state.Status == StatusExpired {
		return 0
	}
	return m.deadlineLocked().Sub(now)
}

// Start begins a new session. Restarting after expiry begins a fresh
// session; starting an already-running, non-expired manager is misuse.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running && m.state.Status != StatusExpired {
		m.mu.Unlock()
		return common.ErrAlreadyActive
	}

	now := m.clock.Now()
	m.running = true
	m.extensionTotal = 0
	m.state = State{
		Status:       StatusActive,
		SessionStart: now,
		LastActivity: now,
	}
	m.scheduleLocked(now)
	needSub := m.bus != nil && m.cancelSub == nil
	m.mu.Unlock()

	if needSub {
		subCtx, cancel := context.WithCancel(context.Background())
		m.mu.Lock()
		m.cancelSub = cancel
		m.mu.Unlock()
		ch := m.bus.Subscribe(subCtx, syncbus.TopicSessionTimeout)
		go func() {
			for msg := range ch {
				m.handleMessage(msg)
			}
		}()
	}

	m.broadcastState()
	m.logger.Info(ctx, "session started",
		"duration", m.cfg.Duration, "instance_id", m.instanceID)
	return nil
}

// Stop cancels the pending check and the sync subscription.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return common.ErrNotActive
	}
	m.running = false
	if m.timer != nil {
		m.timer.Stop()
	}
	cancel := m.cancelSub
	m.cancelSub = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.logger.Info(ctx, "session timeout manager stopped")
	return nil
}

// Touch records user activity; only the inactivity-timeout branch consults
// it. The update is broadcast so peers share the same idle clock.
func (m *Manager) Touch() {
	m.mu.Lock()
	if !m.running || m.state.Status == StatusExpired {
		m.mu.Unlock()
		return
	}
	m.state.LastActivity = m.clock.Now()
	m.scheduleLocked(m.state.LastActivity)
	m.mu.Unlock()

	m.broadcastState()
}

// Extend grants extra session time. A zero amount means a full session
// duration. Fails with common.ErrMaxExtensions once the extension budget is
// spent and with common.ErrSessionExpired after expiry; state is unchanged
// on failure.
func (m *Manager) Extend(ctx context.Context, amount time.Duration) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return common.ErrNotActive
	}
	if m.state.Status == StatusExpired {
		m.mu.Unlock()
		return common.ErrSessionExpired
	}
	if m.state.ExtensionsGranted >= m.cfg.MaxExtensions {
		m.mu.Unlock()
		return common.ErrMaxExtensions
	}

	if amount <= 0 {
		amount = m.cfg.Duration
	}

	now := m.clock.Now()
	m.extensionTotal += amount
	m.state.ExtensionsGranted++
	m.state.Status = StatusExtended
	newExpiry := m.deadlineLocked()
	m.scheduleLocked(now)
	m.mu.Unlock()

	m.metrics.SessionTransition(string(StatusExtended))
	m.broadcastState()
	if m.sinks.OnExtended != nil {
		m.sinks.OnExtended(newExpiry)
	}
	m.fireStateChange()

	m.logger.Info(ctx, "session extended",
		"amount", amount, "new_expiry", newExpiry)
	return nil
}

// scheduleLocked arms the timer for the next threshold crossing.
func (m *Manager) scheduleLocked(now time.Time) {
	if m.state.Status == StatusExpired {
		return
	}

	remaining := m.remainingLocked(now)

	// Candidate delays to the next interesting instant.
	next := remaining // expiry
	if d := remaining - m.cfg.WarningThreshold; d > 0 && d < next {
		next = d
	}
	if d := remaining - m.cfg.FinalWarningThreshold; d > 0 && d < next {
		next = d
	}
	if m.cfg.InactivityTimeout > 0 {
		if d := m.state.LastActivity.Add(m.cfg.InactivityTimeout).Sub(now); d > 0 && d < next {
			next = d
		}
	}
	if next < 0 {
		next = 0
	}

	if m.timer == nil {
		m.timer = m.clock.AfterFunc(next, m.check)
	} else {
		m.timer.Reset(next)
	}
}

// check runs one tick of the state machine.
func (m *Manager) check() {
	m.mu.Lock()
	if !m.running || m.state.Status == StatusExpired {
		m.mu.Unlock()
		return
	}

	now := m.clock.Now()
	remaining := m.remainingLocked(now)

	idle := m.cfg.InactivityTimeout > 0 &&
		now.Sub(m.state.LastActivity) >= m.cfg.InactivityTimeout

	switch {
	case idle || remaining <= 0:
		m.state.Status = StatusExpired
		m.state.TimeRemaining = 0
		if m.timer != nil {
			m.timer.Stop()
		}
		m.mu.Unlock()

		m.metrics.SessionTransition(string(StatusExpired))
		m.broadcastState()
		if m.sinks.OnTimeout != nil {
			m.sinks.OnTimeout()
		}
		m.fireStateChange()
		return

	case remaining <= m.cfg.FinalWarningThreshold && m.state.Status != StatusFinalWarning:
		m.state.Status = StatusFinalWarning
		m.state.WarningsShown++
		m.scheduleLocked(now)
		m.mu.Unlock()

		m.metrics.SessionTransition(string(StatusFinalWarning))
		m.broadcastState()
		if m.sinks.OnFinalWarning != nil {
			m.sinks.OnFinalWarning(remaining)
		}
		m.fireStateChange()
		return

	case remaining <= m.cfg.WarningThreshold &&
		m.state.Status != StatusWarning && m.state.Status != StatusFinalWarning:
		m.state.Status = StatusWarning
		m.state.WarningsShown++
		m.scheduleLocked(now)
		m.mu.Unlock()

		m.metrics.SessionTransition(string(StatusWarning))
		m.broadcastState()
		if m.sinks.OnWarning != nil {
			m.sinks.OnWarning(remaining)
		}
		m.fireStateChange()
		return

	default:
		m.scheduleLocked(now)
		m.mu.Unlock()
	}
}

func (m *Manager) fireStateChange() {
	if m.sinks.OnStateChange == nil {
		return
	}
	m.sinks.OnStateChange(m.State())
}
