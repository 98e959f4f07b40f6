package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avagner/sessionguard/internal/authority"
	"github.com/avagner/sessionguard/internal/common"
	"github.com/avagner/sessionguard/internal/credential"
	"github.com/avagner/sessionguard/internal/logging"
	"github.com/avagner/sessionguard/internal/obs"
	"github.com/avagner/sessionguard/internal/rotation"
	"github.com/avagner/sessionguard/internal/syncbus"
	"github.com/avagner/sessionguard/internal/timex"
)

// Config holds refresh manager settings.
type Config struct {
	// Interval between scheduled refresh checks.
	Interval time.Duration

	// RefreshBuffer is the time-before-expiry at which a refresh is due.
	RefreshBuffer time.Duration

	// MaxRetries is the consecutive-failure count that opens the circuit.
	MaxRetries int

	// ResetWindow is how long the circuit stays open before the next attempt.
	ResetWindow time.Duration

	// MonitorInterval is the cadence of the security monitor.
	MonitorInterval time.Duration
}

// LoadDefaults populates c with the documented defaults.
func (c *Config) LoadDefaults() {
	c.Interval = 5 * time.Minute
	c.RefreshBuffer = 5 * time.Minute
	c.MaxRetries = 3
	c.ResetWindow = 60 * time.Second
	c.MonitorInterval = 60 * time.Second
}

// Sinks receives refresh outcomes for the presentation collaborator.
// Nil callbacks are skipped.
type Sinks struct {
	OnSuccess func(tok *credential.Token)
	OnError   func(err error)
}

// Manager schedules credential refreshes, wraps them in a circuit breaker,
// and keeps concurrent instances of the same logical session coordinated
// through the sync bus: only one instance refreshes at a time, the others
// adopt the broadcast result.
type Manager struct {
	cfg        Config
	auth       authority.Authority
	rot        *rotation.Manager
	bus        syncbus.Bus
	sinks      Sinks
	logger     logging.Logger
	metrics    *obs.Metrics
	clock      timex.Clock
	instanceID string

	mu              sync.Mutex
	running         bool
	inFlight        bool
	paused          bool
	token           *credential.Token
	circuit         CircuitState
	circuitOpenedAt time.Time
	retryCount      int
	successCount    int64
	failureCount    int64
	lastSuccess     time.Time
	timer           timex.Timer
	monitorTimer    timex.Timer
	cancelSub       context.CancelFunc
}

// NewManager constructs a refresh manager. rot may be nil, in which case
// refreshes go straight to the authority; bus may be nil for uncoordinated
// single-instance use.
func NewManager(cfg Config, auth authority.Authority, rot *rotation.Manager, bus syncbus.Bus, sinks Sinks, logger logging.Logger, metrics *obs.Metrics, clock timex.Clock) *Manager {
	if clock == nil {
		clock = timex.Real()
	}
	return &Manager{
		cfg:        cfg,
		auth:       auth,
		rot:        rot,
		bus:        bus,
		sinks:      sinks,
		logger:     logger,
		metrics:    metrics,
		clock:      clock,
		instanceID: uuid.NewString(),
	}
}

// InstanceID identifies this manager on the sync bus.
func (m *Manager) InstanceID() string { return m.instanceID }

// SetToken installs the credential this manager watches. Typically called
// once after login with the session's initial token.
func (m *Manager) SetToken(tok *credential.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = tok
}

// Token returns the credential this manager currently holds.
func (m *Manager) Token() *credential.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// CircuitState returns the breaker state.
func (m *Manager) CircuitState() CircuitState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.circuit
}

// Start begins the refresh schedule, the security monitor, and the sync
// subscription.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return common.ErrAlreadyActive
	}
	m.running = true
	m.circuit = CircuitClosed
	m.retryCount = 0
	m.lastSuccess = m.clock.Now()
	m.timer = m.clock.AfterFunc(m.cfg.Interval, m.tick)
	if m.cfg.MonitorInterval > 0 {
		m.monitorTimer = m.clock.AfterFunc(m.cfg.MonitorInterval, m.monitorTick)
	}
	m.mu.Unlock()

	if m.bus != nil {
		subCtx, cancel := context.WithCancel(context.Background())
		m.mu.Lock()
		m.cancelSub = cancel
		m.mu.Unlock()
		ch := m.bus.Subscribe(subCtx, syncbus.TopicTokenRefresh)
		go func() {
			for msg := range ch {
				m.handleMessage(msg)
			}
		}()
	}

	m.logger.Info(ctx, "refresh manager started", "instance_id", m.instanceID, "interval", m.cfg.Interval)
	return nil
}

// Stop cancels pending timers and the sync subscription. In-flight refresh
// results are discarded.
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
	if m.monitorTimer != nil {
		m.monitorTimer.Stop()
	}
	cancel := m.cancelSub
	m.cancelSub = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.logger.Info(ctx, "refresh manager stopped", "instance_id", m.instanceID)
	return nil
}

// TriggerRefresh forces a refresh attempt outside the schedule.
func (m *Manager) TriggerRefresh(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return common.ErrNotActive
	}
	m.mu.Unlock()
	return m.refresh(ctx)
}

// tick runs a scheduled check: refresh when the credential is inside the
// buffer window, then reschedule.
func (m *Manager) tick() {
	ctx := context.Background()

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	paused := m.paused
	due := m.token == nil || m.token.Remaining(m.clock.Now()) <= m.cfg.RefreshBuffer
	m.timer.Reset(m.cfg.Interval)
	m.mu.Unlock()

	if paused {
		// A peer announced refresh-started; wait for its outcome.
		return
	}
	if !due {
		return
	}

	if err := m.refresh(ctx); err != nil {
		m.logger.Debug(ctx, "scheduled refresh failed", "error", err)
	}
}

// refresh performs one guarded refresh attempt.
func (m *Manager) refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return nil
	}

	now := m.clock.Now()
	if m.circuit == CircuitOpen {
		if now.Sub(m.circuitOpenedAt) < m.cfg.ResetWindow {
			m.mu.Unlock()
			m.metrics.ObserveRefresh("suppressed")
			return common.ErrCircuitOpen
		}
		// Reset window elapsed: close and retry.
		m.circuit = CircuitClosed
		m.retryCount = 0
		m.metrics.SetCircuitOpen(false)
		m.logger.Info(ctx, "circuit closed after reset window")
	}

	m.inFlight = true
	current := m.token
	m.mu.Unlock()

	m.publish(msgRefreshStarted, nil)

	fresh, err := m.doExchange(ctx, current)

	m.mu.Lock()
	m.inFlight = false
	if !m.running {
		// Stopped mid-flight; discard the outcome.
		m.mu.Unlock()
		return common.ErrNotActive
	}

	if err != nil {
		m.failureCount++
		m.retryCount++
		if m.retryCount >= m.cfg.MaxRetries {
			m.circuit = CircuitOpen
			m.circuitOpenedAt = m.clock.Now()
			m.metrics.SetCircuitOpen(true)
			m.logger.Warn(ctx, "circuit opened",
				"retries", m.retryCount, "reset_window", m.cfg.ResetWindow)
		}
		m.mu.Unlock()

		m.metrics.ObserveRefresh("failure")
		m.publish(msgRefreshError, map[string]any{"error": err.Error()})
		if m.sinks.OnError != nil {
			m.sinks.OnError(err)
		}
		return fmt.Errorf("refresh credential: %w", err)
	}

	m.token = fresh
	m.successCount++
	m.retryCount = 0
	m.lastSuccess = m.clock.Now()
	m.mu.Unlock()

	m.metrics.ObserveRefresh("success")
	m.publish(msgRefreshSuccess, tokenToData(fresh))
	if m.sinks.OnSuccess != nil {
		m.sinks.OnSuccess(fresh)
	}
	m.logger.Debug(ctx, "credential refreshed", "expires_at", fresh.ExpiresAt)
	return nil
}

// doExchange delegates to the rotation manager when one is configured and
// running, else refreshes directly against the authority.
func (m *Manager) doExchange(ctx context.Context, current *credential.Token) (*credential.Token, error) {
	if m.rot != nil && m.rot.Running() && current != nil {
		return m.rot.Rotate(ctx, current)
	}
	return m.auth.Refresh(ctx)
}

// handleMessage applies a peer broadcast. Adoption is idempotent: applying
// the same message twice leaves the same state.
func (m *Manager) handleMessage(msg syncbus.Message) {
	if msg.Origin == m.instanceID {
		return
	}

	ctx := context.Background()

	switch msg.Type {
	case msgRefreshStarted:
		m.mu.Lock()
		m.paused = true
		m.mu.Unlock()

	case msgRefreshSuccess:
		tok, ok := tokenFromData(msg.Data)
		m.mu.Lock()
		if ok {
			m.token = tok
			m.lastSuccess = m.clock.Now()
			m.retryCount = 0
		}
		m.paused = false
		if m.running && m.timer != nil {
			m.timer.Reset(m.cfg.Interval)
		}
		m.mu.Unlock()
		if ok {
			m.logger.Debug(ctx, "adopted credential from peer", "origin", msg.Origin)
		}

	case msgRefreshError:
		m.mu.Lock()
		m.paused = false
		m.mu.Unlock()
	}
}

// monitorTick inspects recent outcomes and logs security events: a failure
// rate above the success rate, or a stalled refresh cycle.
func (m *Manager) monitorTick() {
	ctx := context.Background()

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	failures := m.failureCount
	successes := m.successCount
	sinceSuccess := m.clock.Now().Sub(m.lastSuccess)
	m.monitorTimer.Reset(m.cfg.MonitorInterval)
	m.mu.Unlock()

	if failures > successes {
		m.logger.Warn(ctx, "security event: refresh failures exceed successes",
			"failures", failures, "successes", successes)
	}
	if sinceSuccess > 6*m.cfg.Interval {
		m.logger.Warn(ctx, "security event: no successful refresh",
			"since_last_success", sinceSuccess)
	}
}
