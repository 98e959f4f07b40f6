package rotation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avagner/sessionguard/internal/authority"
	"github.com/avagner/sessionguard/internal/common"
	"github.com/avagner/sessionguard/internal/credential"
	"github.com/avagner/sessionguard/internal/logging"
	"github.com/avagner/sessionguard/internal/obs"
	"github.com/avagner/sessionguard/internal/timex"
)

// FallbackIssuer produces a degraded-mode credential when rotation keeps
// failing. The issued token must be explicitly flagged as fallback.
type FallbackIssuer func(ctx context.Context, old *credential.Token, now time.Time) (*credential.Token, error)

// JWTFallbackIssuer signs a reduced-lifetime HS256 fallback token locally,
// carrying over the user and scope of the failing credential when its claims
// can still be read.
func JWTFallbackIssuer(secretKey []byte, lifetime time.Duration) FallbackIssuer {
	return func(ctx context.Context, old *credential.Token, now time.Time) (*credential.Token, error) {
		userID := "unknown"
		scope := old.Scope
		if claims, err := credential.ParseClaimsLenient(old.AccessSecret, secretKey); err == nil {
			userID = claims.UserID
			if claims.Scope != "" {
				scope = claims.Scope
			}
		}
		return credential.Sign(userID, scope, secretKey, lifetime, true, now)
	}
}

// Config holds rotation manager settings.
type Config struct {
	// MaxRefreshAttempts is the consecutive-failure count that triggers the
	// fallback mechanism.
	MaxRefreshAttempts int

	// SessionDuration is the normal session lifetime; fallback credentials
	// get half of it.
	SessionDuration time.Duration

	// ValidateTokens enables integrity validation before each rotation.
	ValidateTokens bool
}

// Manager executes credential rotation: it consults the active strategy,
// validates token integrity, exchanges the credential through the authority,
// tracks metrics, and escalates to the fallback issuer after repeated
// failures instead of surfacing an error.
type Manager struct {
	cfg      Config
	strategy Strategy
	auth     authority.Authority
	fallback FallbackIssuer
	logger   logging.Logger
	metrics  *obs.Metrics
	clock    timex.Clock

	mu                  sync.Mutex
	running             bool
	consecutiveFailures int
	stats               Metrics
}

// NewManager constructs a rotation manager. fallback may be nil, in which
// case repeated failures surface common.ErrRotationFailed instead of a
// degraded credential.
func NewManager(cfg Config, strategy Strategy, auth authority.Authority, fallback FallbackIssuer, logger logging.Logger, metrics *obs.Metrics, clock timex.Clock) *Manager {
	if clock == nil {
		clock = timex.Real()
	}
	return &Manager{
		cfg:      cfg,
		strategy: strategy,
		auth:     auth,
		fallback: fallback,
		logger:   logger,
		metrics:  metrics,
		clock:    clock,
	}
}

// FallbackLifetime returns the validity window used for fallback credentials.
func (m *Manager) FallbackLifetime() time.Duration {
	return m.cfg.SessionDuration / 2
}

// Start marks the manager active. Starting an already-active manager is a
// no-op that logs a warning.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.logger.Warn(ctx, "rotation manager already started")
		return nil
	}
	m.running = true
	m.consecutiveFailures = 0
	m.logger.Info(ctx, "rotation manager started")
	return nil
}

// Stop marks the manager inactive. Results of in-flight rotations are
// discarded once stopped.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return common.ErrNotActive
	}
	m.running = false
	m.logger.Info(ctx, "rotation manager stopped")
	return nil
}

// Running reports whether the manager is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// ShouldRotate delegates to the active strategy. It returns false when the
// manager is not running.
func (m *Manager) ShouldRotate(tok *credential.Token) bool {
	if !m.Running() {
		return false
	}
	return m.strategy.ShouldRotate(tok, m.clock.Now())
}

// CheckInterval returns the strategy's recommended delay before the next
// rotation check.
func (m *Manager) CheckInterval(tok *credential.Token) time.Duration {
	return m.strategy.CheckInterval(tok, m.clock.Now())
}

// Rotate exchanges tok for a fresh credential.
//
// When validation is enabled, a malformed or expired token fails fast with
// common.ErrValidation and increments the validation-failure counter. An
// exchange failure increments the consecutive-failure counter; once it
// reaches MaxRefreshAttempts the fallback issuer supplies a reduced-lifetime
// credential and the cycle restarts. Success resets the failure counter.
func (m *Manager) Rotate(ctx context.Context, tok *credential.Token) (*credential.Token, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil, common.ErrNotActive
	}
	validate := m.cfg.ValidateTokens
	m.mu.Unlock()

	now := m.clock.Now()

	if validate {
		if err := tok.Validate(now); err != nil {
			m.mu.Lock()
			m.stats.ValidationFailures++
			m.mu.Unlock()
			m.metrics.ObserveRotation("validation_failure", 0)
			return nil, fmt.Errorf("token validation: %w", err)
		}
	}

	start := m.clock.Now()
	fresh, err := m.auth.Refresh(ctx)
	elapsed := m.clock.Now().Sub(start)

	m.mu.Lock()
	if !m.running {
		// Stopped while the exchange was in flight; discard the result.
		m.mu.Unlock()
		return nil, common.ErrNotActive
	}

	if err == nil {
		m.stats.recordSuccess(elapsed)
		if tok.RefreshSecret != "" && fresh.RefreshSecret != "" && tok.RefreshSecret != fresh.RefreshSecret {
			m.stats.RefreshTokenRotations++
		}
		m.consecutiveFailures = 0
		m.mu.Unlock()

		m.metrics.ObserveRotation("success", elapsed.Seconds())
		m.logger.Debug(ctx, "credential rotated", "kind", fresh.Kind, "expires_at", fresh.ExpiresAt)
		return fresh, nil
	}

	m.stats.recordFailure()
	m.consecutiveFailures++
	failures := m.consecutiveFailures
	escalate := failures >= m.cfg.MaxRefreshAttempts
	if escalate {
		m.consecutiveFailures = 0
	}
	m.mu.Unlock()

	m.metrics.ObserveRotation("failure", elapsed.Seconds())
	m.logger.Warn(ctx, "rotation failed", "consecutive_failures", failures, "error", err)

	if !escalate {
		return nil, fmt.Errorf("rotate credential: %w", err)
	}

	return m.activateFallback(ctx, tok, err)
}

// activateFallback trades strict correctness for availability: rather than
// hard-failing after MaxRefreshAttempts, the caller continues on a flagged,
// reduced-lifetime credential.
func (m *Manager) activateFallback(ctx context.Context, tok *credential.Token, cause error) (*credential.Token, error) {
	if m.fallback == nil {
		return nil, fmt.Errorf("%w: %w", common.ErrRotationFailed, cause)
	}

	fb, err := m.fallback(ctx, tok, m.clock.Now())
	if err != nil {
		m.logger.Error(ctx, "fallback issuance failed", "error", err)
		return nil, fmt.Errorf("%w: fallback: %w", common.ErrRotationFailed, err)
	}

	m.mu.Lock()
	m.stats.FallbackActivations++
	m.mu.Unlock()

	m.metrics.FallbackActivated()
	m.logger.Warn(ctx, "fallback credential activated",
		"lifetime", fb.Lifetime(), "cause", cause)
	return fb, nil
}

// GetMetrics returns a snapshot of the rotation counters.
func (m *Manager) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// ResetMetrics zeroes all counters.
func (m *Manager) ResetMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = Metrics{}
}
