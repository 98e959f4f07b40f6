// Package session implements the session timeout manager: an event-driven
// state machine over the session lifetime that warns before forced logout,
// supports bounded extensions, and mirrors its state across concurrent
// instances through the sync bus.
package session

import "time"

// Status is the session timeout state.
type Status string

const (
	StatusActive       Status = "active"
	StatusWarning      Status = "warning"
	StatusFinalWarning Status = "final_warning"
	StatusExtended     Status = "extended"
	StatusExpired      Status = "expired"
)

// State is the session snapshot tracked by the manager and mirrored to
// peers. Peers adopt broadcast state verbatim rather than recomputing it.
type State struct {
	Status            Status
	SessionStart      time.Time
	LastActivity      time.Time
	TimeRemaining     time.Duration
	WarningsShown     int
	ExtensionsGranted int
}

// Config holds session timeout settings.
type Config struct {
	// Duration is the absolute session lifetime.
	Duration time.Duration

	// WarningThreshold is the time remaining at which the warning state is
	// entered.
	WarningThreshold time.Duration

	// FinalWarningThreshold is the time remaining at which the final
	// warning state is entered.
	FinalWarningThreshold time.Duration

	// InactivityTimeout expires the session after this much idle time,
	// regardless of remaining lifetime. Zero disables the check.
	InactivityTimeout time.Duration

	// MaxExtensions bounds ExtensionsGranted.
	MaxExtensions int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.Duration = 30 * time.Minute
	c.WarningThreshold = 5 * time.Minute
	c.FinalWarningThreshold = time.Minute
	c.InactivityTimeout = 0
	c.MaxExtensions = 3
}

// Sinks receives timeout events for the presentation collaborator.
// Nil callbacks are skipped. OnStateChange fires after every transition.
type Sinks struct {
	OnWarning      func(remaining time.Duration)
	OnFinalWarning func(remaining time.Duration)
	OnExtended     func(newExpiry time.Time)
	OnTimeout      func()
	OnStateChange  func(state State)
}
