// Package refresh implements the token refresh orchestrator: interval-driven
// refresh scheduling, a circuit breaker around the credential authority, and
// cross-instance coordination over the sync bus so concurrent instances of
// one logical session never refresh in parallel.
package refresh

// CircuitState is the refresh circuit breaker state.
type CircuitState int

const (
	// CircuitClosed allows refresh attempts.
	CircuitClosed CircuitState = iota

	// CircuitOpen suppresses refresh attempts until the reset window elapses.
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}
