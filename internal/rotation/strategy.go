// Package rotation implements proactive credential rotation: pluggable
// decision strategies, the rotation manager with integrity validation and
// metrics, and the fallback mechanism used after repeated failures.
package rotation

import (
	"time"

	"github.com/avagner/sessionguard/internal/credential"
)

// Built-in strategy names, selectable by configuration.
const (
	StrategyEager    = "eager"
	StrategyLazy     = "lazy"
	StrategyAdaptive = "adaptive"
)

// Recheck intervals for the built-in policies.
const (
	eagerCheckInterval = 200 * time.Millisecond
	lazyCheckInterval  = 2 * time.Second
)

// DefaultAgeFactor is the fraction of total lifetime after which the adaptive
// strategy cycles a token even when it is not near expiry. The exact value is
// a hygiene heuristic, not load-bearing; it is configurable.
const DefaultAgeFactor = 0.75

// Strategy decides whether a token must be rotated now and how soon the
// decision should be re-evaluated. Implementations must be pure: the manager
// supplies the current time and assumes nothing about the policy in use.
type Strategy interface {
	ShouldRotate(tok *credential.Token, now time.Time) bool
	CheckInterval(tok *credential.Token, now time.Time) time.Duration
}

// Eager rotates well ahead of expiry and rechecks aggressively.
type Eager struct {
	Buffer time.Duration
}

func (s *Eager) ShouldRotate(tok *credential.Token, now time.Time) bool {
	return tok.Remaining(now) <= 2*s.Buffer
}

func (s *Eager) CheckInterval(*credential.Token, time.Time) time.Duration {
	return eagerCheckInterval
}

// Lazy waits until the token is close to expiry and rechecks slowly.
type Lazy struct {
	Buffer time.Duration
}

func (s *Lazy) ShouldRotate(tok *credential.Token, now time.Time) bool {
	return tok.Remaining(now) <= s.Buffer/2
}

func (s *Lazy) CheckInterval(*credential.Token, time.Time) time.Duration {
	return lazyCheckInterval
}

// Adaptive is the default policy. It rotates when the token enters the
// buffer window, or when its age exceeds AgeFactor of the total lifetime so
// long-lived tokens still cycle for hygiene. The recheck interval tightens
// near expiry.
type Adaptive struct {
	Buffer          time.Duration
	DefaultInterval time.Duration
	AgeFactor       float64
}

func (s *Adaptive) ageFactor() float64 {
	if s.AgeFactor <= 0 {
		return DefaultAgeFactor
	}
	return s.AgeFactor
}

func (s *Adaptive) ShouldRotate(tok *credential.Token, now time.Time) bool {
	if tok.Remaining(now) <= s.Buffer {
		return true
	}
	lifetime := tok.Lifetime()
	if lifetime <= 0 {
		return true
	}
	return float64(tok.Age(now)) > s.ageFactor()*float64(lifetime)
}

func (s *Adaptive) CheckInterval(tok *credential.Token, now time.Time) time.Duration {
	if tok.Remaining(now) <= 2*s.Buffer {
		return eagerCheckInterval
	}
	return s.DefaultInterval
}

// ForName returns the built-in strategy registered under name, defaulting to
// Adaptive for unknown names.
func ForName(name string, buffer, defaultInterval time.Duration) Strategy {
	switch name {
	case StrategyEager:
		return &Eager{Buffer: buffer}
	case StrategyLazy:
		return &Lazy{Buffer: buffer}
	default:
		return &Adaptive{Buffer: buffer, DefaultInterval: defaultInterval}
	}
}
