// Package credential defines the opaque access credential handled by the
// rotation and refresh managers, together with integrity validation and
// JWT-backed issuance helpers.
package credential

import (
	"fmt"
	"time"

	"github.com/avagner/sessionguard/internal/common"
)

// Token kinds.
const (
	KindBearer   = "bearer"
	KindFallback = "fallback"
)

// Token is a short-lived access credential plus its metadata. The secrets are
// opaque to the managers: only the timestamps, kind, and scope drive rotation
// decisions.
type Token struct {
	AccessSecret  string
	RefreshSecret string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Kind          string
	Scope         string
	Fallback      bool
}

// Lifetime returns the total validity window of the token.
func (t *Token) Lifetime() time.Duration {
	return t.ExpiresAt.Sub(t.IssuedAt)
}

// Remaining returns the time left until expiry at the given instant.
// Negative when the token is already expired.
func (t *Token) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

// Age returns how long ago the token was issued.
func (t *Token) Age(now time.Time) time.Duration {
	return now.Sub(t.IssuedAt)
}

// Expired reports whether the token is past its expiry.
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Validate checks token integrity: non-empty secret, a well-formed validity
// window (ExpiresAt after IssuedAt), and non-expiry. All failures wrap
// common.ErrValidation so callers can match the whole class with errors.Is.
func (t *Token) Validate(now time.Time) error {
	if t == nil {
		return fmt.Errorf("%w: nil token", common.ErrValidation)
	}
	if t.AccessSecret == "" {
		return fmt.Errorf("%w: empty access secret", common.ErrValidation)
	}
	if !t.ExpiresAt.After(t.IssuedAt) {
		return fmt.Errorf("%w: expiry not after issuance", common.ErrValidation)
	}
	if t.Expired(now) {
		return fmt.Errorf("%w: %w", common.ErrValidation, common.ErrTokenExpired)
	}
	return nil
}
