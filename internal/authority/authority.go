// Package authority defines the credential-authority collaborator: the
// external service that issues, refreshes, and revokes access credentials.
// The managers only ever see this interface; transport is out of scope.
package authority

import (
	"context"
	"time"

	"github.com/avagner/sessionguard/internal/credential"
)

// Credentials carries the primary-factor login material.
type Credentials struct {
	Username string
	Secret   []byte
}

// Session is the authenticated context an authority hands back: who the user
// is and the credential currently bound to the session.
type Session struct {
	UserID    string
	Token     *credential.Token
	StartedAt time.Time
}

// Authority is the abstract credential authority.
//
// Contract:
//   - Authenticate: exchange primary credentials for a session.
//   - Refresh: issue a replacement token for the current session.
//   - Revoke: invalidate the current session.
//   - CurrentSession: return the active session, or common.ErrNotFound.
//
// All methods must honor context cancellation/timeouts.
type Authority interface {
	Authenticate(ctx context.Context, creds Credentials) (*Session, error)
	Refresh(ctx context.Context) (*credential.Token, error)
	Revoke(ctx context.Context) error
	CurrentSession(ctx context.Context) (*Session, error)
}
