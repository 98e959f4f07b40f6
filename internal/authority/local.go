package authority

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avagner/sessionguard/internal/common"
	"github.com/avagner/sessionguard/internal/credential"
	"github.com/avagner/sessionguard/internal/timex"
)

// VerifyFunc checks primary credentials. It returns the user ID on success.
type VerifyFunc func(ctx context.Context, creds Credentials) (string, error)

// Local is an in-process Authority that signs HS256 JWT credentials itself.
// It backs the daemon in single-binary deployments and the test suites; a
// remote identity provider would implement the same interface.
type Local struct {
	secretKey []byte
	validity  time.Duration
	scope     string
	verify    VerifyFunc
	clock     timex.Clock

	mu      sync.Mutex
	session *Session
}

// NewLocal constructs a Local authority. verify may be nil, in which case any
// credentials with a non-empty username and secret are accepted.
func NewLocal(secretKey []byte, validity time.Duration, scope string, verify VerifyFunc, clock timex.Clock) *Local {
	if clock == nil {
		clock = timex.Real()
	}
	return &Local{
		secretKey: secretKey,
		validity:  validity,
		scope:     scope,
		verify:    verify,
		clock:     clock,
	}
}

func (a *Local) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	userID := creds.Username
	if a.verify != nil {
		id, err := a.verify(ctx, creds)
		if err != nil {
			return nil, fmt.Errorf("verify credentials: %w", err)
		}
		userID = id
	} else if creds.Username == "" || len(creds.Secret) == 0 {
		return nil, fmt.Errorf("%w: empty credentials", common.ErrValidation)
	}

	now := a.clock.Now()
	tok, err := credential.Sign(userID, a.scope, a.secretKey, a.validity, false, now)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	refreshSecret, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}
	tok.RefreshSecret = refreshSecret

	session := &Session{UserID: userID, Token: tok, StartedAt: now}

	a.mu.Lock()
	a.session = session
	a.mu.Unlock()

	return session, nil
}

func (a *Local) Refresh(ctx context.Context) (*credential.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return nil, common.ErrNotFound
	}

	now := a.clock.Now()
	tok, err := credential.Sign(a.session.UserID, a.scope, a.secretKey, a.validity, false, now)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	// Refresh secrets rotate together with the access secret.
	refreshSecret, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}
	tok.RefreshSecret = refreshSecret

	a.session.Token = tok
	return tok, nil
}

func (a *Local) Revoke(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = nil
	return nil
}

func (a *Local) CurrentSession(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, common.ErrNotFound
	}
	return a.session, nil
}
