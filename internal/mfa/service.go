package mfa

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/avagner/sessionguard/internal/common"
	"github.com/avagner/sessionguard/internal/cryptox"
	"github.com/avagner/sessionguard/internal/logging"
	"github.com/avagner/sessionguard/internal/notify"
	"github.com/avagner/sessionguard/internal/obs"
	"github.com/avagner/sessionguard/internal/timex"
)

const (
	metaSecret      = "secret"
	metaURL         = "url"
	metaSecretEnc   = "secret_enc"
	metaSecretNonce = "secret_nonce"

	oobCodeCharset = "0123456789"
)

// Service orchestrates enrollment and verification workflows. All
// operations that touch per-user state are serialized per user, so two
// concurrent verification attempts can never both consume the same
// single-use code.
type Service struct {
	cfg      *Config
	repo     Repository
	notifier notify.Notifier
	logger   logging.Logger
	metrics  *obs.Metrics
	clock    timex.Clock
	limiter  *attemptLimiter

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService constructs a Service. The notifier may be nil when no
// out-of-band method is enabled. A nil clock defaults to the real clock.
func NewService(cfg *Config, repo Repository, notifier notify.Notifier, logger logging.Logger, metrics *obs.Metrics, clock timex.Clock) *Service {
	if clock == nil {
		clock = timex.Real()
	}
	return &Service{
		cfg:      cfg,
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
		clock:    clock,
		limiter:  newAttemptLimiter(cfg.RateLimitWindow),
		locks:    make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex guarding all state of the given user.
func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// Enroll creates an enrollment for the (userID, method) pair. Methods that
// need material generated up front (time-based codes) get it here; methods
// verified externally on first use are activated immediately.
func (s *Service) Enroll(ctx context.Context, userID string, method Method, deviceInfo string) (*Enrollment, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", common.ErrValidation)
	}
	if !method.Known() {
		return nil, fmt.Errorf("%w: unknown method %q", common.ErrValidation, method)
	}
	if !s.cfg.MethodEnabled(method) {
		return nil, fmt.Errorf("%w: %s", common.ErrMethodDisabled, method)
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if _, err := s.repo.GetActiveEnrollment(ctx, userID, method); err == nil {
		return nil, fmt.Errorf("%w: %s/%s", common.ErrEnrollmentExists, userID, method)
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up enrollment: %w", err)
	}

	e := &Enrollment{
		ID:         uuid.NewString(),
		UserID:     userID,
		Method:     method,
		Status:     EnrollmentActive,
		DeviceInfo: deviceInfo,
		Metadata:   map[string]string{},
		CreatedAt:  s.clock.Now(),
	}

	if method == MethodTOTP {
		key, err := totp.Generate(totp.GenerateOpts{Issuer: s.cfg.Issuer, AccountName: userID})
		if err != nil {
			return nil, fmt.Errorf("failed to generate totp secret: %w", err)
		}
		e.Metadata[metaSecret] = key.Secret()
		e.Metadata[metaURL] = key.URL()
	}

	stored := *e
	if sealed, err := s.sealMetadata(e.Metadata); err != nil {
		return nil, err
	} else if sealed != nil {
		stored.Metadata = sealed
	}

	if err := s.repo.CreateEnrollment(ctx, &stored); err != nil {
		return nil, fmt.Errorf("failed to store enrollment: %w", err)
	}

	s.logger.Info(ctx, "mfa enrollment created", "user", userID, "method", string(method), "id", e.ID)
	return e, nil
}

// Verify checks a code or assertion against the user's active enrollment
// for the method. Failures are surfaced immediately and never retried
// internally, so brute-force attempts stay visible to callers and logs.
func (s *Service) Verify(ctx context.Context, userID string, method Method, code string) error {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	e, err := s.repo.GetActiveEnrollment(ctx, userID, method)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("%w: %s/%s", common.ErrNoActiveEnrollment, userID, method)
		}
		return fmt.Errorf("failed to look up enrollment: %w", err)
	}

	if !s.limiter.allow(userID, method) {
		s.metrics.ObserveMFAVerification(string(method), "rate_limited")
		return fmt.Errorf("%w: %s/%s", common.ErrRateLimited, userID, method)
	}

	switch method {
	case MethodTOTP:
		err = s.verifyTOTP(e, code)
	case MethodSMS, MethodEmail:
		err = s.verifyOutOfBand(ctx, userID, method, code)
	case MethodBiometric, MethodHardwareKey:
		err = s.verifyAssertion(code)
	case MethodBackupCodes:
		err = s.verifyBackupCode(ctx, userID, code)
	default:
		err = fmt.Errorf("%w: unknown method %q", common.ErrValidation, method)
	}

	if err != nil {
		s.metrics.ObserveMFAVerification(string(method), "failure")
		s.logger.Warn(ctx, "mfa verification failed", "user", userID, "method", string(method), "error", err)
		return err
	}

	e.LastUsedAt = s.clock.Now()
	e.UsageCount++
	if err := s.repo.UpdateEnrollment(ctx, e); err != nil {
		return fmt.Errorf("failed to update enrollment usage: %w", err)
	}

	s.metrics.ObserveMFAVerification(string(method), "success")
	s.logger.Info(ctx, "mfa verification succeeded", "user", userID, "method", string(method))
	return nil
}

func (s *Service) verifyTOTP(e *Enrollment, code string) error {
	secret, err := s.enrollmentSecret(e)
	if err != nil {
		return err
	}
	if secret == "" {
		return fmt.Errorf("%w: enrollment has no shared secret", common.ErrInternal)
	}
	if !totp.Validate(code, secret) {
		return fmt.Errorf("%w: totp code mismatch", common.ErrValidation)
	}
	return nil
}

// sealMetadata encrypts the shared secret for storage. The provisioning
// URL is dropped from the stored copy because it embeds the secret in
// plaintext; callers receive it once at enrollment time. Returns nil when
// sealing is disabled or there is nothing to seal.
func (s *Service) sealMetadata(meta map[string]string) (map[string]string, error) {
	secret := meta[metaSecret]
	if len(s.cfg.MetadataKey) == 0 || secret == "" {
		return nil, nil
	}
	ciphertext, nonce, err := cryptox.Seal(secret, s.cfg.MetadataKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal method secret: %w", err)
	}
	sealed := make(map[string]string, len(meta))
	for k, v := range meta {
		if k == metaSecret || k == metaURL {
			continue
		}
		sealed[k] = v
	}
	sealed[metaSecretEnc] = base64.StdEncoding.EncodeToString(ciphertext)
	sealed[metaSecretNonce] = base64.StdEncoding.EncodeToString(nonce)
	return sealed, nil
}

// enrollmentSecret returns the shared secret of e, unsealing it when the
// stored copy is encrypted.
func (s *Service) enrollmentSecret(e *Enrollment) (string, error) {
	enc, ok := e.Metadata[metaSecretEnc]
	if !ok {
		return e.Metadata[metaSecret], nil
	}
	if len(s.cfg.MetadataKey) == 0 {
		return "", fmt.Errorf("%w: sealed secret without metadata key", common.ErrInternal)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("%w: malformed sealed secret", common.ErrInternal)
	}
	nonce, err := base64.StdEncoding.DecodeString(e.Metadata[metaSecretNonce])
	if err != nil {
		return "", fmt.Errorf("%w: malformed secret nonce", common.ErrInternal)
	}
	var secret string
	if err := cryptox.Open(ciphertext, nonce, s.cfg.MetadataKey, &secret); err != nil {
		return "", fmt.Errorf("failed to unseal method secret: %w", err)
	}
	return secret, nil
}

func (s *Service) verifyOutOfBand(ctx context.Context, userID string, method Method, code string) error {
	vc, err := s.repo.GetVerificationCode(ctx, userID, method)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("%w: no pending code", common.ErrValidation)
		}
		return fmt.Errorf("failed to look up verification code: %w", err)
	}
	if vc.Used {
		return fmt.Errorf("%w: %s/%s", common.ErrCodeUsed, userID, method)
	}
	if s.clock.Now().After(vc.ExpiresAt) {
		return fmt.Errorf("%w: code expired", common.ErrValidation)
	}
	if subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(vc.CodeHash)) != 1 {
		return fmt.Errorf("%w: code mismatch", common.ErrValidation)
	}
	if err := s.repo.MarkVerificationCodeUsed(ctx, userID, method); err != nil {
		return fmt.Errorf("failed to mark code used: %w", err)
	}
	return nil
}

// verifyAssertion accepts any non-empty assertion payload. A production
// deployment replaces this with a WebAuthn-style verifier behind the same
// method dispatch.
func (s *Service) verifyAssertion(assertion string) error {
	if strings.TrimSpace(assertion) == "" {
		return fmt.Errorf("%w: empty assertion", common.ErrValidation)
	}
	return nil
}

func (s *Service) verifyBackupCode(ctx context.Context, userID string, code string) error {
	codes, err := s.repo.ListBackupCodes(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list backup codes: %w", err)
	}
	for _, bc := range codes {
		if bc.Used {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(bc.CodeHash), []byte(code)) == nil {
			if err := s.repo.MarkBackupCodeUsed(ctx, userID, bc.CodeHash); err != nil {
				return fmt.Errorf("failed to mark backup code used: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: backup code not recognized", common.ErrValidation)
}

// SendCode issues a fresh single-use code for an out-of-band method and
// hands it to the notification collaborator. Issuing replaces any earlier
// pending code for the pair. Rate limited identically to Verify.
func (s *Service) SendCode(ctx context.Context, userID string, method Method, target string) error {
	if !method.OutOfBand() {
		return fmt.Errorf("%w: method %q does not deliver codes", common.ErrValidation, method)
	}
	if s.notifier == nil {
		return fmt.Errorf("%w: no notifier configured", common.ErrInternal)
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if _, err := s.repo.GetActiveEnrollment(ctx, userID, method); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("%w: %s/%s", common.ErrNoActiveEnrollment, userID, method)
		}
		return fmt.Errorf("failed to look up enrollment: %w", err)
	}

	if !s.limiter.allow(userID, method) {
		return fmt.Errorf("%w: %s/%s", common.ErrRateLimited, userID, method)
	}

	code, err := common.MakeRandString(s.cfg.CodeLength, oobCodeCharset)
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	now := s.clock.Now()
	vc := &VerificationCode{
		UserID:    userID,
		Method:    method,
		CodeHash:  hashCode(code),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.CodeTTL),
	}
	if err := s.repo.SaveVerificationCode(ctx, vc); err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}

	msg := fmt.Sprintf("Your verification code is %s. It expires in %s.", code, s.cfg.CodeTTL)
	if err := s.notifier.Deliver(ctx, notify.Channel(method), target, msg); err != nil {
		return fmt.Errorf("failed to deliver code: %w", err)
	}

	s.logger.Info(ctx, "verification code sent", "user", userID, "method", string(method))
	return nil
}

// GenerateBackupCodes mints a fresh set of recovery codes, replacing any
// previous set. Only hashes are stored; the returned plaintext codes are
// shown to the caller once and cannot be retrieved again.
func (s *Service) GenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", common.ErrValidation)
	}
	if !s.cfg.MethodEnabled(MethodBackupCodes) {
		return nil, fmt.Errorf("%w: %s", common.ErrMethodDisabled, MethodBackupCodes)
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	seen := make(map[string]struct{}, s.cfg.BackupCodeCount)
	codes := make([]string, 0, s.cfg.BackupCodeCount)
	hashes := make([]string, 0, s.cfg.BackupCodeCount)
	for len(codes) < s.cfg.BackupCodeCount {
		code, err := common.MakeRandString(s.cfg.BackupCodeLength, s.cfg.BackupCodeCharset)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.BackupCodeCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		codes = append(codes, code)
		hashes = append(hashes, string(hash))
	}

	if err := s.repo.ReplaceBackupCodes(ctx, userID, hashes, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("failed to store backup codes: %w", err)
	}

	s.logger.Info(ctx, "backup codes generated", "user", userID, "count", len(codes))
	return codes, nil
}

// DisableEnrollment marks the enrollment as disabled. History is kept.
func (s *Service) DisableEnrollment(ctx context.Context, id string) error {
	e, err := s.repo.GetEnrollment(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up enrollment: %w", err)
	}

	l := s.userLock(e.UserID)
	l.Lock()
	defer l.Unlock()

	e.Status = EnrollmentDisabled
	if err := s.repo.UpdateEnrollment(ctx, e); err != nil {
		return fmt.Errorf("failed to disable enrollment: %w", err)
	}

	s.logger.Info(ctx, "mfa enrollment disabled", "user", e.UserID, "method", string(e.Method), "id", id)
	return nil
}

// hashCode hashes an out-of-band code for storage and comparison.
func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
