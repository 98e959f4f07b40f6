package mfa_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/avagner/sessionguard/internal/common"
	"github.com/avagner/sessionguard/internal/cryptox"
	"github.com/avagner/sessionguard/internal/logging"
	"github.com/avagner/sessionguard/internal/mfa"
	"github.com/avagner/sessionguard/internal/mfa/storage"
	"github.com/avagner/sessionguard/internal/notify"
	"github.com/avagner/sessionguard/internal/timex"
)

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakeNotifier records the last delivery instead of sending anything.
type fakeNotifier struct {
	channel notify.Channel
	target  string
	message string
	calls   int
}

func (n *fakeNotifier) Deliver(ctx context.Context, channel notify.Channel, target string, message string) error {
	n.channel = channel
	n.target = target
	n.message = message
	n.calls++
	return nil
}

// codeFromMessage pulls the verification code out of the delivered text.
func codeFromMessage(t *testing.T, msg string, length int) string {
	t.Helper()
	i := strings.Index(msg, "is ")
	require.GreaterOrEqual(t, i, 0, "message should contain the code: %q", msg)
	require.GreaterOrEqual(t, len(msg), i+3+length)
	return msg[i+3 : i+3+length]
}

func testConfig() *mfa.Config {
	cfg := mfa.LoadDefaults()
	cfg.RateLimitWindow = 0
	cfg.BackupCodeCost = bcrypt.MinCost
	return cfg
}

func newService(t *testing.T, cfg *mfa.Config, clock timex.Clock) (*mfa.Service, *storage.MemoryRepository, *fakeNotifier) {
	t.Helper()
	repo := storage.NewMemoryRepository()
	notifier := &fakeNotifier{}
	return mfa.NewService(cfg, repo, notifier, discardLogger(), nil, clock), repo, notifier
}

func TestEnroll_TOTP(t *testing.T) {
	svc, repo, _ := newService(t, testConfig(), nil)
	ctx := context.Background()

	e, err := svc.Enroll(ctx, "u1", mfa.MethodTOTP, "laptop")
	require.NoError(t, err)
	require.Equal(t, mfa.EnrollmentActive, e.Status)
	require.NotEmpty(t, e.Metadata["secret"])
	require.Contains(t, e.Metadata["url"], "otpauth://")

	code, err := totp.GenerateCode(e.Metadata["secret"], time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.Verify(ctx, "u1", mfa.MethodTOTP, code))

	stored, err := repo.GetEnrollment(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.UsageCount)
	require.False(t, stored.LastUsedAt.IsZero())
}

func TestEnroll_TOTP_SealedSecret(t *testing.T) {
	cfg := testConfig()
	cfg.MetadataKey = cryptox.DeriveKey([]byte("master"), []byte("test"))
	svc, repo, _ := newService(t, cfg, nil)
	ctx := context.Background()

	e, err := svc.Enroll(ctx, "u1", mfa.MethodTOTP, "")
	require.NoError(t, err)
	// The caller still sees the plaintext secret for provisioning.
	require.NotEmpty(t, e.Metadata["secret"])

	stored, err := repo.GetEnrollment(ctx, e.ID)
	require.NoError(t, err)
	require.Empty(t, stored.Metadata["secret"])
	require.Empty(t, stored.Metadata["url"])
	require.NotEmpty(t, stored.Metadata["secret_enc"])

	code, err := totp.GenerateCode(e.Metadata["secret"], time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.Verify(ctx, "u1", mfa.MethodTOTP, code))
}

func TestEnroll_Rejections(t *testing.T) {
	cfg := testConfig()
	cfg.EnabledMethods = []mfa.Method{mfa.MethodTOTP}
	svc, _, _ := newService(t, cfg, nil)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, "u1", mfa.MethodSMS, "")
	require.ErrorIs(t, err, common.ErrMethodDisabled)

	_, err = svc.Enroll(ctx, "u1", mfa.Method("carrier-pigeon"), "")
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = svc.Enroll(ctx, "", mfa.MethodTOTP, "")
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = svc.Enroll(ctx, "u1", mfa.MethodTOTP, "")
	require.NoError(t, err)
	_, err = svc.Enroll(ctx, "u1", mfa.MethodTOTP, "")
	require.ErrorIs(t, err, common.ErrEnrollmentExists)
}

func TestVerify_NoActiveEnrollment(t *testing.T) {
	svc, _, _ := newService(t, testConfig(), nil)
	err := svc.Verify(context.Background(), "u1", mfa.MethodTOTP, "123456")
	require.ErrorIs(t, err, common.ErrNoActiveEnrollment)
}

func TestSendCodeAndVerify_OutOfBand(t *testing.T) {
	cfg := testConfig()
	svc, _, notifier := newService(t, cfg, nil)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, "u1", mfa.MethodSMS, "phone")
	require.NoError(t, err)

	require.NoError(t, svc.SendCode(ctx, "u1", mfa.MethodSMS, "+1555000111"))
	require.Equal(t, notify.ChannelSMS, notifier.channel)
	require.Equal(t, "+1555000111", notifier.target)

	code := codeFromMessage(t, notifier.message, cfg.CodeLength)

	require.ErrorIs(t, svc.Verify(ctx, "u1", mfa.MethodSMS, "000000"), common.ErrValidation)
	require.NoError(t, svc.Verify(ctx, "u1", mfa.MethodSMS, code))
	require.ErrorIs(t, svc.Verify(ctx, "u1", mfa.MethodSMS, code), common.ErrCodeUsed)
}

func TestSendCode_Rejections(t *testing.T) {
	svc, _, _ := newService(t, testConfig(), nil)
	ctx := context.Background()

	err := svc.SendCode(ctx, "u1", mfa.MethodTOTP, "target")
	require.ErrorIs(t, err, common.ErrValidation)

	err = svc.SendCode(ctx, "u1", mfa.MethodEmail, "u1@example.com")
	require.ErrorIs(t, err, common.ErrNoActiveEnrollment)
}

func TestVerify_ExpiredCode(t *testing.T) {
	cfg := testConfig()
	clock := timex.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _, notifier := newService(t, cfg, clock)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, "u1", mfa.MethodEmail, "")
	require.NoError(t, err)
	require.NoError(t, svc.SendCode(ctx, "u1", mfa.MethodEmail, "u1@example.com"))
	code := codeFromMessage(t, notifier.message, cfg.CodeLength)

	clock.Advance(cfg.CodeTTL + time.Second)

	err = svc.Verify(ctx, "u1", mfa.MethodEmail, code)
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestVerify_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitWindow = 100 * time.Millisecond
	svc, _, _ := newService(t, cfg, nil)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, "u1", mfa.MethodBiometric, "")
	require.NoError(t, err)

	require.NoError(t, svc.Verify(ctx, "u1", mfa.MethodBiometric, "assertion"))
	require.ErrorIs(t, svc.Verify(ctx, "u1", mfa.MethodBiometric, "assertion"), common.ErrRateLimited)

	time.Sleep(150 * time.Millisecond)
	require.NoError(t, svc.Verify(ctx, "u1", mfa.MethodBiometric, "assertion"))
}

func TestVerify_AssertionMethods(t *testing.T) {
	svc, _, _ := newService(t, testConfig(), nil)
	ctx := context.Background()

	for _, method := range []mfa.Method{mfa.MethodBiometric, mfa.MethodHardwareKey} {
		_, err := svc.Enroll(ctx, "u1", method, "")
		require.NoError(t, err)
		require.ErrorIs(t, svc.Verify(ctx, "u1", method, "  "), common.ErrValidation)
		require.NoError(t, svc.Verify(ctx, "u1", method, "assertion-payload"))
	}
}

func TestBackupCodes_SingleUse(t *testing.T) {
	cfg := testConfig()
	cfg.BackupCodeCount = 10
	cfg.BackupCodeLength = 8
	svc, _, _ := newService(t, cfg, nil)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, "u1", mfa.MethodBackupCodes, "")
	require.NoError(t, err)

	codes, err := svc.GenerateBackupCodes(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, codes, 10)

	seen := make(map[string]struct{})
	for _, c := range codes {
		require.Len(t, c, 8)
		seen[c] = struct{}{}
	}
	require.Len(t, seen, 10, "codes must be unique")

	require.NoError(t, svc.Verify(ctx, "u1", mfa.MethodBackupCodes, codes[3]))
	require.ErrorIs(t, svc.Verify(ctx, "u1", mfa.MethodBackupCodes, codes[3]), common.ErrValidation)

	// The other codes stay valid.
	require.NoError(t, svc.Verify(ctx, "u1", mfa.MethodBackupCodes, codes[7]))
}

func TestBackupCodes_RegenerateInvalidatesOldSet(t *testing.T) {
	svc, _, _ := newService(t, testConfig(), nil)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, "u1", mfa.MethodBackupCodes, "")
	require.NoError(t, err)

	old, err := svc.GenerateBackupCodes(ctx, "u1")
	require.NoError(t, err)
	fresh, err := svc.GenerateBackupCodes(ctx, "u1")
	require.NoError(t, err)

	require.ErrorIs(t, svc.Verify(ctx, "u1", mfa.MethodBackupCodes, old[0]), common.ErrValidation)
	require.NoError(t, svc.Verify(ctx, "u1", mfa.MethodBackupCodes, fresh[0]))
}

func TestDisableEnrollment(t *testing.T) {
	svc, repo, _ := newService(t, testConfig(), nil)
	ctx := context.Background()

	e, err := svc.Enroll(ctx, "u1", mfa.MethodBiometric, "")
	require.NoError(t, err)
	require.NoError(t, svc.Verify(ctx, "u1", mfa.MethodBiometric, "assertion"))

	require.NoError(t, svc.DisableEnrollment(ctx, e.ID))

	err = svc.Verify(ctx, "u1", mfa.MethodBiometric, "assertion")
	require.ErrorIs(t, err, common.ErrNoActiveEnrollment)

	stored, err := repo.GetEnrollment(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, mfa.EnrollmentDisabled, stored.Status)
	require.Equal(t, int64(1), stored.UsageCount, "history is kept")
}
