package storage

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avagner/sessionguard/internal/common"
	"github.com/avagner/sessionguard/internal/mfa"
)

var storedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// backends returns every repository implementation that can run without
// external services.
func backends(t *testing.T) map[string]mfa.Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	sqliteRepo, db, err := OpenSQLite(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return map[string]mfa.Repository{
		"memory": NewMemoryRepository(),
		"sqlite": sqliteRepo,
	}
}

func sampleEnrollment(id, userID string, method mfa.Method) *mfa.Enrollment {
	return &mfa.Enrollment{
		ID:         id,
		UserID:     userID,
		Method:     method,
		Status:     mfa.EnrollmentActive,
		DeviceInfo: "laptop",
		Metadata:   map[string]string{"secret": "s3cr3t"},
		CreatedAt:  storedAt,
	}
}

func TestRepository_EnrollmentLifecycle(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := repo.GetEnrollment(ctx, "missing")
			require.ErrorIs(t, err, common.ErrNotFound)

			e := sampleEnrollment("e1", "u1", mfa.MethodTOTP)
			require.NoError(t, repo.CreateEnrollment(ctx, e))

			got, err := repo.GetEnrollment(ctx, "e1")
			require.NoError(t, err)
			require.Equal(t, "u1", got.UserID)
			require.Equal(t, mfa.MethodTOTP, got.Method)
			require.Equal(t, "s3cr3t", got.Metadata["secret"])
			require.True(t, got.CreatedAt.Equal(storedAt))
			require.True(t, got.LastUsedAt.IsZero())

			active, err := repo.GetActiveEnrollment(ctx, "u1", mfa.MethodTOTP)
			require.NoError(t, err)
			require.Equal(t, "e1", active.ID)

			got.Status = mfa.EnrollmentDisabled
			got.LastUsedAt = storedAt.Add(time.Hour)
			got.UsageCount = 5
			require.NoError(t, repo.UpdateEnrollment(ctx, got))

			_, err = repo.GetActiveEnrollment(ctx, "u1", mfa.MethodTOTP)
			require.ErrorIs(t, err, common.ErrNotFound)

			reloaded, err := repo.GetEnrollment(ctx, "e1")
			require.NoError(t, err)
			require.Equal(t, mfa.EnrollmentDisabled, reloaded.Status)
			require.Equal(t, int64(5), reloaded.UsageCount)
			require.True(t, reloaded.LastUsedAt.Equal(storedAt.Add(time.Hour)))

			require.NoError(t, repo.CreateEnrollment(ctx, sampleEnrollment("e2", "u1", mfa.MethodSMS)))
			list, err := repo.ListEnrollments(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, list, 2)
		})
	}
}

func TestRepository_UpdateMissingEnrollment(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := repo.UpdateEnrollment(context.Background(), sampleEnrollment("ghost", "u1", mfa.MethodTOTP))
			require.ErrorIs(t, err, common.ErrNotFound)
		})
	}
}

func TestRepository_VerificationCodes(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := repo.GetVerificationCode(ctx, "u1", mfa.MethodSMS)
			require.ErrorIs(t, err, common.ErrNotFound)

			c := &mfa.VerificationCode{
				UserID:    "u1",
				Method:    mfa.MethodSMS,
				CodeHash:  "hash-1",
				CreatedAt: storedAt,
				ExpiresAt: storedAt.Add(5 * time.Minute),
			}
			require.NoError(t, repo.SaveVerificationCode(ctx, c))

			got, err := repo.GetVerificationCode(ctx, "u1", mfa.MethodSMS)
			require.NoError(t, err)
			require.Equal(t, "hash-1", got.CodeHash)
			require.False(t, got.Used)
			require.True(t, got.ExpiresAt.Equal(storedAt.Add(5*time.Minute)))

			require.NoError(t, repo.MarkVerificationCodeUsed(ctx, "u1", mfa.MethodSMS))
			got, err = repo.GetVerificationCode(ctx, "u1", mfa.MethodSMS)
			require.NoError(t, err)
			require.True(t, got.Used)

			// Already consumed, a second mark must not succeed.
			err = repo.MarkVerificationCodeUsed(ctx, "u1", mfa.MethodSMS)
			require.ErrorIs(t, err, common.ErrNotFound)

			// Issuing a new code replaces the consumed one.
			c.CodeHash = "hash-2"
			require.NoError(t, repo.SaveVerificationCode(ctx, c))
			got, err = repo.GetVerificationCode(ctx, "u1", mfa.MethodSMS)
			require.NoError(t, err)
			require.Equal(t, "hash-2", got.CodeHash)
			require.False(t, got.Used)
		})
	}
}

func TestRepository_BackupCodes(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, repo.ReplaceBackupCodes(ctx, "u1", []string{"h1", "h2", "h3"}, storedAt))

			codes, err := repo.ListBackupCodes(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, codes, 3)
			for _, c := range codes {
				require.False(t, c.Used)
				require.True(t, c.CreatedAt.Equal(storedAt))
			}

			require.NoError(t, repo.MarkBackupCodeUsed(ctx, "u1", "h2"))
			err = repo.MarkBackupCodeUsed(ctx, "u1", "h2")
			require.ErrorIs(t, err, common.ErrNotFound)

			err = repo.MarkBackupCodeUsed(ctx, "u1", "unknown")
			require.ErrorIs(t, err, common.ErrNotFound)

			require.NoError(t, repo.ReplaceBackupCodes(ctx, "u1", []string{"h4"}, storedAt))
			codes, err = repo.ListBackupCodes(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, codes, 1)
			require.Equal(t, "h4", codes[0].CodeHash)
			require.False(t, codes[0].Used)
		})
	}
}
