package mfa

import (
	"context"
	"time"
)

// Repository persists enrollments, out-of-band verification codes and
// backup code hashes. Implementations return common.ErrNotFound for
// missing rows. Repositories are not required to be safe for concurrent
// writes to the same user; the Service serializes access per user.
type Repository interface {
	CreateEnrollment(ctx context.Context, e *Enrollment) error
	GetEnrollment(ctx context.Context, id string) (*Enrollment, error)
	GetActiveEnrollment(ctx context.Context, userID string, method Method) (*Enrollment, error)
	ListEnrollments(ctx context.Context, userID string) ([]*Enrollment, error)
	UpdateEnrollment(ctx context.Context, e *Enrollment) error

	// SaveVerificationCode upserts the single pending code for the
	// (user, method) pair of c.
	SaveVerificationCode(ctx context.Context, c *VerificationCode) error
	GetVerificationCode(ctx context.Context, userID string, method Method) (*VerificationCode, error)
	MarkVerificationCodeUsed(ctx context.Context, userID string, method Method) error

	// ReplaceBackupCodes discards all backup codes of the user and stores
	// the given hashes as fresh unused codes.
	ReplaceBackupCodes(ctx context.Context, userID string, hashes []string, createdAt time.Time) error
	ListBackupCodes(ctx context.Context, userID string) ([]*BackupCode, error)
	MarkBackupCodeUsed(ctx context.Context, userID string, codeHash string) error
}
