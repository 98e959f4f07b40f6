package mfa

import "time"

// EnrollmentStatus is the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentPending  EnrollmentStatus = "pending"
	EnrollmentActive   EnrollmentStatus = "active"
	EnrollmentDisabled EnrollmentStatus = "disabled"
	EnrollmentRevoked  EnrollmentStatus = "revoked"
)

// Enrollment binds a user to a verification method. At most one enrollment
// per (user, method) pair may be active at a time. A failed verification
// never changes the enrollment status.
type Enrollment struct {
	ID         string
	UserID     string
	Method     Method
	Status     EnrollmentStatus
	DeviceInfo string
	// Metadata holds method-specific material, e.g. the shared secret and
	// provisioning URL for time-based codes.
	Metadata   map[string]string
	CreatedAt  time.Time
	LastUsedAt time.Time
	UsageCount int64
}

// VerificationCode is a single-use out-of-band code scoped to a
// (user, method) pair. Only the hash of the code is stored. Issuing a new
// code replaces any previous one for the same pair.
type VerificationCode struct {
	UserID    string
	Method    Method
	CodeHash  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// BackupCode is a single-use recovery code. Only the bcrypt hash is stored;
// the plaintext is shown to the user exactly once at generation time.
type BackupCode struct {
	UserID    string
	CodeHash  string
	Used      bool
	CreatedAt time.Time
}
