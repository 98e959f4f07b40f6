// Package common defines shared constants and sentinel errors used across
// sessionguard components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrInternal = errors.New("internal error")

	// Credential lifecycle errors.
	ErrValidation     = errors.New("validation error")
	ErrTokenExpired   = errors.New("token expired")
	ErrRotationFailed = errors.New("rotation failed")
	ErrCircuitOpen    = errors.New("circuit open, refresh suppressed")

	// Manager lifecycle misuse.
	ErrAlreadyActive = errors.New("manager already active")
	ErrNotActive     = errors.New("manager not active")

	// Session timeout errors.
	ErrMaxExtensions  = errors.New("maximum session extensions reached")
	ErrSessionExpired = errors.New("session expired")

	// MFA errors.
	ErrRateLimited        = errors.New("rate limited")
	ErrNoActiveEnrollment = errors.New("no active enrollment")
	ErrMethodDisabled     = errors.New("mfa method disabled")
	ErrEnrollmentExists   = errors.New("active enrollment already exists")
	ErrCodeUsed           = errors.New("verification code already used")
)
