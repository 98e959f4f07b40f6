package mfa

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultRateLimitWindow  = 30 * time.Second
	defaultCodeTTL          = 5 * time.Minute
	defaultCodeLength       = 6
	defaultBackupCodeCount  = 10
	defaultBackupCodeLength = 8
	// Ambiguous characters (0/O, 1/I/L) are left out so codes survive
	// being read aloud or retyped from paper.
	defaultBackupCodeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	defaultIssuer            = "sessionguard"
)

// Config controls which methods are available and how codes are issued.
type Config struct {
	// EnabledMethods lists the methods users may enroll in. Empty means
	// every known method is enabled.
	EnabledMethods []Method
	// RateLimitWindow is the minimum interval between verification or
	// code-request attempts per (user, method). Zero disables limiting.
	RateLimitWindow time.Duration
	// CodeTTL bounds how long an out-of-band code stays valid.
	CodeTTL    time.Duration
	CodeLength int

	BackupCodeCount   int
	BackupCodeLength  int
	BackupCodeCharset string
	// BackupCodeCost is the bcrypt cost used for backup code hashes.
	BackupCodeCost int

	// Issuer appears in provisioning URLs for time-based codes.
	Issuer string

	// MetadataKey, when set, is the AES key used to seal method secrets
	// (TOTP shared secrets) before they reach the repository. Without it,
	// secrets are stored in the clear.
	MetadataKey []byte
}

// LoadDefaults returns a Config with every method enabled and sensible
// code-issuance parameters.
func LoadDefaults() *Config {
	return &Config{
		EnabledMethods:    Methods(),
		RateLimitWindow:   defaultRateLimitWindow,
		CodeTTL:           defaultCodeTTL,
		CodeLength:        defaultCodeLength,
		BackupCodeCount:   defaultBackupCodeCount,
		BackupCodeLength:  defaultBackupCodeLength,
		BackupCodeCharset: defaultBackupCodeCharset,
		BackupCodeCost:    bcrypt.DefaultCost,
		Issuer:            defaultIssuer,
	}
}

// MethodEnabled reports whether m may be enrolled under this configuration.
func (c *Config) MethodEnabled(m Method) bool {
	if len(c.EnabledMethods) == 0 {
		return m.Known()
	}
	for _, e := range c.EnabledMethods {
		if e == m {
			return true
		}
	}
	return false
}
