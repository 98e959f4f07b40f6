// Package config handles configuration for the session guard daemon,
// including defaults, JSON overlay, and command-line flags.
package config

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Config holds runtime settings for all lifecycle managers.
//
// Fields:
//   - SecretKey: HMAC secret for signing credentials (HS256). Do not use test defaults in prod.
//   - Scope: scope claim stamped into issued credentials.
//   - TokenValidity: lifetime of a freshly issued access credential.
//   - MetricsAddr: bind address for the Prometheus /metrics endpoint.
//   - StorageDriver: enrollment storage backend, one of "memory", "sqlite", "postgres".
//   - DatabaseDSN: SQLite path or PostgreSQL DSN, depending on the driver.
type Config struct {
	SecretKey     string
	Scope         string
	TokenValidity time.Duration
	MetricsAddr   string
	StorageDriver string
	DatabaseDSN   string

	// Rotation.
	RotationStrategy   string
	RotationBuffer     time.Duration
	MaxRefreshAttempts int
	ValidateTokens     bool

	// Refresh scheduling and circuit breaker.
	RefreshInterval    time.Duration
	RefreshBuffer      time.Duration
	RefreshMaxRetries  int
	CircuitResetWindow time.Duration
	MonitorInterval    time.Duration

	// Session timeouts.
	SessionDuration       time.Duration
	WarningThreshold      time.Duration
	FinalWarningThreshold time.Duration
	InactivityTimeout     time.Duration
	MaxExtensions         int

	// MFA.
	MFAMethods         []string
	MFARateLimitWindow time.Duration
	MFACodeTTL         time.Duration
	BackupCodeCount    int
	BackupCodeLength   int
	BackupCodeCost     int
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: The secret key is insecure for production and must be overridden.
func (c *Config) LoadDefaults() {
	c.SecretKey = "secretKey"
	c.Scope = "default"
	c.TokenValidity = 15 * time.Minute
	c.MetricsAddr = ":9100"
	c.StorageDriver = "memory"
	c.DatabaseDSN = "sessionguard.db"

	c.RotationStrategy = "adaptive"
	c.RotationBuffer = 5 * time.Minute
	c.MaxRefreshAttempts = 3
	c.ValidateTokens = true

	c.RefreshInterval = 5 * time.Minute
	c.RefreshBuffer = 5 * time.Minute
	c.RefreshMaxRetries = 3
	c.CircuitResetWindow = 60 * time.Second
	c.MonitorInterval = 60 * time.Second

	c.SessionDuration = 30 * time.Minute
	c.WarningThreshold = 5 * time.Minute
	c.FinalWarningThreshold = 1 * time.Minute
	c.InactivityTimeout = 0
	c.MaxExtensions = 3

	c.MFAMethods = nil // all methods enabled
	c.MFARateLimitWindow = 30 * time.Second
	c.MFACodeTTL = 5 * time.Minute
	c.BackupCodeCount = 10
	c.BackupCodeLength = 8
	c.BackupCodeCost = bcrypt.DefaultCost
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
