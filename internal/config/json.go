package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/avagner/sessionguard/internal/flagx"
	"github.com/avagner/sessionguard/internal/timex"
)

// JsonConfig is the intermediate DTO used for reading JSON configuration
// files. Duration fields use timex.Duration, which accepts both string
// values such as "5m" and integer nanoseconds. After unmarshalling, the
// values are copied into the runtime Config.
type JsonConfig struct {
	SecretKey     string         `json:"secret_key"`
	Scope         string         `json:"scope"`
	TokenValidity timex.Duration `json:"token_validity"`
	MetricsAddr   string         `json:"metrics_addr"`
	StorageDriver string         `json:"storage_driver"`
	DatabaseDSN   string         `json:"database_dsn"`

	RotationStrategy   string         `json:"rotation_strategy"`
	RotationBuffer     timex.Duration `json:"rotation_buffer"`
	MaxRefreshAttempts int            `json:"max_refresh_attempts"`
	ValidateTokens     bool           `json:"validate_tokens"`

	RefreshInterval    timex.Duration `json:"refresh_interval"`
	RefreshBuffer      timex.Duration `json:"refresh_buffer"`
	RefreshMaxRetries  int            `json:"refresh_max_retries"`
	CircuitResetWindow timex.Duration `json:"circuit_reset_window"`
	MonitorInterval    timex.Duration `json:"monitor_interval"`

	SessionDuration       timex.Duration `json:"session_duration"`
	WarningThreshold      timex.Duration `json:"warning_threshold"`
	FinalWarningThreshold timex.Duration `json:"final_warning_threshold"`
	InactivityTimeout     timex.Duration `json:"inactivity_timeout"`
	MaxExtensions         int            `json:"max_extensions"`

	MFAMethods         []string       `json:"mfa_methods"`
	MFARateLimitWindow timex.Duration `json:"mfa_rate_limit_window"`
	MFACodeTTL         timex.Duration `json:"mfa_code_ttl"`
	BackupCodeCount    int            `json:"backup_code_count"`
	BackupCodeLength   int            `json:"backup_code_length"`
	BackupCodeCost     int            `json:"backup_code_cost"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path is taken from the -c or -config
// command-line flags; when neither is set, no JSON file is loaded. A file
// that cannot be read or parsed is a startup failure, so the function
// panics. Files are expected to be complete: every field in JsonConfig is
// copied into the target Config.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.SecretKey = c.SecretKey
	config.Scope = c.Scope
	config.TokenValidity = time.Duration(c.TokenValidity.Duration)
	config.MetricsAddr = c.MetricsAddr
	config.StorageDriver = c.StorageDriver
	config.DatabaseDSN = c.DatabaseDSN

	config.RotationStrategy = c.RotationStrategy
	config.RotationBuffer = time.Duration(c.RotationBuffer.Duration)
	config.MaxRefreshAttempts = c.MaxRefreshAttempts
	config.ValidateTokens = c.ValidateTokens

	config.RefreshInterval = time.Duration(c.RefreshInterval.Duration)
	config.RefreshBuffer = time.Duration(c.RefreshBuffer.Duration)
	config.RefreshMaxRetries = c.RefreshMaxRetries
	config.CircuitResetWindow = time.Duration(c.CircuitResetWindow.Duration)
	config.MonitorInterval = time.Duration(c.MonitorInterval.Duration)

	config.SessionDuration = time.Duration(c.SessionDuration.Duration)
	config.WarningThreshold = time.Duration(c.WarningThreshold.Duration)
	config.FinalWarningThreshold = time.Duration(c.FinalWarningThreshold.Duration)
	config.InactivityTimeout = time.Duration(c.InactivityTimeout.Duration)
	config.MaxExtensions = c.MaxExtensions

	config.MFAMethods = c.MFAMethods
	config.MFARateLimitWindow = time.Duration(c.MFARateLimitWindow.Duration)
	config.MFACodeTTL = time.Duration(c.MFACodeTTL.Duration)
	config.BackupCodeCount = c.BackupCodeCount
	config.BackupCodeLength = c.BackupCodeLength
	config.BackupCodeCost = c.BackupCodeCost
}
