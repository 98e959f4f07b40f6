package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_parseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("overrides defaults", func(t *testing.T) {
		os.Args = []string{"testbin",
			"-a", ":9300",
			"-d", "postgres://localhost/guard",
			"-r", "postgres",
			"-s", "flag_secret",
			"-g", "lazy",
			"-t", "60",
			"-i", "120",
			"-m", "totp,sms",
		}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseFlags(cfg)

		assert.Equal(t, ":9300", cfg.MetricsAddr)
		assert.Equal(t, "postgres://localhost/guard", cfg.DatabaseDSN)
		assert.Equal(t, "postgres", cfg.StorageDriver)
		assert.Equal(t, "flag_secret", cfg.SecretKey)
		assert.Equal(t, "lazy", cfg.RotationStrategy)
		assert.Equal(t, 60*time.Minute, cfg.SessionDuration)
		assert.Equal(t, 120*time.Second, cfg.RefreshInterval)
		assert.Equal(t, []string{"totp", "sms"}, cfg.MFAMethods)
	})

	t.Run("unknown flags are ignored", func(t *testing.T) {
		os.Args = []string{"testbin", "-a", ":9400", "-zz", "noise"}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseFlags(cfg)

		assert.Equal(t, ":9400", cfg.MetricsAddr)
	})
}
