package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/avagner/sessionguard/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   metrics bind address (e.g., ":9100")
//	-d string   database DSN (SQLite path or PostgreSQL DSN)
//	-r string   storage driver: memory, sqlite or postgres
//	-s string   credential HMAC secret key
//	-g string   rotation strategy: eager, lazy or adaptive
//	-t int      session duration, minutes
//	-i int      refresh interval, seconds
//	-m string   comma-separated list of enabled MFA methods
//
// The function first filters os.Args to only the flags it recognizes
// using flagx.FilterArgs, avoiding collisions with other components.
// Settings not covered by a flag are only reachable through the JSON
// configuration file.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-r", "-s", "-g", "-t", "-i", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.MetricsAddr, "a", config.MetricsAddr, "metrics bind address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.StorageDriver, "r", config.StorageDriver, "storage driver")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.RotationStrategy, "g", config.RotationStrategy, "rotation strategy")

	sessionDuration := fs.Int("t", int(config.SessionDuration.Minutes()), "session duration (in minutes)")
	refreshInterval := fs.Int("i", int(config.RefreshInterval.Seconds()), "refresh interval (in seconds)")
	methods := fs.String("m", strings.Join(config.MFAMethods, ","), "enabled MFA methods, comma-separated")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionDuration = time.Duration(*sessionDuration) * time.Minute
	config.RefreshInterval = time.Duration(*refreshInterval) * time.Second

	if *methods != "" {
		config.MFAMethods = strings.Split(*methods, ",")
	}
}
