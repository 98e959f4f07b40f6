// Package app wires the lifecycle managers together into a runnable
// daemon: it builds the credential authority, rotation, refresh and
// session timeout managers, the MFA service with its storage backend, and
// serves Prometheus metrics. It also handles graceful shutdown on OS
// signals.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/avagner/sessionguard/internal/authority"
	"github.com/avagner/sessionguard/internal/config"
	"github.com/avagner/sessionguard/internal/cryptox"
	"github.com/avagner/sessionguard/internal/logging"
	"github.com/avagner/sessionguard/internal/mfa"
	"github.com/avagner/sessionguard/internal/mfa/storage"
	"github.com/avagner/sessionguard/internal/notify"
	"github.com/avagner/sessionguard/internal/obs"
	"github.com/avagner/sessionguard/internal/refresh"
	"github.com/avagner/sessionguard/internal/rotation"
	"github.com/avagner/sessionguard/internal/session"
	"github.com/avagner/sessionguard/internal/syncbus"
	"github.com/avagner/sessionguard/internal/timex"
)

// App owns every long-running component of the daemon.
type App struct {
	cfg     *config.Config
	logger  logging.Logger
	metrics *obs.Metrics

	auth       authority.Authority
	rotMgr     *rotation.Manager
	refreshMgr *refresh.Manager
	sessionMgr *session.Manager
	mfaService *mfa.Service

	db *sql.DB // nil for the memory storage driver
}

// NewApp builds the full component graph from cfg.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	metrics := obs.New(prometheus.DefaultRegisterer)
	clock := timex.Real()
	bus := syncbus.NewMemory()

	auth := authority.NewLocal([]byte(cfg.SecretKey), cfg.TokenValidity, cfg.Scope, nil, clock)

	strategy := rotation.ForName(cfg.RotationStrategy, cfg.RotationBuffer, cfg.RefreshInterval)
	fallback := rotation.JWTFallbackIssuer([]byte(cfg.SecretKey), cfg.SessionDuration/2)
	rotMgr := rotation.NewManager(rotation.Config{
		MaxRefreshAttempts: cfg.MaxRefreshAttempts,
		SessionDuration:    cfg.SessionDuration,
		ValidateTokens:     cfg.ValidateTokens,
	}, strategy, auth, fallback, logger, metrics, clock)

	refreshMgr := refresh.NewManager(refresh.Config{
		Interval:        cfg.RefreshInterval,
		RefreshBuffer:   cfg.RefreshBuffer,
		MaxRetries:      cfg.RefreshMaxRetries,
		ResetWindow:     cfg.CircuitResetWindow,
		MonitorInterval: cfg.MonitorInterval,
	}, auth, rotMgr, bus, refresh.Sinks{}, logger, metrics, clock)

	sessionMgr := session.NewManager(session.Config{
		Duration:              cfg.SessionDuration,
		WarningThreshold:      cfg.WarningThreshold,
		FinalWarningThreshold: cfg.FinalWarningThreshold,
		InactivityTimeout:     cfg.InactivityTimeout,
		MaxExtensions:         cfg.MaxExtensions,
	}, session.Sinks{
		OnWarning: func(remaining time.Duration) {
			logger.Warn(ctx, "session expires soon", "remaining", remaining)
		},
		OnFinalWarning: func(remaining time.Duration) {
			logger.Warn(ctx, "session about to expire", "remaining", remaining)
		},
		OnTimeout: func() {
			logger.Warn(ctx, "session expired")
		},
	}, bus, logger, metrics, clock)

	repo, db, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	mfaCfg := mfaConfig(cfg)
	mfaService := mfa.NewService(mfaCfg, repo, notify.NewLogNotifier(logger), logger, metrics, clock)

	return &App{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		auth:       auth,
		rotMgr:     rotMgr,
		refreshMgr: refreshMgr,
		sessionMgr: sessionMgr,
		mfaService: mfaService,
		db:         db,
	}, nil
}

func openRepository(ctx context.Context, cfg *config.Config) (mfa.Repository, *sql.DB, error) {
	switch cfg.StorageDriver {
	case "memory":
		return storage.NewMemoryRepository(), nil, nil
	case "sqlite":
		return storage.OpenSQLite(ctx, cfg.DatabaseDSN)
	case "postgres":
		return storage.OpenPostgres(ctx, cfg.DatabaseDSN)
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func mfaConfig(cfg *config.Config) *mfa.Config {
	c := mfa.LoadDefaults()
	if len(cfg.MFAMethods) > 0 {
		methods := make([]mfa.Method, len(cfg.MFAMethods))
		for i, m := range cfg.MFAMethods {
			methods[i] = mfa.Method(m)
		}
		c.EnabledMethods = methods
	}
	c.RateLimitWindow = cfg.MFARateLimitWindow
	c.CodeTTL = cfg.MFACodeTTL
	c.BackupCodeCount = cfg.BackupCodeCount
	c.BackupCodeLength = cfg.BackupCodeLength
	c.BackupCodeCost = cfg.BackupCodeCost
	c.MetadataKey = cryptox.DeriveKey([]byte(cfg.SecretKey), []byte("sessionguard.mfa.metadata"))
	return c
}

// MFA exposes the MFA service for embedding applications.
func (app *App) MFA() *mfa.Service { return app.mfaService }

// Session exposes the session timeout manager.
func (app *App) Session() *session.Manager { return app.sessionMgr }

// Refresh exposes the refresh manager.
func (app *App) Refresh() *refresh.Manager { return app.refreshMgr }

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// signIn authenticates against the credential authority and seeds the
// refresh manager with the issued credential. Credentials come from the
// environment so the daemon can start unattended.
func (app *App) signIn(ctx context.Context) error {
	username := os.Getenv("SESSIONGUARD_USER")
	if username == "" {
		username = "local"
	}
	secret := os.Getenv("SESSIONGUARD_SECRET")
	if secret == "" {
		secret = app.cfg.SecretKey
	}

	sess, err := app.auth.Authenticate(ctx, authority.Credentials{Username: username, Secret: []byte(secret)})
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	app.refreshMgr.SetToken(sess.Token)
	app.logger.Info(ctx, "signed in", "user", sess.UserID, "expires_at", sess.Token.ExpiresAt)
	return nil
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())

	srv := &http.Server{Addr: app.cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Error(ctx, "metrics server failed", "error", err)
			cancelFunc()
		}
	}()
	return srv
}

// Run signs in, starts every manager and blocks until the context is
// cancelled or an OS signal arrives, then shuts everything down.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting session guard",
		"strategy", app.cfg.RotationStrategy, "storage", app.cfg.StorageDriver)

	app.initSignalHandler(cancelFunc)
	srv := app.startMetricsServer(ctx, cancelFunc)

	if err := app.signIn(ctx); err != nil {
		return err
	}

	if err := app.rotMgr.Start(ctx); err != nil {
		return fmt.Errorf("start rotation manager: %w", err)
	}
	if err := app.refreshMgr.Start(ctx); err != nil {
		return fmt.Errorf("start refresh manager: %w", err)
	}
	if err := app.sessionMgr.Start(ctx); err != nil {
		return fmt.Errorf("start session manager: %w", err)
	}

	<-ctx.Done()

	app.logger.Info(context.Background(), "shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	if err := app.sessionMgr.Stop(stopCtx); err != nil {
		app.logger.Warn(stopCtx, "session manager stop failed", "error", err)
	}
	if err := app.refreshMgr.Stop(stopCtx); err != nil {
		app.logger.Warn(stopCtx, "refresh manager stop failed", "error", err)
	}
	if err := app.rotMgr.Stop(stopCtx); err != nil {
		app.logger.Warn(stopCtx, "rotation manager stop failed", "error", err)
	}

	if err := srv.Shutdown(stopCtx); err != nil {
		app.logger.Warn(stopCtx, "metrics server shutdown failed", "error", err)
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Warn(stopCtx, "database close failed", "error", err)
		}
	}

	return nil
}
