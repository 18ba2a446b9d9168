package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpapi "github.com/campusgrid/schoolauth/internal/auth/http"
	"github.com/campusgrid/schoolauth/internal/auth/limiter"
	"github.com/campusgrid/schoolauth/internal/auth/service"
	"github.com/campusgrid/schoolauth/internal/auth/store"
	"github.com/campusgrid/schoolauth/internal/auth/store/drivers/sqlite"
	"github.com/campusgrid/schoolauth/pkg/cryptox"
	"github.com/campusgrid/schoolauth/pkg/jwtx"
	"github.com/campusgrid/schoolauth/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application encapsulates the auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db     store.Store
	signer *jwtx.HS256
	redis  *redis.Client

	authService         *service.AuthService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("AUTH_JWT_SECRET is required")
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "schoolauth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Pepper for password hashing, loaded lazily on first hash.
	cryptox.SetPepperPath(app.cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	signer, err := jwtx.NewHS256([]byte(cfg.JWTSecret), cfg.Issuer)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize token signer: %w", err)
	}
	app.signer = signer

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("auth service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

// initDatabase opens the database and applies migrations.
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initServices initializes the business logic services.
func (app *Application) initServices() {
	var mailer service.Mailer = service.LogMailer{}
	if app.cfg.SMTPHost != "" {
		smtp, err := service.NewSMTPMailer(service.SMTPConfig{
			Host:         app.cfg.SMTPHost,
			Port:         app.cfg.SMTPPort,
			Username:     app.cfg.SMTPUsername,
			Password:     app.cfg.SMTPPassword,
			From:         app.cfg.SMTPFrom,
			ResetURLBase: app.cfg.ResetURLBase,
		})
		if err != nil {
			app.logger.Error("smtp mailer init failed, falling back to log mailer", "error", err)
		} else {
			mailer = smtp
			app.logger.Info("smtp mailer enabled", "host", app.cfg.SMTPHost)
		}
	}

	// The failure mirror is advisory; without redis the store-backed counters
	// carry the lockout state alone.
	var mirror service.FailureMirror
	if app.cfg.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
		mirror = limiter.NewFailureCache(app.redis)
		app.logger.Info("login failure mirror enabled", "addr", app.cfg.RedisAddr)
	}

	app.authService = &service.AuthService{
		Store: app.db,
		Sessions: &service.SessionManager{
			Store:       app.db,
			Lifetime:    app.cfg.SessionLifetime,
			MaxSessions: app.cfg.MaxSessions,
		},
		Tokens: &service.TokenIssuer{
			Signer:    app.signer,
			Issuer:    app.cfg.Issuer,
			AccessTTL: app.cfg.AccessTokenTTL,
		},
		Policy: &service.PolicyEngine{Store: app.db},
		Audit:  &service.Auditor{Store: app.db},
		Mailer: mailer,
		Mirror: mirror,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	app.housekeepingService.AuditRetention = app.cfg.AuditRetention
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		BuildVersion,
		app.cfg.SecureCookies(),
		app.db,
		app.authService,
		app.logger,
	)
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
