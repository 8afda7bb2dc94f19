// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

// Command api is the entry point for the Billora account API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool).
//  4. Connect to Redis.
//  5. Run database migrations (idempotent).
//  6. Wire the identity provider, reconciler, and account service.
//  7. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/billora/billora/internal/account"
	"github.com/billora/billora/internal/api"
	"github.com/billora/billora/internal/identity"
	"github.com/billora/billora/internal/platform/config"
	"github.com/billora/billora/internal/platform/constants"
	"github.com/billora/billora/internal/platform/mailer"
	"github.com/billora/billora/internal/platform/migration"
	pgstore "github.com/billora/billora/internal/platform/postgres"
	redisstore "github.com/billora/billora/internal/platform/redis"
	"github.com/billora/billora/internal/platform/sec"
	"github.com/billora/billora/internal/profile"
	"github.com/billora/billora/internal/session"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", constants.AppName))
	slog.SetDefault(log)

	log.Info("service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", constants.AppName))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 3. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing_postgres_pool")
		pool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing_redis_client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis_close_error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	// ── 6. Security & Mail ────────────────────────────────────────────────
	jwtSvc, err := sec.NewTokenService(cfg.JWTPrivKeyPath, cfg.JWTPubKeyPath, constants.AuthIssuer)
	must(log, err, "initialize jwt service")

	var mail mailer.Mailer
	if cfg.SMTPAddr != "" {
		mail = mailer.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword, log)
	} else {
		// Development fallback: emailed links are logged instead of sent.
		mail = mailer.NewLogMailer(log)
	}

	// ── 7. Health handlers (wired with real dependency checkers) ──────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func() error {
			return pgstore.Ping(context.Background(), pool)
		},
		CheckCache: func() error {
			return redisstore.Ping(context.Background(), rdb)
		},
	}, log)

	// ── 8. Domain Wiring ──────────────────────────────────────────────────
	identityRepository := identity.NewIdentityRepository(pool)
	confirmTokens := identity.NewTokenRepository(rdb, constants.RedisPrefixConfirmToken)
	magicTokens := identity.NewTokenRepository(rdb, constants.RedisPrefixMagicToken)
	resetTokens := identity.NewTokenRepository(rdb, constants.RedisPrefixResetToken)

	gateway := identity.NewProvider(
		identityRepository,
		confirmTokens,
		magicTokens,
		resetTokens,
		jwtSvc,
		mail,
		identity.ProviderOptions{
			RequireEmailConfirmation: cfg.RequireEmailConfirmation,
			PublicBaseURL:            cfg.PublicBaseURL,
		},
		log,
	)

	profileStore := profile.NewPostgresStore(pool)
	reconciler := account.NewReconciler(profileStore, cfg.ReconcileInitialDelay, cfg.ReconcileRetryDelay, log)

	// The compensation hook is the out-of-band cleanup signal: a non-nil
	// deleteErr means an orphaned identity was left behind.
	compensationHook := func(identityID string, deleteErr error) {
		if deleteErr != nil {
			log.Error("orphaned_identity_needs_cleanup", slog.String("identity_id", identityID))
		}
	}

	accountService := account.NewService(
		gateway,
		reconciler,
		account.ParseFallbackOrder(cfg.ProfileFallbackOrder),
		compensationHook,
		log,
	)
	accountHandler := account.NewHandler(accountService, gateway, cfg.PublicBaseURL)

	sessionState := session.NewManager(gateway, accountService, profileStore, cfg.FeedbackMessageTTL, log)
	defer sessionState.Close()

	// ── 9. HTTP Server ────────────────────────────────────────────────────
	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	handlers := api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Account:   accountHandler,
	}

	server := api.NewServer(serverCtx, cfg, log, jwtSvc, handlers)

	// ── 10. Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown_signal_received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server_startup_error", slog.Any("error", err))
	}

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting_down_server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown_error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server_stopped_cleanly")
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup_failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
