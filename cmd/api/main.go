// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

// Command api is the entry point for the Castellan identity core HTTP server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool).
//  4. Connect to Redis.
//  5. Run database migrations (idempotent).
//  6. Wire the identity domain: credential engine, audit trail, guard, services.
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

	"github.com/castellan/castellan/internal/api"
	"github.com/castellan/castellan/internal/identity/account"
	"github.com/castellan/castellan/internal/identity/audit"
	"github.com/castellan/castellan/internal/identity/authn"
	"github.com/castellan/castellan/internal/identity/authz"
	"github.com/castellan/castellan/internal/identity/credential"
	"github.com/castellan/castellan/internal/identity/keys"
	"github.com/castellan/castellan/internal/identity/reset"
	"github.com/castellan/castellan/internal/platform/config"
	"github.com/castellan/castellan/internal/platform/constants"
	"github.com/castellan/castellan/internal/platform/migration"
	pgstore "github.com/castellan/castellan/internal/platform/postgres"
	redisstore "github.com/castellan/castellan/internal/platform/redis"
	"github.com/castellan/castellan/internal/platform/sec"
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

	log.Info("[Castellan] service_initializing")

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
		log.Info("closing postgres pool")
		pool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	// ── 6. Session Tokens ─────────────────────────────────────────────────
	jwtSvc, err := sec.NewTokenService(cfg.JWTPrivKeyPath, cfg.JWTPubKeyPath, constants.AuthIssuer)
	must(log, err, "initialize jwt service")

	// ── 7. Identity Domain Wiring ─────────────────────────────────────────
	// The audit recorder and guard come first: every privileged service runs
	// inside the authorize → act → audit envelope they provide.
	engine := credential.NewEngine(
		cfg.Security.SaltLength,
		cfg.Security.HashIterations,
		cfg.Security.DerivedKeyLength,
	)

	recorder := audit.NewRecorder(audit.NewPostgresSink(pool), log, cfg.Security.AuditEnabled)
	defer recorder.Close()

	guard := authz.NewGuard(authz.NewRoleMatrixGate(), recorder)

	accountStore := account.NewPostgresStore(pool)
	credentialStore := credential.NewPostgresStore(pool)
	questionStore := reset.NewPostgresQuestionStore(pool)
	tokenStore := reset.NewRedisTokenStore(rdb, cfg.Security.ResetTokenWindow)
	keyStore := keys.NewPostgresStore(pool)

	accountService := account.NewService(
		accountStore,
		credentialStore,
		engine,
		guard,
		questionStore,
		questionStore,
		keyStore,
		tokenStore,
		cfg.Security,
		log,
	)
	authnService := authn.NewService(accountStore, credentialStore, engine, jwtSvc, recorder, cfg.Security, log)
	resetService := reset.NewService(accountStore, credentialStore, engine, tokenStore, questionStore, recorder, cfg.Security, log)
	keyService := keys.NewService(keyStore, guard, log)

	// ── 8. Health handlers (wired with real dependency checkers) ──────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func() error {
			return pgstore.Ping(context.Background(), pool)
		},
		CheckCache: func() error {
			return redisstore.Ping(context.Background(), rdb)
		},
		AuditDropped: recorder.Dropped,
	}, log)

	// ── 9. HTTP Server ────────────────────────────────────────────────────
	handlers := api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Authn:     authn.NewHandler(authnService),
		Reset:     reset.NewHandler(resetService),
		Account:   account.NewHandler(accountService),
		Keys:      keys.NewHandler(keyService),
	}

	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

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
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped cleanly")
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
