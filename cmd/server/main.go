package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/credence-ai/credence/internal/api"
	"github.com/credence-ai/credence/internal/config"
	"github.com/credence-ai/credence/internal/guardrail"
	"github.com/credence-ai/credence/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}

	logger := newLogger(config.LogLevel())
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	// Guardrail rule set: operator-supplied file or the built-in default.
	var ruleSet *guardrail.RuleSet
	if path := config.GuardrailRulesPath(); path != "" {
		var err error
		ruleSet, err = guardrail.Load(path, config.GuardrailChecksumPath())
		if err != nil {
			logger.Fatal("failed to load guardrail rules", zap.Error(err))
		}
		logger.Info("guardrail rules loaded",
			zap.String("path", path),
			zap.Int("version", ruleSet.Version()),
			zap.String("checksum", ruleSet.Checksum()))
	} else {
		ruleSet = guardrail.Default()
		logger.Info("using built-in guardrail rules",
			zap.String("checksum", ruleSet.Checksum()))
	}
	guard := guardrail.NewRegistry(ruleSet)

	// Persistence driver
	var backends *store.Backends
	var ping func(context.Context) error

	switch driver := config.PersistenceDriver(); driver {
	case store.DriverPostgres:
		dbURL := config.DatabaseURL()
		if dbURL == "" {
			logger.Fatal("DATABASE_URL is required for the postgres driver")
		}
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("failed to ping database", zap.Error(err))
		}
		logger.Info("connected to database")
		backends = store.NewPostgresBackends(pool)
		ping = pool.Ping

	case store.DriverFile:
		dir := config.DataDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal("failed to create data dir", zap.Error(err))
		}
		var err error
		backends, err = store.NewFileBackends(dir)
		if err != nil {
			logger.Fatal("failed to open file stores", zap.Error(err))
		}
		logger.Info("file persistence ready", zap.String("dir", dir))

	default:
		logger.Fatal("unknown persistence driver", zap.String("driver", driver))
	}

	app := api.NewApp(backends, guard, ping, logger)

	// Background time-based snapshots
	app.Checkpoints.Start(ctx)

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	app.Checkpoints.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	// Final snapshot so a clean shutdown never loses journal tail state.
	if _, err := app.Checkpoints.Snapshot(shutdownCtx); err != nil {
		logger.Warn("shutdown snapshot failed", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
