package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/trainingimport/internal/config"
	"github.com/JonMunkholm/trainingimport/internal/core"
	"github.com/JonMunkholm/trainingimport/internal/directory"
	"github.com/JonMunkholm/trainingimport/internal/logging"
	"github.com/JonMunkholm/trainingimport/internal/metrics"
	"github.com/JonMunkholm/trainingimport/internal/session"
	"github.com/JonMunkholm/trainingimport/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"commit_workers", cfg.Import.CommitWorkers,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	if cfg.Database.AutoMigrate {
		if err := directory.Migrate(ctx, pool); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	store := directory.NewStore(pool)
	sessions := session.NewMemoryStore(cfg.Import.SessionTTL)
	m := metrics.New(prometheus.DefaultRegisterer)

	service := core.NewService(store, store, store, sessions,
		core.NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		core.ServiceConfig{
			DefaultTrainingType: cfg.Import.DefaultTrainingType,
			DefaultRecordStatus: cfg.Import.DefaultRecordStatus,
			CommitWorkers:       cfg.Import.CommitWorkers,
			CommitTimeout:       cfg.Import.CommitTimeout,
			MaxFileSize:         cfg.Import.MaxFileSize,
		}).WithObserver(m)

	server := web.NewServer(service, cfg, web.Options{
		Metrics:  m,
		Gatherer: prometheus.DefaultGatherer,
	})

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go session.RunCleanup(jobCtx, sessions, cfg.Import.CleanupInterval)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Confirms outlive their request; let them finish before the pool closes.
		if status := service.Limiter().Status(); status.Active > 0 {
			slog.Info("waiting for imports to complete",
				"parsing", status.Parsing,
				"committing", status.Committing,
			)
		}
		if err := service.Drain(shutdownCtx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		cancelJobs()
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
