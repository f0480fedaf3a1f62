package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"lifeos/api/internal/actions"
	"lifeos/api/internal/app"
	"lifeos/api/internal/compose"
	"lifeos/api/internal/config"
	"lifeos/api/internal/ledger"
	"lifeos/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("lifeos api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ledgerOpts := ledger.Options{Capacity: cfg.LedgerCapacity, TTL: cfg.LedgerTTL}

	var (
		dataStore app.DataStore
		records   ledger.Ledger
		db        *sql.DB
	)

	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn("using in-memory storage, state is lost on restart")
		dataStore = store.NewMemoryStore()
	default:
		var err error
		db, err = connectPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		migrations, err := store.Migrations(cfg.MigrationsDir)
		if err != nil {
			return err
		}
		if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		dataStore = store.NewPostgresStore(db)
	}

	switch {
	case strings.TrimSpace(cfg.RedisURL) != "":
		logger.Info("using redis for the idempotency ledger")
		redisLedger, err := ledger.NewRedisLedger(cfg.RedisURL, ledgerOpts)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisLedger.Close()
		records = redisLedger
	case db != nil:
		logger.Info("using postgres for the idempotency ledger")
		records = ledger.NewPostgresLedger(db, ledgerOpts)
	default:
		records = ledger.NewMemoryLedger(ledgerOpts)
	}

	pipeline := compose.NewPipeline(logger,
		compose.NewOpenAI(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.IntegrationTimeout),
		compose.NewOllama(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.IntegrationTimeout),
		compose.NewLlamaCpp(cfg.LlamaCppBaseURL, cfg.LlamaCppModel, cfg.IntegrationTimeout),
	)
	runner := actions.NewRunner(actions.Sources{DocsDir: cfg.DocsDir}, cfg.StrictIntegrations, cfg.IntegrationTimeout, logger)

	service := app.New(cfg, app.Deps{
		Store:    dataStore,
		Ledger:   records,
		Composer: pipeline,
		Details:  runner,
		Logger:   logger,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("LifeOS API listening", "addr", cfg.Addr, "storage", cfg.Storage, "llm_mode", cfg.LlmMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// connectPostgres retries the initial connection so the API can start
// alongside its database container.
func connectPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*sql.DB, error) {
	backoff := retry.WithMaxRetries(8, retry.WithCappedDuration(5*time.Second, retry.NewExponential(250*time.Millisecond)))

	var db *sql.DB
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		db, err = store.Open(ctx, databaseURL)
		if err != nil {
			logger.Warn("database not ready", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return db, nil
}
