// Package cli provides the initialization shared by cmd/gastos and
// cmd/gastos-worker.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gastos/internal/amqp"
	"gastos/internal/cache"
	"gastos/internal/config"
	"gastos/internal/interpreter"
	"gastos/internal/log"
	"gastos/internal/mirror"
	"gastos/internal/sheets"
	gsheet "gastos/internal/sheets/google"
	mem "gastos/internal/sheets/memory"
	"gastos/internal/storage"
)

// SetupLogger builds the process logger from cfg and installs it as the
// slog default.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: component,
		Output:    os.Stderr,
	})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadConfig loads and validates configuration.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InitSQLite opens the ledger, applying pending migrations.
func InitSQLite(cfg *config.Config) (*storage.SQLiteRepository, error) {
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, storage.WithLocation(cfg.Location()))
	if err != nil {
		return nil, fmt.Errorf("initialize SQLite repository at %s: %w", cfg.SQLiteDBPath, err)
	}
	return repo, nil
}

// Closer releases resources acquired while building a component.
type Closer func()

func noop() {}

// NewCacheStore returns the interpretation cache selected by CACHE_BACKEND.
func NewCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, Closer, error) {
	switch cfg.CacheBackend {
	case config.CacheRedis:
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, noop, err
		}
		return cache.NewRedis(client), func() { _ = client.Close() }, nil
	default:
		return cache.NewMemory(), noop, nil
	}
}

// NewCapability returns the language capability selected by LLM_PROVIDER.
func NewCapability(ctx context.Context, cfg *config.Config) (interpreter.Capability, error) {
	switch cfg.LLMProvider {
	case config.LLMAnthropic:
		return interpreter.NewAnthropic(cfg.AnthropicAPIKey, cfg.LLMModel)
	case config.LLMGemini:
		return interpreter.NewGemini(ctx, cfg.GeminiAPIKey, cfg.LLMModel)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

// NewInterpreter wires the capability and the cache.
func NewInterpreter(ctx context.Context, cfg *config.Config) (*interpreter.Interpreter, Closer, error) {
	capability, err := NewCapability(ctx, cfg)
	if err != nil {
		return nil, noop, err
	}
	store, closeStore, err := NewCacheStore(ctx, cfg)
	if err != nil {
		return nil, noop, err
	}
	return interpreter.New(capability, store, cfg.LLMTimeout), closeStore, nil
}

// NewSpreadsheet returns the mirror backend, or nil when MIRROR_BACKEND is
// none.
func NewSpreadsheet(ctx context.Context, cfg *config.Config) (sheets.Spreadsheet, error) {
	switch cfg.MirrorBackend {
	case config.MirrorGoogle:
		return gsheet.New(ctx, gsheet.Options{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
	case config.MirrorMemory:
		return mem.New(), nil
	case config.MirrorNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown mirror backend %q", cfg.MirrorBackend)
	}
}

// NewMirror returns the synchronizer over the configured spreadsheet, or
// nil when mirroring is disabled.
func NewMirror(ctx context.Context, cfg *config.Config, ledger mirror.Ledger) (*mirror.Synchronizer, error) {
	sheet, err := NewSpreadsheet(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if sheet == nil {
		return nil, nil
	}
	return mirror.New(sheet, ledger, mirror.Options{
		Timeout:   cfg.MirrorTimeout,
		OwnerTabs: cfg.MirrorOwnerTabs,
	}), nil
}

// NewAMQPClient connects to the broker, or returns nil when AMQP_URL is
// empty and pushes run inline.
func NewAMQPClient(cfg *config.Config) (*amqp.Client, error) {
	if cfg.AMQPURL == "" {
		return nil, nil
	}
	return amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM, after
// cleanup has run within timeout. done is closed once shutdown finishes.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
			logger.Warn("Shutdown timeout reached")
			return
		}
		logger.Info("Shutdown complete")
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup ran.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
