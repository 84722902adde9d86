package main

import (
	"context"
	"errors"
	"os"
	"time"

	"gastos/internal/cli"
	"gastos/internal/log"
	"gastos/internal/services"
	"gastos/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadConfig()
	if err != nil {
		// Logger is not configured yet.
		log.New(log.DefaultConfig()).Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, log.ComponentWorker)
	logger.Info("Starting gastos-worker")

	ledger, err := cli.InitSQLite(cfg)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer ledger.Close()

	mirrorSync, err := cli.NewMirror(context.Background(), cfg, ledger)
	if err != nil {
		logger.Error("Failed to initialize mirror", "error", err, "backend", cfg.MirrorBackend)
		os.Exit(1)
	}
	if mirrorSync == nil {
		logger.Error("Mirror disabled, nothing for the worker to do", "backend", cfg.MirrorBackend)
		os.Exit(1)
	}

	amqpClient, err := cli.NewAMQPClient(cfg)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	if amqpClient != nil {
		defer amqpClient.Close()
	}

	syncWorker := worker.NewSyncWorker(ledger, mirrorSync, cfg.SyncBatchSize)

	// The processor picks up pushes whose queue message was lost, and runs
	// the scheduled clean pass.
	processor := services.NewSyncProcessor(ledger, mirrorSync, services.SyncProcessorConfig{
		PollInterval:      cfg.SyncInterval,
		BatchSize:         cfg.SyncBatchSize,
		ReconcileInterval: cfg.ReconcileInterval,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		logger.Info("Shutting down worker...")
		if err := processor.Stop(ctx); err != nil {
			logger.Error("Sync processor stop error", "error", err)
		}
	})

	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", "error", err)
	}

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start sync processor", "error", err)
		os.Exit(1)
	}

	if amqpClient != nil {
		go func() {
			if err := amqpClient.Consume(ctx, syncWorker.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", "error", err)
			}
		}()
	} else {
		logger.Info("No AMQP_URL configured, relying on ledger polling only")
	}

	cli.WaitForShutdown(ctx, done)
}
