package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"gastos/internal/cli"
	apphttp "gastos/internal/http"
	"gastos/internal/log"
	"gastos/internal/services"
)

func serveCmd() *cobra.Command {
	var withProcessor bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()

			logger := a.logger.WithComponent(log.ComponentApp)

			srv := apphttp.NewServer(":"+a.cfg.Port, a.tracker, a.logger,
				apphttp.WithLocation(a.cfg.Location()))

			// Without a queue nobody else retries failed inline pushes, so
			// the server polls the ledger itself.
			var processor *services.SyncProcessor
			if withProcessor && a.mirror != nil && a.cfg.AMQPURL == "" {
				processor = services.NewSyncProcessor(a.ledger, a.mirror, services.SyncProcessorConfig{
					PollInterval:      a.cfg.SyncInterval,
					BatchSize:         a.cfg.SyncBatchSize,
					ReconcileInterval: a.cfg.ReconcileInterval,
				})
			}

			ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
				if processor != nil {
					if err := processor.Stop(ctx); err != nil {
						logger.Error("Sync processor stop error", "error", err)
					}
				}
				if err := srv.Shutdown(ctx); err != nil {
					logger.Error("Server shutdown error", "error", err)
				}
			})

			if processor != nil {
				if err := processor.Start(ctx); err != nil {
					return err
				}
			}

			logger.Info("Starting gastos server",
				"port", a.cfg.Port,
				"mirror_backend", a.cfg.MirrorBackend,
				"llm_provider", a.cfg.LLMProvider,
				"cache_backend", a.cfg.CacheBackend,
				"queue", a.cfg.AMQPURL != "")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Server error", "error", err, "port", a.cfg.Port)
				return err
			}

			cli.WaitForShutdown(ctx, done)
			logger.Info("Server stopped gracefully")
			return nil
		},
	}

	cmd.Flags().BoolVar(&withProcessor, "sync-processor", true, "retry pending mirror pushes when no queue is configured")
	return cmd
}
