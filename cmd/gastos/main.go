package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gastos/internal/cli"
	"gastos/internal/config"
	"gastos/internal/log"
	"gastos/internal/mirror"
	"gastos/internal/services"
	"gastos/internal/storage"
)

var ownerID int64

func main() {
	cli.LoadEnvFile()

	rootCmd := &cobra.Command{
		Use:           "gastos",
		Short:         "Log spending from free text into a ledger mirrored to Google Sheets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Int64Var(&ownerID, "owner", 1, "owner identifier")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(correctCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(cleanCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds everything a command needs. close releases it in reverse
// order of acquisition.
type app struct {
	cfg     *config.Config
	logger  *log.Logger
	ledger  *storage.SQLiteRepository
	mirror  *mirror.Synchronizer
	tracker *services.Tracker
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp builds the tracker. withQueue publishes mirror pushes to AMQP
// when configured; one-shot commands push inline instead.
func newApp(ctx context.Context, withQueue bool) (*app, error) {
	cfg, err := cli.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a := &app{cfg: cfg, logger: cli.SetupLogger(cfg, log.ComponentCLI)}

	a.ledger, err = cli.InitSQLite(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = a.ledger.Close() })

	interp, closeCache, err := cli.NewInterpreter(ctx, cfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("initialize interpreter: %w", err)
	}
	a.closers = append(a.closers, closeCache)

	a.mirror, err = cli.NewMirror(ctx, cfg, a.ledger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("initialize mirror: %w", err)
	}

	opts := []services.TrackerOption{
		services.WithLowConfidenceThreshold(cfg.LowConfidenceThreshold),
	}
	if a.mirror != nil {
		opts = append(opts, services.WithMirror(a.mirror))
	}
	if withQueue {
		amqpClient, err := cli.NewAMQPClient(cfg)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("initialize AMQP client: %w", err)
		}
		if amqpClient != nil {
			a.closers = append(a.closers, func() { _ = amqpClient.Close() })
			opts = append(opts, services.WithPublisher(amqpClient))
		}
	}

	a.tracker = services.NewTracker(a.ledger, interp, opts...)
	return a, nil
}
