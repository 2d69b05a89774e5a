package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/siftlabs/kbharvest/internal/config"
	"github.com/siftlabs/kbharvest/internal/observability"
	"github.com/siftlabs/kbharvest/internal/storage"
	"github.com/siftlabs/kbharvest/internal/worker"
)

// workerCmd creates the "worker" subcommand.
func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the queue-driven extraction worker",
		Long: `Consume extraction requests from the AMQP queue and run them to
completion: crawl (or drive-harvest), chunk, and persist the results.

The worker serves /health and /metrics on the configured port and
reconnects to the broker automatically until stopped.`,
		RunE: runWorkerCmd,
	}
}

// runWorkerCmd executes the worker command.
func runWorkerCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg)

	store, err := storage.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("storage shutdown", "error", err)
		}
	}()

	metrics := observability.NewMetrics(logger)
	w := worker.New(cfg, store, metrics, logger)

	health := worker.NewHealthServer(cfg.Worker.HealthPort, w, metrics, logger)
	health.Start()

	fmt.Printf("⚙️  KBHarvest Worker\n")
	fmt.Printf("   Queue:   %s\n", cfg.Queue.Name)
	fmt.Printf("   Storage: %s\n", store.Name())
	fmt.Printf("   Health:  http://localhost:%d/health\n", cfg.Worker.HealthPort)
	fmt.Printf("   Metrics: http://localhost:%d/metrics\n\n", cfg.Worker.HealthPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down...", "signal", sig)
		cancel()
	}()

	err = w.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if herr := health.Shutdown(shutdownCtx); herr != nil {
		logger.Warn("health server shutdown", "error", herr)
	}

	if errors.Is(err, context.Canceled) {
		fmt.Println("\n✅ Worker stopped")
		return nil
	}
	return err
}
