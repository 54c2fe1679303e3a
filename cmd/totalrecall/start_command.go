package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/amaumene/totalrecall/internal/api"
	"github.com/amaumene/totalrecall/internal/scheduler"
	"github.com/spf13/cobra"
)

func newStartCommand(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run as a daemon: sync on the configured schedule and serve status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), root)
		},
	}
}

func runDaemon(ctx context.Context, root *rootFlags) error {
	a, err := openApp(root)
	if err != nil {
		return err
	}
	defer a.Close()
	a.logger.Info("Starting TotalRecall")

	// Step 1: Build the orchestrator
	syncCtrl, err := a.syncController()
	if err != nil {
		return err
	}
	cleanupCtrl := a.cleanupController()
	a.logger.Info("Controllers initialized")

	// Step 2: Initialize scheduler
	sched := scheduler.NewScheduler(a.cfg.Scheduler, a.cfg.Location(), syncCtrl, cleanupCtrl, a.cfg.Paths.LockFile(), a.logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// Step 3: Initialize HTTP server
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErrChan := make(chan error, 1)
	if a.cfg.Server.Enabled {
		server := api.NewServer(a.cfg.Server, syncCtrl, sched, a.logger)
		go func() {
			if err := server.Start(ctx); err != nil {
				serverErrChan <- err
			}
		}()
	}

	// Step 4: Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	a.logger.WithField("next_run", sched.Next()).Info("TotalRecall is running")

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		a.logger.WithField("signal", sig).Info("Received shutdown signal")
	case <-ctx.Done():
	}

	cancel()
	a.logger.Info("TotalRecall stopped")
	return nil
}
