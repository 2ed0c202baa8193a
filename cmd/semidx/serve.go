package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semidx/internal/httpapi"
	"github.com/fyrsmithlabs/semidx/internal/reindex"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the semidx HTTP server and background reindex worker",
	Long: `Start the HTTP API and the background worker that drains the reindex
queue. Shuts down gracefully on SIGINT or SIGTERM.

Examples:
  # Start with defaults
  semidx serve

  # Start with an explicit config file
  semidx serve --config ~/.config/semidx/config.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	worker := reindex.NewWorker(a.manager, a.cfg.Worker, a.logger)
	worker.Start(ctx)
	defer worker.Stop()

	server, err := httpapi.NewServer(a.engine, a.store, a.provider, a.staleness, a.drift, a.manager, a.logger, &httpapi.Config{
		Host: a.cfg.Server.Host,
		Port: a.cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info("signal received, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
