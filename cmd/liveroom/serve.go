package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"liveroom/internal/app"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session store server",
		Long: `Run the HTTP API and change feed over a SQLite database.

Example:
  liveroom serve --config ./liveroom.yaml
  LIVEROOM_HTTP_PORT=9090 liveroom serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, shutdownTimeout)
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "grace period for in-flight requests")
	return cmd
}

// runServe blocks until SIGINT/SIGTERM, a serve failure or ctx ends.
func runServe(parent context.Context, rootOpts *RootOptions, shutdownTimeout time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, log, err := rootOpts.load()
	if err != nil {
		return err
	}
	defer log.Sync()

	application, err := app.NewApplication(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("failed to start application: %w", err)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err, ok := <-application.Errors():
		if ok {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", "error", err)
	}
	return serveErr
}
