package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"batchrest/internal/config"
	"batchrest/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket gateway",
		Long: `Run the gateway. Every configured backend is served on
http://{host}:{port}/{backend}/{path} and ws://{host}:{wsPort}/{backend}.
Prometheus metrics are exposed on {metricsPort}/metrics.

Example:
  batchrest serve --config config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.ConfigPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return err
			}

			logger := setupLogger(pickLevel(rootOpts.LogLevel, cfg.LogLevel), cmd.ErrOrStderr())
			logger.Info().
				Str("config", rootOpts.ConfigPath).
				Str("host", cfg.Host).
				Int("port", cfg.Port).
				Int("wsPort", cfg.WSPort).
				Int("metricsPort", cfg.MetricsPort).
				Int("backends", len(cfg.Backends)).
				Msg("starting batchrest")

			srv, err := server.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx)
		},
	}
}
