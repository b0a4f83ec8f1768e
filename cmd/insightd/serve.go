package main

import (
	"context"
	"errors"
	"fmt"

	httpserver "github.com/fyrsmithlabs/insightd/internal/http"
	"github.com/fyrsmithlabs/insightd/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the insightd HTTP server",
		Long: `Start the HTTP server exposing /health, /metrics and the
/api/v1/telemetry endpoints. The server stops gracefully on SIGINT or SIGTERM.

Examples:
  # Start with the default config file
  insightd serve

  # Use an explicit config file
  insightd serve --config /etc/insightd/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

// runServe starts the server and blocks until ctx is cancelled.
func runServe(ctx context.Context, configPath string) (err error) {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if closeErr := a.Close(shutdownCtx); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("telemetry shutdown: %w", closeErr))
		}
	}()

	health := a.telemetry.Health()
	telemetry.ReportHealth(health)
	a.logger.Info(ctx, "starting insightd",
		zap.String("version", version),
		zap.String("environment", a.cfg.Environment),
		zap.Int("port", a.cfg.Server.Port),
		zap.String("telemetry_sink", health.Sink),
		zap.Bool("telemetry_degraded", health.Degraded),
	)

	a.watchLogLevel(ctx)

	srv, err := httpserver.NewServer(a.telemetry, a.logger, a.cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}
	if err := srv.Run(ctx); err != nil {
		return err
	}

	a.logger.Info(context.WithoutCancel(ctx), "server shutdown complete")
	return nil
}
