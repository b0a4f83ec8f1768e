// Insightd records application telemetry (events, requests, exceptions and
// dependencies) with request correlation, forwarding it to an OTLP collector
// or NATS when a connection string is configured and to the local log
// otherwise.
//
// Usage:
//
//	# Start the HTTP server
//	insightd serve
//
//	# Emit a single event
//	insightd emit event deploy_finished --prop service=api --measure duration_ms=5120
//
//	# Configure via environment
//	APPLICATIONINSIGHTS_CONNECTION_STRING="InstrumentationKey=...;IngestionEndpoint=https://collector:4318" insightd serve
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "insightd",
		Short: "Telemetry and request correlation service",
		Long: `insightd tracks events, requests, exceptions and dependencies, correlates
them by request id and forwards them to the configured telemetry backend.

Without a connection string insightd runs in degraded mode and writes every
record to its local log.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/insightd/config.yaml)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newEmitCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "insightd by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
