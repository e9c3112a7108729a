package cmd

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"icauth/internal/app"
	"icauth/internal/platform/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the icauth HTTP server",
	Long:  `Serves login, logout, health and readiness endpoints plus Prometheus metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownMetrics, err := telemetry.Setup(ctx, "icauth")
		if err != nil {
			return fmt.Errorf("telemetry setup: %w", err)
		}
		shutdownTracing, err := telemetry.SetupTracing(ctx, "icauth", cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("tracing setup: %w", err)
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("tracing shutdown error", "error", err)
			}
			if err := shutdownMetrics(context.Background()); err != nil {
				logger.Error("telemetry shutdown error", "error", err)
			}
		}()

		ln, err := net.Listen("tcp", cfg.Addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", cfg.Addr, err)
		}

		skip, _ := cmd.Flags().GetBool("skip-migrations")
		if err := app.Serve(ctx, cfg, ln, logger, app.Options{SkipMigrations: skip}); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	},
}
