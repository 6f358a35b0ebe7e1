package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/netpulse"
	"github.com/jpalmerr/netpulse/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// serveCmd runs the configured tasks and the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the configured tasks and serve the API",
	Long: `Start the netpulse server.

The server will:
  - Load configuration from the specified YAML or TOML file
  - Register every task and start the ones marked auto_start
  - Serve task records, live streams and metrics on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  netpulse serve -c netpulse.yaml
  netpulse serve --config /etc/netpulse/netpulse.toml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts, err := config.SessionOptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build tasks: %w", err)
	}
	opts = append(opts, netpulse.WithLogger(logger))

	logger.Info("config loaded",
		"tasks", len(cfg.Tasks),
		"port", cfg.Port,
		"default_interval", cfg.Defaults.Interval.Duration().String(),
	)

	session, err := netpulse.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	// cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- session.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
