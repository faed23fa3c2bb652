package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jpalmerr/observatory"
	"github.com/jpalmerr/observatory/config"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the Observatory API server.

The server will:
  - Load configuration from the given YAML file, or use defaults and
    environment variables when no file is given
  - Accept test runs on POST /run-test
  - Stream job updates on /api/sse and expose Prometheus metrics on /metrics

The server runs until interrupted (Ctrl+C) or receives SIGTERM. Running
jobs get the configured shutdown grace before they are cancelled.

Example:
  observatory serve
  observatory serve -c /etc/observatory/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	if configFile != "" {
		cfg, err = config.Load(configFile)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"file", configFile,
		"scenarios", len(cfg.Scenarios),
		"slack", cfg.SlackWebhookURL != "",
	)
	if cfg.APIKey == "" {
		logger.Warn("no api key configured, API is unauthenticated")
	}

	obs, err := observatory.New(config.BuildOptions(cfg, logger)...)
	if err != nil {
		return fmt.Errorf("failed to create observatory: %w", err)
	}

	// cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopLog := context.AfterFunc(ctx, func() {
		logger.Info("shutdown signal received",
			"grace", cfg.ShutdownGrace.Duration().String(),
		)
	})
	defer stopLog()

	// blocks until ctx is cancelled and running jobs have drained
	if err := obs.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
