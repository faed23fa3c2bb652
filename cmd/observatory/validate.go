package main

import (
	"fmt"

	"github.com/jpalmerr/observatory/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate an Observatory configuration file without starting the server.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  observatory validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	auth := "disabled"
	if cfg.APIKey != "" {
		auth = "enabled"
	}
	slack := "disabled"
	if cfg.SlackWebhookURL != "" {
		slack = "enabled"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:           %d\n", cfg.Port)
	fmt.Fprintf(out, "  Max concurrent: %d\n", cfg.MaxConcurrentTests)
	fmt.Fprintf(out, "  History:        %d jobs\n", cfg.HistoryCapacity)
	fmt.Fprintf(out, "  Shutdown grace: %s\n", cfg.ShutdownGrace.Duration())
	fmt.Fprintf(out, "  API key auth:   %s\n", auth)
	fmt.Fprintf(out, "  Slack:          %s\n", slack)
	fmt.Fprintf(out, "  Scenarios:      %d\n", len(cfg.Scenarios))

	return nil
}
