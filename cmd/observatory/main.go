// Package main is the entry point for the observatory CLI.
//
// Observatory can be embedded as a library or run as a standalone service.
// This CLI provides the standalone binary.
//
// Usage:
//
//	observatory serve -c config.yaml    # Start the API server
//	observatory validate -c config.yaml # Validate configuration
//	observatory run --suite TestMock ... # Run one suite in-process
//	observatory suites                  # List registered suites
//	observatory version                 # Show version info
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jpalmerr/observatory"
	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "observatory",
	Short: "Reliability test runner for LiteLLM deployments",
	Long: `Observatory runs test suites against LiteLLM proxy deployments.

Jobs are submitted over HTTP (or with the run command), queued with
duplicate suppression and executed with bounded concurrency. Results
are kept in memory and optionally posted to Slack.

Quick start:
  1. Export OBSERVATORY_API_KEY (and optionally SLACK_WEBHOOK_URL)
  2. Run: observatory serve
  3. POST /run-test with a suite, deployment_url, api_key and models

Example config:
  port: 8000
  max_concurrent_tests: 5
  api_key: ${OBSERVATORY_API_KEY}`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// newLogger creates a JSON logger on stderr at the level named by the
// --log-level flag.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	name, _ := cmd.Flags().GetString("log-level")

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", name)
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})), nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this observatory binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "observatory %s (api %s)\n", version, observatory.Version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
	},
}

var suitesCmd = &cobra.Command{
	Use:   "suites",
	Short: "List the registered test suites",
	RunE: func(cmd *cobra.Command, args []string) error {
		obs, err := observatory.New()
		if err != nil {
			return err
		}
		for _, name := range obs.Suites() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(suitesCmd)
}
