package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/observatory"
	"github.com/jpalmerr/observatory/config"
	"github.com/spf13/cobra"
)

// runCancelGrace bounds how long an interrupted run may take to clean up.
const runCancelGrace = 5 * time.Second

// errRunFailed is returned when a run finishes without passing, so the
// process exits non-zero.
var errRunFailed = errors.New("test run did not pass")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one suite in-process and print its result",
	Long: `Run a single test suite without starting the API server.

The job goes through the same queue as API submissions. When it finishes
the stored job record, including its summary, is printed as JSON.

Exit codes:
  0 - The run completed and passed
  1 - The run failed, did not pass, or was interrupted

Example:
  observatory run --suite TestMockSingleRequest \
    --url https://proxy.example.com --key sk-... --model gpt-4
  observatory run --suite TestOAIAzureRelease --url https://proxy.example.com \
    --key sk-... --model gpt-4 --model azure-gpt-4 --duration-hours 0.5`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringP("config", "c", "", "config file supplying scenarios and the Slack webhook")
	f.String("suite", "", "test suite to run (required)")
	f.String("url", "", "deployment base URL (required)")
	f.String("key", "", "deployment API key (required)")
	f.StringSlice("model", nil, "model to test, repeatable (required)")
	f.Float64("duration-hours", 0, "run length for duration-based suites")
	f.Float64("max-failure-rate", 0, "failure rate above which the run fails")
	f.Float64("interval-seconds", 0, "delay between requests")
	_ = runCmd.MarkFlagRequired("suite")
	_ = runCmd.MarkFlagRequired("url")
	_ = runCmd.MarkFlagRequired("key")
	_ = runCmd.MarkFlagRequired("model")
}

// optionalFloat returns the flag's value only when it was set explicitly.
func optionalFloat(cmd *cobra.Command, name string) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetFloat64(name)
	return &v
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	opts := []observatory.Option{observatory.WithLogger(logger)}
	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		opts = append(config.BuildOptions(cfg, logger), opts...)
	}

	obs, err := observatory.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create observatory: %w", err)
	}

	suite, _ := cmd.Flags().GetString("suite")
	url, _ := cmd.Flags().GetString("url")
	key, _ := cmd.Flags().GetString("key")
	models, _ := cmd.Flags().GetStringSlice("model")

	res, err := obs.SubmitJob(observatory.RunRequest{
		Suite:                  suite,
		DeploymentURL:          url,
		APIKey:                 key,
		Models:                 models,
		DurationHours:          optionalFloat(cmd, "duration-hours"),
		MaxFailureRate:         optionalFloat(cmd, "max-failure-rate"),
		RequestIntervalSeconds: optionalFloat(cmd, "interval-seconds"),
	})
	if err != nil {
		return err
	}
	logger.Info("run submitted", "request_id", res.ID, "test_suite", suite)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := obs.WaitIdle(ctx); err != nil {
		logger.Warn("run interrupted", "request_id", res.ID)
		stopCtx, cancel := context.WithTimeout(context.Background(), runCancelGrace)
		defer cancel()
		_ = obs.Stop(stopCtx)
	} else {
		_ = obs.Stop(context.Background())
	}

	rec, ok := obs.Job(res.ID)
	if !ok {
		return fmt.Errorf("job %s not found after run", res.ID)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	if rec.State != string(observatory.JobCompleted) || rec.Summary == nil || !rec.Summary.Passed {
		return errRunFailed
	}
	return nil
}
