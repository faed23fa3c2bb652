package config

import (
	"log/slog"

	"github.com/jpalmerr/observatory"
)

// BuildOptions converts parsed configuration into SDK options.
//
// The logger, if non-nil, is passed through with [observatory.WithLogger].
func BuildOptions(cfg *Config, logger *slog.Logger) []observatory.Option {
	opts := []observatory.Option{
		observatory.WithPort(cfg.Port),
		observatory.WithMaxConcurrency(cfg.MaxConcurrentTests),
		observatory.WithHistoryCapacity(cfg.HistoryCapacity),
		observatory.WithShutdownGrace(cfg.ShutdownGrace.Duration()),
	}

	if cfg.APIKey != "" {
		opts = append(opts, observatory.WithAPIKey(cfg.APIKey))
	}
	if cfg.SlackWebhookURL != "" {
		opts = append(opts, observatory.WithSlackWebhook(cfg.SlackWebhookURL))
	}
	if len(cfg.Scenarios) > 0 {
		opts = append(opts, observatory.WithScenarios(BuildScenarios(cfg)...))
	}
	if logger != nil {
		opts = append(opts, observatory.WithLogger(logger))
	}

	return opts
}

// BuildScenarios converts scenario configuration into SDK scenarios,
// preserving file order.
func BuildScenarios(cfg *Config) []observatory.Scenario {
	scenarios := make([]observatory.Scenario, 0, len(cfg.Scenarios))
	for _, sc := range cfg.Scenarios {
		scenarios = append(scenarios, observatory.Scenario{
			Name:          sc.Name,
			APIKey:        sc.APIKey,
			Model:         sc.Model,
			ExpectSuccess: sc.Expected(),
			Description:   sc.Description,
		})
	}
	return scenarios
}
