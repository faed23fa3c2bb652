// Package config provides YAML configuration parsing for Observatory.
//
// This package enables running Observatory as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8000
//	max_concurrent_tests: 5
//	history_capacity: 100
//	api_key: ${OBSERVATORY_API_KEY}
//	slack_webhook_url: ${SLACK_WEBHOOK_URL:-}
//	shutdown_grace: 30s
//
//	scenarios:
//	  - name: team-a-allowed
//	    api_key: ${TEAM_A_KEY}
//	    model: gpt-4
//	    expect_success: true
//	  - name: team-b-denied
//	    api_key: ${TEAM_B_KEY}
//	    model: gpt-4
//	    expect_success: false
//
// When api_key or slack_webhook_url are not set in the file, the
// OBSERVATORY_API_KEY and SLACK_WEBHOOK_URL environment variables are used.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort               = 8000
	defaultMaxConcurrentTests = 5
	defaultHistoryCapacity    = 100
	defaultShutdownGrace      = 10 * time.Second

	// EnvAPIKey and EnvSlackWebhookURL are read when the file leaves the
	// matching field empty.
	EnvAPIKey          = "OBSERVATORY_API_KEY"
	EnvSlackWebhookURL = "SLACK_WEBHOOK_URL"
)

// Config is the root configuration structure for Observatory.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the HTTP server port. Defaults to 8000.
	Port int `yaml:"port"`

	// MaxConcurrentTests is the number of runs allowed at once. Defaults to 5.
	MaxConcurrentTests int `yaml:"max_concurrent_tests"`

	// HistoryCapacity bounds the number of finished jobs kept for lookup.
	// Defaults to 100.
	HistoryCapacity int `yaml:"history_capacity"`

	// APIKey protects the HTTP API. Empty leaves it open.
	APIKey string `yaml:"api_key"`

	// SlackWebhookURL receives run outcomes. Empty disables notifications.
	SlackWebhookURL string `yaml:"slack_webhook_url"`

	// ShutdownGrace is how long running jobs may keep going after a
	// shutdown signal before they are cancelled. Defaults to 10s.
	ShutdownGrace Duration `yaml:"shutdown_grace"`

	// Scenarios configure the access-group suite.
	Scenarios []ScenarioConfig `yaml:"scenarios"`
}

// ScenarioConfig is one credential/model pair with an expected outcome.
type ScenarioConfig struct {
	Name   string `yaml:"name"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`

	// ExpectSuccess defaults to true.
	ExpectSuccess *bool  `yaml:"expect_success"`
	Description   string `yaml:"description"`
}

// Expected reports the scenario's expected outcome.
func (s ScenarioConfig) Expected() bool {
	return s.ExpectSuccess == nil || *s.ExpectSuccess
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Default returns the configuration used when no file is given: built-in
// defaults plus the environment fallbacks.
func Default() (*Config, error) {
	return Parse(nil)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in api_key, slack_webhook_url and
// scenario api_key values. Defaults are applied for unset numeric fields.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.MaxConcurrentTests == 0 {
		cfg.MaxConcurrentTests = defaultMaxConcurrentTests
	}
	if cfg.HistoryCapacity == 0 {
		cfg.HistoryCapacity = defaultHistoryCapacity
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = Duration(defaultShutdownGrace)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
// Every problem found is reported, not just the first.
func (c *Config) expandAndValidate() error {
	var result *multierror.Error

	if c.Port < 1 || c.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.MaxConcurrentTests < 1 {
		result = multierror.Append(result, fmt.Errorf("max_concurrent_tests must be at least 1, got %d", c.MaxConcurrentTests))
	}
	if c.HistoryCapacity < 1 {
		result = multierror.Append(result, fmt.Errorf("history_capacity must be at least 1, got %d", c.HistoryCapacity))
	}
	if c.ShutdownGrace.Duration() < 0 {
		result = multierror.Append(result, fmt.Errorf("shutdown_grace cannot be negative, got %s", c.ShutdownGrace.Duration()))
	}

	var err error
	if c.APIKey, err = expandOrEnv(c.APIKey, EnvAPIKey); err != nil {
		result = multierror.Append(result, fmt.Errorf("api_key: %w", err))
	}
	if c.SlackWebhookURL, err = expandOrEnv(c.SlackWebhookURL, EnvSlackWebhookURL); err != nil {
		result = multierror.Append(result, fmt.Errorf("slack_webhook_url: %w", err))
	} else if c.SlackWebhookURL != "" {
		if err := validateURL(c.SlackWebhookURL); err != nil {
			result = multierror.Append(result, fmt.Errorf("slack_webhook_url: %w", err))
		}
	}

	seen := make(map[string]struct{}, len(c.Scenarios))
	for i := range c.Scenarios {
		sc := &c.Scenarios[i]

		if sc.Name == "" {
			result = multierror.Append(result, fmt.Errorf("scenarios[%d]: name is required", i))
			continue
		}
		if _, dup := seen[sc.Name]; dup {
			result = multierror.Append(result, fmt.Errorf("scenarios[%d] (%s): duplicate name", i, sc.Name))
		}
		seen[sc.Name] = struct{}{}

		if sc.Model == "" {
			result = multierror.Append(result, fmt.Errorf("scenarios[%d] (%s): model is required", i, sc.Name))
		}
		if sc.APIKey == "" {
			result = multierror.Append(result, fmt.Errorf("scenarios[%d] (%s): api_key is required", i, sc.Name))
			continue
		}
		expanded, err := expandEnvVars(sc.APIKey)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("scenarios[%d] (%s): api_key: %w", i, sc.Name, err))
			continue
		}
		sc.APIKey = expanded
	}

	return result.ErrorOrNil()
}

// expandOrEnv expands s, or reads envVar when s is empty.
func expandOrEnv(s, envVar string) (string, error) {
	if s == "" {
		return os.Getenv(envVar), nil
	}
	return expandEnvVars(s)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url must have a host")
	}
	return nil
}
