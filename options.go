package observatory

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jpalmerr/observatory/internal/notify"
)

// obsConfig holds mutable state during Observatory construction.
type obsConfig struct {
	port            int
	maxConcurrency  int
	historyCapacity int
	shutdownGrace   time.Duration
	requestTimeout  time.Duration
	apiKey          string
	notifier        Notifier
	scenarios       []Scenario
	logger          *slog.Logger
	jobCallbacks    []func(JobEvent)
}

// Option is a function that configures an [Observatory] instance during
// construction. Options return an error if validation fails.
type Option func(*obsConfig) error

// WithPort sets the HTTP port for the API server. Defaults to 8000.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *obsConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithMaxConcurrency sets how many runs may execute at once. Further
// submissions wait in FIFO order. Defaults to 5.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *obsConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithHistoryCapacity sets how many finished jobs are kept for lookup. The
// oldest completion is evicted first. Defaults to 100.
//
// Returns an error if the value is zero or negative.
func WithHistoryCapacity(n int) Option {
	return func(cfg *obsConfig) error {
		if n <= 0 {
			return errors.New("history capacity must be positive")
		}
		cfg.historyCapacity = n
		return nil
	}
}

// WithShutdownGrace sets how long running jobs may continue once shutdown
// starts. After that they are cancelled. Defaults to 10 seconds.
func WithShutdownGrace(d time.Duration) Option {
	return func(cfg *obsConfig) error {
		if d < 0 {
			return errors.New("shutdown grace cannot be negative")
		}
		cfg.shutdownGrace = d
		return nil
	}
}

// WithRequestTimeout bounds each probe request. Defaults to 60 seconds.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *obsConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithAPIKey protects the HTTP API with the X-LiteLLM-Observatory-API-Key
// header. Without it the API is open.
func WithAPIKey(key string) Option {
	return func(cfg *obsConfig) error {
		cfg.apiKey = key
		return nil
	}
}

// WithNotifier sets the sink that receives run outcomes.
//
// Returns an error if n is nil.
func WithNotifier(n Notifier) Option {
	return func(cfg *obsConfig) error {
		if n == nil {
			return errors.New("notifier cannot be nil")
		}
		cfg.notifier = n
		return nil
	}
}

// WithSlackWebhook posts run outcomes to a Slack incoming webhook. An empty
// URL disables notifications.
func WithSlackWebhook(url string) Option {
	return func(cfg *obsConfig) error {
		cfg.notifier = notify.NewSlack(url)
		return nil
	}
}

// WithScenarios sets the credential/model scenarios used by the
// access-group suite.
func WithScenarios(scenarios ...Scenario) Option {
	return func(cfg *obsConfig) error {
		cfg.scenarios = append(cfg.scenarios, scenarios...)
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *obsConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithJobCallback registers a function called on every job transition.
//
// Callbacks run synchronously on the goroutine that made the transition and
// must not block. Panics are recovered and logged. Multiple callbacks run in
// registration order. Nil callbacks are ignored.
func WithJobCallback(cb func(JobEvent)) Option {
	return func(cfg *obsConfig) error {
		if cb == nil {
			return nil
		}
		cfg.jobCallbacks = append(cfg.jobCallbacks, cb)
		return nil
	}
}
