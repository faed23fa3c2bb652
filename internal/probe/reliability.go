package probe

import (
	"context"
	"errors"
	"time"

	"github.com/jpalmerr/observatory/internal/stats"
)

// Reliability defaults.
const (
	reliabilityName           = "OpenAI/Azure Release Test"
	reliabilityDuration       = 3 * time.Hour
	reliabilityMaxFailureRate = 0.01
	reliabilityInterval       = time.Second
	reliabilityMaxTokens      = 50
	reliabilityMessage        = "Hello! This is a OpenAI/Azure release test."
	reliabilityProgressEvery  = 10
)

// Reliability probes a deployment round-robin across models until a
// wall-clock deadline.
//
// One [Client] is created on the first request and reused until the run
// ends, so connection-lifetime regressions in the deployment show up as
// failures partway through the run.
type Reliability struct {
	lifecycle

	cfg      Config
	duration time.Duration
	interval time.Duration
	maxRate  float64
	probe    chatProbe

	client *Client
}

func newReliability(cfg Config) (*Reliability, error) {
	if len(cfg.Models) == 0 {
		return nil, errors.New("reliability suite requires at least one model")
	}

	r := &Reliability{
		cfg:      cfg,
		duration: reliabilityDuration,
		interval: reliabilityInterval,
		maxRate:  reliabilityMaxFailureRate,
		probe:    newChatProbe(cfg.DeploymentURL, reliabilityMessage, reliabilityMaxTokens, cfg.Timeout),
	}

	var err error
	if cfg.DurationHours != nil {
		if r.duration, err = hoursToDuration(*cfg.DurationHours); err != nil {
			return nil, err
		}
	}
	if cfg.RequestIntervalSeconds != nil {
		if r.interval, err = secondsToDuration(*cfg.RequestIntervalSeconds); err != nil {
			return nil, err
		}
	}
	if cfg.MaxFailureRate != nil {
		if err := validRate(*cfg.MaxFailureRate); err != nil {
			return nil, err
		}
		r.maxRate = *cfg.MaxFailureRate
	}
	return r, nil
}

// Name returns the human-readable test name.
func (r *Reliability) Name() string { return reliabilityName }

// Run issues requests until the deadline. Individual request failures are
// recorded and never stop the run.
func (r *Reliability) Run(ctx context.Context) (stats.Summary, error) {
	if err := r.begin(); err != nil {
		return stats.Summary{}, err
	}
	defer r.finish()

	start := time.Now()
	deadline := start.Add(r.duration)
	log := r.cfg.Logger.With("test_suite", KindReliability, "run_id", r.cfg.RunID)

	log.Info("reliability run started",
		"deployment_url", r.cfg.DeploymentURL,
		"models", r.cfg.Models,
		"duration", r.duration,
		"interval", r.interval,
		"deadline", deadline,
	)

	defer r.closeClient()

	results := make(map[string][]stats.Attempt, len(r.cfg.Models))
	var (
		runErr error
		total  int
		failed int
	)

	for i := 0; time.Now().Before(deadline); i++ {
		model := r.cfg.Models[i%len(r.cfg.Models)]

		a := r.probe.attempt(ctx, r.ensureClient(), r.cfg.APIKey, model)
		if err := ctx.Err(); err != nil {
			// cut short by cancellation, not a deployment failure
			runErr = err
			break
		}
		results[model] = append(results[model], a)
		total++
		if !a.Success {
			failed++
			log.Warn("request failed", "model", model, "status_code", a.StatusCode, "error", a.ErrorMessage())
		} else {
			log.Debug("request succeeded", "model", model, "latency_ms", a.Duration.Milliseconds())
		}
		if r.cfg.OnAttempt != nil {
			r.cfg.OnAttempt(KindReliability, a)
		}

		if len(results[model])%reliabilityProgressEvery == 0 {
			p := Progress{
				Suite:    KindReliability,
				Group:    model,
				Elapsed:  time.Since(start),
				Attempts: total,
				Failures: failed,
			}
			log.Info("progress", "elapsed", p.Elapsed.Round(time.Second), "total_requests", total, "current_model", model)
			if r.cfg.OnProgress != nil {
				r.cfg.OnProgress(p)
			}
		}

		if err := sleep(ctx, r.interval); err != nil {
			runErr = err
			break
		}
	}
	end := time.Now()

	models := uniqueModels(r.cfg.Models)
	groups := make([]stats.Group, len(models))
	for i, m := range models {
		groups[i] = stats.Group{Name: m, Attempts: results[m]}
	}

	summary := stats.Summarize(stats.Input{
		RunID:          r.cfg.RunID,
		TestName:       reliabilityName,
		Start:          start,
		End:            end,
		Models:         models,
		MaxFailureRate: r.maxRate,
		Groups:         groups,
	})

	log.Info("reliability run finished",
		"total_requests", summary.TotalRequests,
		"failure_rate", summary.OverallFailureRate,
		"test_passed", summary.Passed,
	)
	return summary, runErr
}

// ensureClient creates the run's client on first use.
func (r *Reliability) ensureClient() *Client {
	if r.client == nil {
		r.client = NewClient()
	}
	return r.client
}

func (r *Reliability) closeClient() {
	r.client.Close()
	r.client = nil
}

// uniqueModels drops repeated names, keeping first-seen order.
func uniqueModels(models []string) []string {
	seen := make(map[string]bool, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
