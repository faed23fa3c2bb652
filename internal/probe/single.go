package probe

import (
	"context"
	"time"

	"github.com/jpalmerr/observatory/internal/stats"
)

const (
	singleName         = "Mock Single Request Test"
	singleDefaultModel = "gpt-4"
	singleMaxTokens    = 50
	singleMessage      = "Hello! This is a connectivity test."
)

// SingleRequest makes one real request to the first model to check that a
// deployment is reachable and the key is accepted.
type SingleRequest struct {
	lifecycle

	cfg   Config
	probe chatProbe
}

func newSingleRequest(cfg Config) (*SingleRequest, error) {
	return &SingleRequest{
		cfg:   cfg,
		probe: newChatProbe(cfg.DeploymentURL, singleMessage, singleMaxTokens, cfg.Timeout),
	}, nil
}

// Name returns the human-readable test name.
func (s *SingleRequest) Name() string { return singleName }

// Run issues the request. Every listed model appears in the summary; models
// other than the first report zero requests. The run passes iff the request
// succeeded.
func (s *SingleRequest) Run(ctx context.Context) (stats.Summary, error) {
	if err := s.begin(); err != nil {
		return stats.Summary{}, err
	}
	defer s.finish()

	model := singleDefaultModel
	if len(s.cfg.Models) > 0 {
		model = s.cfg.Models[0]
	}

	start := time.Now()
	client := NewClient()
	a := s.probe.attempt(ctx, client, s.cfg.APIKey, model)
	client.Close()
	end := time.Now()
	cancelled := ctx.Err() != nil

	if s.cfg.OnAttempt != nil && !cancelled {
		s.cfg.OnAttempt(KindSingleRequest, a)
	}
	s.cfg.Logger.Info("single request finished",
		"test_suite", KindSingleRequest,
		"run_id", s.cfg.RunID,
		"model", model,
		"success", a.Success,
		"status_code", a.StatusCode,
		"latency_ms", a.Duration.Milliseconds(),
	)

	names := uniqueModels(append([]string{model}, s.cfg.Models...))
	groups := make([]stats.Group, 0, len(names))
	for _, m := range names {
		g := stats.Group{Name: m}
		if m == model && !cancelled {
			g.Attempts = []stats.Attempt{a}
		}
		groups = append(groups, g)
	}

	summary := stats.Summarize(stats.Input{
		RunID:          s.cfg.RunID,
		TestName:       singleName,
		Start:          start,
		End:            end,
		Models:         s.cfg.Models,
		MaxFailureRate: reliabilityMaxFailureRate,
		Groups:         groups,
	})
	return summary, ctx.Err()
}
