package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpalmerr/observatory/internal/stats"
)

// Scenario suite defaults.
const (
	scenarioName                = "Access Group Performance Test"
	scenarioRequestsPerScenario = 50
	scenarioInterval            = 200 * time.Millisecond
	scenarioMaxTokens           = 10
	scenarioMessage             = "Say 'hello' and nothing else."
	scenarioProgressEvery       = 10
)

// ScenarioSuite issues a fixed number of requests per named scenario and
// compares outcomes with each scenario's expectation.
//
// It is meant for A/B latency comparisons, for example between keys with and
// without access groups. Each scenario gets its own [Client].
type ScenarioSuite struct {
	lifecycle

	cfg       Config
	scenarios []Scenario
	requests  int
	interval  time.Duration
	maxRate   float64
	probe     chatProbe
}

func newScenarioSuite(cfg Config) (*ScenarioSuite, error) {
	scenarios := cfg.Scenarios
	if len(scenarios) == 0 {
		for _, m := range uniqueModels(cfg.Models) {
			scenarios = append(scenarios, Scenario{
				Name:          m,
				APIKey:        cfg.APIKey,
				Model:         m,
				ExpectSuccess: true,
			})
		}
	}
	if len(scenarios) == 0 {
		return nil, errors.New("access group suite requires scenarios or models")
	}

	seen := make(map[string]bool, len(scenarios))
	for i, sc := range scenarios {
		if sc.Name == "" || sc.Model == "" {
			return nil, fmt.Errorf("scenario %d: name and model are required", i)
		}
		if seen[sc.Name] {
			return nil, fmt.Errorf("scenario %d: duplicate name %q", i, sc.Name)
		}
		seen[sc.Name] = true
	}

	s := &ScenarioSuite{
		cfg:       cfg,
		scenarios: append([]Scenario(nil), scenarios...),
		requests:  scenarioRequestsPerScenario,
		interval:  scenarioInterval,
		maxRate:   reliabilityMaxFailureRate,
		probe:     newChatProbe(cfg.DeploymentURL, scenarioMessage, scenarioMaxTokens, cfg.Timeout),
	}
	if cfg.RequestsPerScenario > 0 {
		s.requests = cfg.RequestsPerScenario
	}

	var err error
	if cfg.RequestIntervalSeconds != nil {
		if s.interval, err = secondsToDuration(*cfg.RequestIntervalSeconds); err != nil {
			return nil, err
		}
	}
	if cfg.MaxFailureRate != nil {
		if err := validRate(*cfg.MaxFailureRate); err != nil {
			return nil, err
		}
		s.maxRate = *cfg.MaxFailureRate
	}
	return s, nil
}

// Name returns the human-readable test name.
func (s *ScenarioSuite) Name() string { return scenarioName }

// Run executes scenarios sequentially. The verdict counts unexpected
// outcomes, so a denied request in a scenario expecting denial is not a
// failure of the run.
func (s *ScenarioSuite) Run(ctx context.Context) (stats.Summary, error) {
	if err := s.begin(); err != nil {
		return stats.Summary{}, err
	}
	defer s.finish()

	start := time.Now()
	log := s.cfg.Logger.With("test_suite", KindAccessGroupPerf, "run_id", s.cfg.RunID)
	log.Info("scenario run started",
		"deployment_url", s.cfg.DeploymentURL,
		"scenarios", len(s.scenarios),
		"requests_per_scenario", s.requests,
		"interval", s.interval,
	)

	var (
		groups []stats.Group
		models []string
		runErr error
	)
	seenModel := make(map[string]bool)

	for _, sc := range s.scenarios {
		attempts, err := s.runScenario(ctx, log, start, sc)

		expect := sc.ExpectSuccess
		groups = append(groups, stats.Group{
			Name:          sc.Name,
			Attempts:      attempts,
			Model:         sc.Model,
			Description:   sc.Description,
			ExpectSuccess: &expect,
		})
		if !seenModel[sc.Model] {
			seenModel[sc.Model] = true
			models = append(models, sc.Model)
		}

		if err != nil {
			runErr = err
			break
		}
	}

	summary := stats.Summarize(stats.Input{
		RunID:          s.cfg.RunID,
		TestName:       scenarioName,
		Start:          start,
		End:            time.Now(),
		Models:         models,
		MaxFailureRate: s.maxRate,
		Groups:         groups,
	})

	log.Info("scenario run finished",
		"total_requests", summary.TotalRequests,
		"unexpected_outcomes", summary.UnexpectedOutcomes,
		"test_passed", summary.Passed,
	)
	return summary, runErr
}

func (s *ScenarioSuite) runScenario(ctx context.Context, log *slog.Logger, start time.Time, sc Scenario) ([]stats.Attempt, error) {
	client := NewClient()
	defer client.Close()

	attempts := make([]stats.Attempt, 0, s.requests)
	failures := 0

	for i := 1; i <= s.requests; i++ {
		a := s.probe.attempt(ctx, client, sc.APIKey, sc.Model)
		if err := ctx.Err(); err != nil {
			return attempts, err
		}
		attempts = append(attempts, a)
		if !a.Success {
			failures++
		}
		if s.cfg.OnAttempt != nil {
			s.cfg.OnAttempt(KindAccessGroupPerf, a)
		}

		if i%scenarioProgressEvery == 0 {
			p := Progress{
				Suite:    KindAccessGroupPerf,
				Group:    sc.Name,
				Elapsed:  time.Since(start),
				Attempts: i,
				Failures: failures,
			}
			log.Info("scenario progress", "scenario", sc.Name, "completed", i, "requests_per_scenario", s.requests, "failures", failures)
			if s.cfg.OnProgress != nil {
				s.cfg.OnProgress(p)
			}
		}

		if err := sleep(ctx, s.interval); err != nil {
			return attempts, err
		}
	}
	return attempts, nil
}
