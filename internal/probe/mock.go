package probe

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jpalmerr/observatory/internal/stats"
)

const (
	mockName          = "Mock Test"
	mockDuration      = time.Second
	mockTotalRequests = 10
	mockAttemptTime   = 100 * time.Millisecond
)

// Mock simulates a run without network traffic. It exercises the queue,
// store and notification path end to end.
type Mock struct {
	lifecycle

	cfg         Config
	duration    time.Duration
	shouldPass  bool
	failureRate float64
	total       int
}

func newMock(cfg Config) (*Mock, error) {
	m := &Mock{
		cfg:         cfg,
		duration:    mockDuration,
		shouldPass:  true,
		failureRate: cfg.MockFailureRate,
		total:       mockTotalRequests,
	}
	switch {
	case cfg.MockDuration > 0:
		m.duration = cfg.MockDuration
	case cfg.DurationHours != nil && *cfg.DurationHours > 0:
		d, err := hoursToDuration(*cfg.DurationHours)
		if err != nil {
			return nil, err
		}
		m.duration = d
	}
	if cfg.MockShouldPass != nil {
		m.shouldPass = *cfg.MockShouldPass
	}
	if cfg.MockTotalRequests > 0 {
		m.total = cfg.MockTotalRequests
	}
	if err := validRate(m.failureRate); err != nil {
		return nil, fmt.Errorf("mock failure rate: %w", err)
	}
	return m, nil
}

// Name returns the human-readable test name.
func (m *Mock) Name() string { return mockName }

// Run sleeps for the simulated duration, then fabricates attempts split
// evenly across models. It passes iff it was told to and the simulated
// failure rate is below 1%.
func (m *Mock) Run(ctx context.Context) (stats.Summary, error) {
	if err := m.begin(); err != nil {
		return stats.Summary{}, err
	}
	defer m.finish()

	start := time.Now()
	if err := sleep(ctx, m.duration); err != nil {
		return stats.Summary{RunID: m.cfg.RunID, TestName: mockName, StartTime: start, EndTime: time.Now()}, err
	}
	end := time.Now()

	models := uniqueModels(m.cfg.Models)
	groups := make([]stats.Group, len(models))
	if len(models) > 0 {
		per, rem := m.total/len(models), m.total%len(models)
		for i, model := range models {
			n := per
			if i < rem {
				n++
			}
			failures := int(math.Floor(float64(n) * m.failureRate))
			groups[i] = stats.Group{Name: model, Attempts: m.fabricate(model, n, failures, start)}
		}
	}

	summary := stats.Summarize(stats.Input{
		RunID:          m.cfg.RunID,
		TestName:       mockName,
		Start:          start,
		End:            end,
		Models:         models,
		MaxFailureRate: reliabilityMaxFailureRate,
		Groups:         groups,
	})
	summary.Passed = m.shouldPass && m.failureRate < reliabilityMaxFailureRate

	m.cfg.Logger.Info("mock run finished",
		"test_suite", KindMock,
		"run_id", m.cfg.RunID,
		"total_requests", summary.TotalRequests,
		"test_passed", summary.Passed,
	)
	return summary, nil
}

// fabricate builds n attempts for model, the last failures of which failed.
func (m *Mock) fabricate(model string, n, failures int, start time.Time) []stats.Attempt {
	out := make([]stats.Attempt, n)
	for i := range out {
		a := stats.Attempt{
			Timestamp:  start.Add(time.Duration(i) * mockAttemptTime),
			Model:      model,
			StatusCode: 200,
			Success:    true,
			Duration:   mockAttemptTime,
		}
		if i >= n-failures {
			a.Success = false
			a.StatusCode = 500
			a.Error = "simulated failure"
		}
		out[i] = a
	}
	return out
}
