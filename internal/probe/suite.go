package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jpalmerr/observatory/internal/stats"
)

var (
	// ErrUnknownSuite is returned for a suite kind outside the catalogue.
	ErrUnknownSuite = errors.New("unknown test suite")

	// ErrAlreadyRun is returned when a suite is run a second time.
	ErrAlreadyRun = errors.New("suite has already been run")
)

// Suite kinds. The set is closed; [NewSuite] rejects anything else.
const (
	KindReliability     = "TestOAIAzureRelease"
	KindAccessGroupPerf = "TestAccessGroupPerf"
	KindSingleRequest   = "TestMockSingleRequest"
	KindMock            = "TestMock"
)

// defaultTimeout bounds each probe request.
const defaultTimeout = 60 * time.Second

// Suite is one runnable probe.
//
// A Suite is single-use: the second call to Run returns [ErrAlreadyRun].
// When ctx is cancelled mid-run, Run returns the summary of the attempts made
// so far together with ctx's error.
type Suite interface {
	Name() string
	Run(ctx context.Context) (stats.Summary, error)
}

// Scenario is one named request profile of the access-group suite.
type Scenario struct {
	Name          string
	APIKey        string
	Model         string
	ExpectSuccess bool
	Description   string
}

// Progress is a periodic observation emitted while a suite runs.
type Progress struct {
	Suite    string
	Group    string
	Elapsed  time.Duration
	Attempts int
	Failures int
}

// Config carries everything a suite may need. Suites ignore fields that do
// not apply to them.
//
// The optional knobs are pointers so an explicit zero differs from unset.
type Config struct {
	DeploymentURL string
	APIKey        string
	Models        []string

	DurationHours          *float64
	MaxFailureRate         *float64
	RequestIntervalSeconds *float64

	// RunID is copied onto the summary.
	RunID string

	// Timeout bounds each request. Zero means 60s.
	Timeout time.Duration

	// Scenarios for the access-group suite. When empty, one scenario per
	// model is built using APIKey and expecting success.
	Scenarios           []Scenario
	RequestsPerScenario int

	// Simulation knobs for the mock suite.
	MockDuration      time.Duration
	MockShouldPass    *bool
	MockFailureRate   float64
	MockTotalRequests int

	// OnProgress and OnAttempt are optional observers. They are called from
	// the running goroutine and must not block.
	OnProgress func(Progress)
	OnAttempt  func(suite string, a stats.Attempt)

	Logger *slog.Logger
}

// NewSuite builds the suite for kind.
func NewSuite(kind string, cfg Config) (Suite, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	switch kind {
	case KindReliability:
		return newReliability(cfg)
	case KindAccessGroupPerf:
		return newScenarioSuite(cfg)
	case KindSingleRequest:
		return newSingleRequest(cfg)
	case KindMock:
		return newMock(cfg)
	default:
		return nil, fmt.Errorf("%w %q: available suites are %v", ErrUnknownSuite, kind, Kinds())
	}
}

// Kinds returns every known suite kind, sorted.
func Kinds() []string {
	kinds := []string{KindReliability, KindAccessGroupPerf, KindSingleRequest, KindMock}
	sort.Strings(kinds)
	return kinds
}

// Known reports whether kind is in the catalogue.
func Known(kind string) bool {
	switch kind {
	case KindReliability, KindAccessGroupPerf, KindSingleRequest, KindMock:
		return true
	}
	return false
}

// hoursToDuration converts fractional hours, rejecting negative, non-finite
// or out-of-range values.
func hoursToDuration(h float64) (time.Duration, error) {
	return toDuration(h, time.Hour, "duration_hours")
}

func secondsToDuration(s float64) (time.Duration, error) {
	return toDuration(s, time.Second, "request_interval_seconds")
}

// toDuration converts v units into a Duration. Values whose product does not
// fit in an int64 are rejected rather than wrapping negative.
func toDuration(v float64, unit time.Duration, field string) (time.Duration, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("invalid %s %v", field, v)
	}
	d := v * float64(unit)
	if d >= float64(math.MaxInt64) {
		return 0, fmt.Errorf("invalid %s %v: must be below %v", field, v, math.Floor(float64(math.MaxInt64)/float64(unit)))
	}
	return time.Duration(d), nil
}

// CheckKnobs validates the optional run knobs without building a suite.
func CheckKnobs(durationHours, maxFailureRate, requestIntervalSeconds *float64) error {
	if durationHours != nil {
		if _, err := hoursToDuration(*durationHours); err != nil {
			return err
		}
	}
	if maxFailureRate != nil {
		if err := validRate(*maxFailureRate); err != nil {
			return err
		}
	}
	if requestIntervalSeconds != nil {
		if _, err := secondsToDuration(*requestIntervalSeconds); err != nil {
			return err
		}
	}
	return nil
}

func validRate(r float64) error {
	if math.IsNaN(r) || r < 0 || r > 1 {
		return fmt.Errorf("invalid max_failure_rate %v: must be within [0, 1]", r)
	}
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// lifecycle guards the NotStarted → Running → Finished transitions shared
// by every suite.
type lifecycle struct {
	state atomic.Int32
}

const (
	stateNotStarted int32 = iota
	stateRunning
	stateFinished
)

func (l *lifecycle) begin() error {
	if !l.state.CompareAndSwap(stateNotStarted, stateRunning) {
		return ErrAlreadyRun
	}
	return nil
}

func (l *lifecycle) finish() {
	l.state.Store(stateFinished)
}
