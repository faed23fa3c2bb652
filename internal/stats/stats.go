package stats

import (
	"math"
	"sort"
	"time"
)

// maxSampleErrors caps the error messages kept per group.
const maxSampleErrors = 5

// Latency holds latency statistics in milliseconds.
//
// A zero Latency (Count == 0) means no durations were observed.
type Latency struct {
	Count    int     `json:"count"`
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
	MeanMs   float64 `json:"mean_ms"`
	MedianMs float64 `json:"median_ms"`
	P95Ms    float64 `json:"p95_ms"`
	P99Ms    float64 `json:"p99_ms"`
	StdevMs  float64 `json:"stdev_ms"`
}

// GroupStats summarizes the attempts of one model or scenario.
type GroupStats struct {
	TotalRequests       int     `json:"total_requests"`
	Successes           int     `json:"successes"`
	Failures            int     `json:"failures"`
	FailureRate         float64 `json:"failure_rate"`
	FailureRatePercent  float64 `json:"failure_rate_percent"`
	MeanDurationSeconds float64 `json:"avg_duration_seconds"`
	Latency             Latency `json:"latency"`

	// Scenario metadata, empty for plain per-model groups.
	Model         string `json:"model,omitempty"`
	Description   string `json:"description,omitempty"`
	ExpectSuccess *bool  `json:"expect_success,omitempty"`

	// UnexpectedOutcomes counts attempts whose outcome differs from the
	// group's expectation. Groups without an expectation expect success.
	UnexpectedOutcomes int      `json:"unexpected_outcomes"`
	SampleErrors       []string `json:"sample_errors,omitempty"`
}

// Group is a named, ordered sequence of attempts fed into [Summarize].
type Group struct {
	Name          string
	Attempts      []Attempt
	Model         string
	Description   string
	ExpectSuccess *bool
}

// Input collects everything [Summarize] needs.
type Input struct {
	RunID          string
	TestName       string
	Start          time.Time
	End            time.Time
	Models         []string
	MaxFailureRate float64
	Groups         []Group
}

// Summary is the aggregated result of a finished run.
//
// The verdict compares the rate of unexpected outcomes with MaxFailureRate
// using strict less-than. For runs without scenario expectations the
// unexpected outcomes are exactly the failures.
type Summary struct {
	RunID                     string                `json:"run_id"`
	TestName                  string                `json:"test_name"`
	StartTime                 time.Time             `json:"start_time"`
	EndTime                   time.Time             `json:"end_time"`
	DurationSeconds           float64               `json:"duration_seconds"`
	DurationHours             float64               `json:"duration_hours"`
	ModelsTested              []string              `json:"models_tested"`
	TotalRequests             int                   `json:"total_requests"`
	TotalSuccesses            int                   `json:"total_successes"`
	TotalFailures             int                   `json:"total_failures"`
	OverallFailureRate        float64               `json:"overall_failure_rate"`
	OverallFailureRatePercent float64               `json:"overall_failure_rate_percent"`
	UnexpectedOutcomes        int                   `json:"unexpected_outcomes"`
	VerdictRate               float64               `json:"verdict_rate"`
	VerdictRatePercent        float64               `json:"verdict_rate_percent"`
	MaxFailureRate            float64               `json:"max_failure_rate"`
	MaxFailureRatePercent     float64               `json:"max_failure_rate_percent"`
	Passed                    bool                  `json:"test_passed"`
	Latency                   Latency               `json:"latency"`
	GroupOrder                []string              `json:"group_order"`
	Groups                    map[string]GroupStats `json:"model_statistics"`
	Attempts                  map[string][]Attempt  `json:"detailed_results"`
}

// Percentile returns the p-th percentile (0 <= p <= 1) of sorted data.
//
// The rank is k = (n-1)*p. With f = floor(k) and c = f+1 clamped to the last
// index, the result is sorted[f] + (k-f)*(sorted[c]-sorted[f]). Returns 0 for
// empty input.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	k := float64(n-1) * p
	f := int(math.Floor(k))
	if f < 0 {
		f = 0
	}
	if f >= n-1 {
		return sorted[n-1]
	}
	c := f + 1
	return sorted[f] + (k-float64(f))*(sorted[c]-sorted[f])
}

// LatencyOf computes latency statistics over durations.
// The input slice is not modified.
func LatencyOf(durations []time.Duration) Latency {
	if len(durations) == 0 {
		return Latency{}
	}

	ms := make([]float64, len(durations))
	var sum float64
	for i, d := range durations {
		ms[i] = float64(d) / float64(time.Millisecond)
		sum += ms[i]
	}
	sort.Float64s(ms)

	n := float64(len(ms))
	mean := sum / n

	// sample standard deviation
	var stdev float64
	if len(ms) > 1 {
		var sq float64
		for _, v := range ms {
			sq += (v - mean) * (v - mean)
		}
		stdev = math.Sqrt(sq / (n - 1))
	}

	return Latency{
		Count:    len(ms),
		MinMs:    ms[0],
		MaxMs:    ms[len(ms)-1],
		MeanMs:   mean,
		MedianMs: Percentile(ms, 0.5),
		P95Ms:    Percentile(ms, 0.95),
		P99Ms:    Percentile(ms, 0.99),
		StdevMs:  stdev,
	}
}

// FailureRate returns failures/total, or 0 when total is 0.
func FailureRate(failures, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(failures) / float64(total)
}

// GroupOf reduces one group of attempts.
func GroupOf(g Group) GroupStats {
	expectSuccess := g.ExpectSuccess == nil || *g.ExpectSuccess

	gs := GroupStats{
		TotalRequests: len(g.Attempts),
		Model:         g.Model,
		Description:   g.Description,
		ExpectSuccess: g.ExpectSuccess,
	}

	durations := make([]time.Duration, 0, len(g.Attempts))
	var total time.Duration
	for _, a := range g.Attempts {
		durations = append(durations, a.Duration)
		total += a.Duration

		if a.Success {
			gs.Successes++
		} else {
			gs.Failures++
			if msg := a.ErrorMessage(); msg != "" && len(gs.SampleErrors) < maxSampleErrors {
				gs.SampleErrors = append(gs.SampleErrors, msg)
			}
		}
		if a.Success != expectSuccess {
			gs.UnexpectedOutcomes++
		}
	}

	gs.FailureRate = FailureRate(gs.Failures, gs.TotalRequests)
	gs.FailureRatePercent = gs.FailureRate * 100
	if gs.TotalRequests > 0 {
		gs.MeanDurationSeconds = total.Seconds() / float64(gs.TotalRequests)
	}
	gs.Latency = LatencyOf(durations)

	return gs
}

// Summarize reduces per-group attempts into a [Summary].
//
// Attempt slices are copied into the summary so later appends by the caller
// cannot change it.
func Summarize(in Input) Summary {
	s := Summary{
		RunID:                 in.RunID,
		TestName:              in.TestName,
		StartTime:             in.Start,
		EndTime:               in.End,
		ModelsTested:          append([]string(nil), in.Models...),
		MaxFailureRate:        in.MaxFailureRate,
		MaxFailureRatePercent: in.MaxFailureRate * 100,
		GroupOrder:            make([]string, 0, len(in.Groups)),
		Groups:                make(map[string]GroupStats, len(in.Groups)),
		Attempts:              make(map[string][]Attempt, len(in.Groups)),
	}

	if !in.Start.IsZero() && in.End.After(in.Start) {
		d := in.End.Sub(in.Start)
		s.DurationSeconds = d.Seconds()
		s.DurationHours = d.Hours()
	}

	var all []time.Duration
	for _, g := range in.Groups {
		gs := GroupOf(g)
		s.GroupOrder = append(s.GroupOrder, g.Name)
		s.Groups[g.Name] = gs
		s.Attempts[g.Name] = append([]Attempt(nil), g.Attempts...)

		s.TotalRequests += gs.TotalRequests
		s.TotalSuccesses += gs.Successes
		s.TotalFailures += gs.Failures
		s.UnexpectedOutcomes += gs.UnexpectedOutcomes

		for _, a := range g.Attempts {
			all = append(all, a.Duration)
		}
	}

	s.OverallFailureRate = FailureRate(s.TotalFailures, s.TotalRequests)
	s.OverallFailureRatePercent = s.OverallFailureRate * 100
	s.Latency = LatencyOf(all)
	s.VerdictRate = FailureRate(s.UnexpectedOutcomes, s.TotalRequests)
	s.VerdictRatePercent = s.VerdictRate * 100
	s.Passed = Passed(s.VerdictRate, in.MaxFailureRate)

	return s
}

// Passed reports whether rate is strictly below maxRate.
// Equality is a failing boundary.
func Passed(rate, maxRate float64) bool {
	return rate < maxRate
}

// FirstError returns the earliest non-empty error message among failed
// attempts, or "" when every attempt succeeded.
func (s Summary) FirstError() string {
	var (
		first Attempt
		found bool
	)
	for _, name := range s.GroupOrder {
		for _, a := range s.Attempts[name] {
			if a.Success || a.ErrorMessage() == "" {
				continue
			}
			if !found || a.Timestamp.Before(first.Timestamp) {
				first = a
				found = true
			}
		}
	}
	if !found {
		return ""
	}
	return first.ErrorMessage()
}
