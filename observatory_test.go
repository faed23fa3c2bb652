package observatory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/observatory/internal/probe"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func f64(v float64) *float64 { return &v }

// hours converts d to the fractional hours used by run requests.
func hours(d time.Duration) *float64 { return f64(d.Hours()) }

// mockRequest returns a mock-suite request that finishes in about 20ms.
// Distinct tags give distinct jobs.
func mockRequest(tag string) RunRequest {
	return RunRequest{
		Suite:         SuiteMock,
		DeploymentURL: "http://mock.invalid/" + tag,
		APIKey:        "sk-test",
		Models:        []string{"gpt-4", "gpt-3.5-turbo"},
		DurationHours: hours(20 * time.Millisecond),
	}
}

func waitIdle(t *testing.T, obs *Observatory) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := obs.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
}

func newTestObservatory(t *testing.T, opts ...Option) *Observatory {
	t.Helper()
	obs, err := New(append([]Option{WithLogger(testLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Stop(ctx)
	})
	return obs
}

// captureNotifier records every notification it receives.
type captureNotifier struct {
	mu       sync.Mutex
	results  []RunResult
	failures []RunFailure
	err      error
}

func (c *captureNotifier) NotifyResult(_ context.Context, r RunResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	return c.err
}

func (c *captureNotifier) NotifyFailure(_ context.Context, f RunFailure) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, f)
	return c.err
}

func (c *captureNotifier) snapshot() ([]RunResult, []RunFailure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RunResult(nil), c.results...), append([]RunFailure(nil), c.failures...)
}

// chatDeployment serves /v1/chat/completions with the given status and body.
func chatDeployment(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestSubmitJob_RunsAndStoresSummary(t *testing.T) {
	notifier := &captureNotifier{}
	obs := newTestObservatory(t, WithNotifier(notifier))

	res, err := obs.SubmitJob(mockRequest("a"))
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	if res.Status != "started" {
		t.Errorf("Status = %q, want started on an idle queue", res.Status)
	}
	waitIdle(t, obs)

	rec, ok := obs.Job(res.ID)
	if !ok {
		t.Fatal("Job() ok = false after completion")
	}
	if rec.State != string(JobCompleted) {
		t.Errorf("State = %q, want completed", rec.State)
	}
	if rec.Summary == nil {
		t.Fatal("Summary = nil, want the run summary")
	}
	if !rec.Summary.Passed || rec.Summary.TotalRequests != 10 {
		t.Errorf("Summary passed/total = %v/%d, want true/10", rec.Summary.Passed, rec.Summary.TotalRequests)
	}
	if rec.Summary.Attempts != nil {
		t.Error("stored summary keeps per-attempt detail")
	}

	results, failures := notifier.snapshot()
	if len(results) != 1 || len(failures) != 0 {
		t.Fatalf("notifications = %d results, %d failures, want 1/0", len(results), len(failures))
	}
	if results[0].TestName != "Mock Test" || !results[0].Passed {
		t.Errorf("result = %+v", results[0])
	}
}

func TestSubmitJob_Duplicate(t *testing.T) {
	obs := newTestObservatory(t)

	req := mockRequest("dup")
	req.DurationHours = hours(300 * time.Millisecond)

	first, err := obs.SubmitJob(req)
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}

	// same parameters, models reordered
	again := req
	again.Models = []string{"gpt-3.5-turbo", "gpt-4"}
	_, err = obs.SubmitJob(again)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("SubmitJob() error = %v, want ErrDuplicate", err)
	}
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("error %T is not a *DuplicateError", err)
	}
	if dup.Existing.ID != first.ID {
		t.Errorf("Existing.ID = %q, want %q", dup.Existing.ID, first.ID)
	}

	waitIdle(t, obs)

	// the window closes once the job finishes
	if _, err := obs.SubmitJob(req); err != nil {
		t.Errorf("re-submission after completion error = %v", err)
	}
}

func TestSubmitJob_Invalid(t *testing.T) {
	obs := newTestObservatory(t)

	unknown := mockRequest("x")
	unknown.Suite = "TestNope"
	if _, err := obs.SubmitJob(unknown); !errors.Is(err, ErrUnknownSuite) {
		t.Errorf("unknown suite error = %v, want ErrUnknownSuite", err)
	}

	missing := RunRequest{Suite: SuiteMock}
	_, err := obs.SubmitJob(missing)
	if err == nil || !strings.Contains(err.Error(), "deployment_url, api_key, models") {
		t.Errorf("missing fields error = %v", err)
	}

	huge := mockRequest("huge")
	huge.DurationHours = f64(3e6)
	if _, err := obs.SubmitJob(huge); err == nil || !strings.Contains(err.Error(), "duration_hours") {
		t.Errorf("out-of-range duration error = %v, want duration_hours error", err)
	}

	if got := obs.QueueStatus().Queued; got != 0 {
		t.Errorf("Queued = %d, want 0 after rejected submissions", got)
	}
}

func TestSubmitJob_AfterStop(t *testing.T) {
	obs := newTestObservatory(t)
	if err := obs.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if _, err := obs.SubmitJob(mockRequest("late")); !errors.Is(err, ErrStopped) {
		t.Errorf("SubmitJob() error = %v, want ErrStopped", err)
	}
}

func TestQueueing_RespectsConcurrency(t *testing.T) {
	obs := newTestObservatory(t, WithMaxConcurrency(1))

	slow := mockRequest("slow")
	slow.DurationHours = hours(300 * time.Millisecond)

	if _, err := obs.SubmitJob(slow); err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	res, err := obs.SubmitJob(mockRequest("next"))
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	if res.Status != "queued" {
		t.Errorf("Status = %q, want queued behind a running job", res.Status)
	}

	time.Sleep(50 * time.Millisecond)
	if running := obs.RunningJobs(); len(running) != 1 {
		t.Errorf("len(RunningJobs()) = %d, want 1", len(running))
	}
	if got := obs.QueueStatus().Queued; got != 1 {
		t.Errorf("Queued = %d, want 1", got)
	}

	waitIdle(t, obs)
	if got := obs.QueueStatus().RecentlyCompleted; got != 2 {
		t.Errorf("RecentlyCompleted = %d, want 2", got)
	}
}

func TestReliabilityRun_AgainstDeployment(t *testing.T) {
	deployment := chatDeployment(t, http.StatusOK, `{"choices":[{"message":{"content":"hi"}}]}`)
	notifier := &captureNotifier{}
	obs := newTestObservatory(t, WithNotifier(notifier))

	res, err := obs.SubmitJob(RunRequest{
		Suite:                  SuiteReliability,
		DeploymentURL:          deployment.URL,
		APIKey:                 "sk-test",
		Models:                 []string{"gpt-4", "azure-gpt-4"},
		DurationHours:          hours(150 * time.Millisecond),
		RequestIntervalSeconds: f64(0.01),
	})
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	waitIdle(t, obs)

	rec, _ := obs.Job(res.ID)
	if rec.Summary == nil || rec.Summary.TotalRequests == 0 {
		t.Fatalf("Summary = %+v, want requests recorded", rec.Summary)
	}
	if rec.Summary.TotalFailures != 0 || !rec.Summary.Passed {
		t.Errorf("failures/passed = %d/%v, want 0/true", rec.Summary.TotalFailures, rec.Summary.Passed)
	}

	results, _ := notifier.snapshot()
	if len(results) != 1 || results[0].TestName != "OpenAI/Azure Release Test" {
		t.Errorf("results = %+v", results)
	}
}

func TestFailedRun_NotifiesFirstError(t *testing.T) {
	deployment := chatDeployment(t, http.StatusInternalServerError, `{"error":"upstream exploded"}`)
	notifier := &captureNotifier{}
	obs := newTestObservatory(t, WithNotifier(notifier))

	_, err := obs.SubmitJob(RunRequest{
		Suite:         SuiteSingleRequest,
		DeploymentURL: deployment.URL,
		APIKey:        "sk-test",
		Models:        []string{"gpt-4"},
	})
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	waitIdle(t, obs)

	results, _ := notifier.snapshot()
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].Passed {
		t.Error("Passed = true for a failing deployment")
	}
	if !strings.Contains(results[0].ErrorMessage, "upstream exploded") {
		t.Errorf("ErrorMessage = %q, want the first attempt error", results[0].ErrorMessage)
	}
}

func TestNotifierError_DoesNotFailJob(t *testing.T) {
	notifier := &captureNotifier{err: errors.New("webhook down")}
	obs := newTestObservatory(t, WithNotifier(notifier))

	res, err := obs.SubmitJob(mockRequest("notify"))
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	waitIdle(t, obs)

	rec, _ := obs.Job(res.ID)
	if rec.State != string(JobCompleted) {
		t.Errorf("State = %q, want completed despite notifier error", rec.State)
	}
}

func TestHistoryEviction_DeletesRecord(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	obs := newTestObservatory(t,
		WithHistoryCapacity(1),
		WithMaxConcurrency(1),
		WithJobCallback(func(ev JobEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev.Kind)
		}),
	)

	first, err := obs.SubmitJob(mockRequest("first"))
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	waitIdle(t, obs)
	second, err := obs.SubmitJob(mockRequest("second"))
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	waitIdle(t, obs)

	if _, ok := obs.Job(first.ID); ok {
		t.Error("evicted job is still stored")
	}
	if _, ok := obs.Job(second.ID); !ok {
		t.Error("latest job is missing")
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, k := range events {
		if k == "evicted" {
			found = true
		}
	}
	if !found {
		t.Errorf("events = %v, want an evicted event", events)
	}
}

func TestJobCallback_PanicRecovered(t *testing.T) {
	obs := newTestObservatory(t, WithJobCallback(func(JobEvent) {
		panic("callback exploded")
	}))

	res, err := obs.SubmitJob(mockRequest("panic"))
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	waitIdle(t, obs)

	rec, _ := obs.Job(res.ID)
	if rec.State != string(JobCompleted) {
		t.Errorf("State = %q, want completed", rec.State)
	}
}

// panicSuite stands in for a suite with a bug.
type panicSuite struct{}

func (panicSuite) Name() string { return "Panicking Test" }

func (panicSuite) Run(context.Context) (Summary, error) { panic("nil map write") }

func TestRunPanic_NotifiesFailure(t *testing.T) {
	notifier := &captureNotifier{}
	obs := newTestObservatory(t, WithNotifier(notifier))
	obs.newSuite = func(string, probe.Config) (probe.Suite, error) { return panicSuite{}, nil }

	res, err := obs.SubmitJob(mockRequest("panic-suite"))
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	waitIdle(t, obs)

	rec, _ := obs.Job(res.ID)
	if rec.State != string(JobFailed) {
		t.Errorf("State = %q, want failed", rec.State)
	}

	results, failures := notifier.snapshot()
	if len(results) != 0 || len(failures) != 1 {
		t.Fatalf("notifications = %d results, %d failures, want 0/1", len(results), len(failures))
	}
	if !strings.Contains(failures[0].Error, "correlation_id") {
		t.Errorf("failure error = %q, want a correlation id", failures[0].Error)
	}
	if strings.Contains(failures[0].Error, "nil map write") {
		t.Errorf("failure error = %q leaks the panic value", failures[0].Error)
	}

	// the permit was released, so a healthy job still runs
	obs.newSuite = probe.NewSuite
	next, err := obs.SubmitJob(mockRequest("after-panic"))
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	waitIdle(t, obs)
	if rec, _ := obs.Job(next.ID); rec.State != string(JobCompleted) {
		t.Errorf("State after panic = %q, want completed", rec.State)
	}
}

func TestStop_ForceCancelsAfterGrace(t *testing.T) {
	obs := newTestObservatory(t)

	long := mockRequest("long")
	long.DurationHours = f64(1)
	res, err := obs.SubmitJob(long)
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := obs.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() error = %v, want DeadlineExceeded", err)
	}

	rec, _ := obs.Job(res.ID)
	if rec.State != string(JobFailed) {
		t.Errorf("State = %q, want failed after force-cancel", rec.State)
	}
	if rec.Error == nil {
		t.Error("Error = nil for a cancelled run")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func TestStart_ServesAPIUntilCancelled(t *testing.T) {
	port := freePort(t)
	obs := newTestObservatory(t, WithPort(port), WithAPIKey("secret"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- obs.Start(ctx) }()

	base := "http://127.0.0.1:" + strconv.Itoa(port)
	var resp *http.Response
	body, _ := json.Marshal(mockRequest("http"))
	for i := 0; i < 50; i++ {
		req, _ := http.NewRequest(http.MethodPost, base+"/run-test", bytes.NewReader(body))
		req.Header.Set("X-LiteLLM-Observatory-API-Key", "secret")
		var err error
		resp, err = http.DefaultClient.Do(req)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if resp == nil {
		cancel()
		t.Fatal("server never accepted a connection")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("POST /run-test status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

func TestStart_ReturnsImmediatelyIfContextAlreadyCancelled(t *testing.T) {
	obs := newTestObservatory(t, WithPort(freePort(t)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- obs.Start(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return immediately for a cancelled context")
	}
}
