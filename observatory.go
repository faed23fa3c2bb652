package observatory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jpalmerr/observatory/internal/metrics"
	"github.com/jpalmerr/observatory/internal/notify"
	"github.com/jpalmerr/observatory/internal/probe"
	"github.com/jpalmerr/observatory/internal/queue"
	"github.com/jpalmerr/observatory/internal/server"
	"github.com/jpalmerr/observatory/internal/store"
)

// Version is the service version reported by the API.
const Version = "0.1.0"

const (
	defaultPort            = 8000
	defaultMaxConcurrency  = queue.DefaultMaxConcurrency
	defaultHistoryCapacity = queue.DefaultHistoryCapacity
	defaultShutdownGrace   = 10 * time.Second
)

// Observatory runs test suites against LiteLLM deployments through a
// bounded job queue and serves the HTTP API that feeds it.
//
// It is created using [New] with functional options. Jobs can be submitted
// directly with [Observatory.SubmitJob] or over HTTP once [Observatory.Start]
// is running.
//
//	obs, err := observatory.New(observatory.WithMaxConcurrency(3))
//	if err != nil {
//	    slog.Error("failed to create observatory", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	obs.Start(ctx) // blocks until context cancelled
//
// All methods are safe for concurrent use.
type Observatory struct {
	port          int
	apiKey        string
	shutdownGrace time.Duration
	logger        *slog.Logger
	notifier      Notifier
	suiteDefaults probe.Config
	jobCallbacks  []func(JobEvent)

	store     *store.MemoryStore
	scheduler *queue.Scheduler

	newSuite func(kind string, cfg probe.Config) (probe.Suite, error)
}

// New creates a new [Observatory] with the given options.
//
// Defaults:
//   - Port: 8000
//   - Max concurrency: 5
//   - History capacity: 100
//   - Shutdown grace: 10 seconds
//   - Notifier: none
func New(opts ...Option) (*Observatory, error) {
	cfg := &obsConfig{
		port:            defaultPort,
		maxConcurrency:  defaultMaxConcurrency,
		historyCapacity: defaultHistoryCapacity,
		shutdownGrace:   defaultShutdownGrace,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	seen := make(map[string]bool, len(cfg.scenarios))
	for _, sc := range cfg.scenarios {
		if sc.Name == "" {
			return nil, errors.New("scenario name is required")
		}
		if seen[sc.Name] {
			return nil, fmt.Errorf("duplicate scenario name: %q", sc.Name)
		}
		seen[sc.Name] = true
	}

	o := &Observatory{
		port:          cfg.port,
		apiKey:        cfg.apiKey,
		shutdownGrace: cfg.shutdownGrace,
		logger:        logger,
		notifier:      notifier,
		jobCallbacks:  cfg.jobCallbacks,
		store:         store.NewMemoryStore(),
		newSuite:      probe.NewSuite,
		suiteDefaults: probe.Config{
			Timeout:   cfg.requestTimeout,
			Scenarios: append([]Scenario(nil), cfg.scenarios...),
		},
	}

	sched, err := queue.NewScheduler(queue.Config{
		MaxConcurrent:   cfg.maxConcurrency,
		HistoryCapacity: cfg.historyCapacity,
		Run:             o.runJob,
		Check:           checkSuite,
		Observe:         o.observe,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	o.scheduler = sched

	return o, nil
}

// Start serves the HTTP API until ctx is cancelled, then shuts down.
//
// On shutdown no new jobs are accepted, queued jobs are failed and running
// jobs get the configured grace period before they are cancelled.
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server fails
// to start.
func (o *Observatory) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	o.logger.Info("observatory starting",
		"port", o.port,
		"max_concurrent_tests", o.QueueStatus().MaxConcurrent,
		"auth", o.apiKey != "",
	)

	srv := server.NewServer(o, o.store, server.Config{
		Port:    o.port,
		APIKey:  o.apiKey,
		Version: Version,
		Logger:  o.logger,
	})
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), o.shutdownGrace)
	defer cancel()
	if err := o.Stop(stopCtx); err != nil {
		o.logger.Warn("running jobs cancelled at shutdown", "error", err)
	}

	o.logger.Info("observatory stopped")
	return nil
}

// Stop stops accepting jobs and waits for running jobs. When ctx expires
// first, running jobs are cancelled and ctx's error is returned once they
// have cleaned up.
func (o *Observatory) Stop(ctx context.Context) error {
	return o.scheduler.Stop(ctx)
}

// WaitIdle blocks until no job is queued or running, or ctx is done.
func (o *Observatory) WaitIdle(ctx context.Context) error {
	return o.scheduler.WaitIdle(ctx)
}

// SubmitJob enqueues a run and returns without waiting for it.
//
// It returns an error wrapping [ErrUnknownSuite] for an unregistered suite,
// a *[DuplicateError] when an equal job is queued or running, and
// [ErrStopped] after shutdown has begun.
func (o *Observatory) SubmitJob(req RunRequest) (SubmitResult, error) {
	if err := validateRequest(req); err != nil {
		metrics.RecordRejected(metrics.ReasonInvalid)
		return SubmitResult{}, err
	}

	res, err := o.scheduler.Submit(req)
	switch {
	case errors.Is(err, queue.ErrDuplicate):
		metrics.RecordRejected(metrics.ReasonDuplicate)
		return SubmitResult{}, err
	case errors.Is(err, queue.ErrStopped):
		metrics.RecordRejected(metrics.ReasonShuttingDown)
		return SubmitResult{}, err
	case err != nil:
		return SubmitResult{}, err
	}

	metrics.RecordSubmitted(req.Suite)
	return res, nil
}

// QueueStatus returns a snapshot of queue occupancy.
func (o *Observatory) QueueStatus() QueueStatus {
	return o.scheduler.Registry().Status()
}

// RunningJobs returns the running jobs, earliest start first.
func (o *Observatory) RunningJobs() []JobInfo {
	running := o.scheduler.Registry().RunningJobs()
	jobs := make([]JobInfo, 0, len(running))
	for _, j := range running {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool {
		sa, sb := jobs[a].StartedAt, jobs[b].StartedAt
		if sa == nil || sb == nil || sa.Equal(*sb) {
			return jobs[a].ID < jobs[b].ID
		}
		return sa.Before(*sb)
	})
	return jobs
}

// Job returns the record of a queued, running or recently finished job.
func (o *Observatory) Job(id string) (JobRecord, bool) {
	return o.store.Get(id)
}

// Jobs returns every known job record, oldest submission first.
func (o *Observatory) Jobs() []JobRecord {
	return o.store.GetAll()
}

// Suites returns the names accepted by [Observatory.SubmitJob].
func (o *Observatory) Suites() []string {
	return probe.Kinds()
}

// Port returns the configured HTTP port.
func (o *Observatory) Port() int {
	return o.port
}

func validateRequest(req RunRequest) error {
	if err := checkSuite(req); err != nil {
		return err
	}
	var missing []string
	if req.DeploymentURL == "" {
		missing = append(missing, "deployment_url")
	}
	if req.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if len(req.Models) == 0 {
		missing = append(missing, "models")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return probe.CheckKnobs(req.DurationHours, req.MaxFailureRate, req.RequestIntervalSeconds)
}

// checkSuite is also the scheduler's admission check.
func checkSuite(p queue.Params) error {
	if !probe.Known(p.Suite) {
		return fmt.Errorf("%w %q: available suites are %v", ErrUnknownSuite, p.Suite, probe.Kinds())
	}
	return nil
}
