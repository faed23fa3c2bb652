package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrency is the default concurrency ceiling.
const DefaultMaxConcurrency = 5

// ErrStopped is returned by [Scheduler.Submit] after [Scheduler.Stop], and is
// the failure recorded on jobs that were still queued at shutdown.
var ErrStopped = errors.New("scheduler stopped")

// Runner executes one admitted job. A non-nil error marks the job Failed.
//
// ctx is cancelled when the scheduler force-cancels running work.
type Runner func(ctx context.Context, id string, p Params) error

// EventKind names a job lifecycle transition.
type EventKind string

const (
	EventQueued    EventKind = "queued"
	EventRunning   EventKind = "running"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventEvicted   EventKind = "evicted"
)

// Event is delivered to the observer on every job transition.
type Event struct {
	Kind EventKind
	Job  JobInfo
}

// Config configures a [Scheduler].
type Config struct {
	// MaxConcurrent is the concurrency ceiling. Zero means DefaultMaxConcurrency.
	MaxConcurrent int

	// HistoryCapacity bounds completed history. Zero means DefaultHistoryCapacity.
	HistoryCapacity int

	// Run executes admitted jobs. Required.
	Run Runner

	// Check, if set, is called at admission. An error fails the job without
	// running it.
	Check func(Params) error

	// Observe, if set, receives lifecycle events. It must not block.
	Observe func(Event)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// SubmitResult is the outcome of an accepted submission.
type SubmitResult struct {
	// Status is "started" when the job was admitted without waiting behind
	// other jobs, otherwise "queued".
	Status        string
	ID            string
	QueuePosition int
	RunningCount  int
}

// Scheduler admits queued jobs in FIFO order under a concurrency ceiling.
//
// A single admission loop, started on the first submission and restarted
// only if it has exited, pulls the next job, waits for a permit and launches
// one goroutine per job. Permits are released on every exit path of that
// goroutine, including panics and force-cancellation.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	registry *Registry
	sem      *semaphore.Weighted
	run      Runner
	check    func(Params) error
	observe  func(Event)
	logger   *slog.Logger

	// submitMu makes the duplicate check and the enqueue one step
	submitMu sync.Mutex

	mu          sync.Mutex
	loopRunning bool
	stopped     bool

	loopCtx    context.Context
	stopLoop   context.CancelFunc
	unitCtx    context.Context
	cancelUnit context.CancelFunc

	loopWG sync.WaitGroup
	units  sync.WaitGroup
}

// NewScheduler creates a [Scheduler]. No goroutine is started until the
// first [Scheduler.Submit].
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Run == nil {
		return nil, errors.New("scheduler requires a runner")
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrency
	}
	if cfg.HistoryCapacity == 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	reg, err := NewRegistry(cfg.MaxConcurrent, cfg.HistoryCapacity)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		registry: reg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		run:      cfg.Run,
		check:    cfg.Check,
		observe:  cfg.Observe,
		logger:   cfg.Logger,
	}
	s.loopCtx, s.stopLoop = context.WithCancel(context.Background())
	s.unitCtx, s.cancelUnit = context.WithCancel(context.Background())
	return s, nil
}

// Registry returns the registry backing s, for read-only queries.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

// Submit enqueues a job for p.
//
// It fails with a *[DuplicateError] when an equal job is queued or running,
// and with [ErrStopped] after [Scheduler.Stop]. Submit never waits for the
// job to run.
func (s *Scheduler) Submit(p Params) (SubmitResult, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return SubmitResult{}, ErrStopped
	}

	if existing, ok := s.registry.DuplicateInfo(p); ok {
		return SubmitResult{}, &DuplicateError{Existing: existing}
	}

	before := s.registry.Status()
	job, pos := s.registry.Submit(p)

	result := SubmitResult{
		Status:        "queued",
		ID:            job.ID,
		QueuePosition: pos,
		RunningCount:  before.Running,
	}
	if before.Queued == 0 && before.Running < before.MaxConcurrent {
		result.Status = "started"
	}

	s.logger.Info("job submitted",
		"job_id", job.ID,
		"test_suite", job.Params.Suite,
		"queue_position", pos,
		"running_count", before.Running,
	)

	s.mu.Lock()
	s.startLoopLocked()
	s.mu.Unlock()

	s.emit(EventQueued, s.snapshot(job), nil)
	return result, nil
}

// WaitIdle blocks until no job is queued or running, or ctx is done.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	return s.registry.waitIdle(ctx)
}

// Stop stops admitting jobs and waits for running jobs to finish.
//
// Jobs still queued are failed with [ErrStopped]. If ctx expires before
// running jobs return, they are force-cancelled and Stop still waits for
// their cleanup before returning ctx's error. Stop is idempotent.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.submitMu.Lock()
	s.mu.Lock()
	s.stopped = true
	s.stopLoop()
	s.mu.Unlock()
	s.submitMu.Unlock()

	s.loopWG.Wait()

	for _, job := range s.registry.drain() {
		s.finishJob(job, ErrStopped)
	}

	done := make(chan struct{})
	go func() {
		s.units.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("force-cancelling running jobs", "running", s.registry.Status().Running)
		s.cancelUnit()
		<-done
		return ctx.Err()
	}
}

// startLoopLocked must be called with s.mu held.
func (s *Scheduler) startLoopLocked() {
	if s.loopRunning || s.stopped {
		return
	}
	s.loopRunning = true
	s.loopWG.Add(1)
	go s.loop(s.loopCtx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.loopWG.Done()
	defer func() {
		if r := recover(); r != nil {
			s.recovered("admission loop", "", r)
		}
		s.mu.Lock()
		s.loopRunning = false
		// restart if work arrived while exiting
		if ctx.Err() == nil && s.registry.Status().Queued > 0 {
			s.startLoopLocked()
		}
		s.mu.Unlock()
	}()

	for {
		job, err := s.registry.next(ctx)
		if err != nil {
			return
		}
		if err := s.admit(ctx, job); err != nil {
			s.logger.Warn("job admission failed", "job_id", job.ID, "error", err)
		}
	}
}

// admit starts job under a permit. On any failure, including a panic, the
// job is failed and an acquired permit is released.
func (s *Scheduler) admit(ctx context.Context, job *Job) (err error) {
	acquired := false
	defer func() {
		if r := recover(); r != nil {
			err = s.recovered("admission", job.ID, r)
		}
		if err != nil {
			if acquired {
				s.sem.Release(1)
			}
			s.finishJob(job, err)
		}
	}()

	if s.check != nil {
		if err := s.check(job.Params); err != nil {
			return fmt.Errorf("admission check: %w", err)
		}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return ErrStopped
	}
	acquired = true

	unitCtx, cancel := context.WithCancel(s.unitCtx)
	info := s.registry.markRunning(job, cancel)
	s.emit(EventRunning, info, nil)

	s.units.Add(1)
	go s.execute(unitCtx, job)
	return nil
}

// execute runs one job. Its deferred cleanup is the only place a running
// job's permit is released.
func (s *Scheduler) execute(ctx context.Context, job *Job) {
	var err error
	defer s.units.Done()
	defer s.sem.Release(1)
	defer func() {
		if r := recover(); r != nil {
			err = s.recovered("job", job.ID, r)
		}
		s.finishJob(job, err)
	}()

	s.logger.Info("job started", "job_id", job.ID, "test_suite", job.Params.Suite)
	err = s.run(ctx, job.ID, job.Params)
}

func (s *Scheduler) finishJob(job *Job, err error) {
	info, evicted := s.registry.finish(job, err)

	kind := EventCompleted
	if err != nil {
		kind = EventFailed
		s.logger.Warn("job failed", "job_id", job.ID, "test_suite", info.Suite, "error", err)
	} else {
		s.logger.Info("job completed", "job_id", job.ID, "test_suite", info.Suite)
	}
	s.emit(kind, info, evicted)
}

func (s *Scheduler) snapshot(job *Job) JobInfo {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	return job.info()
}

// emit delivers a transition and any history evictions it caused.
func (s *Scheduler) emit(kind EventKind, info JobInfo, evicted []JobInfo) {
	if s.observe == nil {
		return
	}
	s.observeSafe(Event{Kind: kind, Job: info})
	for _, e := range evicted {
		s.observeSafe(Event{Kind: EventEvicted, Job: e})
	}
}

func (s *Scheduler) observeSafe(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.recovered("observer", ev.Job.ID, r)
		}
	}()
	s.observe(ev)
}

// recovered logs a panic with a correlation ID and converts it to an error.
func (s *Scheduler) recovered(where, jobID string, r any) error {
	correlationID := uuid.NewString()
	s.logger.Error(where+" panic",
		"correlation_id", correlationID,
		"job_id", jobID,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()),
	)
	return fmt.Errorf("%s panic (correlation_id: %s)", where, correlationID)
}
