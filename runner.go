package observatory

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/jpalmerr/observatory/internal/metrics"
	"github.com/jpalmerr/observatory/internal/probe"
	"github.com/jpalmerr/observatory/internal/queue"
	"github.com/jpalmerr/observatory/internal/stats"
)

// runJob is the scheduler's runner. It builds the suite for the job, runs
// it, stores the summary and reports the outcome.
//
// A panic in the suite is recovered here so the failure still reaches the
// notifier. The returned error carries a correlation ID, never the panic
// value.
func (o *Observatory) runJob(ctx context.Context, id string, p queue.Params) (err error) {
	logger := o.logger.With("job_id", id, "test_suite", p.Suite)

	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			logger.Error("run panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("run panic (correlation_id: %s)", correlationID)
			o.notifyFailure(ctx, p, err)
		}
	}()

	var queuedAt time.Time
	if info, ok := o.scheduler.Registry().Lookup(id); ok {
		queuedAt = info.QueuedAt
	}

	suite, err := o.newSuite(p.Suite, o.suiteConfig(id, p, logger))
	if err != nil {
		o.notifyFailure(ctx, p, err)
		return fmt.Errorf("build suite: %w", err)
	}

	summary, err := suite.Run(ctx)
	if err != nil {
		if summary.TotalRequests > 0 {
			o.store.Attach(id, queuedAt, compact(summary))
		}
		o.notifyFailure(ctx, p, err)
		return fmt.Errorf("run %s: %w", p.Suite, err)
	}

	metrics.RecordVerdict(p.Suite, summary.Passed)
	o.store.Attach(id, queuedAt, compact(summary))

	logger.Info("run finished",
		"passed", summary.Passed,
		"total_requests", summary.TotalRequests,
		"failure_rate", summary.OverallFailureRate,
		"verdict_rate", summary.VerdictRate,
		"duration_seconds", summary.DurationSeconds,
	)

	o.notifyResult(ctx, p, summary)
	return nil
}

// suiteConfig maps a submission onto the suite configuration.
func (o *Observatory) suiteConfig(id string, p queue.Params, logger *slog.Logger) probe.Config {
	cfg := o.suiteDefaults
	cfg.DeploymentURL = p.DeploymentURL
	cfg.APIKey = p.APIKey
	cfg.Models = p.Models
	cfg.DurationHours = p.DurationHours
	cfg.MaxFailureRate = p.MaxFailureRate
	cfg.RequestIntervalSeconds = p.RequestIntervalSeconds
	cfg.RunID = id
	cfg.Logger = logger

	cfg.OnAttempt = func(suite string, a stats.Attempt) {
		metrics.RecordAttempt(suite, a.Success, a.Duration)
	}
	cfg.OnProgress = func(pr probe.Progress) {
		logger.Info("run progress",
			"group", pr.Group,
			"elapsed", pr.Elapsed.Round(time.Second).String(),
			"attempts", pr.Attempts,
			"failures", pr.Failures,
		)
	}
	return cfg
}

// compact drops the per-attempt detail kept only for notifications.
func compact(s stats.Summary) stats.Summary {
	s.Attempts = nil
	return s
}

// observe is the scheduler's observer. It keeps the store and gauges in step
// with job transitions and fans out to callbacks.
func (o *Observatory) observe(ev queue.Event) {
	switch ev.Kind {
	case queue.EventEvicted:
		o.store.Delete(ev.Job.ID, ev.Job.QueuedAt)
	default:
		o.store.Update(toRecord(ev.Job))
	}

	if ev.Kind == queue.EventCompleted || ev.Kind == queue.EventFailed {
		metrics.RecordFinished(ev.Job.Suite, string(ev.Kind))
	}
	status := o.scheduler.Registry().Status()
	metrics.SetOccupancy(status.Running, status.Queued)

	if len(o.jobCallbacks) > 0 {
		event := JobEvent{Kind: string(ev.Kind), Job: ev.Job}
		for _, cb := range o.jobCallbacks {
			invokeCallbackSafe(cb, event, o.logger)
		}
	}
}

func (o *Observatory) notifyResult(ctx context.Context, p queue.Params, s stats.Summary) {
	r := RunResult{
		TestName:      s.TestName,
		Suite:         p.Suite,
		DeploymentURL: p.DeploymentURL,
		Passed:        s.Passed,
		FailureRate:   s.OverallFailureRate,
		VerdictRate:   s.VerdictRate,
		TotalRequests: s.TotalRequests,
		DurationHours: s.DurationHours,
	}
	if !s.Passed {
		r.ErrorMessage = s.FirstError()
	}
	o.deliver(ctx, p, func(ctx context.Context) error {
		return o.notifier.NotifyResult(ctx, r)
	})
}

func (o *Observatory) notifyFailure(ctx context.Context, p queue.Params, err error) {
	f := RunFailure{Suite: p.Suite, DeploymentURL: p.DeploymentURL, Error: err.Error()}
	o.deliver(ctx, p, func(ctx context.Context) error {
		return o.notifier.NotifyFailure(ctx, f)
	})
}

// deliver sends a notification even when the run itself was cancelled, and
// never lets a notifier error or panic affect the job.
func (o *Observatory) deliver(ctx context.Context, p queue.Params, send func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("notifier panic: %v", r)
			}
		}()
		return send(ctx)
	}()
	if err != nil {
		metrics.RecordNotificationError()
		o.logger.Warn("notification failed",
			"test_suite", p.Suite,
			"deployment_url", p.DeploymentURL,
			"error", err,
		)
	}
}

// invokeCallbackSafe calls a job callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(JobEvent), ev JobEvent, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job callback panicked",
				"panic", r,
				"job_id", ev.Job.ID,
			)
		}
	}()
	cb(ev)
}
