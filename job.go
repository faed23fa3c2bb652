package observatory

import (
	"github.com/jpalmerr/observatory/internal/notify"
	"github.com/jpalmerr/observatory/internal/probe"
	"github.com/jpalmerr/observatory/internal/queue"
	"github.com/jpalmerr/observatory/internal/stats"
	"github.com/jpalmerr/observatory/internal/store"
)

// Suite names accepted by [Observatory.SubmitJob].
const (
	SuiteReliability   = probe.KindReliability
	SuiteAccessGroup   = probe.KindAccessGroupPerf
	SuiteSingleRequest = probe.KindSingleRequest
	SuiteMock          = probe.KindMock
)

type (
	// RunRequest is the full parameter set of a submission. Two requests
	// with equal fields (model order aside) are the same job.
	RunRequest = queue.Params

	// SubmitResult is returned for an accepted submission.
	SubmitResult = queue.SubmitResult

	// QueueStatus is a snapshot of queue occupancy.
	QueueStatus = queue.QueueStatus

	// JobInfo is a credential-free snapshot of a job.
	JobInfo = queue.JobInfo

	// JobState is the lifecycle state of a job.
	JobState = queue.State

	// DuplicateError is returned when an equal job is queued or running.
	DuplicateError = queue.DuplicateError

	// JobRecord is the stored view of a job, including its summary once
	// the run finishes.
	JobRecord = store.JobRecord

	// Summary is the aggregated result of a run.
	Summary = stats.Summary

	// Scenario pairs a credential and model with an expected outcome.
	Scenario = probe.Scenario

	// Notifier receives run outcomes.
	Notifier = notify.Notifier

	// RunResult and RunFailure are what a [Notifier] receives.
	RunResult  = notify.Result
	RunFailure = notify.Failure
)

const (
	JobQueued    = queue.StateQueued
	JobRunning   = queue.StateRunning
	JobCompleted = queue.StateCompleted
	JobFailed    = queue.StateFailed
)

var (
	// ErrDuplicate matches every [DuplicateError].
	ErrDuplicate = queue.ErrDuplicate

	// ErrStopped is returned once shutdown has begun.
	ErrStopped = queue.ErrStopped

	// ErrUnknownSuite is returned for a suite name that is not registered.
	ErrUnknownSuite = probe.ErrUnknownSuite
)

// JobEvent is delivered to job callbacks on every transition.
//
// Kind is one of "queued", "running", "completed", "failed" or "evicted".
// Evicted means the job left completed history and can no longer be looked
// up.
type JobEvent struct {
	Kind string
	Job  JobInfo
}

func toRecord(info JobInfo) JobRecord {
	rec := JobRecord{
		ID:            info.ID,
		Suite:         info.Suite,
		DeploymentURL: info.DeploymentURL,
		Models:        info.Models,
		State:         string(info.State),
		QueuedAt:      info.QueuedAt,
		StartedAt:     info.StartedAt,
		CompletedAt:   info.CompletedAt,
	}
	if info.Error != "" {
		msg := info.Error
		rec.Error = &msg
	}
	return rec
}
