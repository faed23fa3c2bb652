package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a [Job].
//
// Transitions are one-way: Queued → Running → Completed or Failed. A job
// may also fail straight from Queued if admission fails.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether s is Completed or Failed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is one unit of scheduled work.
//
// A Job is owned by the [Registry]; all fields except ID and Params are
// guarded by the registry lock and must be read through [JobInfo] snapshots.
type Job struct {
	ID     string
	Params Params

	state       State
	queuedAt    time.Time
	startedAt   *time.Time
	completedAt *time.Time
	err         error

	// cancel aborts the job's execution unit, nil until it is running
	cancel context.CancelFunc
	done   chan struct{}
}

func newJob(p Params, now time.Time) *Job {
	p = p.Clone()
	return &Job{
		ID:       Fingerprint(p),
		Params:   p,
		state:    StateQueued,
		queuedAt: now,
		done:     make(chan struct{}),
	}
}

// Done returns a channel closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// JobInfo is a point-in-time snapshot of a [Job].
//
// It deliberately omits the credential from the submitted parameters.
type JobInfo struct {
	ID            string     `json:"request_id"`
	Suite         string     `json:"test_suite"`
	DeploymentURL string     `json:"deployment_url"`
	Models        []string   `json:"models"`
	State         State      `json:"status"`
	QueuedAt      time.Time  `json:"queued_at"`
	StartedAt     *time.Time `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	Error         string     `json:"error,omitempty"`
}

// info must be called with the registry lock held.
func (j *Job) info() JobInfo {
	ji := JobInfo{
		ID:            j.ID,
		Suite:         j.Params.Suite,
		DeploymentURL: j.Params.DeploymentURL,
		Models:        append([]string(nil), j.Params.Models...),
		State:         j.state,
		QueuedAt:      j.queuedAt,
		StartedAt:     copyTime(j.startedAt),
		CompletedAt:   copyTime(j.completedAt),
	}
	if j.err != nil {
		ji.Error = j.err.Error()
	}
	return ji
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// QueueStatus is a snapshot of queue occupancy.
type QueueStatus struct {
	MaxConcurrent     int `json:"max_concurrent_tests"`
	Running           int `json:"currently_running"`
	Queued            int `json:"queued"`
	RecentlyCompleted int `json:"recently_completed"`
}

// DuplicateInfo describes the job that a duplicate submission collided with.
//
// Exactly one of QueuedAt and StartedAt is set, matching State.
type DuplicateInfo struct {
	ID        string     `json:"request_id"`
	State     State      `json:"status"`
	QueuedAt  *time.Time `json:"queued_at,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// ErrDuplicate is matched by every [DuplicateError].
var ErrDuplicate = errors.New("duplicate job")

// DuplicateError is returned when an equal job is already queued or running.
type DuplicateError struct {
	Existing DuplicateInfo
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate job: %s is already %s", e.Existing.ID, e.Existing.State)
}

// Is makes errors.Is(err, ErrDuplicate) work for *DuplicateError.
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}
