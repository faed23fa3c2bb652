package store

import (
	"time"

	"github.com/jpalmerr/observatory/internal/stats"
)

// Job states, in lifecycle order.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// JobRecord is the storage representation of a job.
//
// It is decoupled from the queue's internal types so the API shape can
// evolve independently. Credentials are never stored.
type JobRecord struct {
	ID            string     `json:"request_id"`
	Suite         string     `json:"test_suite"`
	DeploymentURL string     `json:"deployment_url"`
	Models        []string   `json:"models"`
	State         string     `json:"status"`
	QueuedAt      time.Time  `json:"queued_at"`
	StartedAt     *time.Time `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`

	// Error is set for failed jobs.
	Error *string `json:"error"`

	// Summary is attached by the runner once a run produces one.
	Summary *stats.Summary `json:"summary,omitempty"`

	// Deleted marks a record published because it left the store.
	Deleted bool `json:"deleted,omitempty"`
}

// Store defines the interface for storing and subscribing to job records.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Update stores a record and notifies all subscribers. Records are keyed
	// by ID. An update that is older than the stored record is ignored and
	// Update returns false.
	Update(rec JobRecord) bool

	// Attach sets the summary of the stored record with the given ID and
	// QueuedAt. It returns false when no such record exists.
	Attach(id string, queuedAt time.Time, summary stats.Summary) bool

	// Get returns the record for id.
	Get(id string) (JobRecord, bool)

	// GetAll returns a snapshot of all records, oldest submission first.
	GetAll() []JobRecord

	// Delete removes the record for id if it was queued at queuedAt and
	// notifies subscribers with a Deleted record.
	Delete(id string, queuedAt time.Time) bool

	// Subscribe returns a channel that receives record changes.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan JobRecord

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan JobRecord)
}

func stateRank(state string) int {
	switch state {
	case StateQueued:
		return 0
	case StateRunning:
		return 1
	default:
		return 2
	}
}

// supersedes reports whether next should replace prev.
//
// A later submission of the same job always wins. For the same submission,
// a state never moves backwards.
func supersedes(next, prev JobRecord) bool {
	if !next.QueuedAt.Equal(prev.QueuedAt) {
		return next.QueuedAt.After(prev.QueuedAt)
	}
	return stateRank(next.State) >= stateRank(prev.State)
}
