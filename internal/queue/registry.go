package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Registry tracks jobs by fingerprint through their lifecycle.
//
// Queued and running jobs live in separate indices; queued jobs are also kept
// in a FIFO. Finished jobs move into a bounded [History]. Every method is
// atomic with respect to the others. Only the [Scheduler] transitions job
// state; everyone else reads snapshots.
type Registry struct {
	mu            sync.RWMutex
	maxConcurrent int
	queued        map[string]*Job
	running       map[string]*Job
	fifo          []*Job
	history       *History

	// evicted collects history evictions until the transition that caused
	// them returns
	evicted []JobInfo

	// changed is closed and replaced on every state change
	changed chan struct{}

	now func() time.Time
}

// NewRegistry creates an empty [Registry].
func NewRegistry(maxConcurrent, historyCapacity int) (*Registry, error) {
	if maxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrency must be positive, got %d", maxConcurrent)
	}

	r := &Registry{
		maxConcurrent: maxConcurrent,
		queued:        make(map[string]*Job),
		running:       make(map[string]*Job),
		changed:       make(chan struct{}),
		now:           time.Now,
	}

	h, err := NewHistory(historyCapacity, func(j *Job) {
		r.evicted = append(r.evicted, j.info())
	})
	if err != nil {
		return nil, err
	}
	r.history = h
	return r, nil
}

// IsDuplicate reports whether a job with the same fingerprint is queued or
// running.
func (r *Registry) IsDuplicate(p Params) bool {
	_, ok := r.DuplicateInfo(p)
	return ok
}

// DuplicateInfo describes the queued or running job sharing p's fingerprint.
func (r *Registry) DuplicateInfo(p Params) (DuplicateInfo, bool) {
	id := Fingerprint(p)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if j, ok := r.running[id]; ok {
		return DuplicateInfo{ID: id, State: j.state, StartedAt: copyTime(j.startedAt)}, true
	}
	if j, ok := r.queued[id]; ok {
		queuedAt := j.queuedAt
		return DuplicateInfo{ID: id, State: j.state, QueuedAt: &queuedAt}, true
	}
	return DuplicateInfo{}, false
}

// Submit records a new queued job and returns it with its 1-based queue
// position.
//
// Submit does not check for duplicates. Callers must check [Registry.IsDuplicate]
// first; the [Scheduler] does both under one lock.
func (r *Registry) Submit(p Params) (*Job, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := newJob(p, r.now())
	r.queued[j.ID] = j
	r.fifo = append(r.fifo, j)
	r.notifyLocked()
	return j, len(r.queued)
}

// Status returns a snapshot of queue occupancy.
func (r *Registry) Status() QueueStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return QueueStatus{
		MaxConcurrent:     r.maxConcurrent,
		Running:           len(r.running),
		Queued:            len(r.queued),
		RecentlyCompleted: r.history.Len(),
	}
}

// RunningJobs returns a snapshot of every running job keyed by fingerprint.
func (r *Registry) RunningJobs() map[string]JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]JobInfo, len(r.running))
	for id, j := range r.running {
		out[id] = j.info()
	}
	return out
}

// Lookup returns the job with the given fingerprint, preferring an active
// job over a finished one.
func (r *Registry) Lookup(id string) (JobInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if j, ok := r.running[id]; ok {
		return j.info(), true
	}
	if j, ok := r.queued[id]; ok {
		return j.info(), true
	}
	if j, ok := r.history.Peek(id); ok {
		return j.info(), true
	}
	return JobInfo{}, false
}

// Completed returns finished jobs from oldest to newest completion.
func (r *Registry) Completed() []JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := r.history.Jobs()
	out := make([]JobInfo, len(jobs))
	for i, j := range jobs {
		out[i] = j.info()
	}
	return out
}

// next pops the head of the FIFO, blocking until one exists or ctx is done.
// The job stays in the queued index until it is marked running.
func (r *Registry) next(ctx context.Context) (*Job, error) {
	for {
		r.mu.Lock()
		if len(r.fifo) > 0 {
			j := r.fifo[0]
			r.fifo[0] = nil
			r.fifo = r.fifo[1:]
			r.mu.Unlock()
			return j, nil
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

// markRunning moves j from the queued index to the running index.
func (r *Registry) markRunning(j *Job, cancel context.CancelFunc) JobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	j.state = StateRunning
	j.startedAt = &now
	j.cancel = cancel
	delete(r.queued, j.ID)
	r.running[j.ID] = j
	r.notifyLocked()
	return j.info()
}

// finish moves j into history as Completed, or Failed when err is non-nil.
// It returns the final snapshot and any jobs evicted from history as a
// result.
func (r *Registry) finish(j *Job, err error) (JobInfo, []JobInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if j.state.Terminal() {
		return j.info(), nil
	}

	now := r.now()
	j.completedAt = &now
	j.err = err
	if err != nil {
		j.state = StateFailed
	} else {
		j.state = StateCompleted
	}
	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}

	delete(r.queued, j.ID)
	delete(r.running, j.ID)
	r.removeFromFIFOLocked(j)

	r.history.add(j)
	evicted := r.evicted
	r.evicted = nil

	close(j.done)
	r.notifyLocked()
	return j.info(), evicted
}

// drain removes every job still waiting in the FIFO.
func (r *Registry) drain() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.fifo
	r.fifo = nil
	return out
}

// waitIdle blocks until nothing is queued or running.
func (r *Registry) waitIdle(ctx context.Context) error {
	for {
		r.mu.RLock()
		idle := len(r.queued) == 0 && len(r.running) == 0
		changed := r.changed
		r.mu.RUnlock()

		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (r *Registry) removeFromFIFOLocked(j *Job) {
	for i, q := range r.fifo {
		if q == j {
			r.fifo = append(r.fifo[:i], r.fifo[i+1:]...)
			return
		}
	}
}

func (r *Registry) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}
