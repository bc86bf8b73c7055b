package async

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxFinished is how many finished jobs a Tracker remembers.
const DefaultMaxFinished = 20

// Tracker keeps the running jobs and the most recent finished ones.
type Tracker struct {
	mu          sync.Mutex
	jobs        map[string]*Job
	order       []string // oldest first
	maxFinished int
	now         func() time.Time
}

// NewTracker creates a Tracker remembering up to maxFinished finished
// jobs. Running jobs are never evicted.
func NewTracker(maxFinished int) *Tracker {
	if maxFinished <= 0 {
		maxFinished = DefaultMaxFinished
	}
	return &Tracker{
		jobs:        make(map[string]*Job),
		maxFinished: maxFinished,
		now:         time.Now,
	}
}

// Start registers a job over total files under root.
func (t *Tracker) Start(root, division string, total int) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := newJob(uuid.NewString(), root, division, total, t.now)
	t.jobs[job.id] = job
	t.order = append(t.order, job.id)
	t.prune()
	return job
}

// prune drops the oldest finished jobs above the limit.
func (t *Tracker) prune() {
	finished := 0
	for _, id := range t.order {
		if !t.jobs[id].Running() {
			finished++
		}
	}

	kept := t.order[:0]
	for _, id := range t.order {
		if finished > t.maxFinished && !t.jobs[id].Running() {
			delete(t.jobs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
}

// Get returns the snapshot of the job with the given ID.
func (t *Tracker) Get(id string) (JobSnapshot, bool) {
	t.mu.Lock()
	job, ok := t.jobs[id]
	t.mu.Unlock()

	if !ok {
		return JobSnapshot{}, false
	}
	return job.Snapshot(), true
}

// List returns every remembered job, newest first.
func (t *Tracker) List() []JobSnapshot {
	t.mu.Lock()
	jobs := make([]*Job, 0, len(t.order))
	for i := len(t.order) - 1; i >= 0; i-- {
		jobs = append(jobs, t.jobs[t.order[i]])
	}
	t.mu.Unlock()

	out := make([]JobSnapshot, len(jobs))
	for i, j := range jobs {
		out[i] = j.Snapshot()
	}
	return out
}

// Active returns the number of running jobs.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, j := range t.jobs {
		if j.Running() {
			n++
		}
	}
	return n
}

// CancelRunning cancels every running job, for shutdown.
func (t *Tracker) CancelRunning(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, j := range t.jobs {
		j.Cancel(reason)
	}
}
