// Package async tracks background directory indexing jobs.
package async

import (
	"sync"
	"time"
)

// JobStatus is the overall state of a job.
type JobStatus string

const (
	// StatusRunning means files are still queued or being indexed.
	StatusRunning JobStatus = "running"
	// StatusDone means every file of the job has been processed.
	StatusDone JobStatus = "done"
	// StatusCancelled means the job stopped before all files were processed.
	StatusCancelled JobStatus = "cancelled"
)

// JobSnapshot is an immutable view of a job.
type JobSnapshot struct {
	ID             string     `json:"job_id"`
	Root           string     `json:"directory"`
	Division       string     `json:"division,omitempty"`
	Status         string     `json:"status"`
	FilesTotal     int        `json:"files_total"`
	FilesProcessed int        `json:"files_processed"`
	PagesIndexed   int        `json:"pages_indexed"`
	Failures       int        `json:"failures"`
	ProgressPct    float64    `json:"progress_pct"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	ElapsedSeconds int        `json:"elapsed_seconds"`
	LastError      string     `json:"last_error,omitempty"`
}

// Job is the progress of one directory indexing request. It is safe for
// concurrent use by the workers indexing its files.
type Job struct {
	mu sync.RWMutex

	id       string
	root     string
	division string
	now      func() time.Time

	status     JobStatus
	filesTotal int
	processed  int
	pages      int
	failures   int
	startTime  time.Time
	finishTime time.Time
	lastError  string
}

func newJob(id, root, division string, total int, now func() time.Time) *Job {
	j := &Job{
		id:         id,
		root:       root,
		division:   division,
		now:        now,
		status:     StatusRunning,
		filesTotal: total,
		startTime:  now(),
	}
	if total == 0 {
		j.status = StatusDone
		j.finishTime = j.startTime
	}
	return j
}

// ID returns the job identifier.
func (j *Job) ID() string {
	return j.id
}

// FileDone records the outcome of one file. The job is done once every
// file is accounted for; failed files still count as processed.
func (j *Job) FileDone(pages int, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusRunning {
		return
	}
	j.processed++
	j.pages += pages
	if err != nil {
		j.failures++
		j.lastError = err.Error()
	}
	if j.processed >= j.filesTotal {
		j.status = StatusDone
		j.finishTime = j.now()
	}
}

// Cancel marks a running job as stopped with the given reason.
func (j *Job) Cancel(reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusRunning {
		return
	}
	j.status = StatusCancelled
	j.lastError = reason
	j.finishTime = j.now()
}

// Running reports whether files of the job are still pending.
func (j *Job) Running() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.status == StatusRunning
}

// Snapshot returns a copy of the current progress.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	snap := JobSnapshot{
		ID:             j.id,
		Root:           j.root,
		Division:       j.division,
		Status:         string(j.status),
		FilesTotal:     j.filesTotal,
		FilesProcessed: j.processed,
		PagesIndexed:   j.pages,
		Failures:       j.failures,
		StartedAt:      j.startTime,
		LastError:      j.lastError,
	}
	if j.filesTotal > 0 {
		snap.ProgressPct = float64(j.processed) / float64(j.filesTotal) * 100.0
	} else {
		snap.ProgressPct = 100
	}

	end := j.now()
	if !j.finishTime.IsZero() {
		finished := j.finishTime
		snap.FinishedAt = &finished
		end = finished
	}
	snap.ElapsedSeconds = int(end.Sub(j.startTime).Seconds())
	return snap
}
