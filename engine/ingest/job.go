package ingest

import (
	"sync"
	"time"

	"github.com/WessleyAI/docustream/engine/domain"
	"github.com/google/uuid"
)

// Job is a document waiting to be ingested. Path names a temp file owned by
// the job; the runner removes it.
type Job struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Path        string    `json:"path"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// NewJob returns a job with a fresh id.
func NewJob(filename, path string) Job {
	return Job{ID: uuid.NewString(), Filename: filename, Path: path, SubmittedAt: time.Now().UTC()}
}

// State is the lifecycle position of a job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Done reports whether the job has finished.
func (s State) Done() bool { return s == StateSucceeded || s == StateFailed }

// JobStatus is the externally visible record of a job.
type JobStatus struct {
	ID              string      `json:"id"`
	Filename        string      `json:"filename"`
	State           State       `json:"state"`
	ChunksProcessed int         `json:"chunks_processed"`
	Error           string      `json:"error,omitempty"`
	ErrorKind       domain.Kind `json:"error_kind,omitempty"`
	SubmittedAt     time.Time   `json:"submitted_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
}

// Tracker keeps job statuses in memory. Once more than capacity jobs are
// known, the oldest finished ones are evicted.
type Tracker struct {
	mu       sync.RWMutex
	capacity int
	jobs     map[string]*JobStatus
	order    []string
	now      func() time.Time
}

// NewTracker creates a tracker holding about capacity jobs; capacity <= 0
// means 1024.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Tracker{
		capacity: capacity,
		jobs:     make(map[string]*JobStatus),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Queued registers job.
func (t *Tracker) Queued(job Job) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[job.ID]; !ok {
		t.order = append(t.order, job.ID)
	}
	t.jobs[job.ID] = &JobStatus{
		ID:          job.ID,
		Filename:    job.Filename,
		State:       StateQueued,
		SubmittedAt: job.SubmittedAt,
	}
	t.evict()
}

// Started marks job as running, registering it if needed.
func (t *Tracker) Started(job Job) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[job.ID]
	if !ok {
		st = &JobStatus{ID: job.ID, Filename: job.Filename, SubmittedAt: job.SubmittedAt}
		t.jobs[job.ID] = st
		t.order = append(t.order, job.ID)
	}
	now := t.now()
	st.State = StateRunning
	st.StartedAt = &now
	t.evict()
}

// Finished records the result of job.
func (t *Tracker) Finished(job Job, res Result) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[job.ID]
	if !ok {
		return
	}
	now := t.now()
	st.FinishedAt = &now
	st.ChunksProcessed = res.ChunksProcessed
	st.Error = res.Error
	st.ErrorKind = res.ErrorKind
	if res.Status == StatusSuccess {
		st.State = StateSucceeded
	} else {
		st.State = StateFailed
	}
}

// Apply merges a status reported by another process for a job this tracker
// already knows. A finished job never moves back to an unfinished state.
func (t *Tracker) Apply(st JobStatus) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.jobs[st.ID]
	if !ok {
		return
	}
	if cur.State.Done() && !st.State.Done() {
		return
	}
	if st.SubmittedAt.IsZero() {
		st.SubmittedAt = cur.SubmittedAt
	}
	*cur = st
}

// Forget drops job, e.g. when it could not be submitted.
func (t *Tracker) Forget(id string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[id]; !ok {
		return
	}
	delete(t.jobs, id)
	for i, o := range t.order {
		if o == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Get returns a copy of the status of id.
func (t *Tracker) Get(id string) (JobStatus, bool) {
	if t == nil {
		return JobStatus{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	return *st, true
}

// Len returns the number of tracked jobs.
func (t *Tracker) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}

// evict removes the oldest finished jobs while over capacity. Must hold mu.
func (t *Tracker) evict() {
	for len(t.jobs) > t.capacity {
		idx := -1
		for i, id := range t.order {
			if t.jobs[id].State.Done() {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		delete(t.jobs, t.order[idx])
		t.order = append(t.order[:idx], t.order[idx+1:]...)
	}
}
