package pipeline

import (
	"context"
	"sync"
	"time"
)

// JobStatus is the state of a conversion job. Transitions are monotonic:
// pending -> processing -> {completed | failed}, never regressing.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

var statusRank = map[JobStatus]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusCompleted:  2,
	StatusFailed:     2,
}

// ItemResult is the per-item outcome of a batch job. Failure of one item is
// a value here, not control flow: the batch always continues.
type ItemResult struct {
	ItemKey string `json:"item_key"`
	Status  string `json:"status"` // processed | skipped | failed
	Reason  string `json:"reason,omitempty"`
	Source  string `json:"source,omitempty"` // mistral_ocr | cache | local_extraction
	Pages   int    `json:"pages,omitempty"`
	Images  int    `json:"images,omitempty"`
	Tables  int    `json:"tables,omitempty"`
	Chunks  int    `json:"chunks,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ItemError records one item's failure detail.
type ItemError struct {
	ItemKey string `json:"item_key"`
	Error   string `json:"error"`
}

// Job tracks one end-to-end conversion request.
type Job struct {
	mu sync.Mutex

	ID            string
	ItemKeys      []string
	CollectionKey string
	Limit         int
	Force         bool

	status      JobStatus
	total       int
	completed   int
	currentItem string
	errors      []ItemError
	results     []ItemResult

	StartedAt   time.Time
	completedAt time.Time
	updatedAt   time.Time

	cancel context.CancelFunc
}

func NewJob(id string) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		status:    StatusPending,
		StartedAt: now,
		updatedAt: now,
	}
}

// SetStatus advances the job status. Regressions are ignored so a late
// worker update can never resurrect a finished job.
func (j *Job) SetStatus(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if statusRank[status] < statusRank[j.status] {
		return
	}
	if statusRank[j.status] == 2 && status != j.status {
		return
	}
	j.status = status
	if statusRank[status] == 2 {
		j.completedAt = time.Now()
		j.currentItem = ""
	}
	j.updatedAt = time.Now()
}

func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) SetTotal(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.total = n
	j.updatedAt = time.Now()
}

func (j *Job) SetCurrentItem(key string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.currentItem = key
	j.updatedAt = time.Now()
}

// AddResult records an item outcome and advances the completed counter.
func (j *Job) AddResult(r ItemResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, r)
	j.completed++
	if r.Status == "failed" {
		j.errors = append(j.errors, ItemError{ItemKey: r.ItemKey, Error: r.Error})
	}
	j.updatedAt = time.Now()
}

// AddError records a failure not tied to a single item.
func (j *Job) AddError(itemKey, msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, ItemError{ItemKey: itemKey, Error: msg})
	j.updatedAt = time.Now()
}

func (j *Job) HasErrors() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.errors) > 0
}

func (j *Job) setCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

// Cancel aborts the job's in-flight work, including any retry backoff wait.
func (j *Job) Cancel() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string       `json:"job_id"`
	Status      JobStatus    `json:"status"`
	Total       int          `json:"total"`
	Completed   int          `json:"completed"`
	CurrentItem string       `json:"current_item,omitempty"`
	Errors      []ItemError  `json:"errors"`
	Results     []ItemResult `json:"results"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	errs := make([]ItemError, len(j.errors))
	copy(errs, j.errors)
	results := make([]ItemResult, len(j.results))
	copy(results, j.results)

	snap := JobSnapshot{
		ID:          j.ID,
		Status:      j.status,
		Total:       j.total,
		Completed:   j.completed,
		CurrentItem: j.currentItem,
		Errors:      errs,
		Results:     results,
		StartedAt:   j.StartedAt,
	}
	if !j.completedAt.IsZero() {
		t := j.completedAt
		snap.CompletedAt = &t
	}
	return snap
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *JobStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

// List returns snapshots of all tracked jobs.
func (s *JobStore) List() []JobSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobSnapshot, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Snapshot())
	}
	return out
}

// Cleanup removes jobs untouched for longer than the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		stale := now.Sub(job.updatedAt) > s.ttl
		job.mu.Unlock()
		if stale {
			delete(s.jobs, id)
		}
	}
}
