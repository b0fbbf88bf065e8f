// Package registry tracks the status of asynchronous scrape jobs for the
// lifetime of the process.
//
// The map lock guards membership only. Each job carries its own mutex, so
// updating one job never blocks reads or writes of another.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/media-scraper/internal/scraper"
)

type entry struct {
	mu  sync.Mutex
	job scraper.ScrapeJob
}

// Registry is a process-scoped, concurrency-safe job status store.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{jobs: make(map[string]*entry)}
}

// Create registers a new job. The job must be queued.
func (r *Registry) Create(job scraper.ScrapeJob) error {
	if job.ID == "" {
		return scraper.NewValidationError("jobId", "is required")
	}
	if job.Status == "" {
		job.Status = scraper.JobStatusQueued
	}
	if job.Status != scraper.JobStatusQueued {
		return fmt.Errorf("create job %s: %w: initial status %s", job.ID, scraper.ErrIllegalTransition, job.Status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, scraper.ErrJobExists)
	}
	r.jobs[job.ID] = &entry{job: job.Clone()}
	return nil
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (scraper.ScrapeJob, bool) {
	e := r.lookup(id)
	if e == nil {
		return scraper.ScrapeJob{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), true
}

// List returns copies of all jobs, newest first.
func (r *Registry) List() []scraper.ScrapeJob {
	out := make([]scraper.ScrapeJob, 0)
	for _, e := range r.snapshot() {
		e.mu.Lock()
		out = append(out, e.job.Clone())
		e.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Transition describes one status change and the fields it sets.
type Transition struct {
	To      scraper.JobStatus
	At      time.Time
	Message string
	Results []scraper.ScrapeResult
	Error   string
	Attempt int
}

// Update applies t to the job atomically with respect to other updates of
// the same job. Illegal status changes return scraper.ErrIllegalTransition and
// leave the job untouched.
func (r *Registry) Update(id string, t Transition) (scraper.ScrapeJob, error) {
	e := r.lookup(id)
	if e == nil {
		return scraper.ScrapeJob{}, fmt.Errorf("update job %s: %w", id, scraper.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.job.Status.CheckTransition(t.To); err != nil {
		return e.job.Clone(), fmt.Errorf("update job %s: %w", id, err)
	}
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	e.job.Status = t.To
	if t.Message != "" {
		e.job.Message = t.Message
	}
	if t.Attempt > 0 {
		e.job.Attempts = t.Attempt
	}
	switch t.To {
	case scraper.JobStatusProcessing:
		e.job.StartedAt = &at
	case scraper.JobStatusCompleted:
		e.job.CompletedAt = &at
		e.job.Results = append([]scraper.ScrapeResult(nil), t.Results...)
		e.job.Error = ""
	case scraper.JobStatusFailed:
		e.job.CompletedAt = &at
		e.job.Error = t.Error
	}
	return e.job.Clone(), nil
}

// RecordAttempt stores the attempt counter of a processing job without
// changing its status.
func (r *Registry) RecordAttempt(id string, attempt int, message string) error {
	e := r.lookup(id)
	if e == nil {
		return fmt.Errorf("record attempt %s: %w", id, scraper.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status != scraper.JobStatusProcessing {
		return fmt.Errorf("record attempt %s: %w: job is %s", id, scraper.ErrIllegalTransition, e.job.Status)
	}
	e.job.Attempts = attempt
	if message != "" {
		e.job.Message = message
	}
	return nil
}

// Counts returns the number of jobs per status.
func (r *Registry) Counts() map[scraper.JobStatus]int {
	counts := map[scraper.JobStatus]int{
		scraper.JobStatusQueued:     0,
		scraper.JobStatusProcessing: 0,
		scraper.JobStatusCompleted:  0,
		scraper.JobStatusFailed:     0,
	}
	for _, e := range r.snapshot() {
		e.mu.Lock()
		counts[e.job.Status]++
		e.mu.Unlock()
	}
	return counts
}

// SweepPolicy bounds how long and how many terminal jobs are retained.
// A zero age or count disables that bound.
type SweepPolicy struct {
	CompletedMaxAge time.Duration
	FailedMaxAge    time.Duration
	KeepCompleted   int
	KeepFailed      int
}

// SweepResult reports how many jobs a sweep evicted per status.
type SweepResult struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Sweep evicts terminal jobs that are older than the policy allows or that
// exceed the per-status retention count (oldest first). Queued and
// processing jobs are never evicted.
func (r *Registry) Sweep(now time.Time, policy SweepPolicy) SweepResult {
	type terminal struct {
		id       string
		status   scraper.JobStatus
		finished time.Time
	}
	var completed, failed []terminal
	for id, e := range r.snapshotWithIDs() {
		e.mu.Lock()
		job := e.job
		e.mu.Unlock()
		if !job.Status.Terminal() {
			continue
		}
		finished := job.CreatedAt
		if job.CompletedAt != nil {
			finished = *job.CompletedAt
		}
		t := terminal{id: id, status: job.Status, finished: finished}
		if job.Status == scraper.JobStatusCompleted {
			completed = append(completed, t)
		} else {
			failed = append(failed, t)
		}
	}

	evict := func(list []terminal, maxAge time.Duration, keep int) []string {
		sort.Slice(list, func(i, j int) bool { return list[i].finished.After(list[j].finished) })
		var ids []string
		for i, t := range list {
			tooOld := maxAge > 0 && now.Sub(t.finished) > maxAge
			overCount := keep > 0 && i >= keep
			if tooOld || overCount {
				ids = append(ids, t.id)
			}
		}
		return ids
	}
	completedIDs := evict(completed, policy.CompletedMaxAge, policy.KeepCompleted)
	failedIDs := evict(failed, policy.FailedMaxAge, policy.KeepFailed)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range append(completedIDs, failedIDs...) {
		delete(r.jobs, id)
	}
	return SweepResult{Completed: len(completedIDs), Failed: len(failedIDs)}
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Clear drops every job. It is called on shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = make(map[string]*entry)
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[id]
}

func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		out = append(out, e)
	}
	return out
}

func (r *Registry) snapshotWithIDs() map[string]*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*entry, len(r.jobs))
	for id, e := range r.jobs {
		out[id] = e
	}
	return out
}
