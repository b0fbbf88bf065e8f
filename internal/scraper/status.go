package scraper

import "fmt"

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values tracked by the registry.
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

var allowedTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next is permitted.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrIllegalTransition when s cannot move to next.
func (s JobStatus) CheckTransition(next JobStatus) error {
	if !s.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
	}
	return nil
}
