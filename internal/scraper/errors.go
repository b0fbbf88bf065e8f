package scraper

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job, page, or asset does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIllegalTransition is returned when a job status change violates the lifecycle.
	ErrIllegalTransition = errors.New("illegal job status transition")

	// ErrJobExists is returned when a job ID is registered twice.
	ErrJobExists = errors.New("job already exists")

	// ErrQueueClosed is returned once the queue has been shut down.
	ErrQueueClosed = errors.New("queue closed")

	// ErrQueueFull is returned when the queue is at capacity.
	ErrQueueFull = errors.New("queue full")
)

// ValidationError reports bad client input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for a request field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// FetchError wraps a network, timeout, or HTTP status failure for one URL.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError reports content that could not be parsed.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// PipelineError is an infrastructure fault (persistence, queue) that fails
// the whole job attempt and triggers a job-level retry.
type PipelineError struct {
	Op  string
	Err error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsPipeline reports whether err carries a PipelineError.
func IsPipeline(err error) bool {
	var p *PipelineError
	return errors.As(err, &p)
}
