// Package worker executes queued scrape jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/media-scraper/internal/metrics"
	"github.com/JakeFAU/media-scraper/internal/registry"
	"github.com/JakeFAU/media-scraper/internal/scraper"
)

// Defaults applied when Config leaves a field unset.
const (
	DefaultAttempts = 3
	DefaultBackoff  = 2 * time.Second
)

const (
	publishTimeout = 10 * time.Second
	// maxBackoffDoublings caps the exponent so large attempt counts cannot overflow.
	maxBackoffDoublings = 16
)

// Job status messages surfaced to clients.
const (
	MessageProcessing = "Processing URLs..."
	MessageRetrying   = "Retrying after pipeline error"
	MessageCompleted  = "Scraping completed successfully"
	MessageFailed     = "Scraping failed"
)

// Config controls Worker behavior.
type Config struct {
	// Attempts is the total number of tries per job, including the first.
	Attempts int
	// Backoff is the delay before the second attempt; it doubles after each retry.
	Backoff time.Duration
	// Topic receives a completion event per terminal job when non-empty.
	Topic string
}

// StatusStore is the subset of the job registry a worker writes to.
type StatusStore interface {
	Update(id string, t registry.Transition) (scraper.ScrapeJob, error)
	RecordAttempt(id string, attempt int, message string) error
}

// Worker consumes queue items and runs each job to a terminal status.
type Worker struct {
	queue     scraper.Queue
	scraper   scraper.BatchScraper
	statuses  StatusStore
	publisher scraper.Publisher
	clock     scraper.Clock
	tracker   *Tracker
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue scraper.Queue,
	batch scraper.BatchScraper,
	statuses StatusStore,
	publisher scraper.Publisher,
	clock scraper.Clock,
	tracker *Tracker,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if tracker == nil {
		tracker = &Tracker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		scraper:   batch,
		statuses:  statuses,
		publisher: publisher,
		clock:     clock,
		tracker:   tracker,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, scraper.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item scraper.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID))

	if _, err := w.statuses.Update(item.JobID, registry.Transition{
		To:      scraper.JobStatusProcessing,
		At:      w.clock.Now(),
		Message: MessageProcessing,
		Attempt: 1,
	}); err != nil {
		logger.Error("mark job processing failed", zap.Error(err))
		return
	}

	w.tracker.startActive()
	results, attempts, err := w.runAttempts(ctx, item, logger)
	w.tracker.endActive()

	if err != nil {
		w.finish(ctx, item, logger, registry.Transition{
			To:      scraper.JobStatusFailed,
			At:      w.clock.Now(),
			Message: MessageFailed,
			Error:   err.Error(),
			Attempt: attempts,
		})
		return
	}
	w.finish(ctx, item, logger, registry.Transition{
		To:      scraper.JobStatusCompleted,
		At:      w.clock.Now(),
		Message: MessageCompleted,
		Results: results,
		Attempt: attempts,
	})
}

// runAttempts retries the whole batch on pipeline errors with exponential
// backoff. While waiting the job counts as delayed rather than active.
func (w *Worker) runAttempts(
	ctx context.Context,
	item scraper.QueueItem,
	logger *zap.Logger,
) ([]scraper.ScrapeResult, int, error) {
	for attempt := 1; ; attempt++ {
		results, err := w.scraper.ScrapeBatch(ctx, item.URLs)
		if err == nil {
			return results, attempt, nil
		}
		if ctx.Err() != nil {
			return nil, attempt, fmt.Errorf("job interrupted: %w", ctx.Err())
		}
		if !scraper.IsPipeline(err) || attempt >= w.cfg.Attempts {
			logger.Error("job attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil, attempt, err
		}

		delay := w.backoff(attempt)
		logger.Warn("job attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		metrics.ObserveJobRetry()
		if recErr := w.statuses.RecordAttempt(item.JobID, attempt+1, MessageRetrying); recErr != nil {
			logger.Warn("record attempt failed", zap.Error(recErr))
		}
		if err := w.wait(ctx, delay); err != nil {
			return nil, attempt, fmt.Errorf("job interrupted during backoff: %w", err)
		}
	}
}

func (w *Worker) backoff(attempt int) time.Duration {
	doublings := min(max(attempt-1, 0), maxBackoffDoublings)
	return w.cfg.Backoff * time.Duration(1<<doublings)
}

func (w *Worker) wait(ctx context.Context, d time.Duration) error {
	w.tracker.startDelay()
	defer w.tracker.endDelay()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *Worker) finish(ctx context.Context, item scraper.QueueItem, logger *zap.Logger, t registry.Transition) {
	job, err := w.statuses.Update(item.JobID, t)
	if err != nil {
		logger.Error("final job status update failed", zap.Error(err))
		return
	}
	metrics.ObserveJob(string(job.Status))
	logger.Info("job finished",
		zap.String("status", string(job.Status)),
		zap.Int("urls", len(job.URLs)),
		zap.Int("attempts", job.Attempts),
	)
	w.publishResult(ctx, job, logger)
}

func (w *Worker) publishResult(ctx context.Context, job scraper.ScrapeJob, logger *zap.Logger) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	succeeded := 0
	for _, r := range job.Results {
		if r.Success {
			succeeded++
		}
	}
	payload := map[string]any{
		"job_id":       job.ID,
		"status":       job.Status,
		"urls":         job.URLs,
		"attempts":     job.Attempts,
		"result_count": len(job.Results),
		"succeeded":    succeeded,
		"error":        job.Error,
		"timestamp":    w.clock.Now().Format(time.RFC3339),
	}
	// Shutdown must not drop the completion event of a job that just finished.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	id, err := w.publisher.Publish(pubCtx, w.cfg.Topic, payload)
	if err != nil {
		logger.Warn("publish job event failed", zap.Error(err))
		return
	}
	logger.Debug("job event published", zap.String("message_id", id))
}
