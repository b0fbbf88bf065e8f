// Package dispatcher admits scrape jobs and manages worker fan-out over the
// job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/media-scraper/internal/metrics"
	"github.com/JakeFAU/media-scraper/internal/registry"
	"github.com/JakeFAU/media-scraper/internal/scraper"
	"github.com/JakeFAU/media-scraper/internal/worker"
)

// MessageQueued is the status message of a newly admitted job.
const MessageQueued = "Job queued for processing"

// Config controls admission and cleanup.
type Config struct {
	MaxURLs         int
	Sweep           registry.SweepPolicy
	CleanupInterval time.Duration
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue    scraper.Queue
	workers  []*worker.Worker
	registry *registry.Registry
	ids      scraper.IDGenerator
	clock    scraper.Clock
	tracker  *worker.Tracker
	cfg      Config
	logger   *zap.Logger
}

// New creates a Dispatcher. tracker must be the one shared by workers.
func New(
	queue scraper.Queue,
	workers []*worker.Worker,
	reg *registry.Registry,
	ids scraper.IDGenerator,
	clock scraper.Clock,
	tracker *worker.Tracker,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if tracker == nil {
		tracker = &worker.Tracker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		workers:  workers,
		registry: reg,
		ids:      ids,
		clock:    clock,
		tracker:  tracker,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run starts all workers and the optional cleanup ticker, then blocks until
// the context finishes and every worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	if d.cfg.CleanupInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.cleanupLoop(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit validates urls, registers a queued job, and enqueues it. Validation
// failures create no job. A full or closed queue fails the job at once and
// returns a PipelineError.
func (d *Dispatcher) Submit(ctx context.Context, urls []string) (scraper.ScrapeJob, error) {
	if err := scraper.ValidateURLs(urls, d.cfg.MaxURLs); err != nil {
		return scraper.ScrapeJob{}, err
	}
	id, err := d.ids.NewID()
	if err != nil {
		return scraper.ScrapeJob{}, fmt.Errorf("generate job id: %w", err)
	}
	now := d.clock.Now()
	job := scraper.ScrapeJob{
		ID:        id,
		Status:    scraper.JobStatusQueued,
		URLs:      append([]string(nil), urls...),
		Message:   MessageQueued,
		CreatedAt: now,
	}
	if err := d.registry.Create(job); err != nil {
		return scraper.ScrapeJob{}, fmt.Errorf("register job: %w", err)
	}
	if err := d.Enqueue(ctx, scraper.QueueItem{JobID: id, URLs: job.URLs, Submitted: now.UnixMilli()}); err != nil {
		if _, upErr := d.registry.Update(id, registry.Transition{
			To:      scraper.JobStatusFailed,
			At:      d.clock.Now(),
			Message: worker.MessageFailed,
			Error:   err.Error(),
		}); upErr != nil {
			d.logger.Error("mark unqueued job failed", zap.String("job_id", id), zap.Error(upErr))
		}
		metrics.ObserveJob(string(scraper.JobStatusFailed))
		return scraper.ScrapeJob{}, &scraper.PipelineError{Op: "enqueue", Err: err}
	}
	d.logger.Info("job queued", zap.String("job_id", id), zap.Int("urls", len(urls)))
	return job, nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item scraper.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Job returns a copy of one job.
func (d *Dispatcher) Job(id string) (scraper.ScrapeJob, bool) {
	return d.registry.Get(id)
}

// Jobs returns copies of every tracked job, newest first.
func (d *Dispatcher) Jobs() []scraper.ScrapeJob {
	return d.registry.List()
}

// Stats reports queue depth per lifecycle bucket.
func (d *Dispatcher) Stats() scraper.QueueStats {
	counts := d.registry.Counts()
	return scraper.QueueStats{
		Waiting:   d.queue.Len(),
		Active:    d.tracker.Active(),
		Completed: counts[scraper.JobStatusCompleted],
		Failed:    counts[scraper.JobStatusFailed],
		Delayed:   d.tracker.Delayed(),
	}
}

// Sweep evicts old terminal jobs according to the configured policy.
func (d *Dispatcher) Sweep() registry.SweepResult {
	res := d.registry.Sweep(d.clock.Now(), d.cfg.Sweep)
	metrics.ObserveSwept(string(scraper.JobStatusCompleted), res.Completed)
	metrics.ObserveSwept(string(scraper.JobStatusFailed), res.Failed)
	if res.Completed > 0 || res.Failed > 0 {
		d.logger.Info("swept jobs", zap.Int("completed", res.Completed), zap.Int("failed", res.Failed))
	}
	return res
}

func (d *Dispatcher) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}
