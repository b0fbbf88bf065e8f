package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/media-scraper/internal/queue/memory"
	"github.com/JakeFAU/media-scraper/internal/registry"
	"github.com/JakeFAU/media-scraper/internal/scraper"
	"github.com/JakeFAU/media-scraper/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nil, nil, nil, fakeClock{}, nil, worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w}, registry.New(), &fakeIDs{}, fakeClock{}, nil,
		Config{CleanupInterval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil, registry.New(), &fakeIDs{}, fakeClock{}, nil,
		Config{}, zap.NewNop())

	err := dispatch.Enqueue(context.Background(), scraper.QueueItem{JobID: "job"})
	require.EqualError(t, err, "queue enqueue: boom")
}

func TestSubmitRegistersAndEnqueues(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(4)
	reg := registry.New()
	dispatch := New(queue, nil, reg, &fakeIDs{}, fakeClock{}, nil, Config{MaxURLs: 10}, zap.NewNop())

	job, err := dispatch.Submit(context.Background(), []string{"https://a.test", "https://a.test"})
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, scraper.JobStatusQueued, job.Status)
	require.Equal(t, MessageQueued, job.Message)

	stored, ok := dispatch.Job("job-1")
	require.True(t, ok)
	require.Equal(t, []string{"https://a.test", "https://a.test"}, stored.URLs)

	item, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", item.JobID)
	require.Len(t, item.URLs, 2)
}

func TestSubmitRejectsInvalidBatches(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(4)
	reg := registry.New()
	dispatch := New(queue, nil, reg, &fakeIDs{}, fakeClock{}, nil, Config{MaxURLs: 2}, zap.NewNop())

	for _, urls := range [][]string{
		nil,
		{"https://a.test", "https://b.test", "https://c.test"},
		{"https://a.test", "mailto:someone@example.com"},
	} {
		_, err := dispatch.Submit(context.Background(), urls)
		require.True(t, scraper.IsValidation(err), "urls=%v err=%v", urls, err)
	}
	require.Zero(t, reg.Len())
	require.Zero(t, queue.Len())
}

func TestSubmitMarksJobFailedWhenQueueClosed(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(1)
	queue.Close()
	reg := registry.New()
	dispatch := New(queue, nil, reg, &fakeIDs{}, fakeClock{}, nil, Config{MaxURLs: 10}, zap.NewNop())

	_, err := dispatch.Submit(context.Background(), []string{"https://a.test"})
	require.True(t, scraper.IsPipeline(err))
	require.ErrorIs(t, err, scraper.ErrQueueClosed)

	job, ok := reg.Get("job-1")
	require.True(t, ok)
	require.Equal(t, scraper.JobStatusFailed, job.Status)
}

func TestSubmitRejectsImmediatelyWhenQueueFull(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(1)
	reg := registry.New()
	dispatch := New(queue, nil, reg, &fakeIDs{}, fakeClock{}, nil, Config{MaxURLs: 10}, zap.NewNop())

	_, err := dispatch.Submit(context.Background(), []string{"https://a.test"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	_, err = dispatch.Submit(ctx, []string{"https://b.test"})
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.True(t, scraper.IsPipeline(err))
	require.ErrorIs(t, err, scraper.ErrQueueFull)
	require.NoError(t, ctx.Err())

	job, ok := reg.Get("job-2")
	require.True(t, ok)
	require.Equal(t, scraper.JobStatusFailed, job.Status)
	require.Contains(t, job.Error, "queue full")
	require.Equal(t, 1, queue.Len())
}

func TestStatsAndSweep(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(8)
	reg := registry.New()
	now := time.Now().UTC()
	dispatch := New(queue, nil, reg, &fakeIDs{}, fakeClock{}, &worker.Tracker{}, Config{
		MaxURLs: 10,
		Sweep:   registry.SweepPolicy{CompletedMaxAge: time.Hour, FailedMaxAge: time.Hour},
	}, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := dispatch.Submit(context.Background(), []string{"https://a.test"})
		require.NoError(t, err)
	}
	old := now.Add(-2 * time.Hour)
	_, err := reg.Update("job-1", registry.Transition{To: scraper.JobStatusProcessing, At: old})
	require.NoError(t, err)
	_, err = reg.Update("job-1", registry.Transition{To: scraper.JobStatusCompleted, At: old})
	require.NoError(t, err)
	_, err = reg.Update("job-2", registry.Transition{To: scraper.JobStatusFailed, At: now})
	require.NoError(t, err)

	stats := dispatch.Stats()
	require.Equal(t, scraper.QueueStats{Waiting: 3, Completed: 1, Failed: 1}, stats)

	res := dispatch.Sweep()
	require.Equal(t, registry.SweepResult{Completed: 1}, res)
	require.Len(t, dispatch.Jobs(), 2)
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ scraper.QueueItem) error {
	select {
	case q.started <- struct{}{}:
	default:
	}
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (scraper.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return scraper.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

func (q *blockingQueue) Len() int { return 0 }

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, scraper.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (scraper.QueueItem, error) {
	return scraper.QueueItem{}, nil
}

func (q *errorQueue) Len() int { return 0 }

type fakeIDs struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDs) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("job-%d", f.n), nil
}

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Now().UTC() }
