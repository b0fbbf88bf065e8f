package worker

import (
	"sync/atomic"

	"github.com/JakeFAU/media-scraper/internal/metrics"
)

// Tracker counts jobs held by workers. A job in retry backoff is delayed,
// otherwise it is active. One Tracker is shared by the whole pool.
type Tracker struct {
	active  atomic.Int64
	delayed atomic.Int64
}

// Active returns the number of jobs currently executing.
func (t *Tracker) Active() int { return int(t.active.Load()) }

// Delayed returns the number of jobs waiting out a retry backoff.
func (t *Tracker) Delayed() int { return int(t.delayed.Load()) }

func (t *Tracker) startActive() {
	t.active.Add(1)
	metrics.IncActiveWorkers()
}

func (t *Tracker) endActive() {
	t.active.Add(-1)
	metrics.DecActiveWorkers()
}

func (t *Tracker) startDelay() {
	t.endActive()
	t.delayed.Add(1)
}

func (t *Tracker) endDelay() {
	t.delayed.Add(-1)
	t.startActive()
}
