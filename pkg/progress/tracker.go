// Package progress tracks the single in-flight code-generation job.
package progress

import (
	"sync"
	"time"

	"terrachat/pkg/models"
)

// DisplayDelay is how long a finished job's 100% state stays visible
// before the tracker returns to idle.
const DisplayDelay = 2 * time.Second

// Tracker is a small state machine: idle -> generating -> one of
// completed/failed/timed_out, returning to idle. Completion lingers for
// DisplayDelay so the UI can show the final state; failure and timeout
// clear immediately because their outcome lands in the timeline instead.
// Transitions are driven exclusively by named stream events; progress
// percentages are passed through as received, without monotonicity checks.
type Tracker struct {
	mu    sync.Mutex
	cur   models.GenerationProgress
	timer *time.Timer

	// afterFunc is swappable so tests control the display delay.
	afterFunc func(time.Duration, func()) *time.Timer
}

func NewTracker() *Tracker {
	return &Tracker{
		cur:       models.GenerationProgress{Status: models.GenerationIdle},
		afterFunc: time.AfterFunc,
	}
}

// Begin handles generation_starting.
func (t *Tracker) Begin(step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimer()
	t.cur = models.GenerationProgress{
		Status:      models.GenerationRunning,
		CurrentStep: step,
	}
}

// Update handles a progress event. A progress event observed while idle
// implies the starting event was missed (reconnect gap); the job is picked
// up as running rather than dropped.
func (t *Tracker) Update(pct float64, step, eta string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimer()
	t.cur = models.GenerationProgress{
		Status:              models.GenerationRunning,
		ProgressPercentage:  pct,
		CurrentStep:         step,
		EstimatedCompletion: eta,
	}
}

// Complete handles generation_completed. The terminal state stays visible
// for DisplayDelay, then the tracker returns to idle.
func (t *Tracker) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimer()
	t.cur = models.GenerationProgress{
		Status:             models.GenerationCompleted,
		ProgressPercentage: 100,
	}
	t.timer = t.afterFunc(DisplayDelay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.cur.Status == models.GenerationCompleted {
			t.cur = models.GenerationProgress{Status: models.GenerationIdle}
		}
	})
}

// Fail handles generation_failed.
func (t *Tracker) Fail() {
	t.clear()
}

// Timeout handles generation_timeout; timeouts are reported only by the
// server, never enforced locally.
func (t *Tracker) Timeout() {
	t.clear()
}

// Current returns the tracked state by value.
func (t *Tracker) Current() models.GenerationProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

// Active reports whether a job is running.
func (t *Tracker) Active() bool {
	return t.Current().Status == models.GenerationRunning
}

func (t *Tracker) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimer()
	t.cur = models.GenerationProgress{Status: models.GenerationIdle}
}

func (t *Tracker) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
