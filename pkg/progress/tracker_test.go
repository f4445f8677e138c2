package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"terrachat/pkg/models"
)

// manualTimer captures the display-delay callback so tests fire it
// deterministically.
func manualTimer(t *Tracker) *func() {
	var fire func()
	t.afterFunc = func(d time.Duration, f func()) *time.Timer {
		fire = f
		return time.NewTimer(time.Hour)
	}
	return &fire
}

func TestStartProgressCompleteReturnsToIdle(t *testing.T) {
	tr := NewTracker()
	fire := manualTimer(tr)

	tr.Begin("analyzing requirements")
	require.True(t, tr.Active())

	tr.Update(40, "rendering modules", "")
	cur := tr.Current()
	require.Equal(t, models.GenerationRunning, cur.Status)
	require.Equal(t, float64(40), cur.ProgressPercentage)
	require.Equal(t, "rendering modules", cur.CurrentStep)

	tr.Complete()
	require.Equal(t, models.GenerationCompleted, tr.Current().Status)
	require.Equal(t, float64(100), tr.Current().ProgressPercentage)

	(*fire)()
	require.Equal(t, models.GenerationIdle, tr.Current().Status)
}

func TestRegressionPassedThrough(t *testing.T) {
	tr := NewTracker()
	tr.Begin("start")
	tr.Update(60, "step a", "")
	tr.Update(40, "step b", "")
	require.Equal(t, float64(40), tr.Current().ProgressPercentage)
}

func TestFailureClearsImmediately(t *testing.T) {
	tr := NewTracker()
	tr.Begin("start")
	tr.Fail()
	require.Equal(t, models.GenerationIdle, tr.Current().Status)

	tr.Begin("start")
	tr.Timeout()
	require.Equal(t, models.GenerationIdle, tr.Current().Status)
}

func TestProgressWhileIdlePicksJobUp(t *testing.T) {
	tr := NewTracker()
	tr.Update(10, "resumed after reconnect", "")
	require.True(t, tr.Active())
}

func TestNewJobCancelsPendingIdleReset(t *testing.T) {
	tr := NewTracker()
	fire := manualTimer(tr)

	tr.Begin("one")
	tr.Complete()
	tr.Begin("two")
	// the stale completion callback must not clobber the new job
	(*fire)()
	require.True(t, tr.Active())
}
