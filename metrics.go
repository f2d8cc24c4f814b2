package greenthread

import (
	"time"

	"github.com/joeycumines/greenthread/internal/metrics"
)

// SchedulerMetrics holds the optional runtime statistics a Scheduler
// tracks when created WithMetrics(true): how long ready fibers wait for a
// running slot, and how many fibers complete per second.
type SchedulerMetrics struct {
	// DispatchLatency measures the time between a fiber becoming ready
	// and the scheduler actually granting it a running slot.
	DispatchLatency metrics.LatencyMetrics
	// Throughput counts fiber completions per second over a rolling
	// window.
	Throughput *metrics.TPSCounter
}

func newSchedulerMetrics() *SchedulerMetrics {
	return &SchedulerMetrics{
		Throughput: metrics.NewTPSCounter(10*time.Second, 100*time.Millisecond),
	}
}

// Sample refreshes DispatchLatency's cached percentiles and returns how
// many observations fed them.
func (m *SchedulerMetrics) Sample() int {
	return m.DispatchLatency.Sample()
}
