package greenthread

import (
	"time"

	"github.com/joeycumines/greenthread/internal/glog"
)

// schedulerOptions holds configuration for Scheduler creation.
type schedulerOptions struct {
	workers     int
	heartbeat   time.Duration
	logger      *glog.Logger
	onOverload  func(error)
	errorSink   func(error)
	metrics     bool
}

// SchedulerOption configures a Scheduler instance.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions)
}

// schedulerOptionImpl implements SchedulerOption.
type schedulerOptionImpl struct {
	applySchedulerFunc func(*schedulerOptions)
}

func (o *schedulerOptionImpl) applyScheduler(opts *schedulerOptions) {
	o.applySchedulerFunc(opts)
}

// WithWorkers sets how many fibers may be running at once (the
// scheduler's slot count). n <= 0 falls back to runtime.GOMAXPROCS(0).
func WithWorkers(n int) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) {
		opts.workers = n
	}}
}

// WithHeartbeat overrides the scheduler's periodic reactor-nudge interval.
// The default, 50ms, mirrors the original fiber runtime's heartbeat.
func WithHeartbeat(d time.Duration) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) {
		opts.heartbeat = d
	}}
}

// WithLogger sets the structured logger the scheduler and its fibers log
// through. Defaults to glog.Named(glog.Default(), "scheduler").
func WithLogger(l *glog.Logger) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) {
		opts.logger = l
	}}
}

// WithOnOverload registers a callback invoked when the scheduler's reactor
// cannot drain its external queue within a single tick's budget.
func WithOnOverload(fn func(error)) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) {
		opts.onOverload = fn
	}}
}

// WithErrorSink registers a callback invoked for errors the scheduler has
// nowhere else to report: uncaught panics in any fiber, and
// AbortError for fibers destroyed before reaching FiberStopped.
func WithErrorSink(fn func(error)) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) {
		opts.errorSink = fn
	}}
}

// WithMetrics enables the scheduler's dispatch-latency and
// fiber-throughput statistics, retrievable via (*Scheduler).Metrics.
// Disabled by default to avoid the bookkeeping cost on the hot path.
func WithMetrics(enabled bool) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) {
		opts.metrics = enabled
	}}
}

// resolveSchedulerOptions applies SchedulerOption instances to schedulerOptions.
func resolveSchedulerOptions(opts []SchedulerOption) *schedulerOptions {
	cfg := &schedulerOptions{
		workers:   0,
		heartbeat: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyScheduler(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = glog.Named(glog.Default(), "scheduler")
	}
	if cfg.errorSink == nil {
		cfg.errorSink = func(err error) {
			cfg.logger.Err().Err(err).Log("unhandled scheduler error")
		}
	}
	return cfg
}
