package greenthread

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/greenthread/internal/glog"
	"github.com/joeycumines/greenthread/internal/reactor"
)

// Scheduler owns a Reactor and bounds how many Fibers may be in
// FiberRunning at once, admitting ready fibers onto free slots through a
// Strand-serialized ready queue rather than a literal pop-loop worker
// pool: a Fiber is already a goroutine, so the Go runtime's own scheduler
// handles the actual OS-thread multiplexing. The Scheduler only decides
// how many of them are allowed to be actively running at a time.
type Scheduler struct {
	reactor *reactor.Reactor
	strand  *reactor.Strand

	maxWorkers int
	running    int // strand-guarded
	ready      []*Fiber // strand-guarded FIFO

	live atomic.Int64

	waitMu  sync.Mutex
	waiters []chan struct{}

	logger    *glog.Logger
	errorSink func(error)
	metrics   *SchedulerMetrics

	reactorCtx    context.Context
	reactorCancel context.CancelFunc
	reactorDone   chan struct{}

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}

	shutdownOnce sync.Once
}

var (
	defaultScheduler     *Scheduler
	defaultSchedulerOnce sync.Once
)

// Default returns the process-wide default Scheduler, starting it lazily
// on first use.
func Default() *Scheduler {
	defaultSchedulerOnce.Do(func() {
		defaultScheduler = NewScheduler()
	})
	return defaultScheduler
}

// NewScheduler creates and starts a Scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	cfg := resolveSchedulerOptions(opts)

	workers := cfg.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	r := reactor.New()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		reactor:       r,
		maxWorkers:    workers,
		logger:        cfg.logger,
		errorSink:     cfg.errorSink,
		reactorCtx:    ctx,
		reactorCancel: cancel,
		reactorDone:   make(chan struct{}),
		heartbeatStop: make(chan struct{}),
		heartbeatDone: make(chan struct{}),
	}
	s.strand = reactor.NewStrand(r)
	if cfg.metrics {
		s.metrics = newSchedulerMetrics()
	}

	if cfg.onOverload != nil {
		r.OnOverload = cfg.onOverload
	} else {
		r.OnOverload = func(err error) {
			s.logger.Warning().Err(err).Log("reactor overloaded")
		}
	}

	go func() {
		defer close(s.reactorDone)
		if err := r.Run(ctx); err != nil && err != context.Canceled {
			s.logger.Debug().Err(err).Log("reactor stopped")
		}
	}()

	go s.heartbeat(cfg.heartbeat)

	return s
}

// heartbeat periodically nudges the reactor, guarding against a missed
// wakeup signal racing a Stop/Submit, mirroring the original runtime's
// 50ms scheduler heartbeat.
func (s *Scheduler) heartbeat(interval time.Duration) {
	defer close(s.heartbeatDone)
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = s.reactor.Submit(func() {})
		case <-s.heartbeatStop:
			return
		}
	}
}

// Go spawns fn as a new, non-detached Fiber and returns it. The fiber
// does not begin running until the scheduler grants it a slot.
func (s *Scheduler) Go(fn func(*Fiber)) *Fiber {
	return s.spawn(fn, false)
}

// GoDetached spawns fn as a new, detached Fiber: the fiber keeps a
// self-reference (so dropping the returned handle doesn't make it
// eligible for premature collection) until its body returns.
func (s *Scheduler) GoDetached(fn func(*Fiber)) *Fiber {
	return s.spawn(fn, true)
}

func (s *Scheduler) spawn(fn func(*Fiber), detached bool) *Fiber {
	s.live.Add(1)
	f := newFiber(s, fn, detached)
	f.onExit(func() {
		if f.exitErr != nil {
			s.errorSink(WrapError("fiber panicked", f.exitErr))
		}
		if s.metrics != nil {
			s.metrics.Throughput.Increment()
		}
		if s.live.Add(-1) == 0 {
			s.wakeWaiters()
		}
	})
	s.enqueueReady(f)
	return f
}

// Metrics returns the scheduler's runtime statistics, or nil if it was not
// created WithMetrics(true).
func (s *Scheduler) Metrics() *SchedulerMetrics { return s.metrics }

// Greenify wraps a plain func() so it can be scheduled as a fiber body
// without the caller managing a *Fiber handle: each call to the returned
// function spawns and forgets a new detached fiber running fn.
func (s *Scheduler) Greenify(fn func()) func() {
	return func() {
		s.GoDetached(func(*Fiber) { fn() })
	}
}

// enqueueReady appends f to the ready queue (if not already queued and
// not yet stopped) and attempts to dispatch, all serialized through the
// scheduler's strand.
func (s *Scheduler) enqueueReady(f *Fiber) {
	s.strand.Dispatch(func() {
		if f.State() == FiberStopped || f.queued {
			return
		}
		f.queued = true
		f.readyAt = time.Now()
		s.ready = append(s.ready, f)
		s.tryDispatchLocked()
	})
}

// releaseSlot gives up f's running slot (if it holds one) and attempts to
// dispatch the next ready fiber.
func (s *Scheduler) releaseSlot(f *Fiber) {
	s.strand.Dispatch(func() {
		if s.running > 0 {
			s.running--
		}
		s.tryDispatchLocked()
	})
}

// tryDispatchLocked must only be called from within the scheduler's
// strand. It hands ready fibers their running slot until either the
// queue or the worker budget is exhausted.
func (s *Scheduler) tryDispatchLocked() {
	for s.running < s.maxWorkers && len(s.ready) > 0 {
		f := s.ready[0]
		s.ready = s.ready[1:]
		if len(s.ready) == 0 {
			s.ready = nil
		}
		f.queued = false
		if f.State() == FiberStopped {
			continue
		}
		s.running++
		if s.metrics != nil && !f.readyAt.IsZero() {
			s.metrics.DispatchLatency.Record(time.Since(f.readyAt))
		}
		f.state.Store(int32(FiberRunning))
		select {
		case f.resumeCh <- struct{}{}:
		default:
		}
	}
}

// Wait blocks until every fiber spawned on this scheduler has finished,
// or ctx is cancelled.
func (s *Scheduler) Wait(ctx context.Context) error {
	if s.live.Load() == 0 {
		return nil
	}
	ch := make(chan struct{})
	s.waitMu.Lock()
	s.waiters = append(s.waiters, ch)
	s.waitMu.Unlock()

	if s.live.Load() == 0 {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) wakeWaiters() {
	s.waitMu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.waitMu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// LiveFibers returns the number of fibers spawned on this scheduler that
// have not yet finished.
func (s *Scheduler) LiveFibers() int64 { return s.live.Load() }

// Shutdown stops the scheduler's reactor and heartbeat. It does not wait
// for in-flight fibers to finish; call Wait first if that's required.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.heartbeatStop)
		<-s.heartbeatDone
		s.reactorCancel()
		select {
		case <-s.reactorDone:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// reactorFor returns the scheduler's internal reactor. Nothing in this
// package calls it.
func (s *Scheduler) reactorFor() *reactor.Reactor { return s.reactor }

// strandFor returns the scheduler's internal strand; Then uses it to run
// continuations on the owning scheduler's strand.
func (s *Scheduler) strandFor() *reactor.Strand { return s.strand }
