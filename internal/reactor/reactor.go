// Package reactor implements the single-threaded completion engine that
// drives every strand in the fiber runtime: a timer heap plus a task queue,
// pumped by one dedicated goroutine per Reactor.
//
// A Reactor owns no fibers and no sockets. It is the "reactor" of the
// scheduler/reactor split: a pool of scheduler worker goroutines posts
// closures onto strands, strands post their ready callbacks onto a Reactor,
// and the Reactor's pump goroutine is what actually calls them, in order,
// one at a time. File descriptor readiness is not handled here: the netfiber
// leaf polls the sibling netpoll package from its own polling goroutine.
package reactor

import (
	"container/heap"
	"context"
	"errors"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Standard errors.
var (
	// ErrAlreadyRunning is returned when Run is called on a reactor that is already running.
	ErrAlreadyRunning = errors.New("reactor: already running")

	// ErrTerminated is returned when operations are attempted on a terminated reactor.
	ErrTerminated = errors.New("reactor: terminated")

	// ErrReentrantRun is returned when Run is called from within the reactor's own pump goroutine.
	ErrReentrantRun = errors.New("reactor: cannot call Run from within the reactor")
)

// Task is a unit of work submitted to a Reactor.
type Task struct {
	Runnable func()
}

// Reactor is a single-threaded event pump: a task queue plus a timer heap.
//
// Everything that touches the timer heap or decides what runs next happens
// on the pump goroutine started by Run. Submit, SubmitInternal,
// ScheduleTimer and Stop are safe to call from other goroutines.
type Reactor struct { // betteralign:ignore
	_ [0]func() // prevent copying

	state *FastState

	// external holds tasks submitted from outside the pump goroutine (via
	// Submit); internal holds tasks queued via SubmitInternal (strand drain
	// loops, timer scheduling), which may be called from any goroutine.
	external   *ChunkedIngress
	internal   *ChunkedIngress
	externalMu sync.Mutex
	internalMu sync.Mutex

	timers timerHeap

	stopOnce  sync.Once
	closeOnce sync.Once

	wakeupCh chan struct{}

	tickAnchorMu sync.RWMutex
	tickAnchor   time.Time
	tickElapsed  atomic.Int64

	pumpGoroutineID atomic.Uint64

	done chan struct{}

	id uint64

	// OnOverload is invoked, if set, when the external queue exceeds the
	// per-tick drain budget. Used by the scheduler to surface backpressure.
	OnOverload func(error)
}

type timer struct {
	when time.Time
	seq  uint64
	task Task
}

type timerHeap []timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

var reactorIDCounter atomic.Uint64
var timerSeqCounter atomic.Uint64

// New creates a new Reactor, idle until Run is called.
func New() *Reactor {
	return &Reactor{
		id:       reactorIDCounter.Add(1),
		state:    NewFastState(),
		external: NewChunkedIngress(),
		internal: NewChunkedIngress(),
		timers:   make(timerHeap, 0),
		wakeupCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// ID returns the reactor's identity, primarily useful for diagnostics.
func (r *Reactor) ID() uint64 { return r.id }

// Run pumps the reactor until ctx is cancelled or Stop is called. It blocks
// until the reactor has fully drained and terminated.
//
// Typical use is `go r.Run(ctx)` from the scheduler that owns the reactor.
func (r *Reactor) Run(ctx context.Context) error {
	if r.isPumpThread() {
		return ErrReentrantRun
	}

	if !r.state.TryTransition(StateAwake, StateRunning) {
		if r.state.Load() == StateTerminated {
			return ErrTerminated
		}
		return ErrAlreadyRunning
	}

	defer close(r.done)

	r.tickAnchorMu.Lock()
	r.tickAnchor = time.Now()
	r.tickAnchorMu.Unlock()
	r.tickElapsed.Store(0)

	return r.run(ctx)
}

// Stop requests graceful shutdown: the reactor drains whatever is already
// queued before terminating. It blocks until shutdown completes or ctx
// expires.
func (r *Reactor) Stop(ctx context.Context) error {
	var result error
	r.stopOnce.Do(func() {
		result = r.stopImpl(ctx)
	})
	if result == nil && r.state.Load() != StateTerminated {
		return ErrTerminated
	}
	return result
}

func (r *Reactor) stopImpl(ctx context.Context) error {
	for {
		current := r.state.Load()
		if current == StateTerminated || current == StateTerminating {
			return ErrTerminated
		}
		if r.state.TryTransition(current, StateTerminating) {
			if current == StateAwake {
				r.state.Store(StateTerminated)
				return nil
			}
			r.wake()
			break
		}
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reactor) run(ctx context.Context) error {
	r.pumpGoroutineID.Store(goroutineID())
	defer r.pumpGoroutineID.Store(0)

	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.wake()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	for {
		select {
		case <-ctx.Done():
			r.beginTerminating()
			r.drainAndTerminate()
			return ctx.Err()
		default:
		}

		switch r.state.Load() {
		case StateTerminating, StateTerminated:
			r.drainAndTerminate()
			return nil
		}

		r.tick()
	}
}

func (r *Reactor) beginTerminating() {
	for {
		current := r.state.Load()
		if current == StateTerminating || current == StateTerminated {
			return
		}
		if r.state.TryTransition(current, StateTerminating) {
			return
		}
	}
}

// tick runs one pass: expired timers, then internal tasks, then a budgeted
// slice of external tasks, then a bounded sleep for the next timer or wakeup.
func (r *Reactor) tick() {
	r.tickAnchorMu.RLock()
	anchor := r.tickAnchor
	r.tickAnchorMu.RUnlock()
	r.tickElapsed.Store(int64(time.Since(anchor)))

	r.runTimers()
	r.drainInternal()
	r.drainExternalBudgeted()
	r.sleep()
}

func (r *Reactor) drainInternal() {
	for {
		r.internalMu.Lock()
		task, ok := r.internal.Pop()
		r.internalMu.Unlock()
		if !ok {
			return
		}
		r.safeRun(Task{Runnable: task})
	}
}

func (r *Reactor) drainExternalBudgeted() {
	const budget = 1024

	var batch [256]func()
	r.externalMu.Lock()
	n := 0
	for n < budget && n < len(batch) {
		task, ok := r.external.Pop()
		if !ok {
			break
		}
		batch[n] = task
		n++
	}
	remaining := r.external.Length()
	r.externalMu.Unlock()

	for i := 0; i < n; i++ {
		r.safeRun(Task{Runnable: batch[i]})
		batch[i] = nil
	}

	if remaining > 0 && r.OnOverload != nil {
		r.OnOverload(errors.New("reactor: external queue over budget"))
	}
}

func (r *Reactor) drainAndTerminate() {
	r.state.Store(StateTerminated)

	emptyChecks := 0
	for emptyChecks < 3 {
		drained := false

		for {
			r.internalMu.Lock()
			task, ok := r.internal.Pop()
			r.internalMu.Unlock()
			if !ok {
				break
			}
			r.safeRun(Task{Runnable: task})
			drained = true
		}

		for {
			r.externalMu.Lock()
			task, ok := r.external.Pop()
			r.externalMu.Unlock()
			if !ok {
				break
			}
			r.safeRun(Task{Runnable: task})
			drained = true
		}

		if drained {
			emptyChecks = 0
		} else {
			emptyChecks++
			runtime.Gosched()
		}
	}
}

func (r *Reactor) runTimers() {
	now := r.Now()
	for len(r.timers) > 0 {
		if r.timers[0].when.After(now) {
			return
		}
		t := heap.Pop(&r.timers).(timer)
		r.safeRun(t.task)
	}
}

func (r *Reactor) sleep() {
	if r.state.Load() != StateRunning {
		return
	}

	if !r.state.TryTransition(StateRunning, StateSleeping) {
		return
	}

	r.externalMu.Lock()
	extLen := r.external.Length()
	r.externalMu.Unlock()
	r.internalMu.Lock()
	intLen := r.internal.Length()
	r.internalMu.Unlock()

	if extLen > 0 || intLen > 0 {
		r.state.TryTransition(StateSleeping, StateRunning)
		return
	}

	if r.state.Load() == StateTerminating {
		return
	}

	timeout := r.calculateTimeout()

	select {
	case <-r.wakeupCh:
	case <-time.After(timeout):
	}

	r.state.TryTransition(StateSleeping, StateRunning)
}

func (r *Reactor) calculateTimeout() time.Duration {
	maxDelay := 10 * time.Second
	if len(r.timers) > 0 {
		delay := r.timers[0].when.Sub(time.Now())
		if delay < 0 {
			delay = 0
		}
		if delay < maxDelay {
			maxDelay = delay
		}
	}
	return maxDelay
}

// Submit enqueues a task from any goroutine. It is rejected once the
// reactor has fully terminated; submissions during graceful shutdown are
// still accepted and drained.
func (r *Reactor) Submit(fn func()) error {
	r.externalMu.Lock()
	if r.state.Load() == StateTerminated {
		r.externalMu.Unlock()
		return ErrTerminated
	}
	r.external.Push(fn)
	r.externalMu.Unlock()

	r.wake()
	return nil
}

// SubmitInternal enqueues a task with priority over externally submitted
// work. It is used by strands re-posting their own drain continuations and
// by timer callbacks that need to run before the next external batch.
func (r *Reactor) SubmitInternal(fn func()) error {
	r.internalMu.Lock()
	if r.state.Load() == StateTerminated {
		r.internalMu.Unlock()
		return ErrTerminated
	}
	r.internal.Push(fn)
	r.internalMu.Unlock()

	r.wake()
	return nil
}

// ScheduleTimer arranges for fn to run on the pump goroutine after delay has
// elapsed. It returns a cancel function; calling it after the timer has
// already fired is a no-op.
func (r *Reactor) ScheduleTimer(delay time.Duration, fn func()) (cancel func(), err error) {
	when := r.Now().Add(delay)
	t := timer{when: when, seq: timerSeqCounter.Add(1), task: Task{Runnable: fn}}

	var cancelled atomic.Bool
	wrapped := timer{when: t.when, seq: t.seq, task: Task{Runnable: func() {
		if !cancelled.Load() {
			fn()
		}
	}}}

	err = r.SubmitInternal(func() {
		heap.Push(&r.timers, wrapped)
	})
	if err != nil {
		return func() {}, err
	}

	return func() { cancelled.Store(true) }, nil
}

func (r *Reactor) wake() {
	select {
	case r.wakeupCh <- struct{}{}:
	default:
	}
}

// Now returns the reactor's monotonic notion of the current time, stable
// across the duration of a single tick.
func (r *Reactor) Now() time.Time {
	r.tickAnchorMu.RLock()
	anchor := r.tickAnchor
	r.tickAnchorMu.RUnlock()
	if anchor.IsZero() {
		return time.Now()
	}
	return anchor.Add(time.Duration(r.tickElapsed.Load()))
}

// State returns the reactor's current lifecycle state.
func (r *Reactor) State() State {
	return r.state.Load()
}

func (r *Reactor) safeRun(t Task) {
	if t.Runnable == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("reactor: task panic: %v", rec)
		}
	}()
	t.Runnable()
}

func (r *Reactor) isPumpThread() bool {
	id := r.pumpGoroutineID.Load()
	return id != 0 && goroutineID() == id
}

// goroutineID extracts the calling goroutine's numeric id from its stack
// trace header. It is used only to detect same-goroutine re-entrancy
// (Strand.Dispatch, Reactor.Run), never as a stable identity.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
