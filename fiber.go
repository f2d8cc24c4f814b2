package greenthread

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// FiberState is one of the four states a Fiber can be in. Interruption is
// deliberately not a state: it's an orthogonal flag checked at
// interruption points.
type FiberState int32

const (
	// FiberReady indicates the fiber has been created but has not yet run.
	FiberReady FiberState = iota
	// FiberRunning indicates the fiber currently holds a scheduler slot and
	// its body is executing.
	FiberRunning
	// FiberBlocked indicates the fiber suspended itself (Pause, a
	// contended Mutex.Lock, ConditionVariable.Wait, Barrier.Arrive,
	// Future.Await, or Join) and is waiting to be resumed.
	FiberBlocked
	// FiberStopped indicates the fiber's body has returned or panicked.
	FiberStopped
)

func (s FiberState) String() string {
	switch s {
	case FiberReady:
		return "ready"
	case FiberRunning:
		return "running"
	case FiberBlocked:
		return "blocked"
	case FiberStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// YieldHint parameterizes Fiber.Yield's selective cooperative preemption.
// The zero value yields to the back of the ready queue (plain round
// robin). A non-zero ReadyAfter instead parks the fiber on the reactor's
// timer heap, so it becomes ready again only once that much time has
// elapsed.
type YieldHint struct {
	ReadyAfter time.Duration
}

// Fiber is a cooperatively scheduled unit of execution, realized as a
// goroutine that parks on a channel at every suspension point.
type Fiber struct {
	flsStore

	id        uint64
	scheduler *Scheduler
	body      func(*Fiber)
	detached  bool

	state    atomic.Int32 // FiberState
	resumeCh chan struct{}
	queued   bool      // true while waiting in the scheduler's ready queue; strand-guarded
	readyAt  time.Time // when f was last enqueued as ready; strand-guarded, for dispatch-latency metrics

	done    chan struct{}
	doneMu  sync.Mutex
	exitErr error
	onExitFns []func()

	selfRef *Fiber // keeps a detached, still-running fiber reachable

	disableLevel        atomic.Int32
	interruptRequested  atomic.Bool

	// notifyAtExit holds ConditionVariable.NotifyAllAtFiberExit
	// registrations, run in order just before done is closed.
	notifyAtExit []func()

	closeOnce sync.Once
}

var fiberIDCounter atomic.Uint64

// currentFibers maps a goroutine id (see internal/reactor's stack-derived
// id trick) to the Fiber whose body is executing on it. Since a Fiber is
// realized as exactly one goroutine for its whole lifetime, this is set
// once when the body starts and cleared once it finishes.
var currentFibers sync.Map // map[uint64]*Fiber

// CurrentFiber returns the Fiber whose body is running on the calling
// goroutine, or nil if the caller is not executing inside a fiber body.
func CurrentFiber() *Fiber {
	v, ok := currentFibers.Load(goroutineID())
	if !ok {
		return nil
	}
	return v.(*Fiber)
}

// goroutineID extracts the calling goroutine's numeric id from its stack
// trace header; it keys currentFibers.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n && buf[i] >= '0' && buf[i] <= '9'; i++ {
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

func newFiber(s *Scheduler, fn func(*Fiber), detached bool) *Fiber {
	f := &Fiber{
		id:        fiberIDCounter.Add(1),
		scheduler: s,
		body:      fn,
		detached:  detached,
		resumeCh:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	f.state.Store(int32(FiberReady))
	if detached {
		f.selfRef = f
	} else {
		// Best-effort safety net for §4.1's destruction contract: a
		// still-running fiber's own goroutine keeps f reachable (a
		// blocked channel receive is a GC root), so this only actually
		// fires once run has returned some other way than the normal
		// Stopped path; Close is the reliable way to report abandonment
		// of a fiber that is genuinely stuck.
		runtime.SetFinalizer(f, (*Fiber).finalize)
	}
	go f.run()
	return f
}

// finalize is registered via runtime.SetFinalizer for every non-detached
// Fiber; see the comment at the registration site for what it can and
// cannot catch.
func (f *Fiber) finalize() {
	f.Close()
}

// Close reports, via the owning Scheduler's error sink, that f is being
// discarded before its body reached FiberStopped, mirroring the original
// runtime's destructor contract for a non-detached, non-joined fiber
// handle. It is a no-op for fibers that already stopped or were spawned
// detached, and is idempotent.
func (f *Fiber) Close() {
	f.closeOnce.Do(func() {
		if f.detached || f.State() == FiberStopped {
			return
		}
		f.scheduler.errorSink(&AbortError{})
	})
}

// ID returns the fiber's unique, process-local identity.
func (f *Fiber) ID() uint64 { return f.id }

// State returns the fiber's current lifecycle state.
func (f *Fiber) State() FiberState { return FiberState(f.state.Load()) }

// Scheduler returns the Scheduler that owns this fiber.
func (f *Fiber) Scheduler() *Scheduler { return f.scheduler }

// run is the body goroutine: it blocks until the scheduler grants it a
// slot, runs the fiber body with panic recovery, then releases the slot
// and closes done.
func (f *Fiber) run() {
	<-f.resumeCh // wait for the scheduler's first Activate

	currentFibers.Store(goroutineID(), f)
	defer currentFibers.Delete(goroutineID())

	func() {
		defer func() {
			if r := recover(); r != nil {
				f.exitErr = panicToError(r)
			}
		}()
		f.body(f)
	}()

	f.state.Store(int32(FiberStopped))
	f.scheduler.releaseSlot(f)

	f.doneMu.Lock()
	fns := f.notifyAtExit
	f.notifyAtExit = nil
	f.doneMu.Unlock()
	for _, fn := range fns {
		fn()
	}

	close(f.done)

	f.doneMu.Lock()
	waiters := f.onExitFns
	f.onExitFns = nil
	f.doneMu.Unlock()
	for _, fn := range waiters {
		fn()
	}

	f.selfRef = nil // release self-reference now that the body is done
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &InvariantError{Message: "fiber panicked"}
}

// Pause suspends the calling fiber until some other goroutine calls
// Resume on it. It may only be called by a fiber on itself; calling it
// from a goroutine that is not running a fiber body panics with
// *InvariantError, and calling it on a fiber other than the caller's own
// panics with *PermissionError.
//
// If the fiber has a pending interruption request and interruption is not
// disabled, Pause panics with *InterruptedError immediately upon waking,
// mirroring the original runtime propagating an uncaught exception out of
// a suspension point.
func (f *Fiber) Pause() {
	f.requirePauseCallable()

	f.state.Store(int32(FiberBlocked))
	f.scheduler.releaseSlot(f)

	<-f.resumeCh

	if err := f.InterruptionPoint(); err != nil {
		panic(err)
	}
}

func (f *Fiber) requirePauseCallable() {
	cur := CurrentFiber()
	if cur == nil {
		panic(&InvariantError{Message: "Pause may only be called from within a fiber"})
	}
	if cur != f {
		panic(&PermissionError{Message: "Pause may only be called by a fiber on itself"})
	}
}

// Resume wakes f if it is Blocked or has not yet started (Ready),
// granting it a scheduler slot once one is free. It may be called from
// any goroutine, fiber or foreign.
func (f *Fiber) Resume() {
	f.scheduler.enqueueReady(f)
}

// Activate is an alias for Resume kept for readers translating directly
// from the original fiber vocabulary; it's how a freshly created fiber
// first transitions out of FiberReady.
func (f *Fiber) Activate() { f.Resume() }

// Yield cooperatively reschedules the calling fiber. With the zero
// YieldHint, it's a plain yield-to-back-of-ready-queue. With ReadyAfter
// set, the fiber becomes ready again only after that duration elapses,
// via the scheduler's reactor timer heap, without the caller needing a
// dedicated sleep primitive.
func (f *Fiber) Yield(hint YieldHint) {
	f.requirePauseCallable()

	f.state.Store(int32(FiberBlocked))
	f.scheduler.releaseSlot(f)

	if hint.ReadyAfter <= 0 {
		f.scheduler.enqueueReady(f)
	} else {
		_, _ = f.scheduler.reactor.ScheduleTimer(hint.ReadyAfter, func() {
			f.scheduler.enqueueReady(f)
		})
	}

	<-f.resumeCh

	if err := f.InterruptionPoint(); err != nil {
		panic(err)
	}
}

// DisableInterruption suppresses InterruptedError at interruption points
// until the returned restore function is called. Calls nest.
func (f *Fiber) DisableInterruption() func() {
	f.disableLevel.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { f.disableLevel.Add(-1) })
	}
}

// Interrupt arms f's interruption flag and, if f is currently Blocked,
// wakes it so it can observe the request at its next interruption point.
func (f *Fiber) Interrupt() {
	f.interruptRequested.Store(true)
	if f.State() == FiberBlocked {
		f.scheduler.enqueueReady(f)
	}
}

// InterruptionRequested reports whether an interruption request is
// currently pending, regardless of whether interruption is disabled. See
// InterruptionPoint for the disable-level-aware check.
func (f *Fiber) InterruptionRequested() bool {
	return f.interruptRequested.Load()
}

// InterruptionPoint clears and returns a pending interruption as an
// *InterruptedError, unless interruption is currently disabled, in which
// case it always returns nil (the request remains pending for later).
func (f *Fiber) InterruptionPoint() error {
	if f.disableLevel.Load() > 0 {
		return nil
	}
	if f.interruptRequested.CompareAndSwap(true, false) {
		return &InterruptedError{}
	}
	return nil
}

// onExit registers fn to run once the fiber's body has finished (value
// returned, set, or panicked). If it has already finished, fn runs
// synchronously and immediately.
func (f *Fiber) onExit(fn func()) {
	select {
	case <-f.done:
		fn()
		return
	default:
	}
	f.doneMu.Lock()
	select {
	case <-f.done:
		f.doneMu.Unlock()
		fn()
		return
	default:
	}
	f.onExitFns = append(f.onExitFns, fn)
	f.doneMu.Unlock()
}

// notifyAtFiberExit registers fn to run once the fiber's body has
// finished, before done is closed and before onExit callbacks run. Used
// by ConditionVariable.NotifyAllAtFiberExit.
func (f *Fiber) notifyAtFiberExit(fn func()) {
	f.doneMu.Lock()
	select {
	case <-f.done:
		f.doneMu.Unlock()
		fn()
		return
	default:
	}
	f.notifyAtExit = append(f.notifyAtExit, fn)
	f.doneMu.Unlock()
}

// Join blocks until f's body finishes or ctx is cancelled, returning f's
// uncaught panic converted to an error (nil on ordinary completion).
//
// If the caller is itself a fiber, it must share f's Scheduler
// (cross-scheduler joins return *InvariantError) and may not join itself
// (*DeadlockError); the calling fiber suspends cooperatively rather than
// blocking its goroutine outright. A foreign (non-fiber) caller blocks
// its goroutine directly; use JoinForeign to do that explicitly even from
// within a fiber.
func (f *Fiber) Join(ctx context.Context) error {
	caller := CurrentFiber()
	if caller == f {
		return &DeadlockError{Message: "fiber cannot join itself"}
	}
	if caller != nil && caller.scheduler != f.scheduler {
		return &InvariantError{Message: "Join requires the caller and callee share a Scheduler"}
	}
	if caller == nil {
		return f.JoinForeign(ctx)
	}

	select {
	case <-f.done:
		return f.exitErr
	default:
	}

	var woke sync.Once
	wake := func() { woke.Do(caller.Resume) }
	f.onExit(wake)

	stopWatch := make(chan struct{})
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				wake()
			case <-stopWatch:
			}
		}()
	}

	caller.Pause()
	close(stopWatch)

	select {
	case <-f.done:
		return f.exitErr
	default:
		return ctx.Err()
	}
}

// JoinForeign blocks the calling goroutine directly (without cooperative
// suspension) until f's body finishes or ctx is cancelled. Intended for
// non-fiber callers; usable from within a fiber body too, at the cost of
// holding that fiber's scheduler slot for the duration of the wait.
func (f *Fiber) JoinForeign(ctx context.Context) error {
	select {
	case <-f.done:
		return f.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// joinable reports whether f can be Join'd (cooperatively) by the current
// goroutine: true for foreign callers, and for fiber callers sharing f's
// Scheduler.
func (f *Fiber) joinable() bool {
	caller := CurrentFiber()
	if caller == nil {
		return true
	}
	return caller.scheduler == f.scheduler && caller != f
}
