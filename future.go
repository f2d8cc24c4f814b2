package greenthread

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// futureState is the shared cell between a Promise and the Future(s)
// retrieved from it, grounded on boost::green_thread's shared_state:
// a single write-once value/error pair plus a list of callbacks run
// exactly once, in registration order, when it becomes ready.
type futureState[T any] struct {
	mu        sync.Mutex
	ready     bool
	value     T
	err       error
	waiters   []func()
	retrieved atomic.Bool

	// scheduler, when non-nil, is the Scheduler whose strand Then
	// continuations chained off this state should run on. Set by Async
	// and propagated forward by Then itself, so a chain of continuations
	// off one async call all serialize on the same strand.
	scheduler *Scheduler
}

// Promise is the write side of a one-shot result cell.
type Promise[T any] struct {
	state *futureState[T]
	guard *promiseGuard
}

// promiseGuard is a dedicated allocation tracking a Promise's own
// lifetime, independent of futureState (which a retrieved Future also
// keeps alive). Every copy of a Promise value carries the same *guard,
// so the finalizer registered on it fires once every live copy of the
// Promise has been dropped, mirroring original_source's shared-state
// refcounting: a promise destroyed without SetValue/SetError breaks its
// future.
type promiseGuard struct{}

// NewPromise creates a Promise with no associated Future yet retrieved.
func NewPromise[T any]() Promise[T] {
	state := &futureState[T]{}
	guard := new(promiseGuard)
	runtime.SetFinalizer(guard, func(*promiseGuard) {
		breakPromise(state)
	})
	return Promise[T]{state: state, guard: guard}
}

// breakPromise satisfies state with FutureErrBrokenPromise if nothing
// else has satisfied it yet, waking any waiters the same way SetValue
// would.
func breakPromise[T any](state *futureState[T]) {
	state.mu.Lock()
	if state.ready {
		state.mu.Unlock()
		return
	}
	state.ready = true
	var zero T
	state.value = zero
	state.err = newFutureError(FutureErrBrokenPromise)
	waiters := state.waiters
	state.waiters = nil
	state.mu.Unlock()
	for _, w := range waiters {
		w()
	}
}

// Valid reports whether p has an associated shared state (false for a
// zero-value Promise).
func (p Promise[T]) Valid() bool { return p.state != nil }

// SetValue satisfies the promise with v. Calling it (or SetError) twice on
// the same Promise panics with a *FutureError whose Code is
// FutureErrPromiseAlreadySatisfied.
func (p Promise[T]) SetValue(v T) { p.set(v, nil) }

// SetError satisfies the promise with an error instead of a value.
func (p Promise[T]) SetError(err error) {
	var zero T
	p.set(zero, err)
}

func (p Promise[T]) set(v T, err error) {
	p.state.mu.Lock()
	if p.state.ready {
		p.state.mu.Unlock()
		panic(newFutureError(FutureErrPromiseAlreadySatisfied))
	}
	p.state.ready = true
	p.state.value = v
	p.state.err = err
	waiters := p.state.waiters
	p.state.waiters = nil
	p.state.mu.Unlock()

	for _, w := range waiters {
		w()
	}
}

// GetFuture returns the Future associated with this promise. It may only
// be called once per Promise; a second call panics with a *FutureError
// whose Code is FutureErrAlreadyRetrieved, mirroring
// std::promise::get_future's "future already retrieved" contract.
func (p Promise[T]) GetFuture() Future[T] {
	if p.state == nil {
		panic(newFutureError(FutureErrNoState))
	}
	if !p.state.retrieved.CompareAndSwap(false, true) {
		panic(newFutureError(FutureErrAlreadyRetrieved))
	}
	return Future[T]{state: p.state}
}

// Future is the read side of a one-shot result cell, obtained from
// Promise.GetFuture, PackagedTask.GetFuture, or Async.
type Future[T any] struct {
	state *futureState[T]
}

// Valid reports whether f has an associated shared state.
func (f Future[T]) Valid() bool { return f.state != nil }

// Get blocks until the associated Promise is satisfied or ctx is
// cancelled, whichever comes first. Called from within a fiber, it
// suspends cooperatively (Pause); called from a foreign goroutine, it
// blocks that goroutine directly. Either way it never busy-polls.
func (f Future[T]) Get(ctx context.Context) (T, error) {
	var zero T
	if f.state == nil {
		return zero, newFutureError(FutureErrNoState)
	}

	f.state.mu.Lock()
	if f.state.ready {
		v, err := f.state.value, f.state.err
		f.state.mu.Unlock()
		return v, err
	}
	done := make(chan struct{})
	f.state.waiters = append(f.state.waiters, func() { close(done) })
	f.state.mu.Unlock()

	caller := CurrentFiber()
	if caller == nil {
		select {
		case <-done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	} else {
		var woke sync.Once
		wake := func() { woke.Do(caller.Resume) }
		stop := make(chan struct{})
		go func() {
			select {
			case <-done:
				wake()
			case <-ctx.Done():
				wake()
			case <-stop:
			}
		}()
		caller.Pause()
		close(stop)
	}

	f.state.mu.Lock()
	ready := f.state.ready
	v, err := f.state.value, f.state.err
	f.state.mu.Unlock()
	if !ready {
		return zero, ctx.Err()
	}
	return v, err
}

// GetFor is Get bounded by a relative duration instead of a context,
// reporting whether the deadline elapsed via the returned
// TimeoutIndication.
func (f Future[T]) GetFor(d time.Duration) (T, TimeoutIndication, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	v, err := f.Get(ctx)
	if err == context.DeadlineExceeded {
		var zero T
		return zero, TimeoutElapsed, nil
	}
	return v, TimeoutNone, err
}

// Then registers a continuation on f: once f settles, fn runs with its
// value and error and its own result (or panic, converted to an error)
// satisfies the returned Future[U]. It is the package-level form of
// Future[T].Then (Go methods cannot introduce their own type parameters).
//
// The continuation runs on the strand of the Scheduler that produced f
// (set by Async, and propagated forward through chained Then calls), or
// failing that the calling fiber's own Scheduler, so callbacks targeting
// the same chain are still totally ordered; with neither available it
// just runs on a fresh goroutine. If f is already settled, fn is
// scheduled immediately rather than synchronously, so Then never runs fn
// on the caller's own stack.
func Then[T, U any](f Future[T], fn func(T, error) (U, error)) Future[U] {
	if f.state == nil {
		p := NewPromise[U]()
		p.SetError(newFutureError(FutureErrNoState))
		return p.GetFuture()
	}

	p := NewPromise[U]()
	out := p.GetFuture()

	sched := f.state.scheduler
	if sched == nil {
		if caller := CurrentFiber(); caller != nil {
			sched = caller.scheduler
		}
	}
	out.state.scheduler = sched

	run := func(v T, err error) {
		defer func() {
			if r := recover(); r != nil {
				p.SetError(panicToError(r))
			}
		}()
		rv, rerr := fn(v, err)
		if rerr != nil {
			p.SetError(rerr)
		} else {
			p.SetValue(rv)
		}
	}
	schedule := func(v T, err error) {
		if sched != nil {
			sched.strandFor().Post(func() { run(v, err) })
		} else {
			go run(v, err)
		}
	}

	f.state.mu.Lock()
	if f.state.ready {
		v, err := f.state.value, f.state.err
		f.state.mu.Unlock()
		schedule(v, err)
		return out
	}
	f.state.waiters = append(f.state.waiters, func() {
		v, err := f.state.value, f.state.err
		schedule(v, err)
	})
	f.state.mu.Unlock()
	return out
}

// MakeReadyFuture returns a Future that is already settled with v,
// mirroring std::experimental::make_ready_future: a convenience for
// returning a result from a non-suspending code path through an API that
// expects a Future.
func MakeReadyFuture[T any](v T) Future[T] {
	p := NewPromise[T]()
	fut := p.GetFuture()
	p.SetValue(v)
	return fut
}

// Await is an alias for Get kept for readers translating directly from
// the original's future vocabulary.
func (f Future[T]) Await(ctx context.Context) (T, error) { return f.Get(ctx) }

// AnyResult is the payload WaitForAny/WaitForAnyAsync report: which
// future settled first, and with what.
type AnyResult[T any] struct {
	Index int
	Value T
	Err   error
}

// WaitForAnyAsync returns immediately with a Future that settles as soon
// as the first of futures does, without blocking the calling goroutine or
// fiber.
func WaitForAnyAsync[T any](futures ...Future[T]) Future[AnyResult[T]] {
	p := NewPromise[AnyResult[T]]()
	fut := p.GetFuture()
	if len(futures) == 0 {
		p.SetError(&InvariantError{Message: "WaitForAny requires at least one future"})
		return fut
	}

	var settle sync.Once
	for i, f := range futures {
		i, f := i, f
		go func() {
			v, err := f.Get(context.Background())
			settle.Do(func() { p.SetValue(AnyResult[T]{Index: i, Value: v, Err: err}) })
		}()
	}
	return fut
}

// WaitForAny blocks (cooperatively, if called from a fiber) until the
// first of futures settles, returning its index alongside its value or
// error.
func WaitForAny[T any](ctx context.Context, futures ...Future[T]) (AnyResult[T], error) {
	if len(futures) == 0 {
		return AnyResult[T]{Index: -1}, &InvariantError{Message: "WaitForAny requires at least one future"}
	}
	res, err := WaitForAnyAsync(futures...).Get(ctx)
	if err != nil {
		return AnyResult[T]{Index: -1}, err
	}
	return res, nil
}

// WaitForAllAsync returns immediately with a Future that settles once
// every future in futures has settled (yielding their values in order),
// or with the first error encountered, without blocking the calling
// goroutine or fiber.
func WaitForAllAsync[T any](futures ...Future[T]) Future[[]T] {
	p := NewPromise[[]T]()
	fut := p.GetFuture()
	if len(futures) == 0 {
		p.SetValue(nil)
		return fut
	}

	results := make([]T, len(futures))
	var remaining atomic.Int64
	remaining.Store(int64(len(futures)))
	var settle sync.Once

	for i, f := range futures {
		i, f := i, f
		go func() {
			v, err := f.Get(context.Background())
			if err != nil {
				settle.Do(func() { p.SetError(err) })
				return
			}
			results[i] = v
			if remaining.Add(-1) == 0 {
				settle.Do(func() { p.SetValue(results) })
			}
		}()
	}
	return fut
}

// WaitForAll blocks (cooperatively, if called from a fiber) until every
// future in futures has settled, returning their values in the same
// order, or the first error encountered.
func WaitForAll[T any](ctx context.Context, futures ...Future[T]) ([]T, error) {
	if len(futures) == 0 {
		return nil, nil
	}
	return WaitForAllAsync(futures...).Get(ctx)
}

// PackagedTask binds a function to a Promise: calling Call runs the
// function exactly once and routes its result (or panic, converted to an
// error) into the associated Future.
type PackagedTask[T any] struct {
	fn      func() (T, error)
	promise Promise[T]
	invoked atomic.Bool
}

// NewPackagedTask wraps fn for deferred, exactly-once invocation.
func NewPackagedTask[T any](fn func() (T, error)) *PackagedTask[T] {
	return &PackagedTask[T]{fn: fn, promise: NewPromise[T]()}
}

// GetFuture returns the task's associated Future. Like Promise.GetFuture,
// it may only be called once.
func (t *PackagedTask[T]) GetFuture() Future[T] { return t.promise.GetFuture() }

// Call runs the task's function and satisfies its Future. Calling it more
// than once panics with *InvariantError.
func (t *PackagedTask[T]) Call() {
	if !t.invoked.CompareAndSwap(false, true) {
		panic(&InvariantError{Message: "PackagedTask invoked more than once"})
	}
	v, err := func() (v T, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = panicToError(r)
			}
		}()
		return t.fn()
	}()
	if err != nil {
		t.promise.SetError(err)
	} else {
		t.promise.SetValue(v)
	}
}

// Async runs fn as a detached fiber on s and returns a Future for its
// result, mirroring boost::green_thread::async.
func Async[T any](s *Scheduler, fn func() (T, error)) Future[T] {
	task := NewPackagedTask(fn)
	fut := task.GetFuture()
	fut.state.scheduler = s
	s.GoDetached(func(*Fiber) { task.Call() })
	return fut
}

// AsyncExecutor runs submitted tasks on a fixed pool of plain (non-fiber)
// goroutines, for CPU-bound or blocking work that shouldn't occupy a
// scheduler slot, mirroring boost::green_thread::async_executor.
type AsyncExecutor[T any] struct {
	tasks     chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAsyncExecutor creates an AsyncExecutor with poolSize worker
// goroutines; poolSize <= 0 defaults to GOMAXPROCS.
func NewAsyncExecutor[T any](poolSize int) *AsyncExecutor[T] {
	if poolSize <= 0 {
		poolSize = runtime.GOMAXPROCS(0)
	}
	e := &AsyncExecutor[T]{tasks: make(chan func())}
	e.wg.Add(poolSize)
	for i := 0; i < poolSize; i++ {
		go func() {
			defer e.wg.Done()
			for fn := range e.tasks {
				fn()
			}
		}()
	}
	return e
}

// Submit queues fn for execution on the next free worker and returns a
// Future for its result.
func (e *AsyncExecutor[T]) Submit(fn func() (T, error)) Future[T] {
	task := NewPackagedTask(fn)
	fut := task.GetFuture()
	e.tasks <- func() { task.Call() }
	return fut
}

// Close stops accepting new work and waits for queued tasks to drain.
func (e *AsyncExecutor[T]) Close() {
	e.closeOnce.Do(func() { close(e.tasks) })
	e.wg.Wait()
}

// AsyncFunction serializes calls to a single function through a
// dedicated worker goroutine, giving callers a future-returning interface
// over state that must only ever be touched from one goroutine at a
// time, mirroring boost::green_thread::async_function.
type AsyncFunction[A, T any] struct {
	fn        func(A) (T, error)
	queue     chan asyncFunctionCall[A, T]
	done      chan struct{}
	closeOnce sync.Once
}

type asyncFunctionCall[A, T any] struct {
	arg     A
	promise Promise[T]
}

// NewAsyncFunction starts fn's dedicated worker goroutine.
func NewAsyncFunction[A, T any](fn func(A) (T, error)) *AsyncFunction[A, T] {
	af := &AsyncFunction[A, T]{
		fn:    fn,
		queue: make(chan asyncFunctionCall[A, T]),
		done:  make(chan struct{}),
	}
	go af.run()
	return af
}

func (af *AsyncFunction[A, T]) run() {
	defer close(af.done)
	for call := range af.queue {
		v, err := func() (v T, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = panicToError(r)
				}
			}()
			return af.fn(call.arg)
		}()
		if err != nil {
			call.promise.SetError(err)
		} else {
			call.promise.SetValue(v)
		}
	}
}

// Call queues arg for processing and returns a Future for the result.
func (af *AsyncFunction[A, T]) Call(arg A) Future[T] {
	p := NewPromise[T]()
	fut := p.GetFuture()
	af.queue <- asyncFunctionCall[A, T]{arg: arg, promise: p}
	return fut
}

// Close stops accepting new calls and waits for the worker to drain.
func (af *AsyncFunction[A, T]) Close() {
	af.closeOnce.Do(func() { close(af.queue) })
	<-af.done
}

// ForeignThreadPool is a fixed pool of plain OS-thread-backed goroutines
// for running blocking or CPU-heavy work submitted from fiber code
// without occupying a scheduler slot, mirroring
// boost::green_thread::foreign_thread_pool. Unlike AsyncExecutor, a
// single pool can serve calls of differing result types via the free
// function SubmitForeign, since Go methods cannot carry their own type
// parameters.
type ForeignThreadPool struct {
	tasks     chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewForeignThreadPool creates a ForeignThreadPool with poolSize worker
// goroutines; poolSize <= 0 defaults to 1.
func NewForeignThreadPool(poolSize int) *ForeignThreadPool {
	if poolSize <= 0 {
		poolSize = 1
	}
	p := &ForeignThreadPool{tasks: make(chan func())}
	p.wg.Add(poolSize)
	for i := 0; i < poolSize; i++ {
		go func() {
			defer p.wg.Done()
			for fn := range p.tasks {
				fn()
			}
		}()
	}
	return p
}

// SubmitForeign queues fn on p and returns a Future for its result.
func SubmitForeign[T any](p *ForeignThreadPool, fn func() (T, error)) Future[T] {
	task := NewPackagedTask(fn)
	fut := task.GetFuture()
	p.tasks <- func() { task.Call() }
	return fut
}

// Close stops accepting new work and waits for queued tasks to drain.
func (p *ForeignThreadPool) Close() {
	p.closeOnce.Do(func() { close(p.tasks) })
	p.wg.Wait()
}
