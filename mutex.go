package greenthread

import (
	"sync"
	"time"
)

// waiter is a single queued mutex acquisition attempt.
type waiter struct {
	fiber   *Fiber
	granted bool
	timedOut bool
}

// Mutex is a non-recursive fiber mutex with FIFO handoff: Unlock transfers
// ownership directly to the next waiter (if any) rather than waking every
// waiter to re-race for it, mirroring original_source/src/mutex.cpp.
//
// Only fiber goroutines may Lock/Unlock a Mutex; a foreign goroutine must
// not call these directly (there is no "current fiber" for Unlock to
// validate ownership against).
type Mutex struct {
	mu      sync.Mutex
	owner   *Fiber
	waiters []*waiter
}

// Lock acquires m, suspending the calling fiber if it is already held.
func (m *Mutex) Lock() {
	caller := requireCurrentFiber("Mutex.Lock")

	m.mu.Lock()
	if m.owner == nil {
		m.owner = caller
		m.mu.Unlock()
		return
	}
	if m.owner == caller {
		m.mu.Unlock()
		panic(&DeadlockError{Message: "Mutex is not recursive: fiber already holds it"})
	}
	w := &waiter{fiber: caller}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	caller.Pause()
	// Woken by Unlock's handoff: w.granted is guaranteed true by the time
	// Pause returns, since Unlock sets it before resuming caller.
}

// TryLock attempts to acquire m without suspending, returning false if it
// is already held.
func (m *Mutex) TryLock() bool {
	caller := requireCurrentFiber("Mutex.TryLock")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == nil {
		m.owner = caller
		return true
	}
	return false
}

// Unlock releases m. If another fiber is waiting, ownership transfers
// directly to it (it is marked granted and resumed) without ever clearing
// m.owner to nil in between.
func (m *Mutex) Unlock() {
	caller := requireCurrentFiber("Mutex.Unlock")
	m.mu.Lock()
	if m.owner != caller {
		m.mu.Unlock()
		panic(&PermissionError{Message: "Unlock called by a fiber that does not hold the Mutex"})
	}
	if len(m.waiters) == 0 {
		m.owner = nil
		m.mu.Unlock()
		return
	}
	next := m.waiters[0]
	m.waiters = m.waiters[1:]
	if len(m.waiters) == 0 {
		m.waiters = nil
	}
	m.owner = next.fiber
	next.granted = true
	m.mu.Unlock()

	next.fiber.Resume()
}

// requireCurrentFiber panics with *InvariantError if called from outside
// a fiber body; it's the shared guard for every mutex-family/CV/barrier
// operation, which is a suspension point and therefore fiber-only.
func requireCurrentFiber(op string) *Fiber {
	f := CurrentFiber()
	if f == nil {
		panic(&InvariantError{Message: op + " may only be called from within a fiber"})
	}
	return f
}

// RecursiveMutex allows its owning fiber to Lock it repeatedly; Unlock
// must be called an equal number of times before another fiber can
// acquire it.
type RecursiveMutex struct {
	mu      sync.Mutex
	owner   *Fiber
	depth   int
	waiters []*waiter
}

func (m *RecursiveMutex) Lock() {
	caller := requireCurrentFiber("RecursiveMutex.Lock")

	m.mu.Lock()
	if m.owner == nil {
		m.owner = caller
		m.depth = 1
		m.mu.Unlock()
		return
	}
	if m.owner == caller {
		m.depth++
		m.mu.Unlock()
		return
	}
	w := &waiter{fiber: caller}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	caller.Pause()
}

func (m *RecursiveMutex) TryLock() bool {
	caller := requireCurrentFiber("RecursiveMutex.TryLock")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == nil {
		m.owner = caller
		m.depth = 1
		return true
	}
	if m.owner == caller {
		m.depth++
		return true
	}
	return false
}

func (m *RecursiveMutex) Unlock() {
	caller := requireCurrentFiber("RecursiveMutex.Unlock")
	m.mu.Lock()
	if m.owner != caller {
		m.mu.Unlock()
		panic(&PermissionError{Message: "Unlock called by a fiber that does not hold the RecursiveMutex"})
	}
	m.depth--
	if m.depth > 0 {
		m.mu.Unlock()
		return
	}
	if len(m.waiters) == 0 {
		m.owner = nil
		m.mu.Unlock()
		return
	}
	next := m.waiters[0]
	m.waiters = m.waiters[1:]
	if len(m.waiters) == 0 {
		m.waiters = nil
	}
	m.owner = next.fiber
	m.depth = 1
	next.granted = true
	m.mu.Unlock()

	next.fiber.Resume()
}

// TimedMutex is a non-recursive Mutex whose Lock has a deadline-bounded
// variant, LockFor, which removes the calling fiber from the wait queue
// and returns TimeoutElapsed if the deadline passes before acquisition.
type TimedMutex struct {
	mu      sync.Mutex
	owner   *Fiber
	waiters []*waiter
}

func (m *TimedMutex) Lock() {
	caller := requireCurrentFiber("TimedMutex.Lock")
	m.mu.Lock()
	if m.owner == nil {
		m.owner = caller
		m.mu.Unlock()
		return
	}
	if m.owner == caller {
		m.mu.Unlock()
		panic(&DeadlockError{Message: "TimedMutex is not recursive: fiber already holds it"})
	}
	w := &waiter{fiber: caller}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	caller.Pause()
}

func (m *TimedMutex) TryLock() bool {
	caller := requireCurrentFiber("TimedMutex.TryLock")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == nil {
		m.owner = caller
		return true
	}
	return false
}

// LockFor attempts to acquire m, returning TimeoutElapsed if d elapses
// first instead of suspending indefinitely.
func (m *TimedMutex) LockFor(d time.Duration) TimeoutIndication {
	caller := requireCurrentFiber("TimedMutex.LockFor")
	m.mu.Lock()
	if m.owner == nil {
		m.owner = caller
		m.mu.Unlock()
		return TimeoutNone
	}
	w := &waiter{fiber: caller}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	cancel, _ := caller.scheduler.reactor.ScheduleTimer(d, func() {
		m.mu.Lock()
		if w.granted {
			m.mu.Unlock()
			return
		}
		w.timedOut = true
		m.removeWaiterLocked(w)
		m.mu.Unlock()
		caller.Resume()
	})

	caller.Pause()
	cancel()

	if w.timedOut {
		return TimeoutElapsed
	}
	return TimeoutNone
}

func (m *TimedMutex) removeWaiterLocked(w *waiter) {
	for i, other := range m.waiters {
		if other == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

func (m *TimedMutex) Unlock() {
	caller := requireCurrentFiber("TimedMutex.Unlock")
	m.mu.Lock()
	if m.owner != caller {
		m.mu.Unlock()
		panic(&PermissionError{Message: "Unlock called by a fiber that does not hold the TimedMutex"})
	}
	if len(m.waiters) == 0 {
		m.owner = nil
		m.mu.Unlock()
		return
	}
	next := m.waiters[0]
	m.waiters = m.waiters[1:]
	if len(m.waiters) == 0 {
		m.waiters = nil
	}
	m.owner = next.fiber
	next.granted = true
	m.mu.Unlock()

	next.fiber.Resume()
}

// sharedWaiter is a single queued SharedTimedMutex acquisition attempt,
// exclusive or shared.
type sharedWaiter struct {
	fiber    *Fiber
	shared   bool
	granted  bool
	timedOut bool
}

// SharedTimedMutex is a single-writer/multiple-reader mutex with FIFO
// fairness between exclusive and shared acquisitions: once a writer is
// queued, no shared acquisition attempted after it is allowed to jump
// ahead of it, mirroring std::shared_timed_mutex's contract rather than
// the weaker "readers always win" policy. Only fiber goroutines may use
// it, like the rest of the mutex family.
type SharedTimedMutex struct {
	mu      sync.Mutex
	writer  *Fiber
	readers map[*Fiber]struct{}
	waiters []*sharedWaiter
}

// Lock acquires m for exclusive access, suspending the calling fiber if
// it is already held (for reading or writing) or if fibers are already
// queued ahead of it.
func (m *SharedTimedMutex) Lock() {
	caller := requireCurrentFiber("SharedTimedMutex.Lock")
	m.mu.Lock()
	if m.writer == nil && len(m.readers) == 0 && len(m.waiters) == 0 {
		m.writer = caller
		m.mu.Unlock()
		return
	}
	w := &sharedWaiter{fiber: caller}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()
	caller.Pause()
}

// TryLock attempts to acquire m for exclusive access without suspending.
func (m *SharedTimedMutex) TryLock() bool {
	caller := requireCurrentFiber("SharedTimedMutex.TryLock")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writer == nil && len(m.readers) == 0 && len(m.waiters) == 0 {
		m.writer = caller
		return true
	}
	return false
}

// LockFor is Lock bounded by d, returning TimeoutElapsed if d elapses
// before acquisition instead of suspending indefinitely.
func (m *SharedTimedMutex) LockFor(d time.Duration) TimeoutIndication {
	caller := requireCurrentFiber("SharedTimedMutex.LockFor")
	m.mu.Lock()
	if m.writer == nil && len(m.readers) == 0 && len(m.waiters) == 0 {
		m.writer = caller
		m.mu.Unlock()
		return TimeoutNone
	}
	w := &sharedWaiter{fiber: caller}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	cancel, _ := caller.scheduler.reactor.ScheduleTimer(d, func() {
		m.mu.Lock()
		if w.granted {
			m.mu.Unlock()
			return
		}
		w.timedOut = true
		m.removeSharedWaiterLocked(w)
		m.mu.Unlock()
		caller.Resume()
	})

	caller.Pause()
	cancel()

	if w.timedOut {
		return TimeoutElapsed
	}
	return TimeoutNone
}

// Unlock releases m from exclusive ownership and hands off to the next
// waiter(s): either a single writer, or every consecutive reader queued
// ahead of the next writer.
func (m *SharedTimedMutex) Unlock() {
	caller := requireCurrentFiber("SharedTimedMutex.Unlock")
	m.mu.Lock()
	if m.writer != caller {
		m.mu.Unlock()
		panic(&PermissionError{Message: "Unlock called by a fiber that does not hold the SharedTimedMutex exclusively"})
	}
	m.writer = nil
	ready := m.dispatchLocked()
	m.mu.Unlock()
	for _, f := range ready {
		f.Resume()
	}
}

// LockShared acquires m for shared (read) access, suspending the calling
// fiber if it is exclusively held or if a writer is already queued ahead
// of it.
func (m *SharedTimedMutex) LockShared() {
	caller := requireCurrentFiber("SharedTimedMutex.LockShared")
	m.mu.Lock()
	if m.writer == nil && len(m.waiters) == 0 {
		m.addReaderLocked(caller)
		m.mu.Unlock()
		return
	}
	w := &sharedWaiter{fiber: caller, shared: true}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()
	caller.Pause()
}

// TryLockShared attempts to acquire m for shared access without
// suspending.
func (m *SharedTimedMutex) TryLockShared() bool {
	caller := requireCurrentFiber("SharedTimedMutex.TryLockShared")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writer == nil && len(m.waiters) == 0 {
		m.addReaderLocked(caller)
		return true
	}
	return false
}

// LockSharedFor is LockShared bounded by d, returning TimeoutElapsed if d
// elapses before acquisition instead of suspending indefinitely.
func (m *SharedTimedMutex) LockSharedFor(d time.Duration) TimeoutIndication {
	caller := requireCurrentFiber("SharedTimedMutex.LockSharedFor")
	m.mu.Lock()
	if m.writer == nil && len(m.waiters) == 0 {
		m.addReaderLocked(caller)
		m.mu.Unlock()
		return TimeoutNone
	}
	w := &sharedWaiter{fiber: caller, shared: true}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	cancel, _ := caller.scheduler.reactor.ScheduleTimer(d, func() {
		m.mu.Lock()
		if w.granted {
			m.mu.Unlock()
			return
		}
		w.timedOut = true
		m.removeSharedWaiterLocked(w)
		m.mu.Unlock()
		caller.Resume()
	})

	caller.Pause()
	cancel()

	if w.timedOut {
		return TimeoutElapsed
	}
	return TimeoutNone
}

// UnlockShared releases one shared hold on m, dispatching the next
// waiter(s) once every reader has released.
func (m *SharedTimedMutex) UnlockShared() {
	caller := requireCurrentFiber("SharedTimedMutex.UnlockShared")
	m.mu.Lock()
	if _, ok := m.readers[caller]; !ok {
		m.mu.Unlock()
		panic(&PermissionError{Message: "UnlockShared called by a fiber that does not hold the SharedTimedMutex for reading"})
	}
	delete(m.readers, caller)
	var ready []*Fiber
	if len(m.readers) == 0 {
		ready = m.dispatchLocked()
	}
	m.mu.Unlock()
	for _, f := range ready {
		f.Resume()
	}
}

func (m *SharedTimedMutex) addReaderLocked(f *Fiber) {
	if m.readers == nil {
		m.readers = make(map[*Fiber]struct{})
	}
	m.readers[f] = struct{}{}
}

// dispatchLocked must be called with m.mu held once both m.writer and
// m.readers reflect the hold that was just released. It grants either
// the next exclusive waiter, or every consecutive shared waiter queued
// ahead of the next exclusive one, and returns the fibers to resume.
func (m *SharedTimedMutex) dispatchLocked() []*Fiber {
	if len(m.waiters) == 0 {
		return nil
	}
	if !m.waiters[0].shared {
		w := m.waiters[0]
		m.waiters = m.waiters[1:]
		if len(m.waiters) == 0 {
			m.waiters = nil
		}
		w.granted = true
		m.writer = w.fiber
		return []*Fiber{w.fiber}
	}
	var granted []*Fiber
	i := 0
	for i < len(m.waiters) && m.waiters[i].shared {
		w := m.waiters[i]
		w.granted = true
		m.addReaderLocked(w.fiber)
		granted = append(granted, w.fiber)
		i++
	}
	m.waiters = m.waiters[i:]
	if len(m.waiters) == 0 {
		m.waiters = nil
	}
	return granted
}

func (m *SharedTimedMutex) removeSharedWaiterLocked(w *sharedWaiter) {
	for i, other := range m.waiters {
		if other == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

// RecursiveTimedMutex combines RecursiveMutex's re-entrant ownership with
// TimedMutex's deadline-bounded LockFor.
type RecursiveTimedMutex struct {
	mu      sync.Mutex
	owner   *Fiber
	depth   int
	waiters []*waiter
}

func (m *RecursiveTimedMutex) Lock() {
	caller := requireCurrentFiber("RecursiveTimedMutex.Lock")
	m.mu.Lock()
	if m.owner == nil {
		m.owner = caller
		m.depth = 1
		m.mu.Unlock()
		return
	}
	if m.owner == caller {
		m.depth++
		m.mu.Unlock()
		return
	}
	w := &waiter{fiber: caller}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	caller.Pause()
}

func (m *RecursiveTimedMutex) TryLock() bool {
	caller := requireCurrentFiber("RecursiveTimedMutex.TryLock")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == nil {
		m.owner = caller
		m.depth = 1
		return true
	}
	if m.owner == caller {
		m.depth++
		return true
	}
	return false
}

func (m *RecursiveTimedMutex) LockFor(d time.Duration) TimeoutIndication {
	caller := requireCurrentFiber("RecursiveTimedMutex.LockFor")
	m.mu.Lock()
	if m.owner == nil {
		m.owner = caller
		m.depth = 1
		m.mu.Unlock()
		return TimeoutNone
	}
	if m.owner == caller {
		m.depth++
		m.mu.Unlock()
		return TimeoutNone
	}
	w := &waiter{fiber: caller}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	cancel, _ := caller.scheduler.reactor.ScheduleTimer(d, func() {
		m.mu.Lock()
		if w.granted {
			m.mu.Unlock()
			return
		}
		w.timedOut = true
		for i, other := range m.waiters {
			if other == w {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		caller.Resume()
	})

	caller.Pause()
	cancel()

	if w.timedOut {
		return TimeoutElapsed
	}
	return TimeoutNone
}

func (m *RecursiveTimedMutex) Unlock() {
	caller := requireCurrentFiber("RecursiveTimedMutex.Unlock")
	m.mu.Lock()
	if m.owner != caller {
		m.mu.Unlock()
		panic(&PermissionError{Message: "Unlock called by a fiber that does not hold the RecursiveTimedMutex"})
	}
	m.depth--
	if m.depth > 0 {
		m.mu.Unlock()
		return
	}
	if len(m.waiters) == 0 {
		m.owner = nil
		m.mu.Unlock()
		return
	}
	next := m.waiters[0]
	m.waiters = m.waiters[1:]
	if len(m.waiters) == 0 {
		m.waiters = nil
	}
	m.owner = next.fiber
	m.depth = 1
	next.granted = true
	m.mu.Unlock()

	next.fiber.Resume()
}
