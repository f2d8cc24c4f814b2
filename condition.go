package greenthread

import (
	"sync"
	"time"
)

// ConditionVariable is a fiber condition variable: Wait atomically
// suspends the calling fiber and releases a companion lock, mirroring
// original_source/src/condition.cpp's wait-under-mutex idiom. The
// companion lock is any type satisfying the Locker interface below, so it
// works with Mutex, RecursiveMutex, TimedMutex and RecursiveTimedMutex
// alike.
type ConditionVariable struct {
	mu      sync.Mutex
	waiters []*Fiber
}

// Locker is satisfied by every mutex in this package's Mutex family.
type Locker interface {
	Lock()
	Unlock()
}

// Wait atomically unlocks l and suspends the calling fiber until another
// fiber calls NotifyOne or NotifyAll on the same ConditionVariable, then
// reacquires l before returning. It may only be called from within a
// fiber.
func (c *ConditionVariable) Wait(l Locker) {
	caller := requireCurrentFiber("ConditionVariable.Wait")

	c.mu.Lock()
	c.waiters = append(c.waiters, caller)
	c.mu.Unlock()

	l.Unlock()
	caller.Pause()
	l.Lock()
}

// WaitFor is like Wait but gives up and returns TimeoutElapsed if d
// elapses before the fiber is notified. On a timeout, l is still
// reacquired before returning, matching Wait's always-relock contract.
func (c *ConditionVariable) WaitFor(l Locker, d time.Duration) TimeoutIndication {
	caller := requireCurrentFiber("ConditionVariable.WaitFor")

	c.mu.Lock()
	c.waiters = append(c.waiters, caller)
	c.mu.Unlock()

	var timedOut bool
	cancel, _ := caller.scheduler.reactor.ScheduleTimer(d, func() {
		if c.removeWaiter(caller) {
			timedOut = true
			caller.Resume()
		}
	})

	l.Unlock()
	caller.Pause()
	cancel()
	l.Lock()

	if timedOut {
		return TimeoutElapsed
	}
	return TimeoutNone
}

// removeWaiter removes f from the waiter list if still present, reporting
// whether it did so (false means f was already popped by a notify racing
// with the timer).
func (c *ConditionVariable) removeWaiter(f *Fiber) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == f {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// NotifyOne wakes at most one waiting fiber, in FIFO order.
func (c *ConditionVariable) NotifyOne() {
	c.mu.Lock()
	if len(c.waiters) == 0 {
		c.mu.Unlock()
		return
	}
	f := c.waiters[0]
	c.waiters = c.waiters[1:]
	if len(c.waiters) == 0 {
		c.waiters = nil
	}
	c.mu.Unlock()

	f.Resume()
}

// NotifyAll wakes every currently waiting fiber.
func (c *ConditionVariable) NotifyAll() {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, f := range waiters {
		f.Resume()
	}
}

// NotifyAllAtFiberExit arranges for NotifyAll to run automatically once
// the given fiber's body finishes, letting waiters blocked on a shared
// resource owned by that fiber wake without it having to remember to
// notify explicitly on every return path.
func (c *ConditionVariable) NotifyAllAtFiberExit(f *Fiber) {
	f.notifyAtFiberExit(c.NotifyAll)
}
