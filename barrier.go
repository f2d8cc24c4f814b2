package greenthread

import "sync"

// Barrier blocks each generation's required number of fibers at Arrive until all of them have
// called it, then releases them together, running an optional completion
// callback exactly once per generation on the fiber that completes it. It
// is reusable: once a generation completes, the Barrier immediately starts
// counting the next one, as in original_source's barrier primitive.
type Barrier struct {
	mu         sync.Mutex
	size       int
	count      int
	waiting    []*Fiber
	onComplete func() int
}

// NewBarrier creates a Barrier whose first generation requires n
// participants. If onComplete is non-nil, it runs once per generation, on
// the fiber that completes it, before the rest are released, and its
// return value becomes the required participant count for the next
// generation (letting a barrier grow or shrink across phases, e.g. to
// reflect workers joining or leaving between rounds).
func NewBarrier(n int, onComplete func() int) *Barrier {
	if n <= 0 {
		panic(&InvariantError{Message: "Barrier requires a positive participant count"})
	}
	return &Barrier{size: n, onComplete: onComplete}
}

// Arrive blocks the calling fiber until the generation's required number
// of fibers have called Arrive, then returns true on exactly one of them
// (the one that completed the generation) and false on the rest,
// mirroring std::barrier's "serial phase" designation.
func (b *Barrier) Arrive() bool {
	caller := requireCurrentFiber("Barrier.Arrive")

	b.mu.Lock()
	b.count++

	if b.count < b.size {
		b.waiting = append(b.waiting, caller)
		b.mu.Unlock()
		caller.Pause()
		return false
	}

	waiting := b.waiting
	b.waiting = nil
	b.count = 0
	if b.onComplete != nil {
		b.size = b.onComplete()
	}
	b.mu.Unlock()

	for _, f := range waiting {
		f.Resume()
	}
	return true
}
