package reactor

import (
	"sync"
)

// Strand is a serial execution context layered on a Reactor: callbacks
// posted to the same Strand never run concurrently and always run in the
// order they were posted, even though the Reactor itself may be shared by
// many strands and the Reactor's own task queue interleaves them.
//
// This gives fiber-facing code (the scheduler's ready queue, Then
// continuations) a single-writer illusion without each of those callers
// needing its own lock. The mutex family and condition variables use their
// own sync.Mutex instead.
type Strand struct {
	reactor *Reactor

	mu       sync.Mutex
	queue    []func()
	draining bool

	// drainerID is the goroutine id currently executing drain, valid only
	// while draining is true. Guarded by mu rather than an atomic, since
	// every access already happens under lock.
	drainerID uint64
}

// NewStrand creates a Strand that schedules its drain loop onto reactor.
func NewStrand(reactor *Reactor) *Strand {
	return &Strand{reactor: reactor}
}

// Post always defers fn: it is appended to the strand's queue and the
// strand's drain loop is scheduled (or left running) on the reactor. Post
// never calls fn inline, even if the caller is already on this strand.
func (s *Strand) Post(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	needsDrainer := !s.draining
	if needsDrainer {
		s.draining = true
	}
	s.mu.Unlock()

	if needsDrainer {
		_ = s.reactor.SubmitInternal(s.drain)
	}
}

// Dispatch calls fn inline if the caller is already executing on this
// strand's drain loop (i.e. this call is itself nested inside a callback
// this Strand posted); otherwise it behaves exactly like Post.
func (s *Strand) Dispatch(fn func()) {
	if fn == nil {
		return
	}
	if s.onStrand() {
		fn()
		return
	}
	s.Post(fn)
}

// Running reports whether the strand's drain loop is currently active
// (either executing a callback or about to pick one up).
func (s *Strand) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

func (s *Strand) drain() {
	s.mu.Lock()
	s.drainerID = goroutineID()
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.drainerID = 0
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue = s.queue[1:]
		if len(s.queue) == 0 {
			// allow the backing array to be reclaimed once drained
			s.queue = nil
		}
		s.mu.Unlock()

		s.reactor.safeRun(Task{Runnable: fn})
	}
}

func (s *Strand) onStrand() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining && s.drainerID == goroutineID()
}
