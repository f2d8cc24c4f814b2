package reactor

import (
	"sync/atomic"
)

// State represents the current lifecycle state of a Reactor.
//
// State Machine (Performance-First Design):
//
//	StateAwake (0) → StateRunning (3)      [Run()]
//	StateRunning (3) → StateSleeping (2)   [sleep() via CAS]
//	StateRunning (3) → StateTerminating (4) [Stop()]
//	StateSleeping (2) → StateRunning (3)   [sleep() wake via CAS]
//	StateSleeping (2) → StateTerminating (4) [Stop()]
//	StateTerminating (4) → StateTerminated (1) [shutdown complete]
//	StateTerminated (1) → (terminal)
//
// State Transition Rules:
//   - Use TryTransition() (CAS) for temporary states (Running, Sleeping)
//   - Use Store() for irreversible states (Terminated)
//   - Using Store(Running) or Store(Sleeping) is a BUG (breaks CAS logic)
type State uint64

const (
	// StateAwake indicates the reactor has been created but not started.
	StateAwake State = 0
	// StateTerminated indicates the reactor has stopped and is fully shut down.
	StateTerminated State = 1
	// StateSleeping indicates the reactor is blocked in its poll/wait step.
	StateSleeping State = 2
	// StateRunning indicates the reactor is actively draining ready work.
	StateRunning State = 3
	// StateTerminating indicates shutdown has been requested but not completed.
	StateTerminating State = 4
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// FastState is a lock-free state machine with cache-line padding.
//
// Every scheduler worker and the reactor's pump goroutine touch this on
// every iteration, so it is built on plain atomic CAS rather than a mutex,
// and padded to avoid false sharing with neighbouring fields.
type FastState struct { // betteralign:ignore
	_ [64]byte      // cache line padding (before value) //nolint:unused
	v atomic.Uint64 // state value
	_ [56]byte      // pad to complete cache line (64 - 8 = 56) //nolint:unused
}

// NewFastState creates a new state machine in the Awake state.
func NewFastState() *FastState {
	s := &FastState{}
	s.v.Store(uint64(StateAwake))
	return s
}

// Load returns the current state atomically.
func (s *FastState) Load() State {
	return State(s.v.Load())
}

// Store atomically stores a new state, bypassing transition validation.
func (s *FastState) Store(state State) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was successful.
func (s *FastState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// TransitionAny attempts to transition from any valid source state to the target.
// Returns true if the transition was successful.
func (s *FastState) TransitionAny(validFrom []State, to State) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint64(from), uint64(to)) {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the current state is terminal (Terminated).
func (s *FastState) IsTerminal() bool {
	return s.Load() == StateTerminated
}

// IsRunning returns true if the reactor is currently running or sleeping.
func (s *FastState) IsRunning() bool {
	state := s.Load()
	return state == StateRunning || state == StateSleeping
}

// CanAcceptWork returns true if the reactor can accept new work.
func (s *FastState) CanAcceptWork() bool {
	state := s.Load()
	return state == StateAwake || state == StateRunning || state == StateSleeping
}
