package reactor

import "testing"

func TestFastStateTryTransition(t *testing.T) {
	s := NewFastState()
	if s.Load() != StateAwake {
		t.Fatalf("expected initial state Awake, got %v", s.Load())
	}
	if !s.TryTransition(StateAwake, StateRunning) {
		t.Fatal("expected Awake->Running to succeed")
	}
	if s.TryTransition(StateAwake, StateSleeping) {
		t.Fatal("expected a transition from the wrong source state to fail")
	}
}

func TestFastStateTransitionAny(t *testing.T) {
	s := NewFastState()
	s.Store(StateSleeping)
	if !s.TransitionAny([]State{StateRunning, StateSleeping}, StateTerminating) {
		t.Fatal("expected TransitionAny to match one of the valid source states")
	}
	if s.Load() != StateTerminating {
		t.Fatalf("expected Terminating, got %v", s.Load())
	}
}

func TestFastStateIsRunningAndTerminal(t *testing.T) {
	s := NewFastState()
	s.Store(StateRunning)
	if !s.IsRunning() {
		t.Fatal("expected IsRunning true in StateRunning")
	}
	if s.IsTerminal() {
		t.Fatal("expected IsTerminal false in StateRunning")
	}
	s.Store(StateTerminated)
	if s.IsRunning() {
		t.Fatal("expected IsRunning false in StateTerminated")
	}
	if !s.IsTerminal() {
		t.Fatal("expected IsTerminal true in StateTerminated")
	}
}

func TestFastStateCanAcceptWork(t *testing.T) {
	s := NewFastState()
	for _, st := range []State{StateAwake, StateRunning, StateSleeping} {
		s.Store(st)
		if !s.CanAcceptWork() {
			t.Fatalf("expected CanAcceptWork true in %v", st)
		}
	}
	for _, st := range []State{StateTerminating, StateTerminated} {
		s.Store(st)
		if s.CanAcceptWork() {
			t.Fatalf("expected CanAcceptWork false in %v", st)
		}
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateAwake:       "Awake",
		StateRunning:     "Running",
		StateSleeping:    "Sleeping",
		StateTerminating: "Terminating",
		StateTerminated:  "Terminated",
	}
	for st, want := range cases {
		if got := st.String(); got != want {
			t.Errorf("%d: expected %q, got %q", st, want, got)
		}
	}
}
