package greenthread

import (
	"context"
	"testing"
	"time"
)

func TestFiberLifecycleStates(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	f := s.Go(func(fb *Fiber) {
		close(started)
		<-release
	})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("fiber never started")
	}
	if f.State() != FiberRunning {
		t.Fatalf("expected FiberRunning, got %v", f.State())
	}

	close(release)
	if err := f.Join(context.Background()); err != nil {
		t.Fatalf("unexpected Join error: %v", err)
	}
	if f.State() != FiberStopped {
		t.Fatalf("expected FiberStopped after Join, got %v", f.State())
	}
}

func TestFiberJoinReturnsPanicAsError(t *testing.T) {
	s := NewScheduler(WithErrorSink(func(error) {})) // suppress the default error-sink log
	defer s.Shutdown(context.Background())

	f := s.Go(func(fb *Fiber) { panic("kaboom") })
	err := f.Join(context.Background())
	if err == nil {
		t.Fatal("expected Join to return the fiber's panic as an error")
	}
}

func TestFiberJoinSelfReturnsDeadlockError(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	done := make(chan struct{})
	s.Go(func(fb *Fiber) {
		err := fb.Join(context.Background())
		if _, ok := err.(*DeadlockError); !ok {
			t.Errorf("expected *DeadlockError joining self, got %#v", err)
		}
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestFiberInterruptWakesBlockedFiber(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	started := make(chan struct{})
	interrupted := make(chan bool, 1)
	f := s.Go(func(fb *Fiber) {
		close(started)
		defer func() {
			_, ok := recover().(*InterruptedError)
			interrupted <- ok
		}()
		fb.Pause()
	})

	<-started
	time.Sleep(20 * time.Millisecond) // let the fiber reach Pause and go Blocked
	f.Interrupt()

	select {
	case ok := <-interrupted:
		if !ok {
			t.Fatal("expected Pause to panic with *InterruptedError after Interrupt")
		}
	case <-time.After(time.Second):
		t.Fatal("interrupted fiber never woke")
	}
}

func TestFiberDisableInterruptionSuppresses(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	started := make(chan struct{})
	result := make(chan error, 1)
	f := s.Go(func(fb *Fiber) {
		restore := fb.DisableInterruption()
		close(started)
		fb.Interrupt()
		result <- fb.InterruptionPoint()
		restore()
		result <- fb.InterruptionPoint()
	})
	_ = f

	<-started
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected no error while interruption is disabled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	select {
	case err := <-result:
		if _, ok := err.(*InterruptedError); !ok {
			t.Fatalf("expected *InterruptedError once interruption is re-enabled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestCurrentFiberOutsideFiberIsNil(t *testing.T) {
	if f := CurrentFiber(); f != nil {
		t.Fatalf("expected nil outside any fiber body, got %v", f)
	}
}

func TestFiberCloseReportsAbortError(t *testing.T) {
	errs := make(chan error, 1)
	s := NewScheduler(WithErrorSink(func(err error) { errs <- err }))
	defer s.Shutdown(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	f := s.Go(func(fb *Fiber) {
		close(started)
		<-release
	})
	<-started

	f.Close()

	select {
	case err := <-errs:
		if _, ok := err.(*AbortError); !ok {
			t.Fatalf("expected *AbortError, got %#v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close never reported an AbortError")
	}

	close(release)
	if err := f.Join(context.Background()); err != nil {
		t.Fatalf("unexpected Join error: %v", err)
	}
}

func TestFiberCloseIsNoOpOnStoppedFiber(t *testing.T) {
	errs := make(chan error, 1)
	s := NewScheduler(WithErrorSink(func(err error) { errs <- err }))
	defer s.Shutdown(context.Background())

	f := s.Go(func(fb *Fiber) {})
	if err := f.Join(context.Background()); err != nil {
		t.Fatalf("unexpected Join error: %v", err)
	}

	f.Close()

	select {
	case err := <-errs:
		t.Fatalf("expected no error sink call for an already-stopped fiber, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFiberCloseIsIdempotent(t *testing.T) {
	var calls int
	s := NewScheduler(WithErrorSink(func(error) { calls++ }))
	defer s.Shutdown(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	f := s.Go(func(fb *Fiber) {
		close(started)
		<-release
	})
	<-started

	f.Close()
	f.Close()
	time.Sleep(20 * time.Millisecond)
	if calls != 1 {
		t.Fatalf("expected exactly one error-sink call across repeated Close, got %d", calls)
	}

	close(release)
	if err := f.Join(context.Background()); err != nil {
		t.Fatalf("unexpected Join error: %v", err)
	}
}

func TestFiberCloseIsNoOpOnDetachedFiber(t *testing.T) {
	errs := make(chan error, 1)
	s := NewScheduler(WithErrorSink(func(err error) { errs <- err }))
	defer s.Shutdown(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	f := s.GoDetached(func(fb *Fiber) {
		close(started)
		<-release
	})
	<-started

	f.Close()

	select {
	case err := <-errs:
		t.Fatalf("expected no error sink call for a detached fiber, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
}
