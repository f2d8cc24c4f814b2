package greenthread

import (
	"context"
	"testing"
	"time"
)

func TestConditionVariableNotifyOneWakesSingleWaiter(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	var m Mutex
	var cv ConditionVariable
	ready := make(chan struct{})
	woke := make(chan struct{})

	s.Go(func(f *Fiber) {
		m.Lock()
		close(ready)
		cv.Wait(&m)
		m.Unlock()
		close(woke)
	})

	<-ready
	s.Go(func(f *Fiber) {
		m.Lock()
		cv.NotifyOne()
		m.Unlock()
	})

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken")
	}
}

func TestConditionVariableNotifyAllWakesEveryWaiter(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	var m Mutex
	var cv ConditionVariable
	const n = 4
	readyCount := make(chan struct{}, n)
	wokeCount := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		s.Go(func(f *Fiber) {
			m.Lock()
			readyCount <- struct{}{}
			cv.Wait(&m)
			m.Unlock()
			wokeCount <- struct{}{}
		})
	}

	for i := 0; i < n; i++ {
		select {
		case <-readyCount:
		case <-time.After(time.Second):
			t.Fatal("waiters never became ready")
		}
	}

	s.Go(func(f *Fiber) {
		m.Lock()
		cv.NotifyAll()
		m.Unlock()
	})

	for i := 0; i < n; i++ {
		select {
		case <-wokeCount:
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d waiters woke", i, n)
		}
	}
}

func TestConditionVariableWaitForTimesOut(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	var m Mutex
	var cv ConditionVariable
	result := make(chan TimeoutIndication, 1)

	s.Go(func(f *Fiber) {
		m.Lock()
		result <- cv.WaitFor(&m, 30*time.Millisecond)
		m.Unlock()
	})

	select {
	case ind := <-result:
		if ind != TimeoutElapsed {
			t.Fatalf("expected TimeoutElapsed, got %v", ind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for WaitFor")
	}
}

func TestConditionVariableWaitForWakesBeforeDeadline(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	var m Mutex
	var cv ConditionVariable
	ready := make(chan struct{})
	result := make(chan TimeoutIndication, 1)

	s.Go(func(f *Fiber) {
		m.Lock()
		close(ready)
		result <- cv.WaitFor(&m, time.Second)
		m.Unlock()
	})

	<-ready
	s.Go(func(f *Fiber) {
		m.Lock()
		cv.NotifyAll()
		m.Unlock()
	})

	select {
	case ind := <-result:
		if ind != TimeoutNone {
			t.Fatalf("expected TimeoutNone, got %v", ind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestConditionVariableNotifyAllAtFiberExit(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	var m Mutex // unrelated to owner; just Wait's companion lock
	var cv ConditionVariable
	started := make(chan struct{})
	woke := make(chan struct{})

	owner := s.Go(func(f *Fiber) {
		close(started)
		f.Pause() // stays alive until explicitly resumed below
	})

	<-started
	cv.NotifyAllAtFiberExit(owner)

	waiting := make(chan struct{})
	s.Go(func(f *Fiber) {
		m.Lock()
		close(waiting)
		cv.Wait(&m)
		m.Unlock()
		close(woke)
	})
	<-waiting
	time.Sleep(20 * time.Millisecond) // let the waiter actually reach cv.Wait

	owner.Resume() // lets owner's body return, triggering the registered NotifyAll

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter was never notified on owner's fiber exit")
	}
}
