package greenthread

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBarrierReleasesAllParticipants(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	const n = 4
	b := NewBarrier(n, nil)
	var completers atomic.Int32
	released := make(chan bool, n)

	for i := 0; i < n; i++ {
		s.Go(func(f *Fiber) {
			if b.Arrive() {
				completers.Add(1)
			}
			released <- true
		})
	}

	for i := 0; i < n; i++ {
		select {
		case <-released:
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d fibers released", i, n)
		}
	}
	if got := completers.Load(); got != 1 {
		t.Fatalf("expected exactly one completer, got %d", got)
	}
}

func TestBarrierOnCompleteRunsOncePerGeneration(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	const n = 3
	var completions atomic.Int32
	b := NewBarrier(n, func() int {
		completions.Add(1)
		return n
	})

	for gen := 0; gen < 2; gen++ {
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			s.Go(func(f *Fiber) {
				defer wg.Done()
				b.Arrive()
			})
		}
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("generation %d never completed", gen)
		}
	}

	if got := completions.Load(); got != 2 {
		t.Fatalf("expected 2 completions across 2 generations, got %d", got)
	}
}

func TestBarrierOnCompleteResizesNextGeneration(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	// First generation needs 3 arrivals; onComplete shrinks the next
	// generation down to 2.
	sizes := []int{2}
	var nextSize atomic.Int32
	b := NewBarrier(3, func() int {
		n := sizes[0]
		sizes = sizes[1:]
		nextSize.Store(int32(n))
		return n
	})

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		s.Go(func(f *Fiber) {
			defer wg.Done()
			b.Arrive()
		})
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("first generation never completed")
	}

	// Second generation should now only require 2 arrivals to complete.
	var completers atomic.Int32
	released := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		s.Go(func(f *Fiber) {
			if b.Arrive() {
				completers.Add(1)
			}
			released <- true
		})
	}
	for i := 0; i < 2; i++ {
		select {
		case <-released:
		case <-time.After(time.Second):
			t.Fatalf("only %d of 2 fibers released in resized generation", i)
		}
	}
	if got := completers.Load(); got != 1 {
		t.Fatalf("expected exactly one completer in resized generation, got %d", got)
	}
}

func TestBarrierInvalidSizePanics(t *testing.T) {
	defer func() {
		r := recover()
		if _, ok := r.(*InvariantError); !ok {
			t.Fatalf("expected *InvariantError, got %#v", r)
		}
	}()
	NewBarrier(0, nil)
}
