package greenthread

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAwaitCallbackResolvesFromFiber(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	result := make(chan int, 1)
	s.Go(func(f *Fiber) {
		v, err := AwaitCallback[int](context.Background(), func(complete func(int, error)) {
			go func() {
				time.Sleep(10 * time.Millisecond)
				complete(9, nil)
			}()
		})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		result <- v
	})

	select {
	case v := <-result:
		if v != 9 {
			t.Fatalf("expected 9, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitCallback never resolved")
	}
}

func TestAwaitCallbackPropagatesError(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	wantErr := errors.New("register failed")
	result := make(chan error, 1)
	s.Go(func(f *Fiber) {
		_, err := AwaitCallback[int](context.Background(), func(complete func(int, error)) {
			complete(0, wantErr)
		})
		result <- err
	})

	select {
	case err := <-result:
		if !errors.Is(err, wantErr) {
			t.Fatalf("expected %v, got %v", wantErr, err)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitCallback never resolved")
	}
}

func TestAwaitCallbackRequiresFiber(t *testing.T) {
	defer func() {
		r := recover()
		if _, ok := r.(*InvariantError); !ok {
			t.Fatalf("expected *InvariantError, got %#v", r)
		}
	}()
	_, _ = AwaitCallback[int](context.Background(), func(complete func(int, error)) {})
}

func TestFutureCallbackCallableFromForeignGoroutine(t *testing.T) {
	fut := FutureCallback[string](func(complete func(string, error)) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			complete("ready", nil)
		}()
	})

	v, err := fut.Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ready" {
		t.Fatalf("expected %q, got %q", "ready", v)
	}
}

func TestFutureCallbackToleratesDoubleComplete(t *testing.T) {
	var complete func(int, error)
	fut := FutureCallback[int](func(c func(int, error)) {
		complete = c
	})
	complete(1, nil)
	// a second invocation from a misbehaving register must not panic the
	// calling goroutine
	complete(2, nil)

	v, err := fut.Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected the first completion's value 1, got %d", v)
	}
}
