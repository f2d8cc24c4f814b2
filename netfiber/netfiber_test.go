package netfiber

import (
	"context"
	"os"
	"testing"
	"time"

	greenthread "github.com/joeycumines/greenthread"
)

func TestPollerAwaitReadyOnPipeRead(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	s := greenthread.NewScheduler()
	defer s.Shutdown(context.Background())

	result := make(chan IOEvents, 1)
	errCh := make(chan error, 1)
	s.Go(func(f *greenthread.Fiber) {
		ev, err := p.AwaitReady(context.Background(), int(r.Fd()), EventRead)
		errCh <- err
		result <- ev
	})

	time.Sleep(20 * time.Millisecond) // let the fiber register its readiness wait first
	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected error from AwaitReady: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitReady never resolved")
	}
	select {
	case ev := <-result:
		if ev&EventRead == 0 {
			t.Fatalf("expected EventRead set, got %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for readiness event")
	}
}

func TestPollerAwaitReadyRespectsContextCancellation(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	s := greenthread.NewScheduler()
	defer s.Shutdown(context.Background())

	errCh := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Go(func(f *greenthread.Fiber) {
		_, err := p.AwaitReady(ctx, int(r.Fd()), EventRead)
		errCh <- err
	})

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected a context-cancellation error when nothing ever becomes ready")
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitReady never returned on context cancellation")
	}
}
