package greenthread

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerMetricsDisabledByDefault(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown(context.Background())

	if m := s.Metrics(); m != nil {
		t.Fatalf("expected nil Metrics by default, got %+v", m)
	}
}

func TestSchedulerMetricsTracksDispatchAndThroughput(t *testing.T) {
	s := NewScheduler(WithMetrics(true), WithWorkers(1))
	defer s.Shutdown(context.Background())

	m := s.Metrics()
	if m == nil {
		t.Fatal("expected non-nil Metrics when WithMetrics(true)")
	}

	const n = 10
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		s.Go(func(f *Fiber) { done <- struct{}{} })
	}
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d fibers completed", i, n)
		}
	}

	if n := m.Sample(); n == 0 {
		t.Fatal("expected dispatch-latency samples to have been recorded")
	}
	if rate := m.Throughput.Rate(); rate <= 0 {
		t.Fatalf("expected a positive throughput rate, got %v", rate)
	}
}
