package metrics

import "testing"

func TestMultiQuantileMedianOnUniformData(t *testing.T) {
	mq := NewMultiQuantile(0.5)
	for i := 1; i <= 1000; i++ {
		mq.Update(float64(i))
	}
	got := mq.Quantile(0)
	if got < 480 || got > 520 {
		t.Fatalf("expected median near 500 for 1..1000, got %v", got)
	}
}

func TestMultiQuantileMaxTracksPeak(t *testing.T) {
	mq := NewMultiQuantile(0.99)
	vals := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	for _, v := range vals {
		mq.Update(v)
	}
	if mq.Max() != 9 {
		t.Fatalf("expected max 9, got %v", mq.Max())
	}
}

func TestMultiQuantileMeanAndCount(t *testing.T) {
	mq := NewMultiQuantile(0.5)
	mq.Update(10)
	mq.Update(20)
	mq.Update(30)
	if mq.Count() != 3 {
		t.Fatalf("expected count 3, got %d", mq.Count())
	}
	if mq.Mean() != 20 {
		t.Fatalf("expected mean 20, got %v", mq.Mean())
	}
}

func TestMultiQuantileEmptyReportsZero(t *testing.T) {
	mq := NewMultiQuantile(0.5, 0.9)
	if mq.Count() != 0 {
		t.Fatalf("expected count 0, got %d", mq.Count())
	}
	if mq.Max() != 0 {
		t.Fatalf("expected max 0 on empty estimator, got %v", mq.Max())
	}
	if mq.Mean() != 0 {
		t.Fatalf("expected mean 0 on empty estimator, got %v", mq.Mean())
	}
}

func TestMultiQuantileSmallSampleFallsBackToExactSort(t *testing.T) {
	mq := NewMultiQuantile(0.5)
	mq.Update(5)
	mq.Update(1)
	mq.Update(3)
	// fewer than 5 samples: Quantile falls back to an exact sorted lookup
	got := mq.Quantile(0)
	if got != 3 {
		t.Fatalf("expected exact median 3 for [1,3,5], got %v", got)
	}
}

func TestMultiQuantileOutOfRangeIndexReturnsZero(t *testing.T) {
	mq := NewMultiQuantile(0.5)
	mq.Update(1)
	if got := mq.Quantile(5); got != 0 {
		t.Fatalf("expected 0 for out-of-range index, got %v", got)
	}
}
