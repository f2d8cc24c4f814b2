// Package metrics provides streaming percentile and throughput estimators
// for the scheduler, without needing to retain individual samples.
package metrics

import "math"

// quantile implements the P-Square algorithm for streaming quantile
// estimation: O(1) per-observation updates and O(1) quantile retrieval,
// without storing observations.
//
// Reference: Jain, R. and Chlamtac, I. (1985). "The P^2 Algorithm for
// Dynamic Calculation of Quantiles and Histograms Without Storing
// Observations". Communications of the ACM, 28(10), pp. 1076-1085.
//
// Not thread-safe; callers synchronize externally (MultiQuantile does).
type quantile struct {
	p  float64
	q  [5]float64
	n  [5]int
	np [5]float64
	dn [5]float64

	initialized bool
	count       int
	initBuffer  [5]float64
}

func newQuantile(p float64) *quantile {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return &quantile{
		p:  p,
		dn: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

func (q *quantile) Update(x float64) {
	q.count++

	if q.count <= 5 {
		q.initBuffer[q.count-1] = x
		if q.count == 5 {
			q.initialize()
		}
		return
	}

	var k int
	if x < q.q[0] {
		q.q[0] = x
		k = 0
	} else if x >= q.q[4] {
		q.q[4] = x
		k = 3
	} else {
		for k = 0; k < 4; k++ {
			if q.q[k] <= x && x < q.q[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		q.n[i]++
	}
	for i := 0; i < 5; i++ {
		q.np[i] += q.dn[i]
	}

	for i := 1; i < 4; i++ {
		d := q.np[i] - float64(q.n[i])
		if (d >= 1 && q.n[i+1]-q.n[i] > 1) || (d <= -1 && q.n[i-1]-q.n[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}

			qPrime := q.parabolic(i, sign)
			if q.q[i-1] < qPrime && qPrime < q.q[i+1] {
				q.q[i] = qPrime
			} else {
				q.q[i] = q.linear(i, sign)
			}
			q.n[i] += sign
		}
	}
}

func (q *quantile) initialize() {
	for i := 1; i < 5; i++ {
		key := q.initBuffer[i]
		j := i - 1
		for j >= 0 && q.initBuffer[j] > key {
			q.initBuffer[j+1] = q.initBuffer[j]
			j--
		}
		q.initBuffer[j+1] = key
	}

	for i := 0; i < 5; i++ {
		q.q[i] = q.initBuffer[i]
		q.n[i] = i
	}

	q.np = [5]float64{0, 2 * q.p, 4 * q.p, 2 + 2*q.p, 4}
	q.initialized = true
}

func (q *quantile) parabolic(i, d int) float64 {
	df := float64(d)
	ni := float64(q.n[i])
	niPrev := float64(q.n[i-1])
	niNext := float64(q.n[i+1])

	term1 := df / (niNext - niPrev)
	term2 := (ni - niPrev + df) * (q.q[i+1] - q.q[i]) / (niNext - ni)
	term3 := (niNext - ni - df) * (q.q[i] - q.q[i-1]) / (ni - niPrev)

	return q.q[i] + term1*(term2+term3)
}

func (q *quantile) linear(i, d int) float64 {
	if d == 1 {
		return q.q[i] + (q.q[i+1]-q.q[i])/float64(q.n[i+1]-q.n[i])
	}
	return q.q[i] - (q.q[i]-q.q[i-1])/float64(q.n[i]-q.n[i-1])
}

func (q *quantile) Quantile() float64 {
	if q.count == 0 {
		return 0
	}
	if q.count < 5 {
		sorted := make([]float64, q.count)
		copy(sorted, q.initBuffer[:q.count])
		for i := 1; i < q.count; i++ {
			key := sorted[i]
			j := i - 1
			for j >= 0 && sorted[j] > key {
				sorted[j+1] = sorted[j]
				j--
			}
			sorted[j+1] = key
		}
		index := int(float64(q.count-1) * q.p)
		if index >= q.count {
			index = q.count - 1
		}
		return sorted[index]
	}
	return q.q[2]
}

func (q *quantile) Max() float64 {
	if q.count == 0 {
		return 0
	}
	if q.count < 5 {
		max := q.initBuffer[0]
		for i := 1; i < q.count; i++ {
			if q.initBuffer[i] > max {
				max = q.initBuffer[i]
			}
		}
		return max
	}
	return q.q[4]
}

// MultiQuantile tracks several percentiles of the same observation stream
// at once, each backed by its own P-Square estimator. Not thread-safe;
// Scheduler wraps it with a mutex (see LatencyMetrics).
type MultiQuantile struct {
	estimators []*quantile
	sum        float64
	count      int
	max        float64
}

// NewMultiQuantile creates an estimator tracking the given percentiles,
// each in [0.0, 1.0].
func NewMultiQuantile(percentiles ...float64) *MultiQuantile {
	m := &MultiQuantile{
		estimators: make([]*quantile, len(percentiles)),
		max:        -math.MaxFloat64,
	}
	for i, p := range percentiles {
		m.estimators[i] = newQuantile(p)
	}
	return m
}

// Update adds an observation to every tracked percentile.
func (m *MultiQuantile) Update(x float64) {
	m.count++
	m.sum += x
	if x > m.max {
		m.max = x
	}
	for _, est := range m.estimators {
		est.Update(x)
	}
}

// Quantile returns the current estimate for the i-th percentile passed to
// NewMultiQuantile.
func (m *MultiQuantile) Quantile(i int) float64 {
	if i < 0 || i >= len(m.estimators) {
		return 0
	}
	return m.estimators[i].Quantile()
}

// Count returns the total number of observations.
func (m *MultiQuantile) Count() int { return m.count }

// Max returns the maximum observed value.
func (m *MultiQuantile) Max() float64 {
	if m.count == 0 {
		return 0
	}
	return m.max
}

// Mean returns the arithmetic mean of all observations.
func (m *MultiQuantile) Mean() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}
