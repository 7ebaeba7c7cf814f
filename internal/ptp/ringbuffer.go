package ptp

import "gonum.org/v1/gonum/stat"

// Ring is a bounded per-camera history of offset samples (design default
// size 20).
type Ring struct {
	samples []OffsetSample
	size    int
	next    int
	full    bool
}

// NewRing creates a ring of the given capacity.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 20
	}
	return &Ring{samples: make([]OffsetSample, size), size: size}
}

// Push appends a sample, overwriting the oldest entry once full.
func (r *Ring) Push(s OffsetSample) {
	r.samples[r.next] = s
	r.next = (r.next + 1) % r.size
	if r.next == 0 {
		r.full = true
	}
}

// Values returns the stored samples in insertion order (oldest first).
func (r *Ring) Values() []OffsetSample {
	if !r.full {
		out := make([]OffsetSample, r.next)
		copy(out, r.samples[:r.next])
		return out
	}
	out := make([]OffsetSample, r.size)
	copy(out, r.samples[r.next:])
	copy(out[r.size-r.next:], r.samples[:r.next])
	return out
}

// Stats returns the mean and standard deviation of the offsets currently
// held in the ring.
func (r *Ring) Stats() (mean, stddev float64) {
	values := r.Values()
	if len(values) == 0 {
		return 0, 0
	}
	data := make([]float64, len(values))
	for i, v := range values {
		data[i] = float64(v.OffsetNs)
	}
	mean = stat.Mean(data, nil)
	if len(data) > 1 {
		stddev = stat.StdDev(data, nil)
	}
	return mean, stddev
}
