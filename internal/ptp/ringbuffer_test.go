package ptp

import "testing"

func TestRingStatsEmpty(t *testing.T) {
	r := NewRing(5)
	mean, stddev := r.Stats()
	if mean != 0 || stddev != 0 {
		t.Fatalf("expected zero stats for empty ring, got mean=%v stddev=%v", mean, stddev)
	}
}

func TestRingStatsMeanAndStdDev(t *testing.T) {
	r := NewRing(3)
	r.Push(OffsetSample{OffsetNs: 100})
	r.Push(OffsetSample{OffsetNs: 200})
	r.Push(OffsetSample{OffsetNs: 300})

	mean, stddev := r.Stats()
	if mean != 200 {
		t.Fatalf("expected mean 200, got %v", mean)
	}
	if stddev <= 0 {
		t.Fatalf("expected positive stddev for varying samples, got %v", stddev)
	}
}

func TestRingStatsEvictsOldestOnOverflow(t *testing.T) {
	r := NewRing(2)
	r.Push(OffsetSample{OffsetNs: 0})
	r.Push(OffsetSample{OffsetNs: 1000})
	r.Push(OffsetSample{OffsetNs: 2000}) // evicts the 0 sample

	mean, _ := r.Stats()
	if mean != 1500 {
		t.Fatalf("expected mean of the last two samples (1500), got %v", mean)
	}
}
