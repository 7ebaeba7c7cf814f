package acquisition

import (
	"math"
	"sync"
	"time"
)

// fpsEstimator is a windowed FPS estimator bounded to a small history
// length — the acquisition engine reuses the PTP controller's
// consecutive-check count as its own smoothing window, tying the two
// tunables together rather than inventing an unrelated constant.
type fpsEstimator struct {
	mu         sync.Mutex
	windowSize int
	intervals  []time.Duration
	last       time.Time
}

func newFPSEstimator(windowSize int) *fpsEstimator {
	if windowSize <= 0 {
		windowSize = 3
	}
	return &fpsEstimator{windowSize: windowSize}
}

// Observe records a frame arrival and returns the current mean FPS once
// the window has filled; ready is false while warming up.
func (e *fpsEstimator) Observe(now time.Time) (meanFPS float64, ready bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.last.IsZero() {
		d := now.Sub(e.last)
		e.intervals = append(e.intervals, d)
		if len(e.intervals) > e.windowSize {
			e.intervals = e.intervals[len(e.intervals)-e.windowSize:]
		}
	}
	e.last = now

	if len(e.intervals) < e.windowSize {
		return 0, false
	}
	var sum time.Duration
	for _, d := range e.intervals {
		sum += d
	}
	meanInterval := sum / time.Duration(len(e.intervals))
	if meanInterval <= 0 {
		return 0, false
	}
	return float64(time.Second) / float64(meanInterval), true
}

// ShouldThrottle reports whether the measured mean FPS has diverged from
// the FPS reading that triggered the last ceiling adjustment (or, before
// any adjustment, the session's starting ceiling) by more than 1 Hz. Each
// call compares against the previous measurement that caused a drop, not
// against the ceiling itself, so a stream that has already settled after
// a correction doesn't keep re-triggering on the same residual drift.
func ShouldThrottle(measuredFPS, lastAdjustmentFPS float64) bool {
	return math.Abs(measuredFPS-lastAdjustmentFPS) > 1.0
}

// IsStable reports whether the measured mean FPS is within 1 Hz of the
// currently applied ceiling — the condition that gates frame persistence,
// so a camera still settling after a throttle doesn't write frames at a
// rate that doesn't match what was actually requested of it.
func IsStable(measuredFPS, ceiling float64) bool {
	return math.Abs(measuredFPS-ceiling) <= 1.0
}
