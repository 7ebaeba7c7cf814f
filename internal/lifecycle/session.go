// Package lifecycle owns the process-wide state that is inherently
// session-scoped: the stop flag, the session timestamp, and the shared FPS
// ceiling. Everything else is passed explicitly; only the signal bridge
// remains truly global.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

// SessionContext carries the process-wide state a streaming session shares
// across the PTP controller, bandwidth scheduler, and acquisition engine.
type SessionContext struct {
	stopped   atomic.Bool
	startedAt time.Time
	session   string

	// ceilingBits stores math.Float64bits(ceiling) so it can be read and
	// ratcheted down atomically without a mutex on the hot path.
	ceilingBits atomic.Uint64
	floorHz     float64
}

// NewSession creates a SessionContext stamped with the current time,
// formatted as the fixed-at-start session id used in every persisted path.
func NewSession(floorHz float64) *SessionContext {
	sc := &SessionContext{
		startedAt: time.Now(),
		floorHz:   floorHz,
	}
	sc.session = sc.startedAt.Format("20060102_150405")
	sc.SetCeiling(0) // unset until the bandwidth scheduler computes one
	return sc
}

// Session returns the fixed session timestamp id (YYYYMMDD_HHMMSS).
func (sc *SessionContext) Session() string { return sc.session }

// Stop sets the process-wide stop flag. Idempotent.
func (sc *SessionContext) Stop() { sc.stopped.Store(true) }

// Stopped reports whether shutdown has been requested.
func (sc *SessionContext) Stopped() bool { return sc.stopped.Load() }

// SetCeiling installs a new FPS ceiling. Callers enforcing the ratchet
// guarantee (monotonically non-increasing within a session, never below
// the floor) should use LowerCeiling instead; SetCeiling is for the initial
// value computed by the bandwidth scheduler.
func (sc *SessionContext) SetCeiling(fps float64) {
	sc.ceilingBits.Store(float64bits(fps))
}

// Ceiling returns the current FPS ceiling.
func (sc *SessionContext) Ceiling() float64 {
	return float64frombits(sc.ceilingBits.Load())
}

// LowerCeiling applies the dynamic-rate back-off: it only ever decreases
// the ceiling, never raises it, and never drops below floorHz. Returns the
// resulting ceiling and whether the floor was hit.
func (sc *SessionContext) LowerCeiling(factor float64) (newCeiling float64, atFloor bool) {
	for {
		old := sc.Ceiling()
		candidate := old * factor
		if candidate < sc.floorHz {
			candidate = sc.floorHz
		}
		if candidate >= old {
			return old, old <= sc.floorHz
		}
		if sc.ceilingBits.CompareAndSwap(float64bits(old), float64bits(candidate)) {
			return candidate, candidate <= sc.floorHz
		}
	}
}

// InstallSignalHandler wires SIGINT/SIGTERM to cancel the returned context
// and set the session's stop flag.
func (sc *SessionContext) InstallSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			sc.Stop()
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
