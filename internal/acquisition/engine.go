// Package acquisition runs one grab loop per opened camera and a single
// aggregator that tiles the latest frames into a composite.
package acquisition

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetvision/orchestrator/internal/camera"
	"github.com/fleetvision/orchestrator/internal/composite"
	"github.com/fleetvision/orchestrator/internal/core"
	"github.com/fleetvision/orchestrator/internal/display"
	"github.com/fleetvision/orchestrator/internal/lifecycle"
	"github.com/fleetvision/orchestrator/internal/obs"
)

// frameSlot holds the most recent canonical frame for one camera, guarded
// by its own mutex: one slot per camera rather than a single mutex over
// the whole vector, so a slow camera never blocks its siblings' writers.
type frameSlot struct {
	mu    sync.RWMutex
	frame camera.Frame
}

func (s *frameSlot) set(f camera.Frame) {
	s.mu.Lock()
	s.frame = f
	s.mu.Unlock()
}

func (s *frameSlot) get() camera.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

// Options configures an Engine.
type Options struct {
	GrabTimeout       time.Duration
	FailureThreshold  int
	FPSWindowSize     int // bound to ptp.Config.PtpMaxCheck by convention
	AggregateInterval time.Duration
	TileWidth         int
	TileHeight        int
	// Persist, when non-nil, is called with each camera's canonical
	// (non-overlaid) frame for optional recording. Each grab loop only
	// invokes it once that camera's FPS estimator is ready and its mean
	// FPS is within 1 Hz of the currently applied ceiling (see
	// IsStable); frames grabbed while still settling after a throttle
	// are silently skipped rather than persisted.
	Persist func(camera.Frame) error
}

// DefaultOptions returns reasonable defaults for a simulated or small
// real fleet.
func DefaultOptions() Options {
	return Options{
		GrabTimeout:       5 * time.Second,
		FailureThreshold:  10,
		FPSWindowSize:     3,
		AggregateInterval: 100 * time.Millisecond,
		TileWidth:         camera.DisplayWidth,
		TileHeight:        camera.DisplayHeight,
	}
}

// Engine owns the per-camera frame slots, grab goroutines, and the
// aggregator that publishes composite frames.
type Engine struct {
	handles []*camera.Handle
	slots   []*frameSlot
	session *lifecycle.SessionContext
	sink    display.Sink
	opts    Options
	logger  *logrus.Logger
}

// NewEngine creates an engine for the given opened cameras. sink may be
// display.NopSink{} when no viewer is attached.
func NewEngine(handles []*camera.Handle, session *lifecycle.SessionContext, sink display.Sink, opts Options) *Engine {
	slots := make([]*frameSlot, len(handles))
	for i := range slots {
		slots[i] = &frameSlot{}
	}
	return &Engine{
		handles: handles,
		slots:   slots,
		session: session,
		sink:    sink,
		opts:    opts,
		logger:  obs.Log,
	}
}

// Run launches one grab goroutine per camera and one aggregator, and
// blocks until every grab goroutine has exited (on cancellation, sustained
// per-camera instability, or explicit stop). Per-camera failures are
// logged and do not abort sibling cameras; Run only returns a non-nil
// error when every camera's loop failed.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(e.handles))

	for i, h := range e.handles {
		wg.Add(1)
		go func(idx int, handle *camera.Handle) {
			defer wg.Done()
			errs[idx] = e.grabLoop(ctx, idx, handle)
		}(i, h)
	}

	aggCtx, cancelAgg := context.WithCancel(ctx)
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		e.aggregate(aggCtx)
	}()

	wg.Wait()
	cancelAgg()
	<-aggDone

	failures := 0
	for i, err := range errs {
		if err == nil || errors.Is(err, core.ShutdownRequested) {
			continue
		}
		failures++
		e.logger.WithField("camera", e.handles[i].Identity().ID).WithError(err).Warn("acquisition: camera grab loop exited with error")
	}
	if failures > 0 && failures == len(e.handles) {
		return errors.New("acquisition: every camera's grab loop failed")
	}
	return nil
}

func (e *Engine) grabLoop(ctx context.Context, idx int, h *camera.Handle) error {
	estimator := newFPSEstimator(e.opts.FPSWindowSize)
	lastAdjustmentFPS := e.session.Ceiling()
	stable := false

	opts := camera.StreamOptions{
		GrabTimeout:      e.opts.GrabTimeout,
		FailureThreshold: e.opts.FailureThreshold,
		Stopped:          e.session.Stopped,
		Publish: func(frame camera.Frame) {
			meanFPS, ready := estimator.Observe(time.Now())
			displayFPS := 0.0
			if ready {
				displayFPS = meanFPS
			}
			camera.Overlay(&frame, displayFPS)
			e.slots[idx].set(frame)

			stable = ready && IsStable(meanFPS, e.session.Ceiling())

			if !ready {
				return
			}
			if ShouldThrottle(meanFPS, lastAdjustmentFPS) {
				newCeiling, atFloor := e.session.LowerCeiling(0.98)
				if err := h.SetFrameRate(newCeiling); err != nil {
					e.logger.WithField("camera", h.Identity().ID).WithError(err).Warn("acquisition: failed to apply throttled frame rate")
				}
				if atFloor {
					e.logger.WithField("camera", h.Identity().ID).Warn("acquisition: FPS ceiling at floor, instability persists")
				}
				lastAdjustmentFPS = meanFPS
			}
		},
	}

	// Persist only fires once the estimator is ready and the measured rate
	// has settled near the currently applied ceiling — gating on the same
	// per-iteration "stable" flag Publish just set, since Publish always
	// runs immediately before Persist for a given frame.
	if e.opts.Persist != nil {
		opts.Persist = func(frame camera.Frame) error {
			if !stable {
				return nil
			}
			return e.opts.Persist(frame)
		}
	}

	return h.StartStream(ctx, opts)
}

// aggregate periodically tiles the current frame slots and publishes the
// composite, until ctx is canceled.
func (e *Engine) aggregate(ctx context.Context) {
	interval := e.opts.AggregateInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frames := make([]camera.Frame, len(e.slots))
			for i, s := range e.slots {
				frames[i] = s.get()
			}
			tile := composite.Tile(frames, e.opts.TileWidth, e.opts.TileHeight)
			e.sink.Publish(tile)
		}
	}
}
