// Package display publishes composite frames to viewers. A local windowing
// backend is out of scope; a network viewer is a reasonable substitute and
// lets the fleet be watched remotely.
package display

import "github.com/fleetvision/orchestrator/internal/composite"

// Sink receives one composite frame at a time. NopSink and
// WebSocketSink both implement it; acquisition.Engine holds one as its
// publish target.
type Sink interface {
	Publish(frame composite.Frame)
}

// NopSink discards every frame, used when no display is configured
// (e.g. headless `--no-save` runs with no viewer attached).
type NopSink struct{}

func (NopSink) Publish(composite.Frame) {}
