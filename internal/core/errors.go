// Package core defines the error kinds shared across the orchestrator's
// components, per the propagation policy: low-level failures are caught at
// the smallest recoverable scope and surfaced here when they can't be.
package core

import "errors"

// Sentinel errors matched with errors.Is by callers that need to branch on
// kind (e.g. the CLI deciding an exit code).
var (
	// ErrNoDevicesFound: enumeration yielded an empty set. Fatal for a
	// session start.
	ErrNoDevicesFound = errors.New("gigefleet: no devices found")

	// ErrDeviceUnavailable: a requested id cannot be opened. Non-fatal,
	// the id is dropped by the Device Manager.
	ErrDeviceUnavailable = errors.New("gigefleet: device unavailable")

	// ErrFeatureUnsupported: neither dialect exposes the needed feature.
	ErrFeatureUnsupported = errors.New("gigefleet: feature unsupported")

	// ErrPtpSyncTimeout: the PTP state machine reached Failed.
	ErrPtpSyncTimeout = errors.New("gigefleet: ptp synchronization timeout")

	// ErrGrabInstability: consecutive empty/incomplete grabs exceeded
	// the threshold for one camera.
	ErrGrabInstability = errors.New("gigefleet: grab instability")

	// ErrPersistenceError: an image write failed.
	ErrPersistenceError = errors.New("gigefleet: persistence error")
)

// ShutdownRequested is not an error condition; it is returned by blocking
// loops to signal an orderly exit was requested, so callers can tell it
// apart from a real failure without inspecting context.Canceled directly.
var ShutdownRequested = errors.New("gigefleet: shutdown requested")
