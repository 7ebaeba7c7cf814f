// Package devicemgr tracks available and opened cameras and issues
// fan-out feature writes across the whole opened set.
package devicemgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fleetvision/orchestrator/internal/camera"
	"github.com/fleetvision/orchestrator/internal/core"
	"github.com/fleetvision/orchestrator/internal/gentl"
	"github.com/fleetvision/orchestrator/internal/obs"
)

// Enumerator is the subset of *registry.Registry the manager needs,
// narrowed to an interface so it can be driven by a fake in tests.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]gentl.DeviceInfo, error)
	Resolve(id string) (gentl.DeviceInfo, error)
}

// InterfaceOpener opens a device by id against whichever gentl.Interface
// currently owns it. Production wiring resolves this per DeviceInfo's
// InterfaceID; tests wire a single simulated interface directly.
type InterfaceOpener func(ctx context.Context, info gentl.DeviceInfo) (gentl.Device, error)

// Manager holds the available/opened camera split and aggregates
// fan-out failures into a single *FanOutError, collecting per-unit
// errors instead of aborting on the first one.
type Manager struct {
	mu        sync.RWMutex
	registry  Enumerator
	openIface InterfaceOpener
	available map[string]gentl.DeviceInfo
	opened    map[string]*camera.Handle
	logger    *logrus.Logger
}

// New creates a Manager backed by the given registry and device opener.
func New(registry Enumerator, openIface InterfaceOpener) *Manager {
	return &Manager{
		registry:  registry,
		openIface: openIface,
		available: make(map[string]gentl.DeviceInfo),
		opened:    make(map[string]*camera.Handle),
		logger:    obs.Log,
	}
}

// RefreshAvailable delegates enumeration to the Producer Registry.
func (m *Manager) RefreshAvailable(ctx context.Context) error {
	devices, err := m.registry.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("refreshing available devices: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = make(map[string]gentl.DeviceInfo, len(devices))
	for _, d := range devices {
		m.available[d.ID] = d
	}
	return nil
}

// Available returns the current enumerated-but-not-necessarily-opened
// device set.
func (m *Manager) Available() []gentl.DeviceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]gentl.DeviceInfo, 0, len(m.available))
	for _, d := range m.available {
		out = append(out, d)
	}
	return out
}

// Open constructs a Camera Handle for each requested id. A failing id is
// skipped and reported in the returned error rather than aborting the
// whole batch.
func (m *Manager) Open(ctx context.Context, ids []string, cfg camera.Config, mode camera.AccessMode) ([]*camera.Handle, error) {
	var opened []*camera.Handle
	var failures []error

	for _, id := range ids {
		info, err := m.registry.Resolve(id)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", id, err))
			continue
		}
		dev, err := m.openIface(ctx, info)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: opening device: %w", id, err))
			continue
		}
		h, err := camera.Open(ctx, dev, cfg, mode)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", id, err))
			continue
		}

		m.mu.Lock()
		m.opened[id] = h
		m.mu.Unlock()
		opened = append(opened, h)
	}

	if len(failures) > 0 {
		return opened, &FanOutError{Errs: failures}
	}
	return opened, nil
}

// Opened returns the currently opened handles.
func (m *Manager) Opened() []*camera.Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*camera.Handle, 0, len(m.opened))
	for _, h := range m.opened {
		out = append(out, h)
	}
	return out
}

// Close tears down and drops a single opened handle.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	h, ok := m.opened[id]
	if ok {
		delete(m.opened, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s not open", core.ErrDeviceUnavailable, id)
	}
	return h.Close()
}

// CloseAll tears down and drops every opened handle, aggregating any
// failures instead of stopping at the first one.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	handles := m.opened
	m.opened = make(map[string]*camera.Handle)
	m.mu.Unlock()

	var failures []error
	for id, h := range handles {
		if err := h.Close(); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", id, err))
		}
	}
	if len(failures) > 0 {
		return &FanOutError{Errs: failures}
	}
	return nil
}

// fanOut applies fn to every opened handle, aggregating per-camera
// failures rather than stopping at the first one.
func (m *Manager) fanOut(fn func(*camera.Handle) error) error {
	m.mu.RLock()
	handles := make(map[string]*camera.Handle, len(m.opened))
	for id, h := range m.opened {
		handles[id] = h
	}
	m.mu.RUnlock()

	var failures []error
	for id, h := range handles {
		if err := fn(h); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", id, err))
		}
	}
	if len(failures) > 0 {
		m.logger.WithField("failures", len(failures)).Warn("devicemgr: fan-out completed with errors")
		return &FanOutError{Errs: failures}
	}
	return nil
}

// SetPixelFormatAll applies the pixel format to every opened camera.
func (m *Manager) SetPixelFormatAll(tag camera.PixelFormatTag) error {
	return m.fanOut(func(h *camera.Handle) error { return h.SetPixelFormat(tag) })
}

// SetExposureTimeAll applies the exposure time to every opened camera.
func (m *Manager) SetExposureTimeAll(micros float64) error {
	return m.fanOut(func(h *camera.Handle) error { return h.SetExposureMicros(micros) })
}

// SetGainAll applies the gain to every opened camera.
func (m *Manager) SetGainAll(gain float64) error {
	return m.fanOut(func(h *camera.Handle) error { return h.SetGain(gain) })
}

// SetWidthAll applies the width to every opened camera.
func (m *Manager) SetWidthAll(width int) error {
	return m.fanOut(func(h *camera.Handle) error { return h.SetWidth(width) })
}

// SetHeightAll applies the height to every opened camera.
func (m *Manager) SetHeightAll(height int) error {
	return m.fanOut(func(h *camera.Handle) error { return h.SetHeight(height) })
}

// SetFeatureRawAll writes an arbitrary feature to every opened camera,
// backing the `--set-feature` CLI surface when no `--cameras` filter is
// given.
func (m *Manager) SetFeatureRawAll(name, valueType, value string) error {
	return m.fanOut(func(h *camera.Handle) error { return h.SetFeatureRaw(name, valueType, value) })
}

// SetFeatureRaw writes an arbitrary feature to one opened camera by id.
func (m *Manager) SetFeatureRaw(id, name, valueType, value string) error {
	m.mu.RLock()
	h, ok := m.opened[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s not open", core.ErrDeviceUnavailable, id)
	}
	return h.SetFeatureRaw(name, valueType, value)
}

// FanOutError aggregates the per-camera failures of a batch operation.
type FanOutError struct {
	Errs []error
}

func (e *FanOutError) Error() string {
	if len(e.Errs) == 1 {
		return e.Errs[0].Error()
	}
	return fmt.Sprintf("%d operations failed, first: %v", len(e.Errs), e.Errs[0])
}

func (e *FanOutError) Unwrap() []error { return e.Errs }
