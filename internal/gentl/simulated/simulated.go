// Package simulated is a deterministic, in-memory GenTL producer used by
// tests and by `fleetctl --sim`. It stands in for the vendor .cti module the
// way actuators.MAVLinkConfig.SimulationMode stands in for a real flight
// controller link: same interface, no hardware required.
package simulated

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/fleetvision/orchestrator/internal/gentl"
)

// Producer is a fixed roster of simulated cameras reachable under one path.
type Producer struct {
	path    string
	devices []gentl.DeviceInfo
	legacy  bool
}

// New creates a simulated producer exposing n cameras with sequential
// serial numbers, all on one simulated system/interface.
func New(path string, n int) *Producer {
	return newProducer(path, n, false)
}

// NewLegacy creates a simulated producer whose cameras only expose the
// legacy-dialect feature names, for exercising the dialect fallback path.
func NewLegacy(path string, n int) *Producer {
	return newProducer(path, n, true)
}

func newProducer(path string, n int, legacy bool) *Producer {
	devices := make([]gentl.DeviceInfo, n)
	for i := 0; i < n; i++ {
		devices[i] = gentl.DeviceInfo{
			ID:           fmt.Sprintf("sim-cam-%d", i),
			SerialNumber: fmt.Sprintf("SIM%04d", i),
			Vendor:       "SimulatedVision",
			Model:        "SV-GigE-1",
			MACAddress:   fmt.Sprintf("02:00:00:00:00:%02x", i),
			CurrentIP:    fmt.Sprintf("192.0.2.%d", 10+i),
			ProducerPath: path,
			InterfaceID:  "sim-if-0",
		}
	}
	return &Producer{path: path, devices: devices, legacy: legacy}
}

func (p *Producer) Path() string { return p.path }

func (p *Producer) OpenSystems(ctx context.Context) ([]gentl.System, error) {
	return []gentl.System{&system{producer: p}}, nil
}

func (p *Producer) Close() error { return nil }

type system struct{ producer *Producer }

func (s *system) ID() string { return s.producer.path + "/sys0" }

func (s *system) OpenInterfaces(ctx context.Context) ([]gentl.Interface, error) {
	return []gentl.Interface{&iface{producer: s.producer}}, nil
}

func (s *system) Close() error { return nil }

type iface struct{ producer *Producer }

func (i *iface) ID() string { return "sim-if-0" }

func (i *iface) ListDevices(ctx context.Context) ([]gentl.DeviceInfo, error) {
	out := make([]gentl.DeviceInfo, len(i.producer.devices))
	copy(out, i.producer.devices)
	return out, nil
}

func (i *iface) OpenDevice(ctx context.Context, id string) (gentl.Device, error) {
	for _, d := range i.producer.devices {
		if d.ID == id {
			dev := newDevice(d)
			if i.producer.legacy {
				dev.nodeMap.WithLegacyDialect()
			}
			return dev, nil
		}
	}
	return nil, fmt.Errorf("simulated: device %q not found", id)
}

func (i *iface) Close() error { return nil }

// device is one simulated camera with an in-memory node map and a
// synthetic frame generator.
type device struct {
	info    gentl.DeviceInfo
	nodeMap *nodeMap
}

func newDevice(info gentl.DeviceInfo) *device {
	return &device{info: info, nodeMap: newNodeMap(info)}
}

func (d *device) Info() gentl.DeviceInfo  { return d.info }
func (d *device) NodeMap() gentl.NodeMap  { return d.nodeMap }
func (d *device) Close() error            { return nil }

func (d *device) OpenStream(ctx context.Context) (gentl.Stream, error) {
	return newStream(d.info, d.nodeMap), nil
}

// nodeMap is a plain map guarded by a mutex, holding the modern-dialect
// feature names by default; WithLegacyDialect swaps in the legacy names.
type nodeMap struct {
	mu       sync.RWMutex
	ints     map[string]int64
	floats   map[string]float64
	bools    map[string]bool
	strings  map[string]string
	enums    map[string]string
	features map[string]bool
}

func newNodeMap(info gentl.DeviceInfo) *nodeMap {
	nm := &nodeMap{
		ints:     map[string]int64{},
		floats:   map[string]float64{},
		bools:    map[string]bool{},
		strings:  map[string]string{},
		enums:    map[string]string{},
		features: map[string]bool{},
	}
	// Modern-dialect feature set by default; legacy-only cameras are
	// constructed via WithLegacyDialect in tests.
	for _, f := range []string{
		"PtpEnable", "PtpStatus", "PtpOffsetFromMaster", "PtpDataSetLatch",
		"TimestampLatch", "TimestampLatchValue", "ExposureTime",
		"ExposureMode", "ExposureAuto", "AcquisitionFrameRate",
		"AcquisitionFrameRateEnable", "AcquisitionMode", "TriggerSelector",
		"TriggerMode", "DeviceLinkSpeed", "GevSCPSPacketSize", "GevSCPD",
		"GevSCFTD", "Gain", "Width", "Height", "PixelFormat",
	} {
		nm.features[f] = true
	}
	nm.floats["DeviceLinkSpeed"] = 125_000_000 * 8 // Bps
	nm.enums["PtpStatus"] = "Initializing"
	nm.bools["PtpEnable"] = false
	nm.ints["PtpOffsetFromMaster"] = 0
	nm.strings["DeviceSerialNumber"] = info.SerialNumber
	return nm
}

// WithLegacyDialect strips the modern PTP feature name so dialect probing
// falls back to the legacy name set, mirroring older firmware in the fleet.
func (nm *nodeMap) WithLegacyDialect() *nodeMap {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	delete(nm.features, "PtpEnable")
	delete(nm.features, "PtpStatus")
	delete(nm.features, "PtpDataSetLatch")
	delete(nm.features, "TimestampLatch")
	delete(nm.features, "TimestampLatchValue")
	delete(nm.features, "ExposureTime")
	delete(nm.features, "AcquisitionFrameRate")
	delete(nm.features, "DeviceLinkSpeed")
	for _, f := range []string{
		"GevIEEE1588", "GevIEEE1588Status", "GevIEEE1588DataSetLatch",
		"GevTimestampControlLatch", "GevTimestampValue", "ExposureTimeAbs",
		"AcquisitionFrameRateAbs", "GevLinkSpeed",
	} {
		nm.features[f] = true
	}
	nm.enums["GevIEEE1588Status"] = "Initializing"
	nm.bools["GevIEEE1588"] = false
	nm.floats["GevLinkSpeed"] = 1000 // Mbps
	return nm
}

func (nm *nodeMap) HasFeature(name string) bool {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.features[name]
}

func (nm *nodeMap) GetInt(name string) (int64, error) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	if !nm.features[name] {
		return 0, fmt.Errorf("simulated: feature %q not present", name)
	}
	return nm.ints[name], nil
}

func (nm *nodeMap) SetInt(name string, v int64) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if !nm.features[name] {
		return fmt.Errorf("simulated: feature %q not present", name)
	}
	nm.ints[name] = v
	return nil
}

func (nm *nodeMap) GetFloat(name string) (float64, error) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	if !nm.features[name] {
		return 0, fmt.Errorf("simulated: feature %q not present", name)
	}
	return nm.floats[name], nil
}

func (nm *nodeMap) SetFloat(name string, v float64) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if !nm.features[name] {
		return fmt.Errorf("simulated: feature %q not present", name)
	}
	nm.floats[name] = v
	return nil
}

func (nm *nodeMap) GetBool(name string) (bool, error) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	if !nm.features[name] {
		return false, fmt.Errorf("simulated: feature %q not present", name)
	}
	return nm.bools[name], nil
}

func (nm *nodeMap) SetBool(name string, v bool) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if !nm.features[name] {
		return fmt.Errorf("simulated: feature %q not present", name)
	}
	nm.bools[name] = v
	return nil
}

func (nm *nodeMap) GetString(name string) (string, error) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	if !nm.features[name] {
		return "", fmt.Errorf("simulated: feature %q not present", name)
	}
	return nm.strings[name], nil
}

func (nm *nodeMap) SetString(name string, v string) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if !nm.features[name] {
		return fmt.Errorf("simulated: feature %q not present", name)
	}
	nm.strings[name] = v
	return nil
}

func (nm *nodeMap) GetEnum(name string) (string, error) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	if !nm.features[name] {
		return "", fmt.Errorf("simulated: feature %q not present", name)
	}
	return nm.enums[name], nil
}

func (nm *nodeMap) SetEnum(name string, v string) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if !nm.features[name] {
		return fmt.Errorf("simulated: feature %q not present", name)
	}
	nm.enums[name] = v
	return nil
}

func (nm *nodeMap) ExecuteCommand(name string) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if !nm.features[name] {
		return fmt.Errorf("simulated: feature %q not present", name)
	}
	return nil
}

// SetEnumDirect is a test helper bypassing feature-presence checks, used to
// drive the PTP role state machine from outside (e.g. "promote to Master").
func (nm *nodeMap) SetEnumDirect(name, v string) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.enums[name] = v
}

func (nm *nodeMap) SetIntDirect(name string, v int64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.ints[name] = v
}

// stream synthesizes frames on demand so the acquisition engine has
// something to grab without a real sensor.
type stream struct {
	info      gentl.DeviceInfo
	nodeMap   *nodeMap
	streaming bool
	frameSeq  uint64
	rng       *rand.Rand
}

func newStream(info gentl.DeviceInfo, nm *nodeMap) *stream {
	return &stream{info: info, nodeMap: nm, rng: rand.New(rand.NewSource(1))}
}

func (s *stream) StartStreaming(ctx context.Context) error {
	s.streaming = true
	return nil
}

func (s *stream) StopStreaming() error {
	s.streaming = false
	return nil
}

func (s *stream) Close() error { return nil }

func (s *stream) Grab(ctx context.Context, timeout time.Duration) (gentl.Buffer, error) {
	if !s.streaming {
		return gentl.Buffer{}, gentl.ErrTimeout
	}
	w, _ := s.nodeMap.GetInt("Width")
	h, _ := s.nodeMap.GetInt("Height")
	if w == 0 {
		w = 640
	}
	if h == 0 {
		h = 480
	}
	pixFmt, _ := s.nodeMap.GetString("PixelFormat")
	if pixFmt == "" {
		pixFmt = "Mono8"
	}
	s.frameSeq++
	payload := make([]byte, w*h)
	for i := range payload {
		payload[i] = byte((int(s.frameSeq) + i) % 256)
	}
	return gentl.Buffer{
		Payload:     payload,
		Width:       int(w),
		Height:      int(h),
		PixelFormat: pixFmt,
		TimestampNs: uint64(time.Now().UnixNano()),
		Present:     true,
		Incomplete:  false,
	}, nil
}
