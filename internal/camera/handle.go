// Package camera implements one logical camera: feature read/write,
// firmware-dialect abstraction, PTP ops, timestamp latch, format decode,
// and stream lifecycle.
package camera

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetvision/orchestrator/internal/core"
	"github.com/fleetvision/orchestrator/internal/gentl"
	"github.com/fleetvision/orchestrator/internal/obs"
)

// AccessMode mirrors the GenTL device access modes a handle can be opened
// with.
type AccessMode int

const (
	AccessControl AccessMode = iota
	AccessExclusive
	AccessReadOnly
)

// Handle is one logical camera: identity, config, PTP state, and (while
// streaming) the single Stream it owns.
type Handle struct {
	mu sync.RWMutex

	device  gentl.Device
	nodeMap gentl.NodeMap
	dialect Dialect

	identity Identity
	config   Config
	ptp      PtpState

	linkSpeedBps int64

	opened  bool
	stream  gentl.Stream

	consecutiveFailures int
	failureThreshold    int

	logger *logrus.Entry
}

// Open acquires the remote feature node-map, resolves the firmware dialect,
// and applies defaults. Callers are expected to defer Close on every exit
// path.
func Open(ctx context.Context, device gentl.Device, cfg Config, mode AccessMode) (*Handle, error) {
	info := device.Info()
	nm := device.NodeMap()
	dialect := resolveDialect(nm)
	if dialect == DialectUnknown {
		return nil, fmt.Errorf("%w: no PTP feature found under either dialect for %s", core.ErrFeatureUnsupported, info.SerialNumber)
	}

	h := &Handle{
		device:  device,
		nodeMap: nm,
		dialect: dialect,
		identity: Identity{
			ID:              info.ID,
			SerialNumber:    info.SerialNumber,
			Vendor:          info.Vendor,
			Model:           info.Model,
			MACAddress:      info.MACAddress,
			CurrentIP:       info.CurrentIP,
			FirmwareDialect: dialect,
		},
		config:           cfg,
		opened:           true,
		failureThreshold: 10,
		logger:           obs.WithCamera(obs.Log, info.ID),
	}

	if err := h.applyInitialConfig(); err != nil {
		device.Close()
		return nil, err
	}

	return h, nil
}

func (h *Handle) applyInitialConfig() error {
	if err := h.setPixelFormatLocked(h.config.PixelFormat); err != nil {
		return err
	}
	if err := h.setWidthLocked(h.config.Width); err != nil {
		return err
	}
	if err := h.setHeightLocked(h.config.Height); err != nil {
		return err
	}
	if err := h.setGainLocked(h.config.Gain); err != nil {
		return err
	}
	return h.setExposureMicrosLocked(h.config.ExposureMicros)
}

// Close releases the remote feature node-map and any still-open stream, in
// reverse order of acquisition.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.opened {
		return nil
	}

	if h.stream != nil {
		h.stream.StopStreaming()
		h.stream.Close()
		h.stream = nil
	}

	err := h.device.Close()
	h.opened = false
	return err
}

// Identity returns the camera's stable identity record.
func (h *Handle) Identity() Identity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.identity
}

// Config returns the camera's last confirmed configuration.
func (h *Handle) Config() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

func (h *Handle) requireOpen() error {
	if !h.opened {
		return fmt.Errorf("%w: camera %s is not open", core.ErrDeviceUnavailable, h.identity.ID)
	}
	return nil
}

func (h *Handle) feature(logical string) (string, error) {
	name, ok := featureName(h.dialect, logical)
	if !ok || !h.nodeMap.HasFeature(name) {
		return "", fmt.Errorf("%w: %s not available under %s dialect", core.ErrFeatureUnsupported, logical, h.dialect)
	}
	return name, nil
}

// SetExposureMicros maps to ExposureTime (modern) or ExposureTimeAbs
// (legacy); ExposureMode is forced to Timed and ExposureAuto to Off
// beforehand.
func (h *Handle) SetExposureMicros(x float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireOpen(); err != nil {
		return err
	}
	return h.setExposureMicrosLocked(x)
}

func (h *Handle) setExposureMicrosLocked(x float64) error {
	if h.nodeMap.HasFeature("ExposureMode") {
		if err := h.nodeMap.SetEnum("ExposureMode", "Timed"); err != nil {
			return err
		}
	}
	if h.nodeMap.HasFeature("ExposureAuto") {
		if err := h.nodeMap.SetEnum("ExposureAuto", "Off"); err != nil {
			return err
		}
	}
	name, err := h.feature("ExposureTime")
	if err != nil {
		return err
	}
	if err := h.nodeMap.SetFloat(name, x); err != nil {
		return err
	}
	confirmed, err := h.nodeMap.GetFloat(name)
	if err != nil {
		return err
	}
	h.config.ExposureMicros = confirmed
	return nil
}

// SetGain writes Gain directly and re-reads for confirmation.
func (h *Handle) SetGain(g float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireOpen(); err != nil {
		return err
	}
	return h.setGainLocked(g)
}

func (h *Handle) setGainLocked(g float64) error {
	if err := h.nodeMap.SetFloat("Gain", g); err != nil {
		return fmt.Errorf("%w: Gain: %v", core.ErrFeatureUnsupported, err)
	}
	confirmed, err := h.nodeMap.GetFloat("Gain")
	if err != nil {
		return err
	}
	h.config.Gain = confirmed
	return nil
}

// SetPixelFormat writes PixelFormat directly.
func (h *Handle) SetPixelFormat(tag PixelFormatTag) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireOpen(); err != nil {
		return err
	}
	return h.setPixelFormatLocked(tag)
}

func (h *Handle) setPixelFormatLocked(tag PixelFormatTag) error {
	if err := h.nodeMap.SetString("PixelFormat", string(tag)); err != nil {
		return fmt.Errorf("%w: PixelFormat: %v", core.ErrFeatureUnsupported, err)
	}
	h.config.PixelFormat = tag
	return nil
}

// SetWidth writes Width directly.
func (h *Handle) SetWidth(w int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireOpen(); err != nil {
		return err
	}
	return h.setWidthLocked(w)
}

func (h *Handle) setWidthLocked(w int) error {
	if err := h.nodeMap.SetInt("Width", int64(w)); err != nil {
		return fmt.Errorf("%w: Width: %v", core.ErrFeatureUnsupported, err)
	}
	confirmed, err := h.nodeMap.GetInt("Width")
	if err != nil {
		return err
	}
	h.config.Width = int(confirmed)
	return nil
}

// SetHeight writes Height directly.
func (h *Handle) SetHeight(height int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireOpen(); err != nil {
		return err
	}
	return h.setHeightLocked(height)
}

func (h *Handle) setHeightLocked(height int) error {
	if err := h.nodeMap.SetInt("Height", int64(height)); err != nil {
		return fmt.Errorf("%w: Height: %v", core.ErrFeatureUnsupported, err)
	}
	confirmed, err := h.nodeMap.GetInt("Height")
	if err != nil {
		return err
	}
	h.config.Height = int(confirmed)
	return nil
}

// SetFrameRate enables AcquisitionFrameRateEnable then writes the rate
// under the dialect-appropriate name.
func (h *Handle) SetFrameRate(fps float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireOpen(); err != nil {
		return err
	}
	if h.nodeMap.HasFeature("AcquisitionFrameRateEnable") {
		if err := h.nodeMap.SetBool("AcquisitionFrameRateEnable", true); err != nil {
			return err
		}
	}
	name, err := h.feature("FrameRate")
	if err != nil {
		return err
	}
	return h.nodeMap.SetFloat(name, fps)
}

// SetFreeRunMode configures continuous acquisition with triggering off.
func (h *Handle) SetFreeRunMode() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireOpen(); err != nil {
		return err
	}
	if err := h.nodeMap.SetEnum("AcquisitionMode", "Continuous"); err != nil {
		return fmt.Errorf("%w: AcquisitionMode: %v", core.ErrFeatureUnsupported, err)
	}
	if err := h.nodeMap.SetEnum("TriggerSelector", "FrameStart"); err != nil {
		return fmt.Errorf("%w: TriggerSelector: %v", core.ErrFeatureUnsupported, err)
	}
	if err := h.nodeMap.SetEnum("TriggerMode", "Off"); err != nil {
		return fmt.Errorf("%w: TriggerMode: %v", core.ErrFeatureUnsupported, err)
	}
	return nil
}

// SetPtp writes the PTP-enable feature under the resolved dialect; on
// enable, it reads back the link speed (Bps on modern firmware, Mbps*1e6
// on legacy).
func (h *Handle) SetPtp(enable bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireOpen(); err != nil {
		return err
	}

	name, err := h.feature("PtpEnable")
	if err != nil {
		return err
	}
	if err := h.nodeMap.SetBool(name, enable); err != nil {
		return err
	}
	h.ptp.Enabled = enable

	if !enable {
		return nil
	}

	speedName, err := h.feature("LinkSpeed")
	if err != nil {
		return err
	}
	raw, err := h.nodeMap.GetFloat(speedName)
	if err != nil {
		return err
	}
	if h.dialect == DialectLegacy {
		h.linkSpeedBps = int64(raw * 1e6)
	} else {
		h.linkSpeedBps = int64(raw)
	}
	return nil
}

// LinkSpeedBps returns the last link speed read at PTP enable.
func (h *Handle) LinkSpeedBps() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.linkSpeedBps
}

// LatchPtpState invokes the latch command then reads role, enabled, and
// offset-from-master. Legacy hardware without an offset feature reports
// OffsetFromMasterNs == 0 with OffsetSentinel set.
func (h *Handle) LatchPtpState() (PtpState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireOpen(); err != nil {
		return PtpState{}, err
	}

	latchName, err := h.feature("PtpLatch")
	if err != nil {
		return PtpState{}, err
	}
	if err := h.nodeMap.ExecuteCommand(latchName); err != nil {
		return PtpState{}, err
	}

	statusName, err := h.feature("PtpStatus")
	if err != nil {
		return PtpState{}, err
	}
	status, err := h.nodeMap.GetEnum(statusName)
	if err != nil {
		return PtpState{}, err
	}

	enableName, _ := h.feature("PtpEnable")
	enabled, _ := h.nodeMap.GetBool(enableName)

	state := PtpState{
		Enabled: enabled,
		Role:    parseRole(status),
	}

	wireName, present := featureName(h.dialect, "PtpOffset")
	if present && h.nodeMap.HasFeature(wireName) {
		offset, err := h.nodeMap.GetInt(wireName)
		if err != nil {
			return PtpState{}, err
		}
		state.OffsetFromMasterNs = offset
	} else {
		state.OffsetFromMasterNs = 0
		state.OffsetSentinel = true
	}

	h.ptp = state
	return state, nil
}

func parseRole(status string) Role {
	switch status {
	case "Master":
		return RoleMaster
	case "Slave":
		return RoleSlave
	case "Initializing":
		return RoleInitializing
	default:
		return RoleUnknown
	}
}

// LatchTimestamp invokes the timestamp-latch command and reads the 64-bit
// value.
func (h *Handle) LatchTimestamp() (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireOpen(); err != nil {
		return 0, err
	}

	latchName, err := h.feature("TimestampLatch")
	if err != nil {
		return 0, err
	}
	if err := h.nodeMap.ExecuteCommand(latchName); err != nil {
		return 0, err
	}

	valueName, err := h.feature("TimestampValue")
	if err != nil {
		return 0, err
	}
	raw, err := h.nodeMap.GetInt(valueName)
	if err != nil {
		return 0, err
	}
	h.ptp.LatchedTimestampNs = uint64(raw)
	return h.ptp.LatchedTimestampNs, nil
}

// PtpSnapshot returns the last-latched PTP state without re-latching.
func (h *Handle) PtpSnapshot() PtpState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ptp
}

// roundUpToMultiple rounds v up to the nearest multiple of m (m > 0).
func roundUpToMultiple(v, m int64) int64 {
	if v <= 0 {
		return 0
	}
	rem := v % m
	if rem == 0 {
		return v
	}
	return v + (m - rem)
}

// WriteBandwidth quantizes packet size up to a multiple of 4, rounds the
// two delays up to a multiple of 8, and writes GevSCPSPacketSize/
// GevSCPD/GevSCFTD.
func (h *Handle) WriteBandwidth(packetDelayNs, transmissionDelayNs int64, packetSizeB int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireOpen(); err != nil {
		return err
	}

	quantizedSize := roundUpToMultiple(int64(packetSizeB), 4)
	quantizedDelay := roundUpToMultiple(packetDelayNs, 8)
	quantizedTxDelay := roundUpToMultiple(transmissionDelayNs, 8)

	if err := h.nodeMap.SetInt("GevSCPSPacketSize", quantizedSize); err != nil {
		return fmt.Errorf("%w: GevSCPSPacketSize: %v", core.ErrFeatureUnsupported, err)
	}
	if err := h.nodeMap.SetInt("GevSCPD", quantizedDelay); err != nil {
		return fmt.Errorf("%w: GevSCPD: %v", core.ErrFeatureUnsupported, err)
	}
	if err := h.nodeMap.SetInt("GevSCFTD", quantizedTxDelay); err != nil {
		return fmt.Errorf("%w: GevSCFTD: %v", core.ErrFeatureUnsupported, err)
	}
	return nil
}

// SetFeatureRaw writes an arbitrary node-map feature by its wire-level
// name, bypassing the logical dialect table — the escape hatch the
// `--set-feature` CLI surface needs for features the core never touches
// itself. valueType selects which NodeMap setter to call.
func (h *Handle) SetFeatureRaw(name, valueType, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.requireOpen(); err != nil {
		return err
	}
	if !h.nodeMap.HasFeature(name) {
		return fmt.Errorf("%w: %s", core.ErrFeatureUnsupported, name)
	}

	switch valueType {
	case "int":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing %q as int: %w", value, err)
		}
		return h.nodeMap.SetInt(name, v)
	case "float":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("parsing %q as float: %w", value, err)
		}
		return h.nodeMap.SetFloat(name, v)
	case "bool":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parsing %q as bool: %w", value, err)
		}
		return h.nodeMap.SetBool(name, v)
	case "enum":
		return h.nodeMap.SetEnum(name, value)
	case "string", "":
		return h.nodeMap.SetString(name, value)
	default:
		return fmt.Errorf("unknown feature value type %q", valueType)
	}
}

// StreamOptions configures one camera's grab loop.
type StreamOptions struct {
	GrabTimeout      time.Duration
	FailureThreshold int
	// Publish is called with each successfully decoded, resized frame.
	Publish func(Frame)
	// Persist is optional; when non-nil it is called with every canonical
	// (non-overlaid) frame, and any stability gating is left to the callback.
	Persist func(Frame) error
	// Stopped is polled once per iteration and between blocking calls.
	Stopped func() bool
}

// StartStream runs this camera's grab loop until ctx is canceled or the
// options' Stopped() returns true. The Handle is the sole owner of the
// Stream it opens here.
func (h *Handle) StartStream(ctx context.Context, opts StreamOptions) error {
	h.mu.Lock()
	if err := h.requireOpen(); err != nil {
		h.mu.Unlock()
		return err
	}
	if opts.FailureThreshold > 0 {
		h.failureThreshold = opts.FailureThreshold
	}
	stream, err := h.device.OpenStream(ctx)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.stream = stream
	h.mu.Unlock()

	if err := stream.StartStreaming(ctx); err != nil {
		return err
	}

	defer func() {
		stream.StopStreaming()
		stream.Close()
		h.mu.Lock()
		h.stream = nil
		h.mu.Unlock()
	}()

	grabTimeout := opts.GrabTimeout
	if grabTimeout <= 0 {
		grabTimeout = 5 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return core.ShutdownRequested
		}
		if opts.Stopped != nil && opts.Stopped() {
			return core.ShutdownRequested
		}

		buf, err := stream.Grab(ctx, grabTimeout)
		if err != nil {
			h.consecutiveFailures++
			if h.consecutiveFailures > h.failureThreshold {
				h.logger.WithError(err).Error("grab instability threshold exceeded, stopping this camera's stream")
				return fmt.Errorf("%w: camera %s", core.ErrGrabInstability, h.identity.ID)
			}
			continue
		}

		if !buf.Present || buf.Incomplete {
			h.consecutiveFailures++
			if h.consecutiveFailures > h.failureThreshold {
				h.logger.Error("incomplete-buffer instability threshold exceeded, stopping this camera's stream")
				return fmt.Errorf("%w: camera %s", core.ErrGrabInstability, h.identity.ID)
			}
			continue
		}
		h.consecutiveFailures = 0

		frame, err := h.decodeBuffer(buf)
		if err != nil {
			h.logger.WithError(err).Warn("decode failed, dropping frame")
			continue
		}

		if ts, err := h.LatchTimestamp(); err == nil {
			frame.DeviceTimestampNs = ts
		} else {
			h.logger.WithError(err).Debug("timestamp latch unavailable, falling back to buffer timestamp")
		}

		if opts.Publish != nil {
			display := frame
			display.Pixels = Resize(frame.Pixels, frame.Width, frame.Height, Channels(frame.PixelFormatTag), DisplayWidth, DisplayHeight)
			display.Width = DisplayWidth
			display.Height = DisplayHeight
			opts.Publish(display)
		}

		if opts.Persist != nil {
			if err := opts.Persist(frame); err != nil {
				h.logger.WithError(err).Warn("persistence failed for frame")
			}
		}
	}
}

// Channels returns the canonical decoded channel count (1 for mono, 3 for
// BGR) for a pixel format tag, used by the display resize step and by the
// composite tiler to interpret a frame's pixel buffer.
func Channels(tag PixelFormatTag) int {
	switch tag {
	case PixelFormatRGB8, PixelFormatBGR8, PixelFormatBayerRG8, PixelFormatBayerGB8, PixelFormatYUV422:
		return 3
	default:
		return 1
	}
}

func (h *Handle) decodeBuffer(buf gentl.Buffer) (Frame, error) {
	tag := PixelFormatTag(buf.PixelFormat)
	pixels, channels := Decode(tag, buf.Payload, buf.Width, buf.Height)

	h.mu.RLock()
	camID := h.identity.ID
	h.mu.RUnlock()

	return Frame{
		Pixels:            pixels,
		Width:             buf.Width,
		Height:            buf.Height,
		Channels:          channels,
		PixelFormatTag:    tag,
		DeviceTimestampNs: buf.TimestampNs,
		CameraID:          camID,
		CapturedAt:        time.Now(),
	}, nil
}
