package bandwidth

import (
	"context"
	"fmt"
	"math"

	"github.com/fleetvision/orchestrator/internal/camera"
	"github.com/fleetvision/orchestrator/internal/obs"
)

// Writer is the subset of *camera.Handle the scheduler needs to push a
// plan to hardware, kept as an interface so Write can be exercised with a
// fake in tests.
type Writer interface {
	Identity() camera.Identity
	WriteBandwidth(packetDelayNs, transmissionDelayNs int64, packetSizeB int) error
}

// Compute derives the inter-packet and inter-transmission delays for a
// cluster of cameras sharing one uplink. An empty cluster yields a
// zero-value Plan; a single camera has no collision to avoid, so Dp and
// every Dt(i) are zero.
func Compute(cameras []CameraLink, packetSizeB int, bufferPercent float64) Plan {
	packetSizeB = int(roundUpMultiple(int64(packetSizeB), 4))

	n := len(cameras)
	if n == 0 {
		return Plan{PacketSizeB: packetSizeB}
	}

	linkSpeedBps := cameras[0].LinkSpeedBps
	for _, c := range cameras[1:] {
		if c.LinkSpeedBps < linkSpeedBps {
			linkSpeedBps = c.LinkSpeedBps
		}
	}

	var dp int64
	if n > 1 && linkSpeedBps > 0 {
		perPacketTimeNs := float64(packetSizeB) * 1e9 / float64(linkSpeedBps)
		bufferNs := perPacketTimeNs * bufferPercent / 100
		dp = roundUpMultiple(int64(math.Ceil((perPacketTimeNs+bufferNs)*float64(n-1))), 8)
	}

	delays := make([]Delay, n)
	var maxRawFrameBytes int64
	for i, c := range cameras {
		dt := dp * int64(n-1-i)
		delays[i] = Delay{
			CameraID:            c.CameraID,
			PacketDelayNs:       dp,
			TransmissionDelayNs: dt,
		}
		if raw := rawFrameBytes(c); raw > maxRawFrameBytes {
			maxRawFrameBytes = raw
		}
	}

	plan := Plan{PacketSizeB: packetSizeB, Delays: delays}
	if linkSpeedBps > 0 && maxRawFrameBytes > 0 {
		plan.FPSCeiling = fpsCeiling(maxRawFrameBytes, packetSizeB, linkSpeedBps, dp)
	}
	return plan
}

func rawFrameBytes(c CameraLink) int64 {
	return int64(c.Width) * int64(c.Height) * int64(camera.BitsPerPixel(c.PixelFormatTag)) / 8
}

// fpsCeiling derives the achievable frame rate for the camera with the
// largest raw frame, the conservative choice when a cluster mixes
// resolutions: every camera shares the same Dp, so the worst-case frame
// sets the process-wide ceiling.
func fpsCeiling(rawFrameBytes int64, packetSizeB int, linkSpeedBps, dp int64) float64 {
	packetsPerFrame := math.Ceil(float64(rawFrameBytes) / float64(packetSizeB))
	frameTransmissionCycle := float64(rawFrameBytes)/float64(linkSpeedBps) + packetsPerFrame*float64(dp)*1e-9
	if frameTransmissionCycle <= 0 {
		return 0
	}
	return math.Floor(1 / frameTransmissionCycle)
}

func roundUpMultiple(v, m int64) int64 {
	if v <= 0 {
		return 0
	}
	if rem := v % m; rem != 0 {
		return v + (m - rem)
	}
	return v
}

// Write pushes the computed plan to every handle in the cluster, matching
// each by camera id. A camera present in the cluster but missing from the
// plan is skipped with a warning rather than failing the whole batch.
func Write(ctx context.Context, cluster []Writer, plan Plan) error {
	logger := obs.Log
	var errs []error
	for _, w := range cluster {
		id := w.Identity().ID
		delay, ok := plan.DelayFor(id)
		if !ok {
			logger.WithField("camera", id).Warn("bandwidth: no plan entry for camera, skipping")
			continue
		}
		if err := w.WriteBandwidth(delay.PacketDelayNs, delay.TransmissionDelayNs, plan.PacketSizeB); err != nil {
			errs = append(errs, fmt.Errorf("writing bandwidth to %s: %w", id, err))
		}
	}
	if len(errs) > 0 {
		return &WriteError{Errs: errs}
	}
	return nil
}

// WriteError aggregates the per-camera failures from a fan-out Write call.
type WriteError struct {
	Errs []error
}

func (e *WriteError) Error() string {
	if len(e.Errs) == 1 {
		return e.Errs[0].Error()
	}
	return fmt.Sprintf("%d bandwidth writes failed, first: %v", len(e.Errs), e.Errs[0])
}

func (e *WriteError) Unwrap() []error { return e.Errs }
