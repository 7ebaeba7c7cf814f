package bandwidth

import (
	"context"
	"errors"
	"testing"

	"github.com/fleetvision/orchestrator/internal/camera"
)

func TestComputeTwoCameraHappyPath(t *testing.T) {
	cameras := []CameraLink{
		{CameraID: "CAM_A", LinkSpeedBps: 125_000_000, Width: 640, Height: 480, PixelFormatTag: camera.PixelFormatMono8},
		{CameraID: "CAM_B", LinkSpeedBps: 125_000_000, Width: 640, Height: 480, PixelFormatTag: camera.PixelFormatMono8},
	}

	plan := Compute(cameras, 8228, 15)

	a, ok := plan.DelayFor("CAM_A")
	if !ok {
		t.Fatal("expected CAM_A in plan")
	}
	if a.PacketDelayNs != 75704 {
		t.Fatalf("expected Dp=75704, got %d", a.PacketDelayNs)
	}
	if a.TransmissionDelayNs != 75704 {
		t.Fatalf("expected Dt(0)=75704, got %d", a.TransmissionDelayNs)
	}

	b, ok := plan.DelayFor("CAM_B")
	if !ok {
		t.Fatal("expected CAM_B in plan")
	}
	if b.PacketDelayNs != 75704 {
		t.Fatalf("expected Dp=75704, got %d", b.PacketDelayNs)
	}
	if b.TransmissionDelayNs != 0 {
		t.Fatalf("expected Dt(1)=0, got %d", b.TransmissionDelayNs)
	}
}

func TestComputeSingleCameraHasZeroDelays(t *testing.T) {
	cameras := []CameraLink{
		{CameraID: "CAM_A", LinkSpeedBps: 125_000_000, Width: 640, Height: 480, PixelFormatTag: camera.PixelFormatMono8},
	}

	plan := Compute(cameras, 8228, 15)

	d, ok := plan.DelayFor("CAM_A")
	if !ok {
		t.Fatal("expected CAM_A in plan")
	}
	if d.PacketDelayNs != 0 || d.TransmissionDelayNs != 0 {
		t.Fatalf("expected zero delays for N=1, got %+v", d)
	}
}

func TestComputeDelaysAreMultiplesOf8(t *testing.T) {
	cameras := []CameraLink{
		{CameraID: "CAM_A", LinkSpeedBps: 100_000_000, Width: 1280, Height: 720, PixelFormatTag: camera.PixelFormatRGB8},
		{CameraID: "CAM_B", LinkSpeedBps: 100_000_000, Width: 1280, Height: 720, PixelFormatTag: camera.PixelFormatRGB8},
		{CameraID: "CAM_C", LinkSpeedBps: 100_000_000, Width: 1280, Height: 720, PixelFormatTag: camera.PixelFormatRGB8},
	}

	plan := Compute(cameras, 1500, 20)

	for _, d := range plan.Delays {
		if d.PacketDelayNs%8 != 0 {
			t.Fatalf("camera %s: PacketDelayNs %d not a multiple of 8", d.CameraID, d.PacketDelayNs)
		}
		if d.TransmissionDelayNs%8 != 0 {
			t.Fatalf("camera %s: TransmissionDelayNs %d not a multiple of 8", d.CameraID, d.TransmissionDelayNs)
		}
	}

	n := len(cameras)
	for i, d := range plan.Delays {
		want := plan.Delays[0].PacketDelayNs * int64(n-1-i)
		if d.TransmissionDelayNs != want {
			t.Fatalf("camera index %d: expected Dt=%d, got %d", i, want, d.TransmissionDelayNs)
		}
	}
}

func TestComputePacketSizeRoundedUpToMultipleOf4(t *testing.T) {
	cameras := []CameraLink{
		{CameraID: "CAM_A", LinkSpeedBps: 125_000_000},
		{CameraID: "CAM_B", LinkSpeedBps: 125_000_000},
	}
	plan := Compute(cameras, 8227, 15)
	if plan.PacketSizeB%4 != 0 || plan.PacketSizeB < 8227 {
		t.Fatalf("expected packet size rounded up to multiple of 4, got %d", plan.PacketSizeB)
	}
}

func TestComputeUsesMinimumLinkSpeedAcrossCameras(t *testing.T) {
	uniform := Compute([]CameraLink{
		{CameraID: "CAM_A", LinkSpeedBps: 125_000_000, Width: 640, Height: 480, PixelFormatTag: camera.PixelFormatMono8},
		{CameraID: "CAM_B", LinkSpeedBps: 125_000_000, Width: 640, Height: 480, PixelFormatTag: camera.PixelFormatMono8},
	}, 8228, 15)
	mixed := Compute([]CameraLink{
		{CameraID: "CAM_A", LinkSpeedBps: 125_000_000, Width: 640, Height: 480, PixelFormatTag: camera.PixelFormatMono8},
		{CameraID: "CAM_B", LinkSpeedBps: 100_000_000, Width: 640, Height: 480, PixelFormatTag: camera.PixelFormatMono8},
	}, 8228, 15)

	uniformA, _ := uniform.DelayFor("CAM_A")
	mixedA, _ := mixed.DelayFor("CAM_A")
	if mixedA.PacketDelayNs <= uniformA.PacketDelayNs {
		t.Fatalf("expected slower shared link to increase Dp: uniform=%d mixed=%d", uniformA.PacketDelayNs, mixedA.PacketDelayNs)
	}
}

type fakeWriter struct {
	id      string
	written bool
	err     error
}

func (f *fakeWriter) Identity() camera.Identity { return camera.Identity{ID: f.id} }
func (f *fakeWriter) WriteBandwidth(packetDelayNs, transmissionDelayNs int64, packetSizeB int) error {
	f.written = true
	return f.err
}

func TestWriteDispatchesPerCameraDelay(t *testing.T) {
	cameras := []CameraLink{
		{CameraID: "CAM_A", LinkSpeedBps: 125_000_000, Width: 640, Height: 480, PixelFormatTag: camera.PixelFormatMono8},
		{CameraID: "CAM_B", LinkSpeedBps: 125_000_000, Width: 640, Height: 480, PixelFormatTag: camera.PixelFormatMono8},
	}
	plan := Compute(cameras, 8228, 15)

	a := &fakeWriter{id: "CAM_A"}
	b := &fakeWriter{id: "CAM_B"}

	if err := Write(context.Background(), []Writer{a, b}, plan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.written || !b.written {
		t.Fatal("expected both cameras to receive a WriteBandwidth call")
	}
}

func TestWriteAggregatesFailures(t *testing.T) {
	cameras := []CameraLink{
		{CameraID: "CAM_A", LinkSpeedBps: 125_000_000, Width: 640, Height: 480, PixelFormatTag: camera.PixelFormatMono8},
	}
	plan := Compute(cameras, 8228, 15)

	failing := &fakeWriter{id: "CAM_A", err: errors.New("boom")}
	err := Write(context.Background(), []Writer{failing}, plan)
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected *WriteError, got %T", err)
	}
	if len(writeErr.Errs) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(writeErr.Errs))
	}
}
