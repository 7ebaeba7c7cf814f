package devicemgr

import (
	"context"
	"errors"
	"testing"

	"github.com/fleetvision/orchestrator/internal/camera"
	"github.com/fleetvision/orchestrator/internal/core"
	"github.com/fleetvision/orchestrator/internal/gentl"
	"github.com/fleetvision/orchestrator/internal/gentl/simulated"
)

// fakeRegistry serves a fixed device set without touching the real
// registry package, keeping this test scoped to devicemgr's fan-out logic.
type fakeRegistry struct {
	devices []gentl.DeviceInfo
}

func (f *fakeRegistry) Enumerate(ctx context.Context) ([]gentl.DeviceInfo, error) {
	return f.devices, nil
}

func (f *fakeRegistry) Resolve(id string) (gentl.DeviceInfo, error) {
	for _, d := range f.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return gentl.DeviceInfo{}, errors.New("devicemgr test: unknown id")
}

func newTestManager(t *testing.T, n int) (*Manager, []gentl.DeviceInfo) {
	t.Helper()
	producer := simulated.New("sim://test", n)
	systems, err := producer.OpenSystems(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ifaces, err := systems[0].OpenInterfaces(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	iface := ifaces[0]
	devices, err := iface.ListDevices(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	reg := &fakeRegistry{devices: devices}
	opener := func(ctx context.Context, info gentl.DeviceInfo) (gentl.Device, error) {
		return iface.OpenDevice(ctx, info.ID)
	}
	return New(reg, opener), devices
}

func TestOpenConstructsHandlesForEachID(t *testing.T) {
	mgr, devices := newTestManager(t, 2)

	ids := []string{devices[0].ID, devices[1].ID}
	opened, err := mgr.Open(context.Background(), ids, camera.DefaultConfig(), camera.AccessControl)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(opened) != 2 {
		t.Fatalf("expected 2 opened handles, got %d", len(opened))
	}
	if len(mgr.Opened()) != 2 {
		t.Fatalf("expected manager to track 2 opened handles, got %d", len(mgr.Opened()))
	}
}

func TestOpenSkipsUnknownIDAndReportsFanOutError(t *testing.T) {
	mgr, devices := newTestManager(t, 1)

	ids := []string{devices[0].ID, "does-not-exist"}
	opened, err := mgr.Open(context.Background(), ids, camera.DefaultConfig(), camera.AccessControl)
	if err == nil {
		t.Fatal("expected a FanOutError for the unknown id")
	}
	if len(opened) != 1 {
		t.Fatalf("expected the valid id to still open, got %d handles", len(opened))
	}
	var fanOut *FanOutError
	if !errors.As(err, &fanOut) {
		t.Fatalf("expected *FanOutError, got %T", err)
	}
}

func TestSetExposureTimeAllAppliesToEveryOpenedCamera(t *testing.T) {
	mgr, devices := newTestManager(t, 3)
	ids := []string{devices[0].ID, devices[1].ID, devices[2].ID}
	if _, err := mgr.Open(context.Background(), ids, camera.DefaultConfig(), camera.AccessControl); err != nil {
		t.Fatal(err)
	}

	if err := mgr.SetExposureTimeAll(3000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, h := range mgr.Opened() {
		if h.Config().ExposureMicros != 3000 {
			t.Fatalf("expected exposure 3000 on camera %s, got %v", h.Identity().ID, h.Config().ExposureMicros)
		}
	}
}

func TestCloseAllDropsEveryHandle(t *testing.T) {
	mgr, devices := newTestManager(t, 2)
	ids := []string{devices[0].ID, devices[1].ID}
	if _, err := mgr.Open(context.Background(), ids, camera.DefaultConfig(), camera.AccessControl); err != nil {
		t.Fatal(err)
	}

	if err := mgr.CloseAll(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mgr.Opened()) != 0 {
		t.Fatalf("expected no opened handles after CloseAll, got %d", len(mgr.Opened()))
	}
}

func TestCloseUnknownIDReturnsDeviceUnavailable(t *testing.T) {
	mgr, _ := newTestManager(t, 1)
	if err := mgr.Close("never-opened"); !errors.Is(err, core.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable closing an id that was never opened, got %v", err)
	}
}
