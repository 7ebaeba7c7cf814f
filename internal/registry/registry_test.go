package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/fleetvision/orchestrator/internal/gentl"
	"github.com/fleetvision/orchestrator/internal/gentl/simulated"
)

func simOpener(n int) ProducerOpener {
	return func(path string) (gentl.Producer, error) {
		return simulated.New(path, n), nil
	}
}

func failingOpener(path string) (gentl.Producer, error) {
	return nil, errors.New("simulated: producer unreachable")
}

func TestEnumerateDedupesBySerial(t *testing.T) {
	t.Setenv("GENTL_PRODUCER_PATH", "sim://a;sim://b")
	r := New(simOpener(3))

	devices, err := r.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Both producer paths enumerate the same 3 serials, so the
	// deduplicated view must still report exactly 3 devices.
	if len(devices) != 3 {
		t.Fatalf("expected 3 deduplicated devices, got %d", len(devices))
	}
}

func TestEnumerateIsIdempotent(t *testing.T) {
	t.Setenv("GENTL_PRODUCER_PATH", "sim://a")
	r := New(simOpener(2))

	first, err := r.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expected stable enumeration, got %d then %d", len(first), len(second))
	}
	for i := range first {
		if first[i].SerialNumber != second[i].SerialNumber {
			t.Fatalf("expected identical serial order, got %q then %q", first[i].SerialNumber, second[i].SerialNumber)
		}
	}
}

func TestEnumerateSkipsUnreachableProducer(t *testing.T) {
	t.Setenv("GENTL_PRODUCER_PATH", "sim://good")
	r := New(failingOpener)

	devices, err := r.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("a misbehaving producer must not abort enumeration: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("expected zero devices from an unreachable producer, got %d", len(devices))
	}
}

func TestResolveAndResolveBySerial(t *testing.T) {
	t.Setenv("GENTL_PRODUCER_PATH", "sim://a")
	r := New(simOpener(1))
	if _, err := r.Enumerate(context.Background()); err != nil {
		t.Fatal(err)
	}

	d, err := r.Resolve("sim-cam-0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.SerialNumber != "SIM0000" {
		t.Fatalf("expected SIM0000, got %q", d.SerialNumber)
	}

	d2, err := r.ResolveBySerial("SIM0000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d2.ID != "sim-cam-0" {
		t.Fatalf("expected sim-cam-0, got %q", d2.ID)
	}

	if _, err := r.Resolve("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestShutdownClearsState(t *testing.T) {
	t.Setenv("GENTL_PRODUCER_PATH", "sim://a")
	r := New(simOpener(2))
	if _, err := r.Enumerate(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.Shutdown()
	if _, err := r.Resolve("sim-cam-0"); err == nil {
		t.Fatal("expected no devices to remain live after Shutdown")
	}
}
