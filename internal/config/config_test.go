package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleetctl.yaml")
	yaml := `
ptp:
  ptp_offset_threshold_ns: 2500
bandwidth:
  packet_size_b: 4096
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.PTP.PtpOffsetThresholdNs != 2500 {
		t.Fatalf("expected overridden threshold 2500, got %d", cfg.PTP.PtpOffsetThresholdNs)
	}
	if cfg.Bandwidth.PacketSizeB != 4096 {
		t.Fatalf("expected overridden packet size 4096, got %d", cfg.Bandwidth.PacketSizeB)
	}
	// Untouched fields keep their defaults.
	if cfg.PTP.PtpMaxCheck != 3 {
		t.Fatalf("expected default PtpMaxCheck 3, got %d", cfg.PTP.PtpMaxCheck)
	}
	if cfg.Camera.Width != 640 {
		t.Fatalf("expected default camera width 640, got %d", cfg.Camera.Width)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load("/nonexistent/fleetctl.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDefaultMatchesSpecConstants(t *testing.T) {
	cfg := Default()
	if cfg.Bandwidth.PacketSizeB != 8228 || cfg.Bandwidth.BufferPercent != 15 {
		t.Fatalf("unexpected bandwidth defaults: %+v", cfg.Bandwidth)
	}
	if cfg.PTP.PtpMaxCheck != 3 || cfg.PTP.PtpOffsetThresholdNs != 1000 {
		t.Fatalf("unexpected ptp defaults: %+v", cfg.PTP)
	}
}
