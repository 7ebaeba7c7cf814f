package persist

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetvision/orchestrator/internal/camera"
)

func TestBandwidthWriterProducesSpecHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBandwidthWriter(dir, "20260101_000000")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteDelay("CAM_A", 75704, 75704); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteDelay("CAM_B", 75704, 0); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "bandwidth", "bandwidth_delays_20260101_000000.csv")
	rows := readCSV(t, path)
	if rows[0][0] != "CameraID" || rows[0][1] != "PacketDelayNs" || rows[0][2] != "TransmissionDelayNs" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	if rows[1][0] != "CAM_A" || rows[1][1] != "75704" || rows[1][2] != "75704" {
		t.Fatalf("unexpected row 1: %v", rows[1])
	}
	if rows[2][0] != "CAM_B" || rows[2][2] != "0" {
		t.Fatalf("unexpected row 2: %v", rows[2])
	}
}

func TestOffsetHistoryWriterWidensHeaderByCamera(t *testing.T) {
	dir := t.TempDir()
	w, err := NewOffsetHistoryWriter(dir, "20260101_000000", []string{"CAM_A", "CAM_B"})
	if err != nil {
		t.Fatal(err)
	}
	w.RecordPoll(1, map[string]int64{"CAM_A": 0, "CAM_B": 420})
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "offset", "ptp_offset_history_20260101_000000.csv")
	rows := readCSV(t, path)
	if rows[0][0] != "sample" || rows[0][1] != "CAM_A_offset_ns" || rows[0][2] != "CAM_B_offset_ns" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	if rows[1][0] != "1" || rows[1][1] != "0" || rows[1][2] != "420" {
		t.Fatalf("unexpected row: %v", rows[1])
	}
}

func TestPNGFrameWriterWritesUnderSessionDirectory(t *testing.T) {
	dir := t.TempDir()
	w := NewPNGFrameWriter(dir, "20260101_000000")

	frame := camera.Frame{
		Pixels:            []byte{0, 128, 255, 64},
		Width:             2,
		Height:            2,
		Channels:          1,
		CameraID:          "CAM_A",
		DeviceTimestampNs: 123456,
	}
	if err := w.WriteFrame(frame); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "recordings", "20260101_000000", "CAM_A_20260101_000000", "frame_123456.png")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected PNG at %s: %v", path, err)
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return rows
}
