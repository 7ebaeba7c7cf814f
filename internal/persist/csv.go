// Package persist writes the bandwidth and PTP offset CSV logs, and
// canonical frames to disk. Each CSV writer is a bufio.Writer under a
// mutex, with a header written once at open and every row flushed as it is
// appended.
package persist

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// CSVWriter is a concurrency-safe, buffered CSV writer.
type CSVWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	csv  *csv.Writer
	rows uint64
}

func newCSVWriter(path string, header []string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("persist: creating directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("persist: creating %s: %w", path, err)
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	cw := csv.NewWriter(bw)
	if len(header) > 0 {
		if err := cw.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("persist: writing header to %s: %w", path, err)
		}
	}
	return &CSVWriter{file: f, buf: bw, csv: cw}, nil
}

// WriteRow appends one row and flushes immediately — these logs are
// low-frequency (one row per bandwidth write, one per PTP poll), so
// durability per row matters more than syscall count.
func (w *CSVWriter) WriteRow(row []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.csv.Write(row); err != nil {
		return err
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return err
	}
	w.rows++
	return w.buf.Flush()
}

// Rows returns the number of data rows written so far (excludes header).
func (w *CSVWriter) Rows() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Close flushes and closes the underlying file.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.csv.Flush()
	w.buf.Flush()
	return w.file.Close()
}

// BandwidthWriter appends rows to bandwidth_delays_<session>.csv.
type BandwidthWriter struct {
	*CSVWriter
}

// NewBandwidthWriter opens <outputDir>/bandwidth/bandwidth_delays_<session>.csv.
func NewBandwidthWriter(outputDir, session string) (*BandwidthWriter, error) {
	path := filepath.Join(outputDir, "bandwidth", fmt.Sprintf("bandwidth_delays_%s.csv", session))
	w, err := newCSVWriter(path, []string{"CameraID", "PacketDelayNs", "TransmissionDelayNs"})
	if err != nil {
		return nil, err
	}
	return &BandwidthWriter{w}, nil
}

// WriteDelay appends one camera's computed pacing.
func (w *BandwidthWriter) WriteDelay(cameraID string, packetDelayNs, transmissionDelayNs int64) error {
	return w.WriteRow([]string{
		cameraID,
		strconv.FormatInt(packetDelayNs, 10),
		strconv.FormatInt(transmissionDelayNs, 10),
	})
}

// OffsetHistoryWriter appends rows to ptp_offset_history_<session>.csv. The
// header widens with one `<cam_id>_offset_ns` column per camera, fixed at
// open time since the cluster size is known before the PTP controller runs.
type OffsetHistoryWriter struct {
	*CSVWriter
	cameraOrder []string
}

// NewOffsetHistoryWriter opens <outputDir>/offset/ptp_offset_history_<session>.csv
// with one offset column per camera id, in the given order.
func NewOffsetHistoryWriter(outputDir, session string, cameraIDs []string) (*OffsetHistoryWriter, error) {
	path := filepath.Join(outputDir, "offset", fmt.Sprintf("ptp_offset_history_%s.csv", session))
	header := make([]string, 0, len(cameraIDs)+1)
	header = append(header, "sample")
	for _, id := range cameraIDs {
		header = append(header, id+"_offset_ns")
	}
	w, err := newCSVWriter(path, header)
	if err != nil {
		return nil, err
	}
	order := make([]string, len(cameraIDs))
	copy(order, cameraIDs)
	return &OffsetHistoryWriter{CSVWriter: w, cameraOrder: order}, nil
}

// RecordPoll implements ptp.HistorySink: one row per poll, widened to the
// fixed camera column order established at open time. A camera missing
// from this poll's offsets (should not happen once the cluster is stable)
// leaves that column blank rather than failing the write.
func (w *OffsetHistoryWriter) RecordPoll(sampleIndex int, offsetsByCameraID map[string]int64) {
	row := make([]string, 0, len(w.cameraOrder)+1)
	row = append(row, strconv.Itoa(sampleIndex))
	for _, id := range w.cameraOrder {
		if v, ok := offsetsByCameraID[id]; ok {
			row = append(row, strconv.FormatInt(v, 10))
		} else {
			row = append(row, "")
		}
	}
	_ = w.WriteRow(row)
}
