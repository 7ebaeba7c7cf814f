// Package config loads the session-defaults YAML file: a plain struct
// tree tagged for gopkg.in/yaml.v3, read and unmarshaled in one call.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CameraDefaults mirrors camera.Config's fields for YAML-driven defaults,
// applied to every camera a session opens; there is no per-camera override.
type CameraDefaults struct {
	ExposureMicros float64 `yaml:"exposure_micros"`
	Gain           float64 `yaml:"gain"`
	Width          int     `yaml:"width"`
	Height         int     `yaml:"height"`
	PixelFormat    string  `yaml:"pixel_format"`
}

// PTPConfig holds the synchronization controller's operator-chosen
// thresholds.
type PTPConfig struct {
	PollIntervalMs            int64 `yaml:"poll_interval_ms"`
	MonitorPtpStatusTimeoutMs int64 `yaml:"monitor_ptp_status_timeout_ms"`
	PtpOffsetThresholdNs      int64 `yaml:"ptp_offset_threshold_ns"`
	PtpMaxCheck               int   `yaml:"ptp_max_check"`
	TimeWindowSize            int   `yaml:"time_window_size"`
}

// BandwidthConfig holds the scheduler's operator-chosen parameters.
type BandwidthConfig struct {
	PacketSizeB   int     `yaml:"packet_size_b"`
	BufferPercent float64 `yaml:"buffer_percent"`
}

// AcquisitionConfig holds the acquisition engine's operator-chosen
// thresholds.
type AcquisitionConfig struct {
	GrabTimeoutMs    int64   `yaml:"grab_timeout_ms"`
	FailureThreshold int     `yaml:"failure_threshold"`
	FPSLowerBound    float64 `yaml:"fps_lower_bound"`
}

// StorageConfig controls the output directory layout and whether frames
// are persisted at all.
type StorageConfig struct {
	OutputDir  string `yaml:"output_dir"`
	SaveFrames bool   `yaml:"save_frames"`
}

// SessionConfig is the top-level structure for the session-defaults file
// (e.g. `fleetctl.yaml`).
type SessionConfig struct {
	Camera      CameraDefaults    `yaml:"camera"`
	PTP         PTPConfig         `yaml:"ptp"`
	Bandwidth   BandwidthConfig   `yaml:"bandwidth"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Storage     StorageConfig     `yaml:"storage"`
}

// Default returns the built-in defaults, used when no config file is
// given.
func Default() SessionConfig {
	return SessionConfig{
		Camera: CameraDefaults{
			ExposureMicros: 10_000,
			Gain:           0,
			Width:          640,
			Height:         480,
			PixelFormat:    "Mono8",
		},
		PTP: PTPConfig{
			PollIntervalMs:            2000,
			MonitorPtpStatusTimeoutMs: 30_000,
			PtpOffsetThresholdNs:      1000,
			PtpMaxCheck:               3,
			TimeWindowSize:            20,
		},
		Bandwidth: BandwidthConfig{
			PacketSizeB:   8228,
			BufferPercent: 15,
		},
		Acquisition: AcquisitionConfig{
			GrabTimeoutMs:    5000,
			FailureThreshold: 10,
			FPSLowerBound:    1,
		},
		Storage: StorageConfig{
			OutputDir:  "./output",
			SaveFrames: true,
		},
	}
}

// Load reads and parses a session-defaults YAML file, starting from
// Default() so a partial file only overrides the fields it sets.
func Load(path string) (SessionConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
