package camera

import "github.com/fleetvision/orchestrator/internal/gentl"

// Dialect is the firmware-generation tag resolved once at Open by probing
// for the modern PTP feature name. It selects which feature names are used
// for every subsequent operation on this handle, collapsing the scattered
// try/catch fallbacks a naive port would otherwise need into one lookup.
type Dialect int

const (
	DialectUnknown Dialect = iota
	DialectModern
	DialectLegacy
)

func (d Dialect) String() string {
	switch d {
	case DialectModern:
		return "Modern"
	case DialectLegacy:
		return "Legacy"
	default:
		return "Unknown"
	}
}

// logicalFeature is one row of the legacy/modern feature-name dialect map.
type logicalFeature struct {
	modern string
	legacy string
}

var featureTable = map[string]logicalFeature{
	"PtpEnable":       {"PtpEnable", "GevIEEE1588"},
	"PtpStatus":       {"PtpStatus", "GevIEEE1588Status"},
	"PtpOffset":       {"PtpOffsetFromMaster", "GevIEEE1588OffsetFromMaster"},
	"PtpLatch":        {"PtpDataSetLatch", "GevIEEE1588DataSetLatch"},
	"TimestampLatch":  {"TimestampLatch", "GevTimestampControlLatch"},
	"TimestampValue":  {"TimestampLatchValue", "GevTimestampValue"},
	"ExposureTime":    {"ExposureTime", "ExposureTimeAbs"},
	"FrameRate":       {"AcquisitionFrameRate", "AcquisitionFrameRateAbs"},
	"LinkSpeed":       {"DeviceLinkSpeed", "GevLinkSpeed"},
	"PacketSize":      {"GevSCPSPacketSize", "GevSCPSPacketSize"},
	"PacketDelay":     {"GevSCPD", "GevSCPD"},
	"FrameTxDelay":    {"GevSCFTD", "GevSCFTD"},
}

// resolveDialect probes the node map for the feature that only exists on
// modern firmware and falls back to legacy otherwise.
func resolveDialect(nm gentl.NodeMap) Dialect {
	if nm.HasFeature("PtpEnable") {
		return DialectModern
	}
	if nm.HasFeature("GevIEEE1588") {
		return DialectLegacy
	}
	return DialectUnknown
}

// featureName returns the wire-level feature name for a logical name under
// this handle's resolved dialect.
func featureName(d Dialect, logical string) (string, bool) {
	row, ok := featureTable[logical]
	if !ok {
		return "", false
	}
	switch d {
	case DialectModern:
		return row.modern, true
	case DialectLegacy:
		return row.legacy, true
	default:
		return "", false
	}
}
