// Package gentl defines the boundary this orchestrator expects from a GenTL
// producer. No vendor .cti binding lives here — that library is an opaque,
// externally supplied implementation of these interfaces (see
// gentl/simulated for the one concrete implementation this repo ships,
// used for tests and --sim runs).
package gentl

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Stream.Grab when no buffer arrives before the
// caller's deadline.
var ErrTimeout = errors.New("gentl: grab timeout")

// DeviceInfo is the stable identity a producer reports for a camera before
// it is opened, enough to populate the Camera Identity record.
type DeviceInfo struct {
	ID              string
	SerialNumber    string
	Vendor          string
	Model           string
	MACAddress      string
	CurrentIP       string
	ProducerPath    string
	InterfaceID     string
}

// Producer is one vendor GenTL library (a .cti module in production).
type Producer interface {
	Path() string
	OpenSystems(ctx context.Context) ([]System, error)
	Close() error
}

// System is a producer's top-level handle (GenTL "system").
type System interface {
	ID() string
	OpenInterfaces(ctx context.Context) ([]Interface, error)
	Close() error
}

// Interface owns zero or more devices (a NIC path, in the GigE Vision case).
type Interface interface {
	ID() string
	ListDevices(ctx context.Context) ([]DeviceInfo, error)
	OpenDevice(ctx context.Context, id string) (Device, error)
	Close() error
}

// Device is one camera's opened handle.
type Device interface {
	Info() DeviceInfo
	NodeMap() NodeMap
	OpenStream(ctx context.Context) (Stream, error)
	Close() error
}

// NodeMap is the GenICam feature node tree exposed by a device, reduced to
// the typed accessors this orchestrator actually needs.
type NodeMap interface {
	GetInt(name string) (int64, error)
	SetInt(name string, v int64) error
	GetFloat(name string) (float64, error)
	SetFloat(name string, v float64) error
	GetBool(name string) (bool, error)
	SetBool(name string, v bool) error
	GetString(name string) (string, error)
	SetString(name string, v string) error
	GetEnum(name string) (string, error)
	SetEnum(name string, v string) error
	ExecuteCommand(name string) error
	HasFeature(name string) bool
}

// Buffer is one grabbed payload from a stream.
type Buffer struct {
	Payload    []byte
	Width      int
	Height     int
	PixelFormat string
	TimestampNs uint64
	Present     bool
	Incomplete  bool
}

// Stream delivers Buffers for one opened device.
type Stream interface {
	StartStreaming(ctx context.Context) error
	Grab(ctx context.Context, timeout time.Duration) (Buffer, error)
	StopStreaming() error
	Close() error
}
