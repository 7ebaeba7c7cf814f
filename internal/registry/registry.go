// Package registry enumerates GenTL producers and maintains a
// unique-by-serial view of reachable cameras.
package registry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fleetvision/orchestrator/internal/core"
	"github.com/fleetvision/orchestrator/internal/gentl"
	"github.com/fleetvision/orchestrator/internal/obs"
)

// ProducerOpener loads a producer from a filesystem path. Production
// binaries wire this to a real .cti loader; tests and `fleetctl --sim`
// wire it to the simulated package.
type ProducerOpener func(path string) (gentl.Producer, error)

// defaultProducerPaths is consulted when GENTL_PRODUCER_PATH is unset, the
// way vendor SDKs fall back to well-known install locations.
var defaultProducerPaths = []string{
	"/opt/gentl/producers",
	"/usr/lib/gentl",
}

// Registry walks the producer/system/interface tree during Enumerate and
// keeps a deduplicated view of devices by serial number; the handles it
// opens are released before Enumerate returns.
type Registry struct {
	open    ProducerOpener
	logger  *logrus.Logger
	devices map[string]gentl.DeviceInfo // keyed by SerialNumber
	order   []string                    // serials in first-seen order, for stable Enumerate output
}

// New creates a Registry backed by the given opener.
func New(open ProducerOpener) *Registry {
	return &Registry{
		open:    open,
		logger:  obs.Log,
		devices: make(map[string]gentl.DeviceInfo),
	}
}

// producerPaths returns GENTL_PRODUCER_PATH split on ';' when the value
// contains one and on ':' otherwise, falling back to defaultProducerPaths
// when unset.
func producerPaths() []string {
	raw := os.Getenv("GENTL_PRODUCER_PATH")
	if raw == "" {
		return defaultProducerPaths
	}
	sep := ":"
	if strings.Contains(raw, ";") {
		sep = ";"
	}
	var paths []string
	for _, p := range strings.Split(raw, sep) {
		p = strings.TrimSpace(p)
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// Enumerate opens every producer path, walks systems and interfaces, and
// rebuilds the deduplicated-by-serial device view. A single misbehaving
// producer is logged and skipped rather than aborting the whole sweep, and
// calling Enumerate twice against stable hardware yields identical results.
func (r *Registry) Enumerate(ctx context.Context) ([]gentl.DeviceInfo, error) {
	seen := make(map[string]gentl.DeviceInfo)
	var order []string

	for _, path := range producerPaths() {
		producer, err := r.open(path)
		if err != nil {
			r.logger.WithField("path", path).WithError(err).Warn("registry: skipping unreachable producer")
			continue
		}

		systems, err := producer.OpenSystems(ctx)
		if err != nil {
			r.logger.WithField("path", path).WithError(err).Warn("registry: failed to open systems")
			producer.Close()
			continue
		}

		for _, sys := range systems {
			ifaces, err := sys.OpenInterfaces(ctx)
			if err != nil {
				r.logger.WithField("system", sys.ID()).WithError(err).Warn("registry: failed to open interfaces")
				continue
			}
			for _, iface := range ifaces {
				devices, err := iface.ListDevices(ctx)
				if err != nil {
					r.logger.WithField("interface", iface.ID()).WithError(err).Warn("registry: failed to list devices")
					iface.Close()
					continue
				}
				for _, d := range devices {
					if _, dup := seen[d.SerialNumber]; !dup {
						order = append(order, d.SerialNumber)
					}
					seen[d.SerialNumber] = d
				}
				iface.Close()
			}
			sys.Close()
		}
		producer.Close()
	}

	r.devices = seen
	r.order = order
	return r.snapshot(), nil
}

func (r *Registry) snapshot() []gentl.DeviceInfo {
	out := make([]gentl.DeviceInfo, 0, len(r.order))
	for _, sn := range r.order {
		out = append(out, r.devices[sn])
	}
	return out
}

// Resolve looks up a device by its registry id.
func (r *Registry) Resolve(id string) (gentl.DeviceInfo, error) {
	for _, d := range r.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return gentl.DeviceInfo{}, fmt.Errorf("%w: id %q", core.ErrNoDevicesFound, id)
}

// ResolveBySerial looks up a device by its serial number.
func (r *Registry) ResolveBySerial(serial string) (gentl.DeviceInfo, error) {
	d, ok := r.devices[serial]
	if !ok {
		return gentl.DeviceInfo{}, fmt.Errorf("%w: serial %q", core.ErrNoDevicesFound, serial)
	}
	return d, nil
}

// Shutdown clears the registry's view. Producer and system handles are
// already released at the end of each Enumerate call, so this only drops
// the cached device set.
func (r *Registry) Shutdown() {
	r.devices = make(map[string]gentl.DeviceInfo)
	r.order = nil
}
