package discovery

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"time"
)

// hostname is os.Hostname, replaced in tests.
var hostname = os.Hostname

// Device represents a discovered drowsiwatch device on the network
type Device struct {
	// Instance is the advertised service instance name (e.g., "cab-unit-3")
	Instance string

	// Hostname is the mDNS hostname (e.g., "cab-unit-3.local.")
	Hostname string

	// IP is the device address, IPv4 when one was advertised
	IP string

	// Port is the streaming port (typically 1024)
	Port int

	// Metadata contains the TXT record data ("version", "commit")
	Metadata map[string]string

	// DiscoveredAt is when the device was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the device
func (d *Device) String() string {
	return fmt.Sprintf("%s (%s) at %s", d.Instance, d.Hostname, d.Addr())
}

// Addr returns host:port for dialing the stream service.
func (d *Device) Addr() string {
	return net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (d *Device) GetMetadata(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}

// Version is the advertised build version, if any.
func (d *Device) Version() string {
	return d.GetMetadata("version")
}

func sortDevices(seen map[string]*Device) []*Device {
	devices := make([]*Device, 0, len(seen))
	for _, d := range seen {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Instance < devices[j].Instance
	})
	return devices
}
