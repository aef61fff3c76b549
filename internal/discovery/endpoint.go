package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Endpoint is a wsgate server found on the local network.
type Endpoint struct {
	// Instance is the advertised service instance name
	Instance string

	// Hostname is the mDNS hostname (e.g., "build-box.local.")
	Hostname string

	// IP is the address to dial, IPv4 preferred
	IP string

	// Port is the WebSocket listen port
	Port int

	// Path is the upgrade path from the "path" TXT record, "/" when absent
	Path string

	// Metadata contains the raw TXT records
	Metadata map[string]string

	// DiscoveredAt is when the endpoint was seen
	DiscoveredAt time.Time
}

// String returns a human-readable description of the endpoint.
func (e *Endpoint) String() string {
	return fmt.Sprintf("wsgate %s (%s) at %s:%d", e.Instance, e.Hostname, e.IP, e.Port)
}

// URL returns the ws:// URL for the endpoint.
func (e *Endpoint) URL() string {
	path := e.Path
	if path == "" {
		path = "/"
	}
	return "ws://" + net.JoinHostPort(e.IP, strconv.Itoa(e.Port)) + path
}

// GetMetadata retrieves a TXT value by key, or "" if not present.
func (e *Endpoint) GetMetadata(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}
