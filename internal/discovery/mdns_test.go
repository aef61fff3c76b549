package discovery

import (
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestScanner_parseServiceEntry(t *testing.T) {
	scanner := NewScanner()

	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantIP   string
		wantPort int
		wantPath string
	}{
		{
			name: "IPv4 endpoint with path",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "lab"},
				HostName:      "lab-box.local.",
				Port:          8080,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
				Text:          []string{"path=/ws", "version=1.0.0"},
			},
			wantIP:   "192.168.4.16",
			wantPort: 8080,
			wantPath: "/ws",
		},
		{
			name: "no path record defaults to root",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "plain"},
				HostName:      "plain.local.",
				Port:          9000,
				AddrIPv4:      []net.IP{net.ParseIP("10.0.0.5")},
			},
			wantIP:   "10.0.0.5",
			wantPort: 9000,
			wantPath: "/",
		},
		{
			name: "IPv6 only",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "v6"},
				HostName:      "v6.local.",
				Port:          8080,
				AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
			},
			wantIP:   "fe80::1",
			wantPort: 8080,
			wantPath: "/",
		},
		{
			name: "prefers IPv4",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "dual"},
				HostName:      "dual.local.",
				Port:          8080,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.1.50")},
				AddrIPv6:      []net.IP{net.ParseIP("fe80::2")},
			},
			wantIP:   "192.168.1.50",
			wantPort: 8080,
			wantPath: "/",
		},
		{
			name: "no address",
			entry: &zeroconf.ServiceEntry{
				HostName: "lost.local.",
				Port:     8080,
			},
			wantNil: true,
		},
		{
			name: "no port",
			entry: &zeroconf.ServiceEntry{
				HostName: "noport.local.",
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.1")},
			},
			wantNil: true,
		},
		{
			name:    "nil entry",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := scanner.parseServiceEntry(tt.entry)

			if tt.wantNil {
				if ep != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", ep)
				}
				return
			}
			if ep == nil {
				t.Fatal("parseServiceEntry() = nil, want endpoint")
			}

			if ep.Instance != tt.entry.Instance {
				t.Errorf("ep.Instance = %v, want %v", ep.Instance, tt.entry.Instance)
			}
			if ep.IP != tt.wantIP {
				t.Errorf("ep.IP = %v, want %v", ep.IP, tt.wantIP)
			}
			if ep.Port != tt.wantPort {
				t.Errorf("ep.Port = %v, want %v", ep.Port, tt.wantPort)
			}
			if ep.Path != tt.wantPath {
				t.Errorf("ep.Path = %v, want %v", ep.Path, tt.wantPath)
			}
			if time.Since(ep.DiscoveredAt) > time.Second {
				t.Errorf("ep.DiscoveredAt is not recent: %v", ep.DiscoveredAt)
			}
		})
	}
}

func TestParseTXT(t *testing.T) {
	got := ParseTXT([]string{"path=/", "version=1.0", "flag", "expr=a=b"})
	want := map[string]string{
		"path":    "/",
		"version": "1.0",
		"flag":    "",
		"expr":    "a=b",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseTXT() = %v, want %v", got, want)
	}
}

func TestTXTRecords(t *testing.T) {
	got := TXTRecords(map[string]string{"version": "1.0", "path": "/ws"})
	want := []string{"path=/ws", "version=1.0"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TXTRecords() = %v, want %v", got, want)
	}

	if back := ParseTXT(got); back["path"] != "/ws" {
		t.Errorf("ParseTXT(TXTRecords()) path = %q, want /ws", back["path"])
	}
}

func TestNewScanner(t *testing.T) {
	scanner := NewScanner()

	if scanner == nil {
		t.Fatal("NewScanner() = nil, want scanner")
	}
	if scanner.Timeout != DefaultScanTimeout {
		t.Errorf("scanner.Timeout = %v, want %v", scanner.Timeout, DefaultScanTimeout)
	}
}
