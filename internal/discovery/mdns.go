package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type wsgate servers advertise
	ServiceType = "_wsgate._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default browse duration
	DefaultScanTimeout = 5 * time.Second

	// QuickScanTimeout is the browse duration of QuickScan
	QuickScanTimeout = 2 * time.Second
)

// Scanner browses for wsgate servers.
type Scanner struct {
	// Timeout is the maximum time to wait for answers
	Timeout time.Duration
}

// NewScanner creates a scanner with default settings.
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Scan browses for Timeout (or until ctx is done) and returns every
// endpoint that answered.
func (s *Scanner) Scan(ctx context.Context) ([]*Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	var (
		mu        sync.Mutex
		endpoints = make([]*Endpoint, 0)
		seen      = make(map[string]bool)
	)
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			select {
			case entry := <-entries:
				ep := s.parseServiceEntry(entry)
				if ep == nil {
					continue
				}
				mu.Lock()
				if key := ep.URL(); !seen[key] {
					seen[key] = true
					endpoints = append(endpoints, ep)
				}
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return append([]*Endpoint(nil), endpoints...), nil
}

// WaitFor browses until an endpoint with the given instance name answers.
func (s *Scanner) WaitFor(ctx context.Context, instance string) (*Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *Endpoint, 1)
	go func() {
		for {
			select {
			case entry := <-entries:
				ep := s.parseServiceEntry(entry)
				if ep != nil && ep.Instance == instance {
					found <- ep
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case ep := <-found:
		return ep, nil
	case <-ctx.Done():
		select {
		case ep := <-found:
			return ep, nil
		default:
		}
		return nil, fmt.Errorf("endpoint %q not found within timeout", instance)
	}
}

// parseServiceEntry converts a zeroconf entry to an Endpoint. Entries
// without an address or port are skipped.
func (s *Scanner) parseServiceEntry(entry *zeroconf.ServiceEntry) *Endpoint {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	metadata := ParseTXT(entry.Text)
	path := metadata["path"]
	if path == "" {
		path = "/"
	}

	return &Endpoint{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Path:         path,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// ParseTXT splits "key=value" TXT records. A record without '=' maps to "".
func ParseTXT(records []string) map[string]string {
	metadata := make(map[string]string, len(records))
	for _, txt := range records {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}
	return metadata
}

// QuickScan performs a scan with QuickScanTimeout.
func QuickScan(ctx context.Context) ([]*Endpoint, error) {
	scanner := NewScanner()
	scanner.Timeout = QuickScanTimeout
	return scanner.Scan(ctx)
}
