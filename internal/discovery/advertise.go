package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/wsgate/internal/logging"
)

// Advertisement is a registered mDNS service.
type Advertisement struct {
	server *zeroconf.Server
	once   sync.Once
	done   chan struct{}
}

// Advertise registers instance as a _wsgate._tcp service on port. The
// registration is withdrawn when ctx is done or Shutdown is called.
func Advertise(ctx context.Context, instance string, port int, txt []string) (*Advertisement, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name is required")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}

	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	logging.Info("Advertising over mDNS",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", port),
		zap.Strings("txt", txt),
	)

	a := &Advertisement{server: server, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			a.Shutdown()
		case <-a.done:
		}
	}()
	return a, nil
}

// Shutdown withdraws the service. Safe to call more than once.
func (a *Advertisement) Shutdown() {
	a.once.Do(func() {
		close(a.done)
		a.server.Shutdown()
		logging.Debug("mDNS advertisement withdrawn")
	})
}

// TXTRecords formats metadata as sorted "key=value" records.
func TXTRecords(metadata map[string]string) []string {
	records := make([]string, 0, len(metadata))
	for k, v := range metadata {
		records = append(records, k+"="+v)
	}
	sort.Strings(records)
	return records
}
