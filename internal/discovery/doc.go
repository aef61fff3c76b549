// Package discovery advertises and finds wsgate servers over mDNS.
//
// Servers register a "_wsgate._tcp" service whose TXT records carry the
// upgrade path and the server version. Clients browse for the same service
// type and get back Endpoints they can dial directly.
//
// # Usage Example
//
//	// Server side
//	ad, err := discovery.Advertise(ctx, "lab-gateway", 8080,
//	    discovery.TXTRecords(map[string]string{"path": "/ws"}))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ad.Shutdown()
//
//	// Client side
//	endpoints, err := discovery.NewScanner().Scan(ctx)
//	for _, ep := range endpoints {
//	    fmt.Println(ep.URL())
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Peers must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
