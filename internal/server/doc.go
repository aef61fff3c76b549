// Package server runs a WebSocket server on a single event loop.
//
// Every accepted connection becomes a session.Conn registered in an arena
// owned by the loop goroutine, keyed by a stable connection ID. The accept
// goroutine never touches a session directly: it posts the registration to
// the loop, and sessions remove themselves from the arena when they close.
//
// # Usage Example
//
//	srv, err := server.New(server.Config{
//	    Network: "tcp",
//	    Address: ":8080",
//	    Connection: session.Options{
//	        Stream: stream.DefaultOptions(),
//	        Path:   "/ws",
//	    },
//	}, nil) // nil handler echoes every message
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Start blocks until SIGINT or SIGTERM
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
// Requests on the port that do not ask for an upgrade are answered by the
// connection's HTTPHandler (426 Upgrade Required by default).
//
// # Graceful Shutdown
//
//  1. Stop accepting new connections and withdraw the mDNS advertisement
//  2. Send a 1001 close frame on every open connection
//  3. Wait for the closing handshakes until the context is done
//  4. Drop whatever is left and stop the loop
//
// # Message Capture
//
// When AnalysisDir is set, every received message is appended to a JSONL
// file (capture-YYYYMMDD-HHMMSS.jsonl) with hex and ASCII renderings of the
// payload.
package server
