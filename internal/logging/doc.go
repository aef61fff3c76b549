// Package logging provides structured logging for wsgate.
//
// This package wraps a global zap logger with convenience functions for the
// logging patterns used across the gateway: connection lifecycle, write state
// transitions, HTTP upgrade traffic and WebSocket frames.
//
// # Log Levels
//
//   - Debug: state transitions, frame headers, hex dumps
//   - Info: connections, upgrades, messages
//   - Warn: dropped writes, protocol violations from peers
//   - Error: listener and transport failures
//
// # Structured Logging
//
// All log functions take zap fields:
//
//	logging.Info("Upgrade accepted",
//	    zap.Uint64("conn_id", id),
//	    zap.String("remote_addr", addr),
//	)
//
// Connection scoped helpers:
//
//	logging.LogConnection(id, remoteAddr, "accepted")
//	logging.LogStateTransition(id, "READY", "WRITE")
//	logging.LogFrame(id, "received", opcode, fin, len(payload))
//
// # Configuration
//
// Logging is silent unless a level is given, either directly or through
// WSGATE_LOG_LEVEL. WSGATE_LOG_FORMAT=json switches to the JSON encoder:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Thread Safety
//
// All logging functions are safe for concurrent use.
package logging
