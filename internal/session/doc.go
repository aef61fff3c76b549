// Package session runs one WebSocket connection on an event loop.
//
// A Conn starts in HTTP mode, collecting the request (server) or response
// (client) head. Once the upgrade succeeds it switches to WebSocket mode
// for the rest of its life and every further byte goes through the frame
// codec. A server Conn that receives an ordinary HTTP request answers it
// through the first matching Route, or the HTTPHandler when none matches,
// then half-closes and closes.
//
// In WebSocket mode the Conn answers pings, runs the closing handshake and
// turns peer protocol violations into a close frame with the matching
// status code. All writes go through a stream.Controller, so at most one
// socket write is outstanding and nothing is written after close.
//
// All methods except PostText, PostBinary, ID and TraceID must be called on
// the loop that owns the Conn.
package session
