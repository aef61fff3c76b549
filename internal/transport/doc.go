// Package transport adapts a net.Conn to the event-loop world.
//
// NetTransport implements stream.Transport. Blocking socket calls run on
// helper goroutines; their results are posted back to the loop, so the
// owning controller only ever sees completions on its own goroutine. The
// read pump does the same for incoming bytes, EOF and read errors.
package transport
