// Package stream orchestrates writes, half-close and close on one ordered
// byte stream.
//
// A Controller owns a bounded WriteQueue and a WriteStateMachine that keeps
// at most one transport write in flight:
//
//	NOT_READY -> READY -> WRITE -> READY ...
//	             READY -> ASYNC -> WRITE          (batch posted from another goroutine)
//	                      ASYNC -> ASYNC_CANCEL -> READY
//	             READY -> SHUTDOWN -> CLOSING -> END
//	          any state -> CLOSING -> END
//
// The legal graph lives in one function, transition, and nothing else
// changes the state. A TimeoutSupervisor bounds writes and shutdowns. A
// Dispatcher lets other goroutines submit writes; submissions are batched
// and wake the loop once per batch.
//
// Everything except PostWrite runs on the owning event loop. Completions are
// reported through Handler; OnClose fires exactly once per controller.
package stream
