package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/muurk/wsgate/internal/logging"
)

// ErrShutdownUnsupported is returned when the connection cannot half-close.
var ErrShutdownUnsupported = errors.New("connection does not support half-close")

// DefaultReadBufferSize is the read pump's chunk size.
const DefaultReadBufferSize = 32 * 1024

// Poster schedules a function on the owning loop.
type Poster interface {
	Post(fn func()) bool
}

// Receiver gets the read side of a connection, on the loop.
type Receiver interface {
	OnRead(data []byte)
	OnEOF()
	OnReadError(err error)
}

// NetTransport runs blocking net.Conn calls off the loop and posts their
// completions back to it.
type NetTransport struct {
	conn   net.Conn
	loop   Poster
	remote string

	closed    atomic.Bool
	closeOnce sync.Once
	readOnce  sync.Once

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// New wraps conn. Completions are posted to loop.
func New(conn net.Conn, loop Poster) *NetTransport {
	remote := "unknown"
	if addr := conn.RemoteAddr(); addr != nil && addr.String() != "" {
		remote = addr.String()
	}
	return &NetTransport{conn: conn, loop: loop, remote: remote}
}

// RemoteAddr returns the peer address as a string.
func (t *NetTransport) RemoteAddr() string { return t.remote }

// BytesRead returns the number of bytes received so far.
func (t *NetTransport) BytesRead() uint64 { return t.bytesRead.Load() }

// BytesWritten returns the number of bytes sent so far.
func (t *NetTransport) BytesWritten() uint64 { return t.bytesWritten.Load() }

// Write sends data in full and reports the result through done.
func (t *NetTransport) Write(data []byte, done func(err error)) {
	go func() {
		n, err := t.conn.Write(data)
		t.bytesWritten.Add(uint64(n))
		if err != nil {
			err = fmt.Errorf("write to %s: %w", t.remote, err)
		}
		t.loop.Post(func() { done(err) })
	}()
}

// Shutdown half-closes the write side.
func (t *NetTransport) Shutdown(done func(err error)) {
	cw, ok := t.conn.(interface{ CloseWrite() error })
	if !ok {
		t.loop.Post(func() { done(ErrShutdownUnsupported) })
		return
	}
	go func() {
		err := cw.CloseWrite()
		if err != nil {
			err = fmt.Errorf("shutdown %s: %w", t.remote, err)
		}
		t.loop.Post(func() { done(err) })
	}()
}

// Close closes the connection. done runs on the loop once, even if Close
// is called again.
func (t *NetTransport) Close(done func()) {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if err := t.conn.Close(); err != nil {
			logging.Debug("Error closing connection",
				zap.String("remote_addr", t.remote),
				zap.Error(err),
			)
		}
		if done != nil {
			t.loop.Post(done)
		}
	})
}

// Closed reports whether Close has been called.
func (t *NetTransport) Closed() bool { return t.closed.Load() }

// StartReading runs the read pump. Events stop once Close has been called.
// Calling it more than once has no effect.
func (t *NetTransport) StartReading(r Receiver, bufSize int) {
	if bufSize <= 0 {
		bufSize = DefaultReadBufferSize
	}
	t.readOnce.Do(func() {
		go t.readPump(r, bufSize)
	})
}

func (t *NetTransport) readPump(r Receiver, bufSize int) {
	buf := make([]byte, bufSize)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			t.bytesRead.Add(uint64(n))
			data := make([]byte, n)
			copy(data, buf[:n])
			if !t.loop.Post(func() {
				if !t.closed.Load() {
					r.OnRead(data)
				}
			}) {
				return
			}
		}
		if err == nil {
			continue
		}

		if t.closed.Load() {
			return
		}
		if errors.Is(err, io.EOF) {
			t.loop.Post(func() {
				if !t.closed.Load() {
					r.OnEOF()
				}
			})
		} else {
			t.loop.Post(func() {
				if !t.closed.Load() {
					r.OnReadError(err)
				}
			})
		}
		return
	}
}
