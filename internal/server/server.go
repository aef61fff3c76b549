package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/wsgate/internal/discovery"
	"github.com/muurk/wsgate/internal/eventloop"
	"github.com/muurk/wsgate/internal/logging"
	"github.com/muurk/wsgate/internal/protocol"
	"github.com/muurk/wsgate/internal/session"
	"github.com/muurk/wsgate/internal/stream"
	"github.com/muurk/wsgate/internal/transport"
	"github.com/muurk/wsgate/internal/version"
)

// DefaultShutdownWait bounds the closing handshakes when the context given
// to Shutdown has no deadline.
const DefaultShutdownWait = 10 * time.Second

var (
	// ErrServerClosed is returned by Serve and Broadcast after Shutdown.
	ErrServerClosed = errors.New("server closed")
	// ErrAlreadyServing is returned by a second call to Serve.
	ErrAlreadyServing = errors.New("server already serving")
)

// Config holds the server configuration
type Config struct {
	Network    string          // "tcp" (default) or "unix"
	Address    string          // host:port, or socket path for unix
	Connection session.Options // Per-connection options; Role is forced to server

	AnalysisDir  string        // Directory for JSONL message capture (empty = disabled)
	Advertise    bool          // Register the server over mDNS (tcp only)
	Instance     string        // mDNS instance name, defaults to the hostname
	ShutdownWait time.Duration // Grace period for closing handshakes on shutdown
}

// Server accepts WebSocket connections and runs them all on one event loop.
type Server struct {
	config  Config
	handler session.Handler
	loop    *eventloop.Loop
	capture *Capture

	mu       sync.Mutex
	listener net.Listener
	served   bool
	ad       *discovery.Advertisement
	closing  atomic.Bool
	stopped  chan struct{}
	active   atomic.Int64

	// Owned by the loop.
	conns   map[uint64]*session.Conn
	nextID  uint64
	drained chan struct{}
}

// New creates a Server. A nil handler selects Echo.
func New(config Config, handler session.Handler) (*Server, error) {
	if config.Network == "" {
		config.Network = "tcp"
	}
	if config.Network != "tcp" && config.Network != "unix" {
		return nil, fmt.Errorf("unsupported network %q", config.Network)
	}
	if config.ShutdownWait <= 0 {
		config.ShutdownWait = DefaultShutdownWait
	}
	if handler == nil {
		handler = Echo()
	}

	capture, err := NewCapture(config.AnalysisDir)
	if err != nil {
		return nil, err
	}

	return &Server{
		config:  config,
		handler: handler,
		loop:    eventloop.New(),
		capture: capture,
		stopped: make(chan struct{}),
		conns:   make(map[uint64]*session.Conn),
	}, nil
}

// Listen opens the configured listener. A stale unix socket file is removed
// first.
func (s *Server) Listen() (net.Listener, error) {
	if s.config.Network == "unix" {
		removeStaleSocket(s.config.Address)
	}
	ln, err := net.Listen(s.config.Network, s.config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s %s: %w", s.config.Network, s.config.Address, err)
	}
	return ln, nil
}

func removeStaleSocket(path string) {
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		_ = os.Remove(path)
	}
}

// Start listens, optionally advertises over mDNS, and serves until SIGINT
// or SIGTERM.
func (s *Server) Start() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}

	logging.Info("Starting wsgate server",
		zap.String("network", s.config.Network),
		zap.String("addr", ln.Addr().String()),
		zap.String("path", s.config.Connection.Path),
		zap.String("version", version.Version),
	)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.config.Advertise {
		s.advertise(sigCtx, ln.Addr())
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Serve(context.Background(), ln)
	}()

	select {
	case <-sigCtx.Done():
		logging.Info("Shutdown signal received, stopping server...")
		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownWait)
		defer cancel()
		err := s.Shutdown(ctx)
		<-errChan
		return err
	case err := <-errChan:
		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownWait)
		defer cancel()
		_ = s.Shutdown(ctx)
		return err
	}
}

func (s *Server) advertise(ctx context.Context, addr net.Addr) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		logging.Warn("mDNS advertisement needs a tcp listener", zap.String("addr", addr.String()))
		return
	}
	instance := s.config.Instance
	if instance == "" {
		instance, _ = os.Hostname()
	}
	path := s.config.Connection.Path
	if path == "" {
		path = "/"
	}

	ad, err := discovery.Advertise(ctx, instance, tcpAddr.Port, discovery.TXTRecords(map[string]string{
		"path":    path,
		"version": version.Version,
	}))
	if err != nil {
		logging.Warn("mDNS advertisement failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.ad = ad
	s.mu.Unlock()
}

// Serve accepts connections on ln until Shutdown is called or ctx is done.
// It returns nil after a shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServing
	}
	s.served = true
	s.listener = ln
	go s.loop.Run(context.Background())
	s.mu.Unlock()

	serveDone := make(chan struct{})
	defer close(serveDone)
	go func() {
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownWait)
			defer cancel()
			_ = s.Shutdown(sctx)
		case <-serveDone:
		}
	}()

	logging.Info("Server listening for connections",
		zap.String("network", ln.Addr().Network()),
		zap.String("addr", ln.Addr().String()),
	)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logging.Warn("Accept timed out, retrying", zap.Error(err))
				continue
			}
			logging.Error("Failed to accept connection", zap.Error(err))
			return fmt.Errorf("accept failed: %w", err)
		}

		if !s.loop.Post(func() { s.register(conn) }) {
			_ = conn.Close()
		}
	}
}

// register runs on the loop.
func (s *Server) register(conn net.Conn) {
	if s.closing.Load() {
		_ = conn.Close()
		return
	}

	s.nextID++
	id := s.nextID
	tr := transport.New(conn, s.loop)
	opts := s.config.Connection
	opts.Role = session.RoleServer

	c := session.New(id, stream.OnLoop(s.loop), tr, opts, tracked{s: s, next: s.handler})
	s.conns[id] = c
	s.active.Add(1)
	logging.LogConnection(id, tr.RemoteAddr(), "connection_accepted")

	if err := c.Start(); err != nil {
		logging.Error("Failed to start connection",
			zap.Uint64("conn_id", id),
			zap.Error(err),
		)
	}
}

// unregister runs on the loop from the session's OnClose.
func (s *Server) unregister(c *session.Conn) {
	if _, ok := s.conns[c.ID()]; !ok {
		return
	}
	delete(s.conns, c.ID())
	s.active.Add(-1)
	logging.LogConnection(c.ID(), c.RemoteAddr(), "connection_closed")

	if s.drained != nil && len(s.conns) == 0 {
		close(s.drained)
		s.drained = nil
	}
}

// beginDrain runs on the loop. It starts a closing handshake on every
// connection and closes drained once the arena is empty.
func (s *Server) beginDrain(drained chan struct{}) {
	if len(s.conns) == 0 {
		close(drained)
		return
	}
	s.drained = drained
	for _, c := range s.conns {
		logging.Info("Closing active connection",
			zap.Uint64("conn_id", c.ID()),
			zap.String("remote_addr", c.RemoteAddr()),
		)
		c.CloseWith(protocol.CloseGoingAway, "server shutting down")
	}
}

// Shutdown stops accepting, sends close frames to every connection and
// waits for the handshakes until ctx is done. Connections still open then
// are dropped. Later calls wait for the first to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closing.CompareAndSwap(false, true) {
		select {
		case <-s.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer close(s.stopped)
	logging.Info("Shutting down server...")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownWait)
		defer cancel()
	}

	s.mu.Lock()
	ln, served, ad := s.listener, s.served, s.ad
	s.mu.Unlock()

	if ad != nil {
		ad.Shutdown()
	}
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logging.Error("Error closing listener", zap.Error(err))
		}
	}

	if served {
		drained := make(chan struct{})
		if s.loop.Post(func() { s.beginDrain(drained) }) {
			select {
			case <-drained:
				logging.Info("All connections closed gracefully")
			case <-ctx.Done():
				logging.Warn("Shutdown timeout, forcing close",
					zap.Int("remaining", s.ActiveConnections()),
				)
			}
		}

		forced := make(chan struct{})
		if s.loop.Post(func() {
			for _, c := range s.conns {
				c.Close()
			}
			close(forced)
		}) {
			<-forced
		}
	}

	s.loop.Stop()
	if served {
		<-s.loop.Done()
	}
	logging.Info("Server stopped",
		zap.Uint64("loop_tasks", s.loop.Executed()),
		zap.Uint64("connections", s.nextID),
	)

	if err := s.capture.Close(); err != nil {
		logging.Warn("Failed to close analysis file", zap.Error(err))
	}
	logging.Sync()
	return nil
}

// ActiveConnections returns the number of registered connections.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Broadcast sends a message to every open connection. Safe from any
// goroutine; the sends happen on the loop.
func (s *Server) Broadcast(op protocol.Opcode, payload []byte) error {
	if s.closing.Load() {
		return ErrServerClosed
	}
	if op != protocol.OpcodeText && op != protocol.OpcodeBinary {
		return fmt.Errorf("%w: cannot broadcast %s", protocol.ErrInvalidArgument, op)
	}
	data := append([]byte(nil), payload...)
	ok := s.loop.Post(func() {
		sent := 0
		for _, c := range s.conns {
			if !c.IsOpen() {
				continue
			}
			if err := c.Send(op, data); err != nil {
				logging.Warn("Broadcast send failed",
					zap.Uint64("conn_id", c.ID()),
					zap.Error(err),
				)
				continue
			}
			sent++
		}
		logging.Debug("Broadcast queued",
			zap.Int("recipients", sent),
			zap.Int("bytes", len(data)),
		)
	})
	if !ok {
		return ErrServerClosed
	}
	return nil
}
