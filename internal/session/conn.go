package session

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/wsgate/internal/logging"
	"github.com/muurk/wsgate/internal/protocol"
	"github.com/muurk/wsgate/internal/stream"
	"github.com/muurk/wsgate/internal/transport"
)

// Role selects which side of the handshake a Conn plays.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// DefaultCloseTimeout bounds the closing handshake.
const DefaultCloseTimeout = 5 * time.Second

var (
	// ErrNotOpen is returned when sending before the upgrade or after the
	// closing handshake started.
	ErrNotOpen = errors.New("websocket connection not open")
	// ErrCloseTimeout is reported when the peer did not answer our close
	// frame in time.
	ErrCloseTimeout = errors.New("closing handshake timed out")
)

// Transport is the byte stream under a Conn.
type Transport interface {
	stream.Transport
	StartReading(r transport.Receiver, bufSize int)
	RemoteAddr() string
}

// Options configures a Conn.
type Options struct {
	Role   Role
	Stream stream.Options

	// CloseTimeout bounds the wait for the peer's close frame. Zero selects
	// DefaultCloseTimeout; a negative value waits forever.
	CloseTimeout   time.Duration
	FragmentSize   int
	MaxFrameSize   uint64
	MaxMessageSize int
	ReadBufferSize int

	// Server side.
	Path         string
	Subprotocols []string
	HTTP         HTTPHandler
	// Routes answer plain requests before HTTP does.
	Routes []Route

	// Client side.
	URL    string
	Header http.Header
	Rand   io.Reader
}

// Handler receives connection events on the loop.
type Handler interface {
	OnOpen(c *Conn)
	OnMessage(c *Conn, op protocol.Opcode, payload []byte)
	OnPong(c *Conn, payload []byte)
	OnError(c *Conn, err error)
	OnClose(c *Conn, status protocol.CloseStatus, err error)
}

// HandlerFuncs adapts functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Open    func(c *Conn)
	Message func(c *Conn, op protocol.Opcode, payload []byte)
	Pong    func(c *Conn, payload []byte)
	Error   func(c *Conn, err error)
	Close   func(c *Conn, status protocol.CloseStatus, err error)
}

func (h HandlerFuncs) OnOpen(c *Conn) {
	if h.Open != nil {
		h.Open(c)
	}
}

func (h HandlerFuncs) OnMessage(c *Conn, op protocol.Opcode, payload []byte) {
	if h.Message != nil {
		h.Message(c, op, payload)
	}
}

func (h HandlerFuncs) OnPong(c *Conn, payload []byte) {
	if h.Pong != nil {
		h.Pong(c, payload)
	}
}

func (h HandlerFuncs) OnError(c *Conn, err error) {
	if h.Error != nil {
		h.Error(c, err)
	}
}

func (h HandlerFuncs) OnClose(c *Conn, status protocol.CloseStatus, err error) {
	if h.Close != nil {
		h.Close(c, status, err)
	}
}

type mode int

const (
	modeHTTP mode = iota
	modeWebSocket
)

// writeTag tells onWriteComplete what a finished buffer was.
type writeTag int

const (
	tagData writeTag = iota
	tagHandshake
	tagHTTP
	tagClose
)

// Conn is one WebSocket connection.
type Conn struct {
	id      uint64
	traceID string
	opts    Options
	env     stream.Env
	tr      Transport
	ctrl    *stream.Controller
	h       Handler

	mode   mode
	open   atomic.Bool
	head   []byte
	reader *protocol.MessageReader

	clientKey   string
	path        string
	subprotocol string

	closeSent     bool
	closeReceived bool
	closeAfter    bool // close the transport once our close frame is out
	ignoreInput   bool
	httpReplying  bool
	sentStatus    protocol.CloseStatus
	peerStatus    protocol.CloseStatus
	closeErr      error
	closeTimer    stream.Timer
	finished      bool
}

// New creates a Conn bound to tr. Call Start on the loop to begin.
func New(id uint64, env stream.Env, tr Transport, opts Options, h Handler) *Conn {
	if h == nil {
		h = HandlerFuncs{}
	}
	if opts.HTTP == nil {
		opts.HTTP = UpgradeRequired
	}
	opts.Routes = sortRoutes(opts.Routes)
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	if opts.CloseTimeout == 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}

	c := &Conn{
		id:      id,
		traceID: uuid.NewString(),
		opts:    opts,
		env:     env,
		tr:      tr,
		h:       h,
	}
	c.ctrl = stream.NewController(id, env, opts.Stream, stream.HandlerFuncs{
		WriteComplete: c.onWriteComplete,
		Close:         c.onTransportClosed,
	})
	// Posted messages drained after our close frame must not follow it.
	c.ctrl.DiscardPosted(func(stream.PendingWrite) bool {
		return c.closeSent || c.finished
	})
	c.closeTimer = env.NewTimer()
	return c
}

// ID returns the connection ID.
func (c *Conn) ID() uint64 { return c.id }

// TraceID returns a random ID for correlating log lines.
func (c *Conn) TraceID() string { return c.traceID }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.tr.RemoteAddr() }

// Role returns the handshake side.
func (c *Conn) Role() Role { return c.opts.Role }

// Path returns the request path of an upgraded server connection.
func (c *Conn) Path() string { return c.path }

// Subprotocol returns the negotiated subprotocol, if any.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// IsOpen reports whether the upgrade completed and no close frame has been
// sent. Safe from any goroutine.
func (c *Conn) IsOpen() bool { return c.open.Load() }

// Stats returns the write path counters.
func (c *Conn) Stats() stream.Stats { return c.ctrl.Stats() }

// WriteState returns the controller state.
func (c *Conn) WriteState() stream.State { return c.ctrl.State() }

func (c *Conn) fields(extra ...zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.Uint64("conn_id", c.id),
		zap.String("trace_id", c.traceID),
		zap.String("remote_addr", c.tr.RemoteAddr()),
		zap.Stringer("role", c.opts.Role),
	}, extra...)
}

// Start attaches the transport, starts reading and, for clients, sends the
// upgrade request.
func (c *Conn) Start() error {
	if err := c.ctrl.Attach(c.tr); err != nil {
		return err
	}
	c.tr.StartReading(c, c.opts.ReadBufferSize)
	logging.LogConnection(c.id, c.tr.RemoteAddr(), "attached")

	if c.opts.Role != RoleClient {
		return nil
	}

	key, err := protocol.NewClientKey(c.opts.Rand)
	if err != nil {
		c.fail(err)
		return err
	}
	c.clientKey = key

	header := c.opts.Header.Clone()
	if len(c.opts.Subprotocols) > 0 {
		if header == nil {
			header = http.Header{}
		}
		for _, p := range c.opts.Subprotocols {
			header.Add("Sec-WebSocket-Protocol", p)
		}
	}
	req, err := protocol.BuildUpgradeRequest(c.opts.URL, key, header)
	if err != nil {
		c.fail(err)
		return err
	}
	raw, err := protocol.EncodeUpgradeRequest(req)
	if err != nil {
		c.fail(err)
		return err
	}
	logging.LogRawBytes("Upgrade request", raw)
	return c.ctrl.Write(raw, tagHandshake)
}

// OnRead implements transport.Receiver.
func (c *Conn) OnRead(data []byte) {
	if c.finished || c.ignoreInput {
		return
	}
	switch c.mode {
	case modeHTTP:
		c.head = append(c.head, data...)
		if c.opts.Role == RoleClient {
			c.readResponseHead()
		} else {
			c.readRequestHead()
		}
	case modeWebSocket:
		c.reader.Feed(data)
		c.pump()
	}
}

// OnEOF implements transport.Receiver.
func (c *Conn) OnEOF() {
	logging.Debug("Peer closed its write side", c.fields()...)
	if c.httpReplying || c.closeAfter {
		// The pending response or close frame closes the connection once
		// written.
		return
	}
	if c.mode == modeWebSocket && !c.closeReceived && c.closeErr == nil {
		c.closeErr = io.ErrUnexpectedEOF
	}
	c.ctrl.Close()
}

// OnReadError implements transport.Receiver.
func (c *Conn) OnReadError(err error) {
	logging.Warn("Read failed", c.fields(zap.Error(err))...)
	if c.closeErr == nil {
		c.closeErr = err
	}
	c.ctrl.CloseWithError(err)
}

func (c *Conn) readRequestHead() {
	req, rest, ok, err := protocol.ReadRequestHead(c.head)
	if err != nil {
		logging.Warn("Malformed HTTP request", c.fields(zap.Error(err))...)
		c.respondHTTP(errorResponse(err))
		return
	}
	if !ok {
		return
	}
	c.head = nil
	logRequest(req, c.tr.RemoteAddr())

	up, ok := protocol.Negotiate(req)
	if !ok || (c.opts.Path != "" && req.URL.Path != c.opts.Path) {
		c.respondHTTP(route(c.opts.Routes, req, c.opts.HTTP)(req))
		return
	}

	c.path = up.Path
	c.subprotocol = protocol.SelectSubprotocol(up.Subprotocols, c.opts.Subprotocols)
	if err := c.ctrl.Write(protocol.UpgradeResponse(up.Accept, c.subprotocol), tagHandshake); err != nil {
		c.fail(err)
		return
	}
	logging.LogHTTPResponse(c.tr.RemoteAddr(), http.StatusSwitchingProtocols, map[string]string{
		"Upgrade":              "websocket",
		"Connection":           "Upgrade",
		"Sec-WebSocket-Accept": up.Accept,
	})
	c.switchToWebSocket(rest)
}

func (c *Conn) readResponseHead() {
	resp, rest, ok, err := protocol.ReadResponseHead(c.head)
	if err != nil {
		c.fail(err)
		return
	}
	if !ok {
		return
	}
	c.head = nil

	if err := protocol.VerifyUpgradeResponse(resp, c.clientKey); err != nil {
		c.fail(err)
		return
	}
	c.subprotocol = resp.Header.Get("Sec-WebSocket-Protocol")
	c.switchToWebSocket(rest)
}

func (c *Conn) switchToWebSocket(rest []byte) {
	c.mode = modeWebSocket
	c.reader = protocol.NewMessageReader(protocol.NewDecoder(protocol.DecoderOptions{
		MaxFrameSize:  c.opts.MaxFrameSize,
		RequireMasked: c.opts.Role == RoleServer,
		RejectMasked:  c.opts.Role == RoleClient,
	}), c.opts.MaxMessageSize)
	c.reader.OnFrame = func(f *protocol.Frame) {
		logging.LogFrame(c.id, "received", byte(f.Opcode), f.FIN, len(f.Payload))
	}
	c.open.Store(true)

	logging.LogConnection(c.id, c.tr.RemoteAddr(), "websocket_upgraded")
	c.h.OnOpen(c)

	if len(rest) > 0 && !c.finished {
		c.reader.Feed(rest)
		c.pump()
	}
}

func (c *Conn) respondHTTP(resp *HTTPResponse) {
	logResponse(resp, c.tr.RemoteAddr())
	if err := c.ctrl.Write(resp.Encode(), tagHTTP); err != nil {
		c.ctrl.CloseWithError(err)
	}
	c.httpReplying = true
	c.ignoreInput = true
}

func (c *Conn) pump() {
	for msg, err := range c.reader.Messages() {
		if err != nil {
			c.protocolFailure(err)
			return
		}
		c.handleMessage(msg)
		if c.ignoreInput || c.finished {
			return
		}
	}
}

func (c *Conn) handleMessage(msg *protocol.Message) {
	switch msg.Opcode {
	case protocol.OpcodeText, protocol.OpcodeBinary:
		logging.LogWebSocketMessage(c.tr.RemoteAddr(), "received", byte(msg.Opcode), msg.Payload)
		c.h.OnMessage(c, msg.Opcode, msg.Payload)

	case protocol.OpcodePing:
		logging.Debug("Received ping, sending pong", c.fields()...)
		if !c.closeSent {
			if err := c.writeControl(protocol.OpcodePong, msg.Payload, tagData); err != nil {
				logging.Warn("Failed to queue pong", c.fields(zap.Error(err))...)
			}
		}

	case protocol.OpcodePong:
		logging.Debug("Received pong", c.fields()...)
		c.h.OnPong(c, msg.Payload)

	case protocol.OpcodeClose:
		status, err := protocol.ParseClosePayload(msg.Payload)
		if err != nil {
			c.protocolFailure(err)
			return
		}
		c.closeReceived = true
		c.ignoreInput = true
		c.peerStatus = status
		logging.Info("Received close frame", c.fields(zap.Stringer("status", status))...)

		if c.closeSent {
			// Our close was answered.
			c.ctrl.Close()
			return
		}
		c.closeAfter = true
		c.sendClose(status.Code, "")
	}
}

// protocolFailure answers a peer violation with the matching close code.
func (c *Conn) protocolFailure(err error) {
	code := protocol.CloseCodeFor(err)
	logging.Warn("Protocol violation", c.fields(zap.Uint16("close_code", uint16(code)), zap.Error(err))...)
	if c.closeErr == nil {
		c.closeErr = err
	}
	c.h.OnError(c, err)
	c.ignoreInput = true
	c.closeAfter = true
	c.sendClose(code, "")
}

func (c *Conn) fail(err error) {
	logging.Error("Connection failed", c.fields(zap.Error(err))...)
	if c.closeErr == nil {
		c.closeErr = err
	}
	c.h.OnError(c, err)
	c.ctrl.CloseWithError(err)
}

func (c *Conn) writeControl(op protocol.Opcode, payload []byte, tag writeTag) error {
	frame, err := protocol.EncodeFrame(op, payload, true, c.mask())
	if err != nil {
		return err
	}
	if err := c.ctrl.Write(frame, tag); err != nil {
		return err
	}
	logging.LogFrame(c.id, "sent", byte(op), true, len(payload))
	return nil
}

// logSent logs the frames Send produced for an n byte message.
func (c *Conn) logSent(op protocol.Opcode, n int) {
	size := c.opts.FragmentSize
	if size <= 0 || n <= size {
		logging.LogFrame(c.id, "sent", byte(op), true, n)
		return
	}
	for off := 0; off < n; off += size {
		end := min(off+size, n)
		logging.LogFrame(c.id, "sent", byte(op), end == n, end-off)
		op = protocol.OpcodeContinuation
	}
}

func (c *Conn) mask() *[4]byte {
	if c.opts.Role != RoleClient {
		return nil
	}
	return newMask(c.opts.Rand)
}

func newMask(r io.Reader) *[4]byte {
	var key [4]byte
	if _, err := io.ReadFull(r, key[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(fmt.Sprintf("session: reading mask key: %v", err))
	}
	return &key
}

func (c *Conn) sendClose(code protocol.StatusCode, reason string) {
	if c.closeSent {
		return
	}
	c.closeSent = true
	c.open.Store(false)
	c.sentStatus = protocol.CloseStatus{Code: code, Reason: reason}

	if err := c.writeControl(protocol.OpcodeClose, protocol.EncodeClosePayload(code, reason), tagClose); err != nil {
		logging.Debug("Close frame not queued, closing", c.fields(zap.Error(err))...)
		c.ctrl.Close()
		return
	}
	if c.opts.CloseTimeout > 0 {
		c.closeTimer.Start(c.opts.CloseTimeout, c.onCloseTimeout)
	}
}

func (c *Conn) onCloseTimeout() {
	logging.Warn("Closing handshake timed out", c.fields()...)
	if c.closeErr == nil {
		c.closeErr = ErrCloseTimeout
	}
	c.ctrl.CloseWithError(ErrCloseTimeout)
}

func (c *Conn) onWriteComplete(tag any, err error) {
	if err != nil {
		logging.Warn("Write failed", c.fields(zap.Error(err))...)
		if c.closeErr == nil {
			c.closeErr = err
		}
		return
	}
	switch tag {
	case tagHTTP:
		if err := c.ctrl.Shutdown(); err != nil {
			c.ctrl.Close()
		}
	case tagClose:
		if c.closeAfter {
			c.ctrl.Close()
		}
	}
}

func (c *Conn) onTransportClosed(err error) {
	if c.finished {
		return
	}
	c.finished = true
	c.open.Store(false)
	c.closeTimer.Stop()

	var status protocol.CloseStatus
	switch {
	case c.closeReceived:
		status = c.peerStatus
	case c.closeSent:
		status = c.sentStatus
	default:
		status = protocol.CloseStatus{Code: protocol.CloseAbnormal}
	}
	if c.closeErr == nil {
		c.closeErr = err
	}

	logging.LogConnection(c.id, c.tr.RemoteAddr(), "closed")
	logging.Debug("Connection closed", c.fields(
		zap.Stringer("status", status),
		zap.Uint64("writes", c.ctrl.Stats().WritesCompleted),
		zap.Error(c.closeErr),
	)...)
	c.h.OnClose(c, status, c.closeErr)
}

// Send writes a complete message, fragmenting it if FragmentSize is set.
func (c *Conn) Send(op protocol.Opcode, payload []byte) error {
	if c.mode != modeWebSocket || c.closeSent || c.finished {
		return ErrNotOpen
	}
	buf, err := c.encodeMessage(op, payload)
	if err != nil {
		return err
	}
	if err := c.ctrl.Write(buf, tagData); err != nil {
		return err
	}
	logging.LogWebSocketMessage(c.tr.RemoteAddr(), "sent", byte(op), payload)
	c.logSent(op, len(payload))
	return nil
}

// SendText sends a text message.
func (c *Conn) SendText(s string) error { return c.Send(protocol.OpcodeText, []byte(s)) }

// SendBinary sends a binary message.
func (c *Conn) SendBinary(p []byte) error { return c.Send(protocol.OpcodeBinary, p) }

// Ping sends a ping with payload.
func (c *Conn) Ping(payload []byte) error {
	if c.mode != modeWebSocket || c.closeSent || c.finished {
		return ErrNotOpen
	}
	return c.writeControl(protocol.OpcodePing, payload, tagData)
}

// CloseWith starts the closing handshake. The transport is closed when the
// peer answers or after CloseTimeout.
func (c *Conn) CloseWith(code protocol.StatusCode, reason string) {
	if c.finished {
		return
	}
	if c.mode != modeWebSocket {
		c.ctrl.Close()
		return
	}
	c.sendClose(code, reason)
}

// Close drops the connection without a closing handshake.
func (c *Conn) Close() {
	c.ctrl.Close()
}

// PostText is SendText for goroutines other than the loop.
func (c *Conn) PostText(s string) error { return c.post(protocol.OpcodeText, []byte(s)) }

// PostBinary is SendBinary for goroutines other than the loop.
func (c *Conn) PostBinary(p []byte) error { return c.post(protocol.OpcodeBinary, p) }

func (c *Conn) post(op protocol.Opcode, payload []byte) error {
	if !c.open.Load() {
		return ErrNotOpen
	}
	buf, err := c.encodeMessage(op, payload)
	if err != nil {
		return err
	}
	return c.ctrl.PostWrite(buf, tagData)
}

// encodeMessage returns every fragment of one message in a single buffer so
// that nothing can be interleaved between them.
func (c *Conn) encodeMessage(op protocol.Opcode, payload []byte) ([]byte, error) {
	var maskFn func() *[4]byte
	if c.opts.Role == RoleClient {
		maskFn = func() *[4]byte { return newMask(c.opts.Rand) }
	}
	frames, err := protocol.EncodeMessage(op, payload, c.opts.FragmentSize, maskFn)
	if err != nil {
		return nil, err
	}
	if len(frames) == 1 {
		return frames[0], nil
	}
	return bytes.Join(frames, nil), nil
}
