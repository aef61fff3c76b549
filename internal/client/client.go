package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/muurk/wsgate/internal/eventloop"
	"github.com/muurk/wsgate/internal/logging"
	"github.com/muurk/wsgate/internal/protocol"
	"github.com/muurk/wsgate/internal/session"
	"github.com/muurk/wsgate/internal/stream"
	"github.com/muurk/wsgate/internal/transport"
)

// ErrClosed is returned by Receive and Send once the connection is closed.
var ErrClosed = errors.New("websocket client closed")

// Options configures Dial.
type Options struct {
	// Session options. Role and URL are set by Dial.
	Session session.Options

	// MessageBuffer is the capacity of the Messages channel.
	MessageBuffer int

	// DrainTimeout bounds how long messages still undelivered when the
	// connection closes wait for a reader. The rest are dropped.
	DrainTimeout time.Duration
}

// DefaultOptions returns Options with stream defaults.
func DefaultOptions() Options {
	return Options{
		Session:       session.Options{Stream: stream.DefaultOptions()},
		MessageBuffer: 64,
		DrainTimeout:  10 * time.Second,
	}
}

// Message is a received text or binary message.
type Message struct {
	Opcode  protocol.Opcode
	Payload []byte
}

// Client is a WebSocket client connection running on its own event loop.
// All methods are safe for concurrent use.
type Client struct {
	loop *eventloop.Loop
	conn *session.Conn

	opened   chan struct{}
	done     chan struct{}
	messages chan Message
	notify   chan struct{}
	drain    time.Duration

	mu     sync.Mutex
	inbox  *queue.Queue
	status protocol.CloseStatus
	err    error
}

// Dial connects to rawURL (ws://host[:port]/path or ws+unix:///path/to.sock),
// performs the opening handshake and returns once the connection is open.
func Dial(ctx context.Context, rawURL string, opts Options) (*Client, error) {
	network, address, err := dialTarget(rawURL)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	netConn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rawURL, err)
	}

	if opts.MessageBuffer <= 0 {
		opts.MessageBuffer = 64
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	c := &Client{
		loop:     eventloop.New(),
		opened:   make(chan struct{}),
		done:     make(chan struct{}),
		messages: make(chan Message, opts.MessageBuffer),
		notify:   make(chan struct{}, 1),
		drain:    opts.DrainTimeout,
		inbox:    queue.New(),
	}

	sopts := opts.Session
	sopts.Role = session.RoleClient
	sopts.URL = rawURL

	go c.loop.Run(context.Background())
	go c.forward()

	c.loop.Post(func() {
		c.conn = session.New(1, stream.OnLoop(c.loop), transport.New(netConn, c.loop), sopts, c)
		if err := c.conn.Start(); err != nil {
			logging.Debug("Client start failed", zap.Error(err))
		}
	})

	select {
	case <-c.opened:
		logging.Info("Connected", zap.String("url", rawURL))
		return c, nil
	case <-c.done:
		_, err := c.Status()
		if err == nil {
			err = ErrClosed
		}
		return nil, fmt.Errorf("websocket handshake with %s failed: %w", rawURL, err)
	case <-ctx.Done():
		c.loop.Post(func() {
			if c.conn != nil {
				c.conn.Close()
			}
		})
		<-c.done
		return nil, ctx.Err()
	}
}

// dialTarget maps a WebSocket URL to a net.Dial network and address.
func dialTarget(rawURL string) (network, address string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid websocket url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		port := u.Port()
		if port == "" {
			port = "80"
		}
		return "tcp", net.JoinHostPort(u.Hostname(), port), nil
	case "ws+unix":
		if u.Path == "" {
			return "", "", fmt.Errorf("%w: ws+unix url needs a socket path", protocol.ErrInvalidArgument)
		}
		return "unix", u.Path, nil
	default:
		return "", "", fmt.Errorf("%w: unsupported scheme %q", protocol.ErrInvalidArgument, u.Scheme)
	}
}

// OnOpen implements session.Handler.
func (c *Client) OnOpen(conn *session.Conn) {
	close(c.opened)
}

// OnMessage implements session.Handler.
func (c *Client) OnMessage(conn *session.Conn, op protocol.Opcode, payload []byte) {
	c.mu.Lock()
	c.inbox.Add(Message{Opcode: op, Payload: payload})
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// OnPong implements session.Handler.
func (c *Client) OnPong(conn *session.Conn, payload []byte) {
	logging.Debug("Pong received", zap.Int("bytes", len(payload)))
}

// OnError implements session.Handler.
func (c *Client) OnError(conn *session.Conn, err error) {
	logging.Warn("Client connection error", zap.Error(err))
}

// OnClose implements session.Handler.
func (c *Client) OnClose(conn *session.Conn, status protocol.CloseStatus, err error) {
	c.mu.Lock()
	c.status = status
	c.err = err
	c.mu.Unlock()
	close(c.done)
	c.loop.Stop()
}

// forward moves messages from the unbounded inbox to the Messages channel
// so that a slow reader never blocks the loop. Once the connection closed,
// every message is already in the inbox; delivery then gets DrainTimeout.
func (c *Client) forward() {
	defer close(c.messages)
	done := c.done
	var expired <-chan time.Time
	for {
		msg, ok := c.pop()
		if !ok {
			if done == nil {
				return
			}
			select {
			case <-c.notify:
			case <-done:
				done = nil
				expired = time.After(c.drain)
			}
			continue
		}
		for sent := false; !sent; {
			select {
			case c.messages <- msg:
				sent = true
			case <-done:
				done = nil
				expired = time.After(c.drain)
			case <-expired:
				logging.Warn("Dropping undelivered messages", zap.Int("count", c.pending()+1))
				return
			}
		}
	}
}

func (c *Client) pop() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inbox.Length() == 0 {
		return Message{}, false
	}
	return c.inbox.Remove().(Message), true
}

func (c *Client) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbox.Length()
}

// Messages returns the channel of received messages. It is closed after the
// connection closes and every message was delivered, or DrainTimeout passed.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Receive returns the next message. After the connection closed and every
// message was read it returns ErrClosed.
func (c *Client) Receive(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-c.messages:
		if !ok {
			return Message{}, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Send sends a text or binary message.
func (c *Client) Send(op protocol.Opcode, payload []byte) error {
	var err error
	switch op {
	case protocol.OpcodeText:
		err = c.conn.PostText(string(payload))
	case protocol.OpcodeBinary:
		err = c.conn.PostBinary(payload)
	default:
		return fmt.Errorf("%w: %s is not a message opcode", protocol.ErrInvalidArgument, op)
	}
	if errors.Is(err, session.ErrNotOpen) {
		return ErrClosed
	}
	return err
}

// SendText sends a text message.
func (c *Client) SendText(s string) error {
	return c.Send(protocol.OpcodeText, []byte(s))
}

// Ping sends a ping frame.
func (c *Client) Ping(payload []byte) error {
	data := append([]byte(nil), payload...)
	if !c.loop.Post(func() {
		if err := c.conn.Ping(data); err != nil {
			logging.Debug("Ping not sent", zap.Error(err))
		}
	}) {
		return ErrClosed
	}
	return nil
}

// CloseWith starts the closing handshake and waits until the connection is
// closed or ctx is done.
func (c *Client) CloseWith(ctx context.Context, code protocol.StatusCode, reason string) error {
	c.loop.Post(func() { c.conn.CloseWith(code, reason) })
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.loop.Post(func() { c.conn.Close() })
		return ctx.Err()
	}
}

// Close performs a normal closure and waits for it to finish.
func (c *Client) Close() error {
	return c.CloseWith(context.Background(), protocol.CloseNormal, "")
}

// Done is closed once the connection is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Status returns the close status and error. Meaningful after Done.
func (c *Client) Status() (protocol.CloseStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.err
}

// Subprotocol returns the negotiated subprotocol.
func (c *Client) Subprotocol() string {
	return c.conn.Subprotocol()
}
