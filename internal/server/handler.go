package server

import (
	"go.uber.org/zap"

	"github.com/muurk/wsgate/internal/logging"
	"github.com/muurk/wsgate/internal/protocol"
	"github.com/muurk/wsgate/internal/session"
)

// Echo returns the default application handler: every text or binary
// message is sent back unchanged.
func Echo() session.Handler {
	return session.HandlerFuncs{
		Message: func(c *session.Conn, op protocol.Opcode, payload []byte) {
			if err := c.Send(op, payload); err != nil {
				logging.Warn("Echo failed",
					zap.Uint64("conn_id", c.ID()),
					zap.Error(err),
				)
			}
		},
	}
}

// tracked wraps the application handler so the server sees every session's
// lifecycle. It runs on the loop.
type tracked struct {
	s    *Server
	next session.Handler
}

func (t tracked) OnOpen(c *session.Conn) {
	logging.Info("WebSocket connection open",
		zap.Uint64("conn_id", c.ID()),
		zap.String("trace_id", c.TraceID()),
		zap.String("remote_addr", c.RemoteAddr()),
		zap.String("path", c.Path()),
		zap.String("subprotocol", c.Subprotocol()),
	)
	t.next.OnOpen(c)
}

func (t tracked) OnMessage(c *session.Conn, op protocol.Opcode, payload []byte) {
	t.s.capture.Record(c.ID(), c.TraceID(), c.RemoteAddr(), "client->server", op, payload)
	t.next.OnMessage(c, op, payload)
}

func (t tracked) OnPong(c *session.Conn, payload []byte) {
	t.next.OnPong(c, payload)
}

func (t tracked) OnError(c *session.Conn, err error) {
	t.next.OnError(c, err)
}

func (t tracked) OnClose(c *session.Conn, status protocol.CloseStatus, err error) {
	t.s.unregister(c)
	t.next.OnClose(c, status, err)
}
