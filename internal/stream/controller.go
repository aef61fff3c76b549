package stream

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/wsgate/internal/logging"
)

// Options configures a controller.
type Options struct {
	MaxQueueSize    int
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxQueueSize:    DefaultMaxQueueSize,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Handler receives the completions of one connection. All calls happen on
// the loop.
type Handler interface {
	OnWriteComplete(tag any, err error)
	OnShutdownComplete(err error)
	OnClose(err error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	WriteComplete    func(tag any, err error)
	ShutdownComplete func(err error)
	Close            func(err error)
}

func (h HandlerFuncs) OnWriteComplete(tag any, err error) {
	if h.WriteComplete != nil {
		h.WriteComplete(tag, err)
	}
}

func (h HandlerFuncs) OnShutdownComplete(err error) {
	if h.ShutdownComplete != nil {
		h.ShutdownComplete(err)
	}
}

func (h HandlerFuncs) OnClose(err error) {
	if h.Close != nil {
		h.Close(err)
	}
}

// Controller is the per-connection write path: a state machine, its
// timeouts and a cross-goroutine entry point. Apart from PostWrite, ID and
// Wakes, methods must be called on the loop.
type Controller struct {
	id      uint64
	env     Env
	handler Handler

	machine    *WriteStateMachine
	supervisor *TimeoutSupervisor
	dispatcher *Dispatcher

	discardPosted func(w PendingWrite) bool
}

// NewController creates a controller in NOT_READY. Call Attach once the
// transport exists.
func NewController(id uint64, env Env, opts Options, h Handler) *Controller {
	if h == nil {
		h = HandlerFuncs{}
	}
	c := &Controller{id: id, env: env, handler: h}

	c.supervisor = newTimeoutSupervisor(env, opts, c.onWriteTimeout, c.onShutdownTimeout)
	c.dispatcher = newDispatcher(env, c.drainPosted)
	c.machine = newWriteStateMachine(opts.MaxQueueSize, machineHooks{
		transition: func(from, to State) {
			logging.LogStateTransition(c.id, from.String(), to.String())
		},
		writeStarted:     c.supervisor.WriteStarted,
		writeFinished:    c.supervisor.WriteFinished,
		writeComplete:    h.OnWriteComplete,
		shutdownStarted:  c.supervisor.ShutdownStarted,
		shutdownFinished: c.supervisor.ShutdownFinished,
		shutdownComplete: h.OnShutdownComplete,
		closing:          c.onClosing,
		closed:           h.OnClose,
	})
	return c
}

// ID returns the connection ID.
func (c *Controller) ID() uint64 { return c.id }

// State returns the current write state.
func (c *Controller) State() State { return c.machine.State() }

// Stats returns the machine counters.
func (c *Controller) Stats() Stats { return c.machine.Stats() }

// QueueLen returns the number of queued buffers.
func (c *Controller) QueueLen() int { return c.machine.QueueLen() }

// Wakes returns how many loop wakes PostWrite caused.
func (c *Controller) Wakes() uint64 { return c.dispatcher.Wakes() }

// Attach binds the transport and makes the connection writable.
func (c *Controller) Attach(tr Transport) error {
	return c.machine.Attach(tr)
}

// Write queues data for transmission.
func (c *Controller) Write(data []byte, tag any) error {
	return c.machine.Write(data, tag)
}

// Shutdown half-closes the stream once nothing is queued.
func (c *Controller) Shutdown() error {
	return c.machine.Shutdown()
}

// Cancel abandons a posted batch that has not started yet.
func (c *Controller) Cancel() error {
	return c.machine.Cancel()
}

// Close drops queued data and closes the transport.
func (c *Controller) Close() {
	c.machine.Close(nil)
}

// CloseWithError is Close with a reason that is passed to OnClose.
func (c *Controller) CloseWithError(reason error) {
	c.machine.Close(reason)
}

// PostWrite is Write for callers that are not on the loop. Once the
// connection is closing, posts are dropped and nil is returned; the
// submitter learns of the close from OnClose. ErrInvalidState is returned
// only when the loop no longer runs.
func (c *Controller) PostWrite(data []byte, tag any) error {
	if err := c.dispatcher.PostWrite(data, tag); err != nil {
		return invalidState("post", StateEnd)
	}
	return nil
}

// DiscardPosted installs a check that runs on the loop when posted writes
// are drained. Writes it reports true for are dropped without a
// completion. Owners use it to stop data from following a final frame.
func (c *Controller) DiscardPosted(fn func(w PendingWrite) bool) {
	c.discardPosted = fn
}

// PostsDropped returns how many posts were discarded.
func (c *Controller) PostsDropped() uint64 { return c.dispatcher.Dropped() }

func (c *Controller) drainPosted(batch []PendingWrite) {
	if st := c.machine.State(); st == StateClosing || st == StateEnd {
		logging.Debug("Dropping posted writes on closed connection",
			zap.Uint64("conn_id", c.id),
			zap.Int("count", len(batch)),
		)
		c.dispatcher.dropped.Add(uint64(len(batch)))
		return
	}

	if c.discardPosted != nil {
		kept := batch[:0]
		for _, w := range batch {
			if !c.discardPosted(w) {
				kept = append(kept, w)
			}
		}
		if n := len(batch) - len(kept); n > 0 {
			logging.Debug("Discarded posted writes",
				zap.Uint64("conn_id", c.id),
				zap.Int("count", n),
			)
			c.dispatcher.dropped.Add(uint64(n))
		}
		if len(kept) == 0 {
			return
		}
		batch = kept
	}

	switch st := c.machine.State(); st {
	case StateReady:
		n, err := c.machine.stageAsync(batch)
		for _, w := range batch[n:] {
			c.rejectPosted(w, queueFull("post", st))
		}
		if err != nil || n == 0 {
			return
		}
		if !c.env.Post(c.machine.startAsync) {
			c.machine.Close(errors.New("event loop stopped"))
		}

	default:
		for _, w := range batch {
			if err := c.machine.Write(w.Data, w.Tag); err != nil {
				c.rejectPosted(w, err)
			}
		}
	}
}

func (c *Controller) rejectPosted(w PendingWrite, err error) {
	logging.Warn("Posted write rejected",
		zap.Uint64("conn_id", c.id),
		zap.Int("length", len(w.Data)),
		zap.Error(err),
	)
	c.handler.OnWriteComplete(w.Tag, err)
}

func (c *Controller) onWriteTimeout() {
	logging.Warn("Write timed out", zap.Uint64("conn_id", c.id))
	c.machine.OnWriteComplete(ErrTimedOut)
}

func (c *Controller) onShutdownTimeout() {
	logging.Warn("Shutdown timed out", zap.Uint64("conn_id", c.id))
	c.machine.Close(timedOut("shutdown", c.machine.State()))
}

func (c *Controller) onClosing(dropped int) {
	c.supervisor.StopAll()
	c.dispatcher.drop()
	if dropped > 0 {
		logging.Debug("Dropped queued writes on close",
			zap.Uint64("conn_id", c.id),
			zap.Int("count", dropped),
		)
	}
}
