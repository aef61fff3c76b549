package stream

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestWritesCompleteInOrder(t *testing.T) {
	c, _, tr, rec := newTestController(t, DefaultOptions())

	for i := 0; i < 10; i++ {
		if err := c.Write([]byte{byte(i)}, i); err != nil {
			t.Fatalf("Write(%d) error = %v", i, err)
		}
	}
	if c.State() != StateWrite {
		t.Fatalf("State() = %v, want WRITE", c.State())
	}

	for i := 0; i < 10; i++ {
		tr.complete(nil)
	}

	if c.State() != StateReady {
		t.Errorf("State() = %v, want READY", c.State())
	}
	for i, tag := range rec.completed {
		if tag != i || rec.errs[i] != nil {
			t.Fatalf("completion %d = (%v, %v), want (%d, nil)", i, tag, rec.errs[i], i)
		}
		if !bytes.Equal(tr.writes[i], []byte{byte(i)}) {
			t.Fatalf("transport write %d = %v", i, tr.writes[i])
		}
	}
	if tr.maxInflight != 1 {
		t.Errorf("max in-flight writes = %d, want 1", tr.maxInflight)
	}

	st := c.Stats()
	if st.WritesCompleted != 10 || st.BytesWritten != 10 {
		t.Errorf("Stats() = %+v, want 10 writes, 10 bytes", st)
	}
}

func TestWriteFromOwnerCallback(t *testing.T) {
	env := &fakeEnv{}
	tr := &fakeTransport{}
	var c *Controller
	sent := 0
	c = NewController(1, env, DefaultOptions(), HandlerFuncs{
		WriteComplete: func(tag any, err error) {
			if sent < 3 {
				sent++
				_ = c.Write([]byte("again"), sent)
			}
		},
	})
	_ = c.Attach(tr)
	_ = c.Write([]byte("first"), 0)

	for tr.inflight > 0 {
		tr.complete(nil)
	}
	if len(tr.writes) != 4 {
		t.Errorf("transport saw %d writes, want 4", len(tr.writes))
	}
	if tr.maxInflight != 1 {
		t.Errorf("max in-flight writes = %d, want 1", tr.maxInflight)
	}
}

func TestWriteRejectedWhenNotWritable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *Controller, tr *fakeTransport)
		want  State
	}{
		{
			name:  "closing",
			setup: func(c *Controller, tr *fakeTransport) { c.Close() },
			want:  StateClosing,
		},
		{
			name: "end",
			setup: func(c *Controller, tr *fakeTransport) {
				c.Close()
				tr.finishClose()
			},
			want: StateEnd,
		},
		{
			name:  "shutdown",
			setup: func(c *Controller, tr *fakeTransport) { _ = c.Shutdown() },
			want:  StateShutdown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, tr, _ := newTestController(t, DefaultOptions())
			tt.setup(c, tr)
			if c.State() != tt.want {
				t.Fatalf("State() = %v, want %v", c.State(), tt.want)
			}

			err := c.Write([]byte("x"), nil)
			if !errors.Is(err, ErrInvalidState) {
				t.Errorf("Write() error = %v, want ErrInvalidState", err)
			}
			if c.QueueLen() != 0 {
				t.Errorf("QueueLen() = %d, want 0", c.QueueLen())
			}
			if len(tr.writes) != 0 {
				t.Errorf("transport saw %d writes, want 0", len(tr.writes))
			}
		})
	}
}

func TestWriteBeforeAttach(t *testing.T) {
	c := NewController(1, &fakeEnv{}, DefaultOptions(), nil)
	if err := c.Write([]byte("x"), nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Write() error = %v, want ErrInvalidState", err)
	}
	if err := c.Attach(nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Attach(nil) error = %v, want ErrInvalidState", err)
	}
}

func TestQueueFullLeavesQueueAtCapacity(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxQueueSize = 3
	c, _, tr, _ := newTestController(t, opts)

	// The first write leaves the queue for the transport straight away.
	for i := 0; i < 4; i++ {
		if err := c.Write([]byte("x"), i); err != nil {
			t.Fatalf("Write(%d) error = %v", i, err)
		}
	}
	if c.QueueLen() != 3 {
		t.Fatalf("QueueLen() = %d, want 3", c.QueueLen())
	}

	err := c.Write([]byte("x"), 4)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Write() error = %v, want ErrQueueFull", err)
	}
	if c.QueueLen() != 3 {
		t.Errorf("QueueLen() = %d, want 3", c.QueueLen())
	}
	if c.State() != StateWrite {
		t.Errorf("State() = %v, want WRITE", c.State())
	}
	if len(tr.writes) != 1 {
		t.Errorf("transport saw %d writes, want 1", len(tr.writes))
	}
}

func TestWriteFailureClosesOnce(t *testing.T) {
	c, _, tr, rec := newTestController(t, DefaultOptions())
	_ = c.Write([]byte("a"), "a")
	_ = c.Write([]byte("b"), "b")

	cause := errors.New("connection reset")
	tr.complete(cause)

	if c.State() != StateClosing {
		t.Fatalf("State() = %v, want CLOSING", c.State())
	}
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrTransport) || !errors.Is(rec.errs[0], cause) {
		t.Fatalf("write errors = %v, want one transport failure", rec.errs)
	}
	if tr.closes != 1 {
		t.Errorf("transport Close called %d times, want 1", tr.closes)
	}
	if len(tr.writes) != 1 {
		t.Errorf("failed write was retried or queue flushed: %d writes", len(tr.writes))
	}

	c.Close()
	tr.finishClose()
	if c.State() != StateEnd {
		t.Errorf("State() = %v, want END", c.State())
	}
	if len(rec.closes) != 1 || !errors.Is(rec.closes[0], cause) {
		t.Errorf("OnClose calls = %v, want one with the transport error", rec.closes)
	}
}

func TestCloseDropsQueue(t *testing.T) {
	c, _, tr, rec := newTestController(t, DefaultOptions())
	for i := 0; i < 5; i++ {
		_ = c.Write([]byte("x"), i)
	}

	c.Close()
	c.Close()
	if tr.closes != 1 {
		t.Errorf("transport Close called %d times, want 1", tr.closes)
	}
	if c.QueueLen() != 0 {
		t.Errorf("QueueLen() = %d, want 0", c.QueueLen())
	}

	// The in-flight write finishing late must not restart anything.
	tr.complete(nil)
	tr.finishClose()

	if len(tr.writes) != 1 {
		t.Errorf("transport saw %d writes, want 1", len(tr.writes))
	}
	if len(rec.completed) != 0 {
		t.Errorf("dropped writes were reported: %v", rec.completed)
	}
	if len(rec.closes) != 1 || rec.closes[0] != nil {
		t.Errorf("OnClose calls = %v, want [nil]", rec.closes)
	}
	if got := c.Stats().WritesDropped; got != 4 {
		t.Errorf("WritesDropped = %d, want 4", got)
	}
}

func TestCloseBeforeAttach(t *testing.T) {
	rec := &recorder{}
	c := NewController(1, &fakeEnv{}, DefaultOptions(), rec)
	c.Close()
	if c.State() != StateEnd {
		t.Errorf("State() = %v, want END", c.State())
	}
	if len(rec.closes) != 1 {
		t.Errorf("OnClose called %d times, want 1", len(rec.closes))
	}
}

func TestGracefulShutdown(t *testing.T) {
	c, _, tr, rec := newTestController(t, DefaultOptions())

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := c.Shutdown(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Shutdown() error = %v, want ErrInvalidState", err)
	}
	if tr.shutdowns != 1 {
		t.Fatalf("transport Shutdown called %d times, want 1", tr.shutdowns)
	}

	tr.shutdownDone(nil)
	if c.State() != StateClosing {
		t.Fatalf("State() = %v, want CLOSING", c.State())
	}
	tr.finishClose()

	if len(rec.shutdowns) != 1 || rec.shutdowns[0] != nil {
		t.Errorf("OnShutdownComplete = %v, want [nil]", rec.shutdowns)
	}
	if len(rec.closes) != 1 {
		t.Errorf("OnClose called %d times, want 1", len(rec.closes))
	}
}

func TestShutdownNotAllowedWhileWriting(t *testing.T) {
	c, _, tr, _ := newTestController(t, DefaultOptions())
	_ = c.Write([]byte("x"), nil)
	if err := c.Shutdown(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Shutdown() error = %v, want ErrInvalidState", err)
	}
	if tr.shutdowns != 0 {
		t.Errorf("transport Shutdown called %d times, want 0", tr.shutdowns)
	}
}

func TestShutdownTimeoutForcesClose(t *testing.T) {
	c, env, tr, rec := newTestController(t, DefaultOptions())
	_ = c.Shutdown()

	shutdownTimer := env.timers[1]
	if !shutdownTimer.active || shutdownTimer.d != 5*time.Second {
		t.Fatalf("shutdown timer = %+v, want armed for 5s", shutdownTimer)
	}
	shutdownTimer.fire()

	if c.State() != StateClosing {
		t.Fatalf("State() = %v, want CLOSING", c.State())
	}

	// A late acknowledgement changes nothing.
	tr.shutdownDone(nil)
	tr.finishClose()
	tr.finishClose()

	if len(rec.shutdowns) != 0 {
		t.Errorf("OnShutdownComplete called after timeout: %v", rec.shutdowns)
	}
	if len(rec.closes) != 1 || !errors.Is(rec.closes[0], ErrTimedOut) {
		t.Errorf("OnClose calls = %v, want one ErrTimedOut", rec.closes)
	}
	if c.State() != StateEnd {
		t.Errorf("State() = %v, want END", c.State())
	}
}

func TestWriteTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.WriteTimeout = time.Second
	c, env, tr, rec := newTestController(t, opts)

	_ = c.Write([]byte("a"), "a")
	_ = c.Write([]byte("b"), "b")
	writeTimer := env.timers[0]
	if writeTimer.starts != 1 {
		t.Fatalf("write timer started %d times, want 1", writeTimer.starts)
	}

	writeTimer.fire()
	tr.complete(nil) // stale

	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrTimedOut) {
		t.Fatalf("write errors = %v, want one ErrTimedOut", rec.errs)
	}
	if c.State() != StateClosing {
		t.Errorf("State() = %v, want CLOSING", c.State())
	}
	if len(tr.writes) != 1 {
		t.Errorf("transport saw %d writes, want 1", len(tr.writes))
	}
}

func TestWriteTimerRestartsPerWrite(t *testing.T) {
	c, env, tr, _ := newTestController(t, DefaultOptions())
	for i := 0; i < 3; i++ {
		_ = c.Write([]byte("x"), i)
	}
	for i := 0; i < 3; i++ {
		tr.complete(nil)
	}
	writeTimer := env.timers[0]
	if writeTimer.starts != 3 {
		t.Errorf("write timer started %d times, want 3", writeTimer.starts)
	}
	if writeTimer.active {
		t.Error("write timer still armed while idle")
	}
}

func TestZeroTimeoutDisablesTimers(t *testing.T) {
	c, env, _, _ := newTestController(t, Options{})
	_ = c.Write([]byte("x"), nil)
	if env.timers[0].starts != 0 {
		t.Error("write timer started with zero timeout")
	}
}

func TestPostWriteCoalescesWakes(t *testing.T) {
	c, env, tr, rec := newTestController(t, DefaultOptions())

	for i := 0; i < 5; i++ {
		if err := c.PostWrite([]byte(fmt.Sprint(i)), i); err != nil {
			t.Fatalf("PostWrite(%d) error = %v", i, err)
		}
	}
	if c.Wakes() != 1 || env.wakers[0].wakes != 1 {
		t.Fatalf("wakes = %d, want 1", c.Wakes())
	}

	env.step() // drain: READY -> ASYNC
	if c.State() != StateAsync {
		t.Fatalf("State() = %v, want ASYNC", c.State())
	}
	if len(tr.writes) != 0 {
		t.Fatalf("write started before async start")
	}

	env.step() // async start
	for tr.inflight > 0 {
		tr.complete(nil)
	}
	if len(rec.completed) != 5 {
		t.Fatalf("completed %d writes, want 5", len(rec.completed))
	}
	for i, tag := range rec.completed {
		if tag != i {
			t.Errorf("completion %d has tag %v", i, tag)
		}
	}

	_ = c.PostWrite([]byte("again"), 5)
	if c.Wakes() != 2 {
		t.Errorf("wakes after drain = %d, want 2", c.Wakes())
	}
}

func TestCancelDuringAsync(t *testing.T) {
	c, env, tr, rec := newTestController(t, DefaultOptions())

	_ = c.PostWrite([]byte("staged-1"), 1)
	_ = c.PostWrite([]byte("staged-2"), 2)
	env.step()
	if c.State() != StateAsync {
		t.Fatalf("State() = %v, want ASYNC", c.State())
	}

	// A direct write while staged waits behind the batch.
	if err := c.Write([]byte("direct"), 3); err != nil {
		t.Fatalf("Write() in ASYNC error = %v", err)
	}
	if err := c.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := c.Cancel(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Cancel() error = %v, want ErrInvalidState", err)
	}

	env.step()
	if len(tr.writes) != 1 || string(tr.writes[0]) != "direct" {
		t.Fatalf("transport writes = %q, want only the direct write", tr.writes)
	}
	tr.complete(nil)

	if c.State() != StateReady {
		t.Errorf("State() = %v, want READY", c.State())
	}
	if len(rec.completed) != 1 || rec.completed[0] != 3 {
		t.Errorf("completed = %v, want [3]", rec.completed)
	}
	if got := c.Stats().WritesDropped; got != 2 {
		t.Errorf("WritesDropped = %d, want 2", got)
	}
}

func TestCancelOutsideAsync(t *testing.T) {
	c, _, _, _ := newTestController(t, DefaultOptions())
	if err := c.Cancel(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Cancel() error = %v, want ErrInvalidState", err)
	}
}

func TestPostWriteWhileWriting(t *testing.T) {
	c, env, tr, _ := newTestController(t, DefaultOptions())
	_ = c.Write([]byte("direct"), 0)
	_ = c.PostWrite([]byte("posted"), 1)
	env.run()

	if c.State() != StateWrite || c.QueueLen() != 1 {
		t.Fatalf("State() = %v, QueueLen() = %d, want WRITE with 1 queued", c.State(), c.QueueLen())
	}
	tr.complete(nil)
	if len(tr.writes) != 2 || string(tr.writes[1]) != "posted" {
		t.Errorf("transport writes = %q", tr.writes)
	}
}

func TestPostWriteAfterClose(t *testing.T) {
	c, env, tr, rec := newTestController(t, DefaultOptions())
	_ = c.PostWrite([]byte("late"), 1)
	c.Close()
	env.run()

	if len(tr.writes) != 0 {
		t.Errorf("transport saw %d writes, want 0", len(tr.writes))
	}
	if len(rec.completed) != 0 {
		t.Errorf("dropped post was reported: %v", rec.completed)
	}
	if err := c.PostWrite([]byte("later"), 2); err != nil {
		t.Errorf("PostWrite() after close error = %v, want nil", err)
	}
	env.run()
	if len(tr.writes) != 0 || len(rec.completed) != 0 {
		t.Errorf("post after close reached the transport or the handler")
	}
	if got := c.PostsDropped(); got != 2 {
		t.Errorf("PostsDropped() = %d, want 2", got)
	}
	if got := env.wakers[0].wakes; got != 1 {
		t.Errorf("wakes = %d, want 1", got)
	}
}

func TestPostWriteAfterLoopStopped(t *testing.T) {
	c, env, _, _ := newTestController(t, DefaultOptions())
	env.closed = true
	if err := c.PostWrite([]byte("x"), 1); !errors.Is(err, ErrInvalidState) {
		t.Errorf("PostWrite() error = %v, want ErrInvalidState", err)
	}
}

func TestPostWriteQueueOverflow(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxQueueSize = 2
	c, env, _, rec := newTestController(t, opts)

	for i := 0; i < 4; i++ {
		_ = c.PostWrite([]byte("x"), i)
	}
	env.step()

	if len(rec.completed) != 2 {
		t.Fatalf("rejected %d posts, want 2", len(rec.completed))
	}
	for _, err := range rec.errs {
		if !errors.Is(err, ErrQueueFull) {
			t.Errorf("rejection error = %v, want ErrQueueFull", err)
		}
	}
	if c.QueueLen() != 2 {
		t.Errorf("QueueLen() = %d, want 2", c.QueueLen())
	}
}

func TestShutdownRejectedWhileWritesQueued(t *testing.T) {
	env := &fakeEnv{}
	tr := &fakeTransport{}
	rec := &recorder{}
	var c *Controller
	var shutdownErr error
	c = NewController(1, env, DefaultOptions(), HandlerFuncs{
		WriteComplete: func(tag any, err error) {
			rec.OnWriteComplete(tag, err)
			if tag == "a" {
				shutdownErr = c.Shutdown()
			}
		},
	})
	_ = c.Attach(tr)
	_ = c.Write([]byte("a"), "a")
	_ = c.Write([]byte("b"), "b")

	tr.complete(nil)
	if !errors.Is(shutdownErr, ErrInvalidState) {
		t.Fatalf("Shutdown() with a queued write error = %v, want ErrInvalidState", shutdownErr)
	}
	if tr.shutdowns != 0 {
		t.Errorf("transport shutdowns = %d, want 0", tr.shutdowns)
	}
	if c.State() != StateWrite || len(tr.writes) != 2 || string(tr.writes[1]) != "b" {
		t.Fatalf("State() = %v, writes = %q, want b in flight", c.State(), tr.writes)
	}

	tr.complete(nil)
	if len(rec.completed) != 2 || rec.completed[1] != "b" {
		t.Errorf("completed = %v, want [a b]", rec.completed)
	}
	if err := c.Shutdown(); err != nil {
		t.Errorf("Shutdown() on empty queue error = %v", err)
	}
	if c.Stats().WritesDropped != 0 {
		t.Errorf("WritesDropped = %d, want 0", c.Stats().WritesDropped)
	}
}

func TestDiscardPostedAtDrain(t *testing.T) {
	c, env, tr, rec := newTestController(t, DefaultOptions())
	final := false
	c.DiscardPosted(func(w PendingWrite) bool { return final })

	_ = c.PostWrite([]byte("early"), 1)
	env.run()
	tr.complete(nil)

	_ = c.PostWrite([]byte("late"), 2)
	// The owner sends its last frame before the post is drained.
	_ = c.Write([]byte("final"), 3)
	final = true
	env.run()
	for tr.inflight > 0 {
		tr.complete(nil)
	}

	if len(tr.writes) != 2 || string(tr.writes[0]) != "early" || string(tr.writes[1]) != "final" {
		t.Errorf("transport writes = %q, want [early final]", tr.writes)
	}
	if len(rec.completed) != 2 || rec.completed[1] != 3 {
		t.Errorf("completed = %v, want [1 3]", rec.completed)
	}
	if got := c.PostsDropped(); got != 1 {
		t.Errorf("PostsDropped() = %d, want 1", got)
	}
}
