package stream

import (
	"time"

	"github.com/muurk/wsgate/internal/eventloop"
)

// Transport is the ordered byte stream a controller writes to. Completions
// must be delivered on the controller's loop, at most once per call.
type Transport interface {
	Write(data []byte, done func(err error))
	Shutdown(done func(err error))
	Close(done func())
}

// Timer is a restartable one-shot timer firing on the loop.
type Timer interface {
	Start(d time.Duration, fn func())
	Stop()
}

// Waker schedules a callback on the loop from any goroutine.
type Waker interface {
	Wake() bool
}

// Env is what a controller needs from the loop that owns it.
type Env interface {
	Post(fn func()) bool
	NewTimer() Timer
	NewWaker(fn func()) Waker
}

type loopEnv struct {
	loop *eventloop.Loop
}

// OnLoop adapts an event loop to Env.
func OnLoop(l *eventloop.Loop) Env {
	return loopEnv{loop: l}
}

func (e loopEnv) Post(fn func()) bool { return e.loop.Post(fn) }
func (e loopEnv) NewTimer() Timer { return e.loop.NewTimer() }
func (e loopEnv) NewWaker(fn func()) Waker { return e.loop.NewWaker(fn) }
