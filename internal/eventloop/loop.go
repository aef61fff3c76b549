package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/muurk/wsgate/internal/logging"
)

// ErrAlreadyRunning is returned when Run is called twice on the same Loop.
var ErrAlreadyRunning = errors.New("event loop already running")

// Loop is a single-goroutine task executor.
type Loop struct {
	mu      sync.Mutex
	tasks   *queue.Queue
	stopped bool

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}

	running  atomic.Bool
	stopOnce sync.Once
	executed atomic.Uint64
}

// New creates a Loop. Call Run to start processing tasks.
func New() *Loop {
	return &Loop{
		tasks:  queue.New(),
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Post schedules fn to run on the loop. It returns false once the loop has
// been stopped; fn is then never run.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.tasks.Add(fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return true
}

// Run processes tasks until ctx is cancelled or Stop is called. Tasks that
// were posted before the loop stopped are still run before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(l.done)

	for {
		l.drain()

		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case <-l.stop:
			l.shutdown()
			return nil
		case <-l.notify:
		}
	}
}

// Stop asks Run to return. It does not wait; use Done for that.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Closed reports whether the loop has stopped accepting tasks.
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// Executed returns the number of tasks run so far.
func (l *Loop) Executed() uint64 {
	return l.executed.Load()
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.drain()
}

// drain runs tasks until the queue is empty. Tasks posted by a running task
// are picked up in the same drain.
func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if l.tasks.Length() == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.tasks.Remove().(func())
		l.mu.Unlock()

		l.run(fn)
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Event loop task panicked",
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	l.executed.Add(1)
	fn()
}
