package stream

import "time"

// fakeEnv runs posted tasks only when the test says so.
type fakeEnv struct {
	tasks  []func()
	timers []*fakeTimer
	wakers []*fakeWaker
	closed bool
}

func (e *fakeEnv) Post(fn func()) bool {
	if e.closed {
		return false
	}
	e.tasks = append(e.tasks, fn)
	return true
}

func (e *fakeEnv) NewTimer() Timer {
	t := &fakeTimer{}
	e.timers = append(e.timers, t)
	return t
}

func (e *fakeEnv) NewWaker(fn func()) Waker {
	w := &fakeWaker{env: e, fn: fn}
	e.wakers = append(e.wakers, w)
	return w
}

// run drains tasks, including ones posted while draining.
func (e *fakeEnv) run() {
	for len(e.tasks) > 0 {
		fn := e.tasks[0]
		e.tasks = e.tasks[1:]
		fn()
	}
}

// step runs only the tasks queued right now.
func (e *fakeEnv) step() {
	tasks := e.tasks
	e.tasks = nil
	for _, fn := range tasks {
		fn()
	}
}

type fakeTimer struct {
	d      time.Duration
	fn     func()
	active bool
	starts int
}

func (t *fakeTimer) Start(d time.Duration, fn func()) {
	t.d, t.fn, t.active = d, fn, true
	t.starts++
}

func (t *fakeTimer) Stop() { t.active = false }

func (t *fakeTimer) fire() {
	if !t.active {
		return
	}
	t.active = false
	t.fn()
}

type fakeWaker struct {
	env   *fakeEnv
	fn    func()
	wakes int
}

func (w *fakeWaker) Wake() bool {
	w.wakes++
	return w.env.Post(w.fn)
}

// fakeTransport records calls; completions are triggered by the test.
type fakeTransport struct {
	writes       [][]byte
	writeDone    []func(error)
	shutdowns    int
	shutdownDone func(error)
	closes       int
	closeDone    func()

	// inflight tracks concurrent writes to check the one-at-a-time rule.
	inflight    int
	maxInflight int
}

func (f *fakeTransport) Write(data []byte, done func(error)) {
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.writes = append(f.writes, data)
	f.writeDone = append(f.writeDone, done)
}

func (f *fakeTransport) Shutdown(done func(error)) {
	f.shutdowns++
	f.shutdownDone = done
}

func (f *fakeTransport) Close(done func()) {
	f.closes++
	f.closeDone = done
}

// complete finishes the oldest outstanding write.
func (f *fakeTransport) complete(err error) {
	done := f.writeDone[len(f.writes)-f.inflight]
	f.inflight--
	done(err)
}

func (f *fakeTransport) finishClose() {
	if f.closeDone != nil {
		done := f.closeDone
		f.closeDone = nil
		done()
	}
}

// recorder is a Handler that remembers every callback.
type recorder struct {
	completed []any
	errs      []error
	shutdowns []error
	closes    []error
}

func (r *recorder) OnWriteComplete(tag any, err error) {
	r.completed = append(r.completed, tag)
	r.errs = append(r.errs, err)
}

func (r *recorder) OnShutdownComplete(err error) { r.shutdowns = append(r.shutdowns, err) }
func (r *recorder) OnClose(err error) { r.closes = append(r.closes, err) }

func newTestController(t interface{ Helper() }, opts Options) (*Controller, *fakeEnv, *fakeTransport, *recorder) {
	t.Helper()
	env := &fakeEnv{}
	tr := &fakeTransport{}
	rec := &recorder{}
	c := NewController(1, env, opts, rec)
	if err := c.Attach(tr); err != nil {
		panic(err)
	}
	return c, env, tr, rec
}
