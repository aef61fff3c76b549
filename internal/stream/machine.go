package stream

// Stats counts what a machine has done over its lifetime.
type Stats struct {
	Transitions     uint64
	WritesCompleted uint64
	BytesWritten    uint64
	WritesDropped   uint64
	MaxQueueDepth   int
}

// machineHooks are the side effects a machine reports. Every field may be
// nil.
type machineHooks struct {
	transition       func(from, to State)
	writeStarted     func()
	writeFinished    func()
	writeComplete    func(tag any, err error)
	shutdownStarted  func()
	shutdownFinished func()
	shutdownComplete func(err error)
	closing          func(dropped int)
	closed           func(reason error)
}

// WriteStateMachine serialises writes, shutdown and close on one
// transport. It is not safe for concurrent use; every method must run on
// the owning loop.
type WriteStateMachine struct {
	state    State
	queue    *WriteQueue
	tr       Transport
	hooks    machineHooks
	stats    Stats
	inflight PendingWrite

	// writeSeq identifies the in-flight write so late completions for a
	// write that already timed out are ignored.
	writeSeq uint64
	// staged is the number of queue entries that belong to the pending
	// async batch.
	staged int

	closeRequested bool
	reason         error
}

func newWriteStateMachine(maxQueue int, hooks machineHooks) *WriteStateMachine {
	return &WriteStateMachine{
		state: StateNotReady,
		queue: NewWriteQueue(maxQueue),
		hooks: hooks,
	}
}

// State returns the current state.
func (m *WriteStateMachine) State() State { return m.state }

// Stats returns a snapshot of the counters.
func (m *WriteStateMachine) Stats() Stats { return m.stats }

// QueueLen returns the number of buffers waiting for the transport.
func (m *WriteStateMachine) QueueLen() int { return m.queue.Len() }

func (m *WriteStateMachine) apply(ev event) error {
	next, err := transition(m.state, ev)
	if err != nil {
		return err
	}
	if next != m.state {
		prev := m.state
		m.state = next
		m.stats.Transitions++
		if m.hooks.transition != nil {
			m.hooks.transition(prev, next)
		}
	}
	return nil
}

// Attach binds the transport and moves NOT_READY to READY.
func (m *WriteStateMachine) Attach(tr Transport) error {
	if tr == nil {
		return invalidState("attach", m.state)
	}
	if err := m.apply(evAttach); err != nil {
		return invalidState("attach", m.state)
	}
	m.tr = tr
	return nil
}

// Write queues data. From READY the transport write starts immediately;
// from WRITE, ASYNC or ASYNC_CANCEL the buffer waits behind pending work.
func (m *WriteStateMachine) Write(data []byte, tag any) error {
	switch m.state {
	case StateReady, StateWrite, StateAsync, StateAsyncCancel:
	default:
		return invalidState("write", m.state)
	}

	if err := m.push(PendingWrite{Data: data, Tag: tag}); err != nil {
		return queueFull("write", m.state)
	}
	if m.state == StateReady {
		m.issueWrite(evWrite)
	}
	return nil
}

func (m *WriteStateMachine) push(w PendingWrite) error {
	if err := m.queue.Push(w); err != nil {
		return err
	}
	if n := m.queue.Len(); n > m.stats.MaxQueueDepth {
		m.stats.MaxQueueDepth = n
	}
	return nil
}

// issueWrite hands the queue head to the transport. It is the only place a
// transport write is started.
func (m *WriteStateMachine) issueWrite(ev event) bool {
	if m.queue.Len() == 0 {
		return false
	}
	if err := m.apply(ev); err != nil {
		return false
	}

	w, _ := m.queue.Pop()
	m.inflight = w
	m.writeSeq++
	seq := m.writeSeq

	if m.hooks.writeStarted != nil {
		m.hooks.writeStarted()
	}
	m.tr.Write(w.Data, func(err error) {
		if seq != m.writeSeq {
			return
		}
		m.OnWriteComplete(err)
	})
	return true
}

// OnWriteComplete finishes the in-flight write. A completion that arrives
// outside WRITE is stale and ignored.
func (m *WriteStateMachine) OnWriteComplete(err error) {
	if m.state != StateWrite {
		return
	}
	w := m.inflight
	m.inflight = PendingWrite{}
	m.writeSeq++

	if m.hooks.writeFinished != nil {
		m.hooks.writeFinished()
	}

	if err != nil {
		werr := TransportError("write", StateWrite, err)
		_ = m.apply(evWriteFail)
		m.reason = werr
		m.notifyWrite(w.Tag, werr)
		m.closeTransport(werr)
		return
	}

	m.stats.WritesCompleted++
	m.stats.BytesWritten += uint64(len(w.Data))
	_ = m.apply(evWriteDone)
	m.notifyWrite(w.Tag, nil)

	// The owner may have started another write or a shutdown from the
	// callback.
	if m.state == StateReady {
		m.issueWrite(evWrite)
	}
}

func (m *WriteStateMachine) notifyWrite(tag any, err error) {
	if m.hooks.writeComplete != nil {
		m.hooks.writeComplete(tag, err)
	}
}

// Shutdown half-closes the transport. Legal only from READY with nothing
// queued.
func (m *WriteStateMachine) Shutdown() error {
	if m.queue.Len() > 0 {
		return invalidState("shutdown", m.state)
	}
	if err := m.apply(evShutdown); err != nil {
		return invalidState("shutdown", m.state)
	}
	if m.hooks.shutdownStarted != nil {
		m.hooks.shutdownStarted()
	}
	m.tr.Shutdown(m.OnShutdownComplete)
	return nil
}

// OnShutdownComplete moves SHUTDOWN to CLOSING and requests the close.
func (m *WriteStateMachine) OnShutdownComplete(err error) {
	if m.state != StateShutdown {
		return
	}
	if m.hooks.shutdownFinished != nil {
		m.hooks.shutdownFinished()
	}
	_ = m.apply(evShutdownDone)

	var serr error
	if err != nil {
		serr = TransportError("shutdown", StateShutdown, err)
		m.reason = serr
	}
	if m.hooks.shutdownComplete != nil {
		m.hooks.shutdownComplete(serr)
	}
	m.closeTransport(serr)
}

// stageAsync moves a posted batch into the queue and enters ASYNC. It
// returns how many entries were accepted; the rest did not fit.
func (m *WriteStateMachine) stageAsync(batch []PendingWrite) (int, error) {
	if m.state != StateReady {
		return 0, invalidState("async", m.state)
	}
	accepted := 0
	for _, w := range batch {
		if err := m.push(w); err != nil {
			break
		}
		accepted++
	}
	if accepted == 0 {
		return 0, queueFull("async", m.state)
	}
	_ = m.apply(evAsync)
	m.staged = accepted
	return accepted, nil
}

// startAsync runs one loop turn after stageAsync.
func (m *WriteStateMachine) startAsync() {
	switch m.state {
	case StateAsync:
		m.staged = 0
		m.issueWrite(evAsyncStart)
	case StateAsyncCancel:
		m.stats.WritesDropped += uint64(m.queue.DropFront(m.staged))
		m.staged = 0
		_ = m.apply(evAsyncStart)
		m.issueWrite(evWrite)
	}
}

// Cancel abandons a staged batch before any of it reaches the transport.
// Legal only from ASYNC.
func (m *WriteStateMachine) Cancel() error {
	if err := m.apply(evCancel); err != nil {
		return invalidState("cancel", m.state)
	}
	return nil
}

// Close drops everything queued and closes the transport. It is a no-op in
// END and while a close is already under way.
func (m *WriteStateMachine) Close(reason error) {
	if m.state == StateEnd || m.closeRequested {
		return
	}
	_ = m.apply(evClose)
	m.closeTransport(reason)
}

func (m *WriteStateMachine) closeTransport(reason error) {
	if m.closeRequested {
		return
	}
	m.closeRequested = true
	if m.reason == nil {
		m.reason = reason
	}
	m.writeSeq++

	dropped := m.queue.Clear()
	m.stats.WritesDropped += uint64(dropped)
	m.staged = 0
	if m.hooks.closing != nil {
		m.hooks.closing(dropped)
	}

	if m.tr == nil {
		m.finish()
		return
	}
	m.tr.Close(m.finish)
}

func (m *WriteStateMachine) finish() {
	if m.state == StateEnd {
		return
	}
	_ = m.apply(evClosed)
	if m.hooks.closed != nil {
		m.hooks.closed(m.reason)
	}
}
