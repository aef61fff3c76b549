package stream

import "fmt"

// State is the write-path state of a connection.
type State int

const (
	StateNotReady    State = iota // no transport attached yet
	StateReady                    // idle, queue empty
	StateAsync                    // a posted batch is staged, start pending
	StateAsyncCancel              // the staged batch was cancelled
	StateWrite                    // one transport write in flight
	StateShutdown                 // half-close in flight
	StateClosing                  // transport close requested
	StateEnd                      // closed, absorbing
)

func (s State) String() string {
	switch s {
	case StateNotReady:
		return "NOT_READY"
	case StateReady:
		return "READY"
	case StateAsync:
		return "ASYNC"
	case StateAsyncCancel:
		return "ASYNC_CANCEL"
	case StateWrite:
		return "WRITE"
	case StateShutdown:
		return "SHUTDOWN"
	case StateClosing:
		return "CLOSING"
	case StateEnd:
		return "END"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type event int

const (
	evAttach event = iota
	evWrite
	evAsync
	evAsyncStart
	evCancel
	evWriteDone
	evWriteFail
	evShutdown
	evShutdownDone
	evClose
	evClosed
)

func (e event) String() string {
	switch e {
	case evAttach:
		return "attach"
	case evWrite:
		return "write"
	case evAsync:
		return "async"
	case evAsyncStart:
		return "asyncStart"
	case evCancel:
		return "cancel"
	case evWriteDone:
		return "writeDone"
	case evWriteFail:
		return "writeFail"
	case evShutdown:
		return "shutdown"
	case evShutdownDone:
		return "shutdownDone"
	case evClose:
		return "close"
	case evClosed:
		return "closed"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// transition is the whole legal state graph. Any pair not listed here is
// rejected with ErrInvalidState and leaves the state unchanged.
func transition(from State, ev event) (State, error) {
	if from == StateEnd {
		return from, ErrInvalidState
	}

	switch ev {
	case evClose:
		return StateClosing, nil
	case evClosed:
		return StateEnd, nil
	}

	switch from {
	case StateNotReady:
		if ev == evAttach {
			return StateReady, nil
		}
	case StateReady:
		switch ev {
		case evWrite:
			return StateWrite, nil
		case evAsync:
			return StateAsync, nil
		case evShutdown:
			return StateShutdown, nil
		}
	case StateAsync:
		switch ev {
		case evAsyncStart:
			return StateWrite, nil
		case evCancel:
			return StateAsyncCancel, nil
		}
	case StateAsyncCancel:
		if ev == evAsyncStart {
			return StateReady, nil
		}
	case StateWrite:
		switch ev {
		case evWriteDone:
			return StateReady, nil
		case evWriteFail:
			return StateClosing, nil
		}
	case StateShutdown:
		if ev == evShutdownDone {
			return StateClosing, nil
		}
	}
	return from, ErrInvalidState
}
