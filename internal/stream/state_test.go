package stream

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	legal := map[State]map[event]State{
		StateNotReady:    {evAttach: StateReady},
		StateReady:       {evWrite: StateWrite, evAsync: StateAsync, evShutdown: StateShutdown},
		StateAsync:       {evAsyncStart: StateWrite, evCancel: StateAsyncCancel},
		StateAsyncCancel: {evAsyncStart: StateReady},
		StateWrite:       {evWriteDone: StateReady, evWriteFail: StateClosing},
		StateShutdown:    {evShutdownDone: StateClosing},
		StateClosing:     {},
	}

	states := []State{StateNotReady, StateReady, StateAsync, StateAsyncCancel, StateWrite, StateShutdown, StateClosing, StateEnd}
	events := []event{evAttach, evWrite, evAsync, evAsyncStart, evCancel, evWriteDone, evWriteFail, evShutdown, evShutdownDone, evClose, evClosed}

	for _, from := range states {
		for _, ev := range events {
			t.Run(from.String()+"/"+ev.String(), func(t *testing.T) {
				got, err := transition(from, ev)

				want, ok := legal[from][ev]
				if from != StateEnd {
					switch ev {
					case evClose:
						want, ok = StateClosing, true
					case evClosed:
						want, ok = StateEnd, true
					}
				}

				if !ok {
					if !errors.Is(err, ErrInvalidState) {
						t.Fatalf("transition() error = %v, want ErrInvalidState", err)
					}
					if got != from {
						t.Errorf("rejected transition changed state to %v", got)
					}
					return
				}
				if err != nil {
					t.Fatalf("transition() error = %v", err)
				}
				if got != want {
					t.Errorf("transition() = %v, want %v", got, want)
				}
			})
		}
	}
}

func TestStateString(t *testing.T) {
	if got := StateAsyncCancel.String(); got != "ASYNC_CANCEL" {
		t.Errorf("String() = %q, want ASYNC_CANCEL", got)
	}
	if got := State(42).String(); got != "State(42)" {
		t.Errorf("String() = %q, want State(42)", got)
	}
}

func TestWriteErrorIs(t *testing.T) {
	cause := errors.New("broken pipe")
	err := TransportError("write", StateWrite, cause)

	if !errors.Is(err, ErrTransport) {
		t.Error("errors.Is(err, ErrTransport) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("underlying error not reachable through Unwrap")
	}
	if errors.Is(err, ErrTimedOut) {
		t.Error("transport failure matched ErrTimedOut")
	}

	var werr *WriteError
	if !errors.As(TransportError("write", StateWrite, ErrTimedOut), &werr) || werr.Type != ErrTypeTimedOut {
		t.Errorf("timeout wrapped as %v, want %v", werr, ErrTypeTimedOut)
	}
}
