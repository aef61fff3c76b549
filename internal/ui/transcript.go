package ui

import (
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"
)

// Direction of a transcript line.
type Direction int

const (
	Sent Direction = iota
	Received
	Control
)

// Transcript prints one line per message for "wsgate dial". Styling is
// applied only when Styled is set; otherwise lines are plain text suitable
// for pipes.
type Transcript struct {
	W      io.Writer
	Styled bool
}

// NewTranscript writes to w, styled when stdout is a terminal.
func NewTranscript(w io.Writer) *Transcript {
	return &Transcript{W: w, Styled: IsTerminal()}
}

// Line formats a message. Binary payloads are shown as a byte count.
func (t *Transcript) Line(dir Direction, binary bool, payload []byte) string {
	var body string
	switch {
	case binary:
		body = fmt.Sprintf("<%d bytes binary>", len(payload))
	case utf8.Valid(payload):
		body = string(payload)
	default:
		body = strconv.Quote(string(payload))
	}

	if !t.Styled {
		switch dir {
		case Sent:
			return "> " + body
		case Received:
			return "< " + body
		default:
			return "# " + body
		}
	}

	switch dir {
	case Sent:
		return SentPrefixStyle.Render(SentMarker) + " " + body
	case Received:
		return ReceivedPrefixStyle.Render(ReceivedMarker) + " " + body
	default:
		return ControlPrefixStyle.Render(ControlMarker) + " " + MetaStyle.Render(body)
	}
}

// Print writes a formatted line.
func (t *Transcript) Print(dir Direction, binary bool, payload []byte) {
	fmt.Fprintln(t.W, t.Line(dir, binary, payload))
}

// Note writes an informational line.
func (t *Transcript) Note(format string, args ...any) {
	t.Print(Control, false, []byte(fmt.Sprintf(format, args...)))
}
