package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func mustFrame(t *testing.T, op Opcode, payload string, fin bool) []byte {
	t.Helper()
	b, err := EncodeFrame(op, []byte(payload), fin, nil)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	return b
}

func readMessages(t *testing.T, r *MessageReader) ([]*Message, error) {
	t.Helper()
	var msgs []*Message
	for m, err := range r.Messages() {
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func TestReassembleThreeFragments(t *testing.T) {
	frames, err := EncodeMessage(OpcodeText, []byte("hello, fragmented world"), 8, nil)
	if err != nil {
		t.Fatalf("EncodeMessage() error = %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("EncodeMessage() produced %d frames, want 3", len(frames))
	}

	r := NewMessageReader(NewDecoder(DecoderOptions{}), 0)
	for i, f := range frames {
		r.Feed(f)
		msgs, err := readMessages(t, r)
		if err != nil {
			t.Fatalf("frame %d: error = %v", i, err)
		}
		if i < 2 {
			if len(msgs) != 0 || !r.InProgress() {
				t.Fatalf("frame %d: message delivered early", i)
			}
			continue
		}
		if len(msgs) != 1 {
			t.Fatalf("got %d messages, want 1", len(msgs))
		}
		if msgs[0].Opcode != OpcodeText || string(msgs[0].Payload) != "hello, fragmented world" {
			t.Errorf("message = %s %q", msgs[0].Opcode, msgs[0].Payload)
		}
	}
}

func TestEncodeMessageFragmentFlags(t *testing.T) {
	frames, err := EncodeMessage(OpcodeBinary, bytes.Repeat([]byte{1}, 30), 10, nil)
	if err != nil {
		t.Fatalf("EncodeMessage() error = %v", err)
	}
	want := []byte{0x02, 0x00, 0x80}
	for i, f := range frames {
		if f[0] != want[i] {
			t.Errorf("frame %d first byte = 0x%02x, want 0x%02x", i, f[0], want[i])
		}
	}

	if _, err := EncodeMessage(OpcodePing, nil, 0, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("EncodeMessage(ping) error = %v, want ErrInvalidArgument", err)
	}
}

func TestControlFramesInterleaved(t *testing.T) {
	var stream []byte
	stream = append(stream, mustFrame(t, OpcodeBinary, "abc", false)...)
	stream = append(stream, mustFrame(t, OpcodePing, "p1", true)...)
	stream = append(stream, mustFrame(t, OpcodeContinuation, "def", false)...)
	stream = append(stream, mustFrame(t, OpcodePong, "p2", true)...)
	stream = append(stream, mustFrame(t, OpcodeContinuation, "ghi", true)...)

	r := NewMessageReader(NewDecoder(DecoderOptions{}), 0)
	r.Feed(stream)
	msgs, err := readMessages(t, r)
	if err != nil {
		t.Fatalf("error = %v", err)
	}

	want := []struct {
		op      Opcode
		payload string
	}{
		{OpcodePing, "p1"},
		{OpcodePong, "p2"},
		{OpcodeBinary, "abcdefghi"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, w := range want {
		if msgs[i].Opcode != w.op || string(msgs[i].Payload) != w.payload {
			t.Errorf("message %d = %s %q, want %s %q", i, msgs[i].Opcode, msgs[i].Payload, w.op, w.payload)
		}
	}
}

func TestReassemblyErrors(t *testing.T) {
	tests := []struct {
		name    string
		frames  func(t *testing.T) []byte
		maxSize int
		code    StatusCode
	}{
		{
			name: "continuation without start",
			frames: func(t *testing.T) []byte {
				return mustFrame(t, OpcodeContinuation, "x", true)
			},
			code: CloseProtocolError,
		},
		{
			name: "new message mid fragment",
			frames: func(t *testing.T) []byte {
				return append(mustFrame(t, OpcodeText, "a", false), mustFrame(t, OpcodeText, "b", true)...)
			},
			code: CloseProtocolError,
		},
		{
			name: "message too big",
			frames: func(t *testing.T) []byte {
				return append(mustFrame(t, OpcodeBinary, "12345", false), mustFrame(t, OpcodeContinuation, "67890", true)...)
			},
			maxSize: 8,
			code:    CloseMessageTooBig,
		},
		{
			name: "invalid utf8",
			frames: func(t *testing.T) []byte {
				return mustFrame(t, OpcodeText, "\xff\xfe", true)
			},
			code: CloseInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewMessageReader(NewDecoder(DecoderOptions{}), tt.maxSize)
			r.Feed(tt.frames(t))
			_, err := readMessages(t, r)
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("error = %v, want *ProtocolError", err)
			}
			if perr.Code != tt.code {
				t.Errorf("code = %d, want %d", perr.Code, tt.code)
			}
			if CloseCodeFor(err) != tt.code {
				t.Errorf("CloseCodeFor() = %d, want %d", CloseCodeFor(err), tt.code)
			}
		})
	}
}

func TestCloseCodeForOtherErrors(t *testing.T) {
	if got := CloseCodeFor(errors.New("boom")); got != CloseInternalError {
		t.Errorf("CloseCodeFor() = %d, want %d", got, CloseInternalError)
	}
}
