package protocol

import (
	"iter"
	"unicode/utf8"
)

// DefaultMaxMessageSize caps a reassembled message when no limit is set.
const DefaultMaxMessageSize = 32 << 20

// Message is a complete data message or a single control frame.
type Message struct {
	Opcode  Opcode
	Payload []byte
}

// MessageReader reassembles fragmented messages. Control frames are
// returned as soon as they are decoded, even in the middle of a fragmented
// message.
type MessageReader struct {
	// OnFrame, if set, sees every decoded frame before reassembly.
	OnFrame func(f *Frame)

	dec     *Decoder
	maxSize int

	inProgress bool
	op         Opcode
	buf        []byte
	err        error
}

// NewMessageReader reads from dec. A non-positive maxSize selects
// DefaultMaxMessageSize.
func NewMessageReader(dec *Decoder, maxSize int) *MessageReader {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &MessageReader{dec: dec, maxSize: maxSize}
}

// Feed passes input to the underlying decoder.
func (r *MessageReader) Feed(p []byte) {
	r.dec.Feed(p)
}

// InProgress reports whether a fragmented message is being assembled.
func (r *MessageReader) InProgress() bool {
	return r.inProgress
}

// Next returns the next message, or nil, nil if more input is needed.
func (r *MessageReader) Next() (*Message, error) {
	if r.err != nil {
		return nil, r.err
	}
	for {
		f, err := r.dec.Next()
		if err != nil {
			return nil, r.fail(err)
		}
		if f == nil {
			return nil, nil
		}
		if r.OnFrame != nil {
			r.OnFrame(f)
		}

		if f.Opcode.IsControl() {
			return &Message{Opcode: f.Opcode, Payload: f.Payload}, nil
		}

		if f.Opcode == OpcodeContinuation {
			if !r.inProgress {
				return nil, r.fail(protocolError(CloseProtocolError, "continuation frame without a message in progress"))
			}
		} else {
			if r.inProgress {
				return nil, r.fail(protocolError(CloseProtocolError, "%s frame while a fragmented message is in progress", f.Opcode))
			}
			r.inProgress = true
			r.op = f.Opcode
			r.buf = r.buf[:0]
		}

		if len(r.buf)+len(f.Payload) > r.maxSize {
			return nil, r.fail(protocolError(CloseMessageTooBig, "message exceeds %d bytes", r.maxSize))
		}
		r.buf = append(r.buf, f.Payload...)

		if !f.FIN {
			continue
		}

		msg := &Message{Opcode: r.op, Payload: make([]byte, len(r.buf))}
		copy(msg.Payload, r.buf)
		r.inProgress = false
		r.buf = r.buf[:0]

		if msg.Opcode == OpcodeText && !utf8.Valid(msg.Payload) {
			return nil, r.fail(protocolError(CloseInvalidPayload, "text message is not valid UTF-8"))
		}
		return msg, nil
	}
}

// Messages yields every message available from the input fed so far.
func (r *MessageReader) Messages() iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		for {
			m, err := r.Next()
			if err != nil {
				yield(nil, err)
				return
			}
			if m == nil || !yield(m, nil) {
				return
			}
		}
	}
}

func (r *MessageReader) fail(err error) error {
	r.err = err
	return err
}
