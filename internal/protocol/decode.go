package protocol

import (
	"encoding/binary"
	"iter"
)

// DefaultMaxFrameSize caps a single frame's payload when no limit is set.
const DefaultMaxFrameSize = 16 << 20

// DecoderOptions configures frame validation.
type DecoderOptions struct {
	// MaxFrameSize is the largest accepted payload; 0 selects
	// DefaultMaxFrameSize.
	MaxFrameSize uint64
	// RequireMasked rejects unmasked frames (server side).
	RequireMasked bool
	// RejectMasked rejects masked frames (client side).
	RejectMasked bool
}

// Decoder turns a byte stream into frames. It never blocks: input is
// buffered until a whole frame is available. After the first error every
// call returns that error.
type Decoder struct {
	opts DecoderOptions
	buf  []byte
	off  int
	err  error
}

// NewDecoder creates a decoder.
func NewDecoder(opts DecoderOptions) *Decoder {
	if opts.MaxFrameSize == 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	return &Decoder{opts: opts}
}

// Feed appends input. p is copied.
func (d *Decoder) Feed(p []byte) {
	if d.off > 0 {
		d.buf = d.buf[:copy(d.buf, d.buf[d.off:])]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Next returns the next complete frame, or nil, nil if more input is
// needed.
func (d *Decoder) Next() (*Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	f, n, err := d.parse(d.buf[d.off:])
	if err != nil {
		d.err = err
		return nil, err
	}
	if f == nil {
		return nil, nil
	}
	d.off += n
	return f, nil
}

// Frames yields every frame decodable from the input fed so far. It stops
// after the first error.
func (d *Decoder) Frames() iter.Seq2[*Frame, error] {
	return func(yield func(*Frame, error) bool) {
		for {
			f, err := d.Next()
			if err != nil {
				yield(nil, err)
				return
			}
			if f == nil || !yield(f, nil) {
				return
			}
		}
	}
}

func (d *Decoder) parse(data []byte) (*Frame, int, error) {
	if len(data) < 2 {
		return nil, 0, nil
	}

	b0, b1 := data[0], data[1]
	f := &Frame{
		FIN:    b0&0x80 != 0,
		RSV1:   b0&0x40 != 0,
		RSV2:   b0&0x20 != 0,
		RSV3:   b0&0x10 != 0,
		Opcode: Opcode(b0 & 0x0F),
		Masked: b1&0x80 != 0,
	}

	if f.RSV1 || f.RSV2 || f.RSV3 {
		return nil, 0, protocolError(CloseProtocolError, "reserved bits set without a negotiated extension")
	}
	if f.Opcode.IsReserved() {
		return nil, 0, protocolError(CloseProtocolError, "reserved opcode 0x%X", byte(f.Opcode))
	}

	n := 2
	switch l7 := b1 & 0x7F; l7 {
	case 126:
		if len(data) < n+2 {
			return nil, 0, nil
		}
		f.Length = uint64(binary.BigEndian.Uint16(data[n:]))
		n += 2
	case 127:
		if len(data) < n+8 {
			return nil, 0, nil
		}
		f.Length = binary.BigEndian.Uint64(data[n:])
		if f.Length&(1<<63) != 0 {
			return nil, 0, protocolError(CloseProtocolError, "payload length has the most significant bit set")
		}
		n += 8
	default:
		f.Length = uint64(l7)
	}

	if f.Opcode.IsControl() {
		if !f.FIN {
			return nil, 0, protocolError(CloseProtocolError, "fragmented %s frame", f.Opcode)
		}
		if f.Length > MaxControlPayload {
			return nil, 0, protocolError(CloseProtocolError, "%s payload of %d bytes", f.Opcode, f.Length)
		}
	}
	if f.Masked && d.opts.RejectMasked {
		return nil, 0, protocolError(CloseProtocolError, "masked frame from server")
	}
	if !f.Masked && d.opts.RequireMasked {
		return nil, 0, protocolError(CloseProtocolError, "unmasked frame from client")
	}
	if f.Length > d.opts.MaxFrameSize {
		return nil, 0, protocolError(CloseMessageTooBig, "frame payload of %d bytes exceeds %d", f.Length, d.opts.MaxFrameSize)
	}

	if f.Masked {
		if len(data) < n+4 {
			return nil, 0, nil
		}
		copy(f.MaskKey[:], data[n:n+4])
		n += 4
	}

	if uint64(len(data)-n) < f.Length {
		return nil, 0, nil
	}
	end := n + int(f.Length)
	f.Payload = make([]byte, f.Length)
	copy(f.Payload, data[n:end])
	if f.Masked {
		Mask(f.Payload, f.MaskKey, 0)
	}
	return f, end, nil
}
