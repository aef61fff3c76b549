package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// MaxControlPayload is the largest payload a control frame may carry.
	MaxControlPayload = 125

	// MaxHeaderSize is the largest possible frame header: 2 bytes, a 64-bit
	// length and a masking key.
	MaxHeaderSize = 14
)

// HeaderSize returns the header length for a payload of n bytes.
func HeaderSize(n int, masked bool) int {
	size := 2
	switch {
	case n > 0xFFFF:
		size += 8
	case n > 125:
		size += 2
	}
	if masked {
		size += 4
	}
	return size
}

// EncodeFrame serialises a single frame. When mask is non-nil the payload
// is masked with it; payload itself is not modified.
func EncodeFrame(op Opcode, payload []byte, fin bool, mask *[4]byte) ([]byte, error) {
	return AppendFrame(nil, op, payload, fin, mask)
}

// AppendFrame is EncodeFrame appending to dst.
func AppendFrame(dst []byte, op Opcode, payload []byte, fin bool, mask *[4]byte) ([]byte, error) {
	if op.IsReserved() {
		return dst, fmt.Errorf("%w: reserved opcode 0x%X", ErrInvalidArgument, byte(op))
	}
	if op.IsControl() {
		if !fin {
			return dst, fmt.Errorf("%w: fragmented %s frame", ErrInvalidArgument, op)
		}
		if len(payload) > MaxControlPayload {
			return dst, fmt.Errorf("%w: %s payload of %d bytes", ErrInvalidArgument, op, len(payload))
		}
	}

	n := len(payload)
	start := len(dst)
	dst = grow(dst, HeaderSize(n, mask != nil)+n)
	buf := dst[start:]

	b0 := byte(op)
	if fin {
		b0 |= 0x80
	}
	buf[0] = b0

	var b1 byte
	if mask != nil {
		b1 = 0x80
	}
	pos := 2
	switch {
	case n > 0xFFFF:
		buf[1] = b1 | 127
		binary.BigEndian.PutUint64(buf[2:], uint64(n))
		pos += 8
	case n > 125:
		buf[1] = b1 | 126
		binary.BigEndian.PutUint16(buf[2:], uint16(n))
		pos += 2
	default:
		buf[1] = b1 | byte(n)
	}

	if mask != nil {
		copy(buf[pos:], mask[:])
		pos += 4
	}
	copy(buf[pos:], payload)
	if mask != nil {
		Mask(buf[pos:pos+n], *mask, 0)
	}
	return dst, nil
}

func grow(b []byte, n int) []byte {
	if cap(b)-len(b) >= n {
		return b[:len(b)+n]
	}
	nb := make([]byte, len(b)+n)
	copy(nb, b)
	return nb
}

// EncodeMessage splits a text or binary message into frames of at most
// fragmentSize payload bytes. A non-positive fragmentSize produces a single
// frame. maskFn, if set, supplies a fresh key for every frame.
func EncodeMessage(op Opcode, payload []byte, fragmentSize int, maskFn func() *[4]byte) ([][]byte, error) {
	if op != OpcodeText && op != OpcodeBinary {
		return nil, fmt.Errorf("%w: %s is not a message opcode", ErrInvalidArgument, op)
	}
	if fragmentSize <= 0 || len(payload) <= fragmentSize {
		frame, err := EncodeFrame(op, payload, true, nextMask(maskFn))
		if err != nil {
			return nil, err
		}
		return [][]byte{frame}, nil
	}

	frames := make([][]byte, 0, (len(payload)+fragmentSize-1)/fragmentSize)
	frameOp := op
	for off := 0; off < len(payload); off += fragmentSize {
		end := min(off+fragmentSize, len(payload))
		frame, err := EncodeFrame(frameOp, payload[off:end], end == len(payload), nextMask(maskFn))
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
		frameOp = OpcodeContinuation
	}
	return frames, nil
}

func nextMask(fn func() *[4]byte) *[4]byte {
	if fn == nil {
		return nil
	}
	return fn()
}
