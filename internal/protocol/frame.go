package protocol

import (
	"fmt"
)

// Opcode is the 4-bit frame type.
type Opcode byte

// WebSocket frame opcodes
const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

// IsControl reports whether op is close, ping or pong.
func (op Opcode) IsControl() bool {
	return op == OpcodeClose || op == OpcodePing || op == OpcodePong
}

// IsData reports whether op carries message data, continuation included.
func (op Opcode) IsData() bool {
	return op == OpcodeContinuation || op == OpcodeText || op == OpcodeBinary
}

// IsReserved reports whether op is one of the unassigned values.
func (op Opcode) IsReserved() bool {
	return !op.IsControl() && !op.IsData()
}

// String returns a human-readable opcode name
func (op Opcode) String() string {
	switch op {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(0x%X)", byte(op))
	}
}

// Frame represents a WebSocket frame. Payload is always unmasked.
type Frame struct {
	FIN     bool
	RSV1    bool
	RSV2    bool
	RSV3    bool
	Opcode  Opcode
	Masked  bool
	Length  uint64
	MaskKey [4]byte
	Payload []byte
}

// String returns a debug representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{FIN=%v, Opcode=%s, Masked=%v, Length=%d}",
		f.FIN, f.Opcode, f.Masked, f.Length)
}

// Mask XORs buf in place with key, starting at key position pos, and
// returns the key position for the byte after buf. Applying it twice with
// the same key and position restores the input.
func Mask(buf []byte, key [4]byte, pos int) int {
	pos &= 3
	for i := range buf {
		buf[i] ^= key[pos]
		pos = (pos + 1) & 3
	}
	return pos
}
