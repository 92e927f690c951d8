package wsengine

import (
	"slices"
)

/*
  0                   1                   2                   3
  0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
 +-+-+-+-+-------+-+-------------+-------------------------------+
 |F|R|R|R| opcode|M| Payload len |    Extended payload length    |
 |I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
 |N|V|V|V|       |S|             |   (if payload len==126/127)   |
 | |1|2|3|       |K|             |                               |
 +-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
 |     Extended payload length continued, if payload len == 127  |
 + - - - - - - - - - - - - - - - +-------------------------------+
 |                               |Masking-key, if MASK set to 1  |
 +-------------------------------+-------------------------------+
 | Masking-key (continued)       |          Payload Data         |
 +-------------------------------- - - - - - - - - - - - - - - - +
*/

type Opcode uint8

const (
	OpcodeContinuation Opcode = 0x0 // Continuation frame
	OpcodeText         Opcode = 0x1 // Text frame (UTF-8)
	OpcodeBinary       Opcode = 0x2 // Binary frame
	OpcodeClose        Opcode = 0x8 // Connection close
	OpcodePing         Opcode = 0x9 // Ping
	OpcodePong         Opcode = 0xA // Pong
)

var validOpcodes = []Opcode{OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong}

// IsControl reports whether op is a control opcode (0x8 and above).
// Control frames are never fragmented and carry at most 125 payload bytes.
func (op Opcode) IsControl() bool {
	return op >= OpcodeClose
}

func (op Opcode) IsData() bool {
	return op == OpcodeText || op == OpcodeBinary
}

func (op Opcode) Valid() bool {
	return slices.Contains(validOpcodes, op)
}

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
		return "reserved"
	}
}

const (
	MaxControlFramePayload = 125
	// first byte + 64-bit extended length + masking key
	MaxHeaderLen = 2 + 8 + 4
)

// PayloadKind tags how a frame's payload is to be read.
type PayloadKind uint8

const (
	// PayloadData: Payload holds (decompressed) application data of a text,
	// binary or continuation frame.
	PayloadData PayloadKind = iota
	// PayloadClose: Status holds the decoded close status (if HasStatus).
	PayloadClose
	// PayloadControl: Payload holds ping/pong application data.
	PayloadControl
)

// Frame is one decoded or to-be-encoded WebSocket frame.
//
// Which fields carry the payload depends on Kind(): data and ping/pong frames use
// Payload, close frames use Status/HasStatus.
type Frame struct {
	Opcode Opcode
	FIN    bool
	// Compressed marks data frames of a permessage-deflate message. On the wire
	// only the first frame of such a message carries RSV1.
	Compressed bool

	Payload []byte

	Status    Status
	HasStatus bool
}

func (f *Frame) Kind() PayloadKind {
	switch {
	case f.Opcode == OpcodeClose:
		return PayloadClose
	case f.Opcode.IsControl():
		return PayloadControl
	default:
		return PayloadData
	}
}

func (f *Frame) IsControl() bool {
	return f.Opcode.IsControl()
}

// IsValidControl reports whether a control frame respects RFC 6455 5.5.
func (f *Frame) IsValidControl() bool {
	return f.FIN && f.IsControl() && len(f.Payload) <= MaxControlFramePayload
}

// StartsMessage reports whether f opens a (possibly fragmented) data message.
func (f *Frame) StartsMessage() bool {
	return f.Opcode.IsData()
}

// NewCloseFrame builds a close frame carrying status.
func NewCloseFrame(status Status) Frame {
	return Frame{Opcode: OpcodeClose, FIN: true, Status: status, HasStatus: true}
}

// AppendFrame appends the wire form of an uncompressed frame to b.
// If masked, key is used as the masking key.
// Close frames take their payload from Status when HasStatus is set.
func AppendFrame(b []byte, f *Frame, masked bool, key [4]byte) []byte {
	payload := f.Payload
	if f.Opcode == OpcodeClose && f.HasStatus {
		payload = f.Status.AppendTo(nil)
	}

	h := Header{
		FIN:    f.FIN,
		RSV1:   f.Compressed,
		Opcode: f.Opcode,
		Masked: masked,
		Key:    key,
		Length: len(payload),
	}

	start := len(b)
	b = slices.Grow(b, HeaderLen(len(payload), masked)+len(payload))
	b = b[:start+HeaderLen(len(payload), masked)]
	PutHeader(b[start:], h)

	body := len(b)
	b = append(b, payload...)
	if masked {
		maskBytes(key, 0, b[body:])
	}

	return b
}
