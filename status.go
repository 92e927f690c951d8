package wsengine

import (
	"encoding/binary"
	"slices"
	"unicode/utf8"
)

// Close codes defined in RFC 6455, section 11.7.
const (
	CloseNormalClosure           uint16 = 1000
	CloseGoingAway               uint16 = 1001
	CloseProtocolError           uint16 = 1002
	CloseUnsupportedData         uint16 = 1003
	CloseNoStatusReceived        uint16 = 1005
	CloseAbnormalClosure         uint16 = 1006
	CloseInvalidFramePayloadData uint16 = 1007
	ClosePolicyViolation         uint16 = 1008
	CloseMessageTooBig           uint16 = 1009
	CloseMandatoryExtension      uint16 = 1010
	CloseInternalServerErr       uint16 = 1011
	CloseServiceRestart          uint16 = 1012
	CloseTryAgainLater           uint16 = 1013
	CloseBadGateway              uint16 = 1014
)

var allowedCodes = []uint16{1000, 1001, 1002, 1003, 1007, 1008, 1009, 1010, 1011, 1012, 1013, 1014}

// IsValidCloseCode reports whether code may appear on the wire.
// 1005 and 1006 are reserved for local use; 3000-4999 are registered/private codes.
func IsValidCloseCode(code uint16) bool {
	return slices.Contains(allowedCodes, code) || (code >= 3000 && code <= 4999)
}

// Status is the payload of a close frame.
type Status struct {
	Code   uint16
	Reason string
}

// Len is the encoded size of s in bytes.
func (s Status) Len() int {
	return 2 + len(s.Reason)
}

// AppendTo appends the wire form of s to b.
func (s Status) AppendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, s.Code)
	return append(b, s.Reason...)
}

// StatusEncoder writes a Status into successive output regions.
type StatusEncoder struct {
	status Status
	off    int
}

func NewStatusEncoder(s Status) *StatusEncoder {
	return &StatusEncoder{status: s}
}

// Encode writes as much of the status as fits in dst.
// done reports that the whole status has been written.
func (e *StatusEncoder) Encode(dst []byte) (n int, done bool) {
	var code [2]byte
	binary.BigEndian.PutUint16(code[:], e.status.Code)

	for n < len(dst) && e.off < e.status.Len() {
		if e.off < 2 {
			dst[n] = code[e.off]
			n++
			e.off++
			continue
		}
		c := copy(dst[n:], e.status.Reason[e.off-2:])
		n += c
		e.off += c
	}

	return n, e.off == e.status.Len()
}

// StatusDecoder accumulates a close payload delivered in chunks.
type StatusDecoder struct {
	code   [2]byte
	got    int
	reason []byte
}

// Write feeds the next chunk of close payload. It never fails.
func (d *StatusDecoder) Write(p []byte) (int, error) {
	n := len(p)
	for d.got < 2 && len(p) > 0 {
		d.code[d.got] = p[0]
		d.got++
		p = p[1:]
	}
	d.reason = append(d.reason, p...)
	return n, nil
}

// Finish validates what was written. hasStatus is false for an empty close payload.
func (d *StatusDecoder) Finish() (status Status, hasStatus bool, err error) {
	switch d.got {
	case 0:
		return Status{}, false, nil
	case 1:
		return Status{}, false, protocolErr(ErrInvalidClosePayload)
	}

	status.Code = binary.BigEndian.Uint16(d.code[:])
	if !IsValidCloseCode(status.Code) {
		return Status{}, false, protocolErr(ErrInvalidCloseCode)
	}
	if !utf8.Valid(d.reason) {
		return Status{}, false, decodeErr(ErrInvalidUTF8, CloseInvalidFramePayloadData)
	}
	status.Reason = string(d.reason)

	return status, true, nil
}

func (d *StatusDecoder) Reset() {
	d.got = 0
	d.reason = d.reason[:0]
}

// DecodeStatus decodes a complete close payload.
func DecodeStatus(p []byte) (Status, bool, error) {
	var d StatusDecoder
	_, _ = d.Write(p)
	return d.Finish()
}
