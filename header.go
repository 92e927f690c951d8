package wsengine

import (
	"encoding/binary"
	"math"
)

const (
	finBit  = 0b10000000
	rsv1Bit = 0b01000000
	rsv2Bit = 0b00100000
	rsv3Bit = 0b00010000
	maskBit = 0b10000000

	len16 = 126
	len64 = 127
)

// Header is the fixed part of a frame that precedes its payload.
type Header struct {
	FIN    bool
	RSV1   bool
	RSV2   bool
	RSV3   bool
	Opcode Opcode
	Masked bool
	Key    [4]byte
	Length int
}

// HeaderLen returns the size of the minimal header for a payload of length bytes.
func HeaderLen(length int, masked bool) int {
	n := 2
	switch {
	case length < len16:
	case length <= math.MaxUint16:
		n += 2
	default:
		n += 8
	}
	if masked {
		n += 4
	}
	return n
}

// PutHeader writes h into dst using the minimal length encoding and
// returns the number of bytes written. dst must hold HeaderLen(h.Length, h.Masked) bytes.
func PutHeader(dst []byte, h Header) int {
	b0 := byte(h.Opcode) & 0x0F
	if h.FIN {
		b0 |= finBit
	}
	if h.RSV1 {
		b0 |= rsv1Bit
	}
	if h.RSV2 {
		b0 |= rsv2Bit
	}
	if h.RSV3 {
		b0 |= rsv3Bit
	}
	dst[0] = b0

	var b1 byte
	if h.Masked {
		b1 = maskBit
	}

	n := 2
	switch {
	case h.Length < len16:
		dst[1] = b1 | byte(h.Length)
	case h.Length <= math.MaxUint16:
		dst[1] = b1 | len16
		binary.BigEndian.PutUint16(dst[2:], uint16(h.Length))
		n += 2
	default:
		dst[1] = b1 | len64
		binary.BigEndian.PutUint64(dst[2:], uint64(h.Length))
		n += 8
	}

	if h.Masked {
		n += copy(dst[n:], h.Key[:])
	}

	return n
}

type headerStep uint8

const (
	awaitByte0 headerStep = iota
	awaitLenIndicator
	awaitExtLen
	awaitMaskKey
)

// headerDecoder parses a frame header from arbitrarily split input.
// All partial progress lives in the struct, so feed can be called again
// with the next chunk at any byte boundary.
type headerDecoder struct {
	// role policy: server side expects masked frames, client side unmasked ones
	expectMasked bool
	// RSV1 is only legal once permessage-deflate has been negotiated
	allowRSV1 bool

	step   headerStep
	h      Header
	ext    [8]byte
	extLen int
	got    int
}

func (hd *headerDecoder) reset() {
	hd.step = awaitByte0
	hd.h = Header{}
	hd.extLen = 0
	hd.got = 0
}

// inProgress reports whether part of a header has been consumed.
func (hd *headerDecoder) inProgress() bool {
	return hd.step != awaitByte0
}

// feed consumes header bytes from src. ok reports that the header is complete;
// on ok the header is available in hd.h and the remaining src bytes belong to the payload.
func (hd *headerDecoder) feed(src []byte) (n int, ok bool, err error) {
	for n < len(src) {
		switch hd.step {
		case awaitByte0:
			b := src[n]
			n++
			hd.h.FIN = b&finBit != 0
			hd.h.RSV1 = b&rsv1Bit != 0
			hd.h.RSV2 = b&rsv2Bit != 0
			hd.h.RSV3 = b&rsv3Bit != 0
			hd.h.Opcode = Opcode(b & 0x0F)

			if !hd.h.Opcode.Valid() {
				return n, false, protocolErr(ErrInvalidOPCODE)
			}
			if hd.h.RSV2 || hd.h.RSV3 || (hd.h.RSV1 && !hd.allowRSV1) {
				return n, false, protocolErr(ErrUnnegotiatedRsvBits)
			}
			if hd.h.Opcode.IsControl() && !hd.h.FIN {
				return n, false, protocolErr(ErrInvalidControlFrame)
			}
			hd.step = awaitLenIndicator

		case awaitLenIndicator:
			b := src[n]
			n++
			hd.h.Masked = b&maskBit != 0
			if hd.expectMasked && !hd.h.Masked {
				return n, false, protocolErr(ErrExpectedMaskedFrame)
			}
			if !hd.expectMasked && hd.h.Masked {
				return n, false, protocolErr(ErrUnexpectedMaskedFrame)
			}

			indicator := int(b &^ maskBit)
			switch indicator {
			case len16:
				hd.extLen = 2
			case len64:
				hd.extLen = 8
			default:
				hd.h.Length = indicator
			}
			if hd.h.Opcode.IsControl() && indicator > MaxControlFramePayload {
				return n, false, protocolErr(ErrInvalidControlFrame)
			}

			hd.got = 0
			switch {
			case hd.extLen > 0:
				hd.step = awaitExtLen
			case hd.h.Masked:
				hd.step = awaitMaskKey
			default:
				return n, true, nil
			}

		case awaitExtLen:
			c := copy(hd.ext[hd.got:hd.extLen], src[n:])
			n += c
			hd.got += c
			if hd.got < hd.extLen {
				return n, false, nil
			}

			if err := hd.parseExtLen(); err != nil {
				return n, false, err
			}

			hd.got = 0
			if !hd.h.Masked {
				return n, true, nil
			}
			hd.step = awaitMaskKey

		case awaitMaskKey:
			c := copy(hd.h.Key[hd.got:], src[n:])
			n += c
			hd.got += c
			if hd.got < len(hd.h.Key) {
				return n, false, nil
			}
			return n, true, nil
		}
	}

	return n, false, nil
}

// parseExtLen validates the 16/64-bit extended length, rejecting
// lengths that would have fit in a shorter encoding.
func (hd *headerDecoder) parseExtLen() error {
	if hd.extLen == 2 {
		l := binary.BigEndian.Uint16(hd.ext[:2])
		if l < len16 {
			return protocolErr(ErrNonMinimalLength)
		}
		hd.h.Length = int(l)
		return nil
	}

	l := binary.BigEndian.Uint64(hd.ext[:8])
	if l>>63 != 0 {
		return protocolErr(ErrLengthOverflow)
	}
	if l <= math.MaxUint16 {
		return protocolErr(ErrNonMinimalLength)
	}
	if l > math.MaxInt {
		return decodeErr(ErrFrameTooLarge, CloseMessageTooBig)
	}
	hd.h.Length = int(l)
	return nil
}
