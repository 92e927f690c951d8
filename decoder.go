package wsengine

import (
	"io"
	"slices"
)

const inflateChunk = 4096

type decodeStep uint8

const (
	stepHeader decodeStep = iota
	stepPayload
)

// Decoder turns inbound bytes into frames. It keeps all partial progress
// between calls, so input may be split at any byte. A Decoder must not be
// used from more than one goroutine at a time.
type Decoder struct {
	hd headerDecoder

	maxFrameSize   int
	maxMessageSize int

	// nil unless permessage-deflate was negotiated
	inflater *inflater
	// reset the inflate window after every compressed message
	noTakeover bool

	step   decodeStep
	pos    int
	buf    []byte
	status StatusDecoder

	inMessage     bool
	msgCompressed bool
	msgSize       int

	frame Frame
	err   error
}

type decoderConfig struct {
	expectMasked   bool
	maxFrameSize   int
	maxMessageSize int
	compression    bool
	noTakeover     bool
}

func newDecoder(cfg decoderConfig) *Decoder {
	d := &Decoder{
		maxFrameSize:   cfg.maxFrameSize,
		maxMessageSize: cfg.maxMessageSize,
		noTakeover:     cfg.noTakeover,
	}
	d.hd.expectMasked = cfg.expectMasked
	d.hd.allowRSV1 = cfg.compression
	if cfg.compression {
		d.inflater = newInflater(!cfg.noTakeover)
	}
	return d
}

// Decode consumes a prefix of src and returns the number of bytes consumed.
//
// A nil frame with a nil error means src was used up and more input is needed.
// A non-nil frame is complete; its Payload is valid until the next call and may
// alias src, which is unmasked in place. Bytes after n belong to the next frame.
//
// Frames of a compressed message are returned as they arrive with an empty
// Payload; the frame carrying FIN holds the whole inflated message.
//
// Any error is terminal and is returned again by every later call.
func (d *Decoder) Decode(src []byte) (n int, f *Frame, err error) {
	if d.err != nil {
		return 0, nil, d.err
	}

	n, f, err = d.decode(src)
	if err != nil {
		d.err = err
	}
	return n, f, err
}

func (d *Decoder) decode(src []byte) (int, *Frame, error) {
	var n int

	if d.step == stepHeader {
		c, ok, err := d.hd.feed(src)
		n += c
		if err != nil {
			return n, nil, err
		}
		if !ok {
			return n, nil, nil
		}
		if err := d.begin(); err != nil {
			return n, nil, err
		}

		h := &d.hd.h
		rest := src[n:]
		if !d.inflating() && len(rest) >= h.Length {
			p := rest[:h.Length]
			if h.Masked {
				maskBytes(h.Key, 0, p)
			}
			n += h.Length

			if h.Opcode == OpcodeClose {
				st, has, err := DecodeStatus(p)
				if err != nil {
					return n, nil, err
				}
				return n, d.emitClose(st, has), nil
			}
			return n, d.emit(p), nil
		}

		d.step = stepPayload
		d.pos = 0
		d.buf = d.buf[:0]
		d.status.Reset()
	}

	h := &d.hd.h
	c := min(h.Length-d.pos, len(src)-n)
	chunk := src[n : n+c]
	if h.Masked {
		maskBytes(h.Key, d.pos, chunk)
	}
	d.pos += c
	n += c

	switch {
	case h.Opcode == OpcodeClose:
		_, _ = d.status.Write(chunk)
	case d.inflating():
		d.inflater.feed(chunk)
	default:
		d.buf = append(d.buf, chunk...)
	}

	if d.pos < h.Length {
		return n, nil, nil
	}

	f, err := d.finishFrame()
	return n, f, err
}

// begin checks a freshly decoded header against the limits and the message sequence.
func (d *Decoder) begin() error {
	h := &d.hd.h

	if d.maxFrameSize > 0 && h.Length > d.maxFrameSize {
		return decodeErr(ErrFrameTooLarge, CloseMessageTooBig)
	}

	if h.Opcode.IsControl() {
		if h.RSV1 {
			return protocolErr(ErrUnnegotiatedRsvBits)
		}
		return nil
	}

	if h.Opcode == OpcodeContinuation {
		if !d.inMessage {
			return protocolErr(ErrUnexpectedContinuation)
		}
		// only the first frame of a message may carry RSV1
		if h.RSV1 {
			return protocolErr(ErrUnnegotiatedRsvBits)
		}
	} else {
		if d.inMessage {
			return protocolErr(ErrExpectedContinuation)
		}
		d.inMessage = true
		d.msgCompressed = h.RSV1
		d.msgSize = 0
	}

	if d.maxMessageSize > 0 && h.Length > d.maxMessageSize-d.msgSize {
		return decodeErr(ErrMessageTooLarge, CloseMessageTooBig)
	}
	d.msgSize += h.Length

	return nil
}

// inflating reports whether the current frame's payload goes through the inflater.
func (d *Decoder) inflating() bool {
	return d.msgCompressed && !d.hd.h.Opcode.IsControl()
}

func (d *Decoder) finishFrame() (*Frame, error) {
	h := &d.hd.h

	switch {
	case h.Opcode == OpcodeClose:
		st, has, err := d.status.Finish()
		if err != nil {
			return nil, err
		}
		return d.emitClose(st, has), nil

	case !d.inflating():
		return d.emit(d.buf), nil

	case !h.FIN:
		return d.emit(nil), nil
	}

	p, err := d.inflate()
	if err != nil {
		return nil, err
	}
	return d.emit(p), nil
}

// inflate pulls the whole message out of the inflater once its last frame is in.
func (d *Decoder) inflate() ([]byte, error) {
	if err := d.inflater.finish(); err != nil {
		return nil, err
	}

	d.buf = d.buf[:0]
	for {
		d.buf = slices.Grow(d.buf, inflateChunk)
		n, err := d.inflater.pull(d.buf[len(d.buf):cap(d.buf)])
		d.buf = d.buf[:len(d.buf)+n]

		if d.maxMessageSize > 0 && len(d.buf) > d.maxMessageSize {
			return nil, decodeErr(ErrMessageTooLarge, CloseMessageTooBig)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if d.noTakeover {
		d.inflater.reset()
	}

	return d.buf, nil
}

func (d *Decoder) emit(payload []byte) *Frame {
	h := &d.hd.h

	d.frame = Frame{
		Opcode:     h.Opcode,
		FIN:        h.FIN,
		Compressed: d.inflating(),
		Payload:    payload,
	}

	if !h.Opcode.IsControl() && h.FIN {
		d.inMessage = false
		d.msgCompressed = false
		d.msgSize = 0
	}

	d.next()
	return &d.frame
}

func (d *Decoder) emitClose(st Status, hasStatus bool) *Frame {
	d.frame = Frame{
		Opcode:    OpcodeClose,
		FIN:       true,
		Status:    st,
		HasStatus: hasStatus,
	}
	d.next()
	return &d.frame
}

func (d *Decoder) next() {
	d.hd.reset()
	d.step = stepHeader
	d.pos = 0
}

// InMessage reports whether a fragmented data message is waiting for more frames.
func (d *Decoder) InMessage() bool {
	return d.inMessage
}

// Finish reports whether the stream ended cleanly. It returns ErrTruncated
// when the input stopped inside a frame or inside a fragmented message.
func (d *Decoder) Finish() error {
	if d.err != nil {
		return d.err
	}
	if d.step == stepPayload || d.hd.inProgress() || d.inMessage {
		d.err = protocolErr(ErrTruncated)
		return d.err
	}
	return nil
}

func (d *Decoder) close() error {
	if d.inflater == nil {
		return nil
	}
	return d.inflater.close()
}
