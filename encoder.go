package wsengine

import "errors"

// Encoder turns application writes into frames, one frame per Encode call,
// into output regions supplied by the caller. It never holds more than the
// current write (and its compressed form), so backpressure stays with the caller.
// An Encoder must not be used from more than one goroutine at a time.
type Encoder struct {
	masked bool
	newKey func() [4]byte

	// nil unless outbound compression is on
	deflater *deflater
	// reset the deflate window after every compressed message
	noTakeover bool

	// queued write
	queued  bool
	op      Opcode
	payload []byte
	fin     bool
	status  *StatusEncoder
	ctrlLen int
	flushed bool

	// data message state, spans writes until one with fin
	inMessage     bool
	started       bool
	msgOp         Opcode
	msgCompressed bool

	err error
}

type encoderConfig struct {
	masked     bool
	level      int
	windowBits int
	noTakeover bool
}

func newEncoder(cfg encoderConfig) (*Encoder, error) {
	e := &Encoder{
		masked:     cfg.masked,
		newKey:     NewMaskKey,
		noTakeover: cfg.noTakeover,
	}

	if cfg.level > 0 {
		d, err := newDeflater(cfg.level, cfg.windowBits)
		if err != nil {
			return nil, err
		}
		e.deflater = d
	}

	return e, nil
}

// Write queues one application write. Text and Binary open a message,
// Continuation extends the open one, and fin closes it. Control opcodes may be
// written between the writes of a fragmented message but are never fragmented.
//
// The payload is not copied and must stay untouched until Encode reports done.
func (e *Encoder) Write(op Opcode, payload []byte, fin bool) error {
	if e.err != nil {
		return e.err
	}
	if e.queued {
		return encodeErr(ErrWriteInProgress)
	}

	switch {
	case op.IsControl():
		if !fin {
			return encodeErr(ErrFragmentedControl)
		}
		if len(payload) > MaxControlFramePayload {
			return encodeErr(ErrControlTooLong)
		}
		e.ctrlLen = len(payload)
	case op == OpcodeContinuation:
		if !e.inMessage {
			return encodeErr(ErrNoMessageInFlight)
		}
	case op.IsData():
		if e.inMessage {
			return encodeErr(ErrMessageInFlight)
		}
		e.inMessage = true
		e.started = false
		e.msgOp = op
		e.msgCompressed = e.deflater != nil
	default:
		return encodeErr(ErrInvalidOPCODE)
	}

	e.queued = true
	e.op = op
	e.payload = payload
	e.fin = fin
	e.status = nil
	e.flushed = false

	return nil
}

// WriteClose queues a close frame carrying s.
func (e *Encoder) WriteClose(s Status) error {
	if e.err != nil {
		return e.err
	}
	if e.queued {
		return encodeErr(ErrWriteInProgress)
	}
	if s.Len() > MaxControlFramePayload {
		return encodeErr(ErrControlTooLong)
	}

	e.queued = true
	e.op = OpcodeClose
	e.payload = nil
	e.fin = true
	e.status = NewStatusEncoder(s)
	e.ctrlLen = s.Len()

	return nil
}

// Encode writes the next frame of the queued write into dst and returns its size.
// done reports that the queued write has been fully encoded; until then Encode
// must be called again with a fresh region.
//
// ErrShortBuffer means dst cannot hold a frame that makes progress.
// ErrEncoderDone means nothing is queued.
func (e *Encoder) Encode(dst []byte) (n int, done bool, err error) {
	if e.err != nil {
		return 0, false, e.err
	}
	if !e.queued {
		return 0, false, encodeErr(ErrEncoderDone)
	}

	switch {
	case e.op.IsControl():
		return e.encodeControl(dst)
	case e.msgCompressed:
		n, done, err = e.encodeCompressed(dst)
		if err != nil && !errors.Is(err, ErrShortBuffer) {
			e.err = err
		}
		return n, done, err
	default:
		return e.encodeData(dst)
	}
}

// Pending is the number of payload bytes of the queued write not yet handed out,
// counting compressed bytes still buffered.
func (e *Encoder) Pending() int {
	if !e.queued {
		return 0
	}
	n := len(e.payload)
	if e.msgCompressed {
		n += e.deflater.pending()
	}
	return n
}

// InMessage reports whether a data message is open, waiting for a write with fin.
func (e *Encoder) InMessage() bool {
	return e.inMessage
}

func (e *Encoder) encodeControl(dst []byte) (int, bool, error) {
	size := HeaderLen(e.ctrlLen, e.masked) + e.ctrlLen
	if len(dst) < size {
		return 0, false, encodeErr(ErrShortBuffer)
	}

	h := Header{FIN: true, Opcode: e.op, Masked: e.masked, Length: e.ctrlLen}
	if e.masked {
		h.Key = e.newKey()
	}
	hl := PutHeader(dst, h)

	body := dst[hl:size]
	if e.status != nil {
		e.status.Encode(body)
	} else {
		copy(body, e.payload)
	}
	if e.masked {
		maskBytes(h.Key, 0, body)
	}

	e.queued = false
	e.payload = nil
	e.status = nil
	return size, true, nil
}

func (e *Encoder) encodeData(dst []byte) (int, bool, error) {
	reserve := HeaderLen(len(dst), e.masked)
	room := len(dst) - reserve
	if room < 0 || (room == 0 && len(e.payload) > 0) {
		return 0, false, encodeErr(ErrShortBuffer)
	}

	k := copy(dst[reserve:], e.payload)
	e.payload = e.payload[k:]

	last := len(e.payload) == 0
	n := e.putFrame(dst, reserve, k, e.fin && last, false)
	if last {
		e.writeDone()
	}
	return n, last, nil
}

func (e *Encoder) encodeCompressed(dst []byte) (int, bool, error) {
	reserve := HeaderLen(len(dst), e.masked)
	room := len(dst) - reserve
	if room <= 0 {
		return 0, false, encodeErr(ErrShortBuffer)
	}

	// feed until the region can be filled or the write is used up
	for e.deflater.pending() < room && len(e.payload) > 0 {
		c := min(len(e.payload), room)
		if err := e.deflater.feed(e.payload[:c]); err != nil {
			return 0, false, err
		}
		e.payload = e.payload[c:]
	}
	if len(e.payload) == 0 && !e.flushed {
		if err := e.deflater.flush(e.fin); err != nil {
			return 0, false, err
		}
		e.flushed = true
	}

	k := e.deflater.pull(dst[reserve : reserve+room])

	last := e.flushed && e.deflater.pending() == 0
	n := e.putFrame(dst, reserve, k, e.fin && last, !e.started)
	if last {
		if e.fin && e.noTakeover {
			e.deflater.reset()
		}
		e.writeDone()
	}
	return n, last, nil
}

// putFrame finishes a frame whose k payload bytes were written at dst[reserve:].
// The header is only known now, so the payload is shifted down to sit right
// behind the minimal header before the header is written and the payload masked.
func (e *Encoder) putFrame(dst []byte, reserve, k int, fin, rsv1 bool) int {
	h := Header{
		FIN:    fin,
		RSV1:   rsv1,
		Opcode: OpcodeContinuation,
		Masked: e.masked,
		Length: k,
	}
	if !e.started {
		h.Opcode = e.msgOp
	}
	if e.masked {
		h.Key = e.newKey()
	}

	actual := HeaderLen(k, e.masked)
	if actual < reserve {
		copy(dst[actual:], dst[reserve:reserve+k])
	}
	PutHeader(dst, h)
	if e.masked {
		maskBytes(h.Key, 0, dst[actual:actual+k])
	}

	e.started = true
	return actual + k
}

func (e *Encoder) writeDone() {
	e.queued = false
	e.payload = nil
	e.flushed = false
	if e.fin {
		e.inMessage = false
		e.started = false
		e.msgCompressed = false
	}
}

func (e *Encoder) close() error {
	if e.deflater == nil {
		return nil
	}
	return e.deflater.close()
}
