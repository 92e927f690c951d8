package wsengine

import (
	"errors"
	"io"
	"slices"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// NextFrame returns the next frame from the peer, control frames included.
// It does not answer pings or closes; ReadMessage does.
// The frame is only valid until the next read.
// All errors returned are of type wsengine.FatalError, the connection got closed.
func (conn *Conn) NextFrame() (*Frame, error) {
	if conn.isClosed.Load() {
		conn.release()
		return nil, Fatal(ErrConnClosed)
	}

	dec := conn.engine.Decoder()
	for {
		if conn.r < conn.w {
			n, f, err := dec.Decode(conn.readBuf[conn.r:conn.w])
			conn.r += n
			if err != nil {
				err = conn.fail(err)
				conn.release()
				return nil, err
			}
			if f != nil {
				return f, nil
			}
		}

		if err := conn.fill(); err != nil {
			conn.release()
			return nil, err
		}
	}
}

// fill reads the next chunk from the transport. The decoder has consumed
// everything before it, so the whole buffer is reused.
func (conn *Conn) fill() error {
	conn.r, conn.w = 0, 0

	if err := conn.raw.SetReadDeadline(time.Now().Add(conn.opts.ReadWait)); err != nil {
		return conn.drop(err)
	}

	n, err := conn.raw.Read(conn.readBuf)
	conn.w = n
	if n > 0 {
		return nil
	}

	if errors.Is(err, io.EOF) {
		// a clean end of stream between frames is still an abnormal closure
		if ferr := conn.engine.Decoder().Finish(); ferr != nil {
			return conn.drop(ferr)
		}
		return conn.drop(ErrConnClosed)
	}
	if err != nil {
		return conn.drop(err)
	}

	return nil
}

// ReadMessage reads the next complete WebSocket message into memory.
// It returns the message type (Text or Binary) and the full payload.
//
// Pings are answered with pongs and a close from the peer is echoed; the
// latter ends in a FatalError wrapping a *CloseError.
// ErrRateLimited is the only error after which the connection stays open.
func (conn *Conn) ReadMessage() (msgType Opcode, data []byte, err error) {
	for {
		f, err := conn.NextFrame()
		if err != nil {
			return 0, nil, err
		}

		switch f.Opcode {
		case OpcodeClose:
			return 0, nil, conn.handleClose(f)

		case OpcodePing:
			if err := conn.pong(f.Payload); err != nil {
				return 0, nil, Fatal(err)
			}
			continue

		case OpcodePong:
			continue
		}

		if f.StartsMessage() {
			conn.msgOp = f.Opcode
			conn.msg = conn.msg[:0]
		}
		conn.msg = append(conn.msg, f.Payload...)
		if !f.FIN {
			continue
		}

		if conn.msgOp == OpcodeText && !conn.opts.SkipUTF8Validation && !utf8.Valid(conn.msg) {
			err := conn.fail(decodeErr(ErrInvalidUTF8, CloseInvalidFramePayloadData))
			conn.release()
			return 0, nil, err
		}

		if conn.opts.Limiter != nil && !conn.opts.Limiter.allow(conn) {
			if err := conn.opts.Limiter.hit(conn); err != nil {
				return 0, nil, Fatal(err)
			}
			conn.logger.Debug("message dropped by rate limiter")
			return 0, nil, ErrRateLimited
		}

		return conn.msgOp, slices.Clone(conn.msg), nil
	}
}

// handleClose echoes the peer's close frame and closes the connection.
func (conn *Conn) handleClose(f *Frame) error {
	if f.HasStatus {
		conn.closeWith(&f.Status, true)
	} else {
		conn.closeWith(nil, true)
	}
	conn.release()

	conn.logger.Debug("peer closed the connection", zap.Bool("has_status", f.HasStatus), zap.Uint16("code", f.Status.Code))
	return Fatal(&CloseError{Status: f.Status, HasStatus: f.HasStatus})
}

// ReadBinary returns the payload of the next message, which must be binary.
//
// If the received message is not of type binary, it returns wsengine.ErrMessageTypeMismatch
// without closing the connection.
// The returned error must be checked. If it's of type wsengine.FatalError,
// that indicates the connection was closed due to an I/O or protocol error.
// Any other error means the connection is still open, and you may retry or continue using it.
func (conn *Conn) ReadBinary() (data []byte, err error) {
	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	} else if msgType != OpcodeBinary {
		return nil, ErrMessageTypeMismatch
	}

	return payload, nil
}

// ReadText returns the payload of the next message, which must be text.
//
// If the received message is not of type text, it returns wsengine.ErrMessageTypeMismatch
// without closing the connection.
// The returned error must be checked. If it's of type wsengine.FatalError,
// that indicates the connection was closed due to an I/O or protocol error.
// Any other error means the connection is still open, and you may retry or continue using it.
func (conn *Conn) ReadText() (string, error) {
	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		return "", err
	} else if msgType != OpcodeText {
		return "", ErrMessageTypeMismatch
	}

	return string(payload), nil
}
