package wsengine

import (
	"context"
	"time"
	"unicode/utf8"
)

// ConnWriter streams one data message; every Write becomes one or more frames.
// Control frames from other goroutines may still go out between them.
// Close must be called to finish the message and release the writer.
type ConnWriter struct {
	conn    *Conn
	ctx     context.Context
	opcode  Opcode
	started bool
	closed  bool
}

// NextWriter locks the message stream and returns a new writer for the given message type.
// Must call Close() on the returned writer to release the lock.
func (conn *Conn) NextWriter(ctx context.Context, msgType Opcode) (*ConnWriter, error) {
	if conn.isClosed.Load() {
		return nil, Fatal(ErrConnClosed)
	}
	if !msgType.IsData() {
		return nil, ErrInvalidOPCODE
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := conn.msgMu.lockCtx(ctx); err != nil {
		return nil, err
	}

	return &ConnWriter{conn: conn, ctx: ctx, opcode: msgType}, nil
}

// Write sends p as the next part of the message.
func (w *ConnWriter) Write(p []byte) (n int, err error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	if err := w.write(p, false); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close finishes the message and releases the writer lock.
func (w *ConnWriter) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	defer w.conn.msgMu.unLock()
	w.closed = true
	return w.write(nil, true)
}

func (w *ConnWriter) write(p []byte, fin bool) error {
	op := w.opcode
	if w.started {
		op = OpcodeContinuation
	}

	err := w.conn.encode(w.ctx, func(enc *Encoder) error {
		return enc.Write(op, p, fin)
	})
	if err != nil {
		return err
	}

	w.started = true
	return nil
}

// WriteMessage sends data as a single message of type msgType.
// The message is split into several frames when it does not fit the write buffer.
//
// The returned error must be checked. If it's of type wsengine.FatalError,
// that indicates the connection was closed due to an I/O or protocol error.
// Any other error means the connection is still open, and you may retry or continue using it.
func (conn *Conn) WriteMessage(ctx context.Context, msgType Opcode, data []byte) error {
	w, err := conn.NextWriter(ctx, msgType)
	if err != nil {
		return err
	}
	defer conn.msgMu.unLock()
	w.closed = true

	return w.write(data, true)
}

// WriteText sends str as a text message. str must be valid UTF-8.
func (conn *Conn) WriteText(ctx context.Context, str string) error {
	if !utf8.ValidString(str) {
		return ErrInvalidUTF8
	}
	return conn.WriteMessage(ctx, OpcodeText, []byte(str))
}

// WriteBinary sends b as a binary message.
func (conn *Conn) WriteBinary(ctx context.Context, b []byte) error {
	return conn.WriteMessage(ctx, OpcodeBinary, b)
}

// Ping sends a ping frame carrying data (at most 125 bytes).
// Pings from the peer are answered automatically.
func (conn *Conn) Ping(ctx context.Context, data []byte) error {
	return conn.encode(ctx, func(enc *Encoder) error {
		return enc.Write(OpcodePing, data, true)
	})
}

// WriteClose sends a close frame without closing the connection,
// the peer is expected to echo it.
func (conn *Conn) WriteClose(ctx context.Context, st Status) error {
	err := conn.encode(ctx, func(enc *Encoder) error {
		return enc.WriteClose(st)
	})
	if err == nil {
		conn.closeSent.Store(true)
	}
	return err
}

func (conn *Conn) pong(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), conn.opts.WriteWait)
	defer cancel()

	return conn.encode(ctx, func(enc *Encoder) error {
		return enc.Write(OpcodePong, data, true)
	})
}

func (conn *Conn) writeCloseFrame(st *Status) error {
	ctx, cancel := context.WithTimeout(context.Background(), conn.opts.WriteWait)
	defer cancel()

	err := conn.encode(ctx, func(enc *Encoder) error {
		if st == nil {
			return enc.Write(OpcodeClose, nil, true)
		}
		return enc.WriteClose(*st)
	})
	if err == nil {
		conn.closeSent.Store(true)
	}
	return err
}

// encode queues one write on the encoder under the write lock and flushes
// every frame it produces to the transport.
// Engine errors close the connection; errors queueing the write do not.
func (conn *Conn) encode(ctx context.Context, queue func(enc *Encoder) error) error {
	if err := conn.wmu.lockCtx(ctx); err != nil {
		return err
	}
	defer conn.wmu.unLock()

	enc := conn.engine.Encoder()
	if err := queue(enc); err != nil {
		return err
	}

	if err := conn.raw.SetWriteDeadline(time.Now().Add(conn.opts.WriteWait)); err != nil {
		return conn.drop(err)
	}

	for {
		n, done, err := enc.Encode(conn.writeBuf)
		if err != nil {
			// the write lock is held, so the close frame cannot go out
			conn.closeWith(nil, false)
			return Fatal(err)
		}

		if _, err := conn.raw.Write(conn.writeBuf[:n]); err != nil {
			return conn.drop(err)
		}
		if done {
			return nil
		}
	}
}
