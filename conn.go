package wsengine

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Conn is a WebSocket connection driving one Engine over a net.Conn.
//
// Concurrency:
//   - Only one goroutine may read (ReadMessage, NextFrame) at a time.
//   - Writes are safe from any number of goroutines.
type Conn struct {
	raw         net.Conn
	engine      *Engine
	opts        *Options
	SubProtocol string
	MetaData    sync.Map

	logger *zap.Logger

	// channel used to signal that the conn is closed.
	// when the conn closes, the channel closes, so any go routine trying to read from it,
	// would receive ok=false, indicating that the channel is closed => conn is closed.
	done        chan struct{}
	isClosed    atomic.Bool
	closing     atomic.Bool
	closeSent   atomic.Bool
	releaseOnce sync.Once
	ticker      *time.Ticker

	// read side, owned by the reading goroutine
	readBuf []byte
	r, w    int
	msg     []byte
	msgOp   Opcode

	// wmu guards the encoder and writeBuf for a single write,
	// msgMu is held by a ConnWriter for a whole message.
	wmu      *mu
	msgMu    *mu
	writeBuf []byte
}

// CloseError is returned by reads once the peer sent a close frame.
type CloseError struct {
	Status    Status
	HasStatus bool
}

func (e *CloseError) Error() string {
	if !e.HasStatus {
		return "websocket: close without status"
	}
	return fmt.Sprintf("websocket: close %d %s", e.Status.Code, e.Status.Reason)
}

func newConn(raw net.Conn, engine *Engine, opts *Options, subProtocol string) *Conn {
	conn := &Conn{
		raw:         raw,
		engine:      engine,
		opts:        opts,
		SubProtocol: subProtocol,
		done:        make(chan struct{}),
		readBuf:     make([]byte, opts.ReadBufferSize),
		writeBuf:    make([]byte, opts.WriteBufferSize),
	}
	conn.wmu = newMu(conn)
	conn.msgMu = newMu(conn)

	conn.logger = opts.Logger.With(
		zap.Stringer("role", engine.Role()),
		zap.String("remote", raw.RemoteAddr().String()),
	)

	if opts.Limiter != nil {
		opts.Limiter.addClient(conn)
	}
	if opts.PingEvery > 0 {
		conn.ticker = time.NewTicker(opts.PingEvery)
		go conn.pingLoop()
	}

	return conn
}

// Engine returns the codec state of the connection.
func (conn *Conn) Engine() *Engine {
	return conn.engine
}

// Extension is the negotiated permessage-deflate configuration.
func (conn *Conn) Extension() Negotiated {
	return conn.engine.Extension()
}

// A loop that runs as long as the connection is alive.
// Ping the peer every "PingEvery" provided from the options.
// If pinging fails the connection closes.
func (conn *Conn) pingLoop() {
	for {
		select {
		case <-conn.done:
			return
		case <-conn.ticker.C:
			if err := conn.Ping(context.Background(), nil); err != nil {
				conn.logger.Warn("ping failed", zap.Error(err))
				conn.CloseWithStatus(Status{Code: ClosePolicyViolation, Reason: "ping failed"})
				return
			}
		}
	}
}

// CloseWithStatus sends a close frame carrying st (best effort) and closes the transport.
func (conn *Conn) CloseWithStatus(st Status) {
	conn.closeWith(&st, true)
}

// Closes the conn normaly.
func (conn *Conn) Close() error {
	conn.CloseWithStatus(Status{Code: CloseNormalClosure})
	return nil
}

// closeWith closes the connection once. When send is set a close frame is
// written first, unless one already went out; st nil means a close frame
// without status. Later calls return right away.
func (conn *Conn) closeWith(st *Status, send bool) {
	if !conn.closing.CompareAndSwap(false, true) {
		return
	}

	if send && !conn.closeSent.Load() {
		if err := conn.writeCloseFrame(st); err != nil {
			conn.logger.Debug("failed to send close frame", zap.Error(err))
		}
	}

	conn.isClosed.Store(true)
	close(conn.done)
	if conn.ticker != nil {
		conn.ticker.Stop()
	}
	if err := conn.raw.Close(); err != nil {
		conn.logger.Debug("failed to close transport", zap.Error(err))
	}
	if conn.opts.Limiter != nil {
		conn.opts.Limiter.removeClient(conn)
	}

	if st != nil {
		conn.logger.Debug("connection closed", zap.Uint16("code", st.Code), zap.String("reason", st.Reason))
	} else {
		conn.logger.Debug("connection closed")
	}

	if conn.opts.OnDisconnect != nil {
		conn.opts.OnDisconnect(conn)
	}
}

// fail closes the connection after an engine error, telling the peer why.
func (conn *Conn) fail(err error) error {
	code := closeCodeFor(err)
	conn.logger.Debug("closing on protocol error", zap.Uint16("code", code), zap.Error(err))
	conn.CloseWithStatus(Status{Code: code, Reason: closeReason(err)})
	return Fatal(err)
}

// drop closes the connection after a transport error, without a close frame.
func (conn *Conn) drop(err error) error {
	if !conn.isClosed.Load() {
		conn.logger.Warn("transport failure", zap.Error(err))
	}
	conn.closeWith(nil, false)
	return Fatal(err)
}

// release frees the compression contexts. It runs on the reading goroutine
// once the connection is closed, waiting for an in-flight write to finish.
func (conn *Conn) release() {
	conn.releaseOnce.Do(func() {
		if !conn.wmu.lockTimeout(conn.opts.WriteWait) {
			return
		}
		defer conn.wmu.unLock()

		if err := conn.engine.Close(); err != nil {
			conn.logger.Debug("failed to release engine", zap.Error(err))
		}
	})
}

// closeReason fits an error message into a close frame.
func closeReason(err error) string {
	reason := err.Error()
	if len(reason) > MaxControlFramePayload-2 {
		reason = reason[:MaxControlFramePayload-2]
	}
	for !utf8.ValidString(reason) {
		reason = reason[:len(reason)-1]
	}
	return reason
}
