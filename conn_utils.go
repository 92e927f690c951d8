package wsengine

import (
	"bufio"
	"context"
	"net"
	"time"
)

// Returns the underlying net conn.
func (conn *Conn) NetConn() net.Conn {
	return conn.raw
}

// mu is a channel based lock that can give up when the connection closes
// or a context ends.
type mu struct {
	conn *Conn
	ch   chan struct{}
}

func newMu(c *Conn) *mu {
	return &mu{conn: c, ch: make(chan struct{}, 1)}
}

func (m *mu) unLock() {
	<-m.ch
}

func (m *mu) lockCtx(ctx context.Context) error {
	select {
	case <-m.conn.done:
		return Fatal(ErrConnClosed)
	default:
	}

	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-m.conn.done:
		return Fatal(ErrConnClosed)
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lockTimeout takes the lock even when the connection is already closing,
// used by the close path itself.
func (m *mu) lockTimeout(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case m.ch <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

// This is from gorilla/websocket
type brNetConn struct {
	br *bufio.Reader
	net.Conn
}

// wrapBuffered keeps bytes the HTTP layer already read past the handshake.
func wrapBuffered(c net.Conn, br *bufio.Reader) net.Conn {
	if br == nil || br.Buffered() == 0 {
		return c
	}
	return &brNetConn{br: br, Conn: c}
}

// If there is still data in the http buffer it reads from it.
// When the http buffer gets empty, it sets it to nil to be collected by the GC,
// then for future reads it reads directly from the net.Conn.
func (b *brNetConn) Read(p []byte) (n int, err error) {
	if b.br != nil {
		// Limit read to buferred data.
		if n := b.br.Buffered(); len(p) > n {
			p = p[:n]
		}
		n, err = b.br.Read(p)
		if b.br.Buffered() == 0 {
			b.br = nil
		}
		return n, err
	}
	return b.Conn.Read(p)
}
