package wsengine

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultHandshakeTimeout = time.Second * 10

// Dialer opens client connections. Options.SubProtocols are offered to the
// server in order and Options.Settings decide the permessage-deflate offer.
type Dialer struct {
	*Options
	// Extra request headers, e.g. Origin or cookies.
	Header http.Header
	// If not set it will default to 10 seconds.
	HandshakeTimeout time.Duration
	// Used for wss:// URLs.
	TLSConfig *tls.Config
	NetDialer net.Dialer
}

// Created a new dialer with the given options.
// If options is nil, then it will assign a new options with default values.
func NewDialer(opts *Options) *Dialer {
	if opts == nil {
		opts = &Options{}
	}
	opts.WithDefault()

	return &Dialer{Options: opts, HandshakeTimeout: defaultHandshakeTimeout}
}

// Dial connects to a ws:// or wss:// URL and performs the opening handshake.
// The server response is returned even when the handshake fails, when there is one.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (*Conn, *http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, err
	}

	var secure bool
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
		secure = true
	default:
		return nil, nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := d.dial(ctx, u, secure)
	if err != nil {
		return nil, nil, err
	}

	conn, resp, err := d.handshake(ctx, c, u)
	if err != nil {
		_ = c.Close()
		return nil, resp, err
	}
	return conn, resp, nil
}

func (d *Dialer) dial(ctx context.Context, u *url.URL, secure bool) (net.Conn, error) {
	addr := u.Host
	if u.Port() == "" {
		if secure {
			addr = net.JoinHostPort(u.Hostname(), "443")
		} else {
			addr = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	if !secure {
		return d.NetDialer.DialContext(ctx, "tcp", addr)
	}

	cfg := d.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg = cfg.Clone()
		cfg.ServerName = u.Hostname()
	}
	td := tls.Dialer{NetDialer: &d.NetDialer, Config: cfg}
	return td.DialContext(ctx, "tcp", addr)
}

func (d *Dialer) handshake(ctx context.Context, c net.Conn, u *url.URL) (*Conn, *http.Response, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.SetDeadline(deadline); err != nil {
			return nil, nil, err
		}
	}

	key, err := newSecKey()
	if err != nil {
		return nil, nil, err
	}

	req := &http.Request{
		Method:     http.MethodGet,
		URL:        u,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Host:       u.Host,
	}
	for k, v := range d.Header {
		req.Header[k] = v
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", key)
	if len(d.SubProtocols) > 0 {
		req.Header.Set("Sec-WebSocket-Protocol", strings.Join(d.SubProtocols, ", "))
	}
	if offer := ClientOffer(d.Settings); offer != "" {
		req.Header.Set("Sec-WebSocket-Extensions", offer)
	}

	if err := req.Write(c); err != nil {
		return nil, nil, err
	}

	br := bufio.NewReaderSize(c, d.ReadBufferSize)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, resp, fmt.Errorf("%w: %s", ErrBadHandshakeStatus, resp.Status)
	}
	if err := validateUpgradeHeader(resp.Header); err != nil {
		return nil, resp, err
	}
	if err := validateConnectionHeader(resp.Header); err != nil {
		return nil, resp, err
	}
	if resp.Header.Get("Sec-WebSocket-Accept") != computeAcceptKey(key) {
		return nil, resp, ErrInvalidSecAccept
	}

	subProtocol := resp.Header.Get("Sec-WebSocket-Protocol")
	if subProtocol != "" && !slices.Contains(d.SubProtocols, subProtocol) {
		return nil, resp, ErrUnsupportedSubProtocols
	}

	extensions := strings.Join(resp.Header.Values("Sec-WebSocket-Extensions"), ", ")
	engine, err := NewClientEngine(d.Settings, extensions, d.Logger)
	if err != nil {
		return nil, resp, err
	}

	if err := c.SetDeadline(time.Time{}); err != nil {
		_ = engine.Close()
		return nil, resp, err
	}

	conn := newConn(wrapBuffered(c, br), engine, d.Options, subProtocol)
	conn.logger.Debug("connection established",
		zap.String("url", u.String()),
		zap.String("subprotocol", subProtocol),
		zap.String("extensions", extensions),
	)

	if d.OnConnect != nil {
		d.OnConnect(conn)
	}

	return conn, resp, nil
}

func newSecKey() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

