package wsengine

import (
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"
)

const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Used to upgrader HTTP connections to Websocket connections.
// Hold wsengine.Options. If you wanna learn more about the options go see their docs.
type Upgrader struct {
	*Options
}

// Created a new upgrader with the given options.
// If options is nil, then it will assign a new options with default values.
func NewUpgrader(opts *Options) *Upgrader {
	if opts == nil {
		opts = &Options{}
	}
	opts.WithDefault()

	return &Upgrader{Options: opts}
}

// Upgrades an HTTP connection to a Websocket connection.
// Receives (w http.ResponseWriter, r *http.Request) and returns a pointer to a wsengine.Conn and an err.
// It checks method, headers, and selects an appopiate sub-protocol, negotiates permessage-deflate,
// runs the middlewares and the onConnect hook if they exist, and finnaly it responds to the
// client (both if the upgrade succeeds or fails).
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	// validate method and headers
	if r.Method != http.MethodGet {
		http.Error(w, "request method should be get", http.StatusMethodNotAllowed)
		return nil, ErrWrongMethod
	}

	if err := validateUpgradeHeader(r.Header); err != nil {
		http.Error(w, "invalid or missing upgrade header", http.StatusUpgradeRequired)
		return nil, err
	}
	if err := validateConnectionHeader(r.Header); err != nil {
		http.Error(w, "invalid or missing connection header", http.StatusBadRequest)
		return nil, err
	}
	if err := validateVersionHeader(r); err != nil {
		http.Error(w, "invalid or missing Sec-WebSocket-Version header, must be 13", http.StatusBadRequest)
		return nil, err
	}
	if err := validatedSecKeyHeader(r); err != nil {
		http.Error(w, "invalid or missing Sec-WebSocket-Key header", http.StatusBadRequest)
		return nil, err
	}

	// selecting a subprotocol
	subProtocol := selectSubProtocol(r, u.SubProtocols)
	if subProtocol == "" && u.RejectRaw {
		http.Error(w, "unsupported or missing subprotocol", http.StatusBadRequest)
		return nil, ErrUnsupportedSubProtocols
	}

	// running middlewares
	for _, middleware := range u.Middlewares {
		if err := middleware(w, r); err != nil {
			if mwErr, ok := AsMiddlewareErr(err); ok {
				http.Error(w, mwErr.Message, mwErr.Code)
			} else {
				http.Error(w, "middleware error", http.StatusBadRequest)
			}
			return nil, err
		}
	}

	// negotiating permessage-deflate, an unusable offer is dropped, not refused
	offer := strings.Join(r.Header.Values("Sec-WebSocket-Extensions"), ", ")
	engine, extensions, err := NewServerEngine(u.Settings, offer, u.Logger)
	if err != nil {
		http.Error(w, "failed to set up the connection", http.StatusInternalServerError)
		return nil, err
	}

	// hijacking connection
	c, brw, err := http.NewResponseController(w).Hijack()
	if err != nil {
		_ = engine.Close()
		http.Error(w, "failed to hijack connection", http.StatusInternalServerError)
		return nil, err
	}

	// writing response
	p := brw.Writer.AvailableBuffer()
	p = append(p, "HTTP/1.1 101 Switching Protocols\r\n"...)
	p = append(p, "Upgrade: websocket\r\n"...)
	p = append(p, "Connection: Upgrade\r\n"...)
	p = append(p, "Sec-WebSocket-Accept: "...)
	p = append(p, computeAcceptKey(r.Header.Get("Sec-WebSocket-Key"))...)
	p = append(p, "\r\n"...)
	if subProtocol != "" {
		p = append(p, "Sec-WebSocket-Protocol: "...)
		p = append(p, subProtocol...)
		p = append(p, "\r\n"...)
	}
	if extensions != "" {
		p = append(p, "Sec-WebSocket-Extensions: "...)
		p = append(p, extensions...)
		p = append(p, "\r\n"...)
	}
	p = append(p, "\r\n"...)

	if _, err = c.Write(p); err != nil {
		_ = engine.Close()
		_ = c.Close()
		return nil, err
	}

	conn := newConn(wrapBuffered(c, brw.Reader), engine, u.Options, subProtocol)
	conn.logger.Debug("connection upgraded",
		zap.String("subprotocol", subProtocol),
		zap.String("extensions", extensions),
	)

	if u.OnConnect != nil {
		u.OnConnect(conn)
	}

	return conn, nil
}

func computeAcceptKey(key string) string {
	hashedKey := sha1.Sum([]byte(key + GUID))
	return base64.StdEncoding.EncodeToString(hashedKey[:])
}

func validateConnectionHeader(h http.Header) error {
	return headerHasToken(h, "Connection", "upgrade", ErrMissingConnectionHeader, ErrInvalidConnectionHeader)
}

func validateUpgradeHeader(h http.Header) error {
	return headerHasToken(h, "Upgrade", "websocket", ErrMissingUpgradeHeader, ErrInvalidUpgradeHeader)
}

func headerHasToken(h http.Header, name, token string, missing, invalid error) error {
	rawHeader := h.Get(name)
	if rawHeader == "" {
		return missing
	}
	rawHeader = strings.ToLower(strings.TrimSpace(rawHeader))
	iter := strings.SplitSeq(rawHeader, ",")

	for header := range iter {
		if strings.TrimSpace(header) == token {
			return nil
		}
	}

	return invalid
}

func validateVersionHeader(r *http.Request) error {
	header := r.Header.Get("Sec-WebSocket-Version")
	if header == "" {
		return ErrMissingVersionHeader
	} else if strings.TrimSpace(header) != "13" {
		return ErrInvalidVersionHeader
	}

	return nil
}

func validatedSecKeyHeader(r *http.Request) error {
	header := r.Header.Get("Sec-WebSocket-Key")
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSecKey
	}

	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil || len(decoded) != 16 {
		return ErrInvalidSecKey
	}

	return nil
}

func selectSubProtocol(r *http.Request, subProtocols []string) string {
	if subProtocols == nil {
		return ""
	}
	rawHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if rawHeader == "" {
		return ""
	}

	rawHeader = strings.TrimSpace(rawHeader)
	iter := strings.SplitSeq(rawHeader, ",")

	for header := range iter {
		if slices.Contains(subProtocols, strings.TrimSpace(header)) {
			return strings.TrimSpace(header)
		}
	}

	return ""
}

// Appends the receive middleware to the middlewares slice of the upgrader.
func (u *Upgrader) Use(mw Middleware) {
	u.Middlewares = append(u.Middlewares, mw)
}
