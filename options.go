package wsengine

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultWriteWait = time.Second * 5
	defaultReadWait  = time.Minute
	defaultPingEvery = time.Second * 50

	DefaultReadBufferSize  = 4096
	DefaultWriteBufferSize = 4096

	// a write buffer must at least hold a full control frame
	minWriteBufferSize = MaxHeaderLen + MaxControlFramePayload
)

type Options struct {
	// Frame limits and permessage-deflate preferences. If not set DefaultSettings is used.
	Settings *Settings
	// If not set nothing is logged.
	Logger *zap.Logger
	// Optional per-connection inbound message rate limiting.
	Limiter *RateLimiter

	// Ran before finalizing and accepting the handshake.
	Middlewares []Middleware
	// Ran when the connection finalizes.
	OnConnect func(conn *Conn)
	// Ran when connection closes.
	OnDisconnect func(conn *Conn)

	// If not set it will default to 5 seconds.
	WriteWait time.Duration
	// Should be larger than PingEvery. If not set it will default to 60 seconds.
	ReadWait time.Duration
	// If not set it will default to 50 seconds. A negative value disables pinging.
	PingEvery time.Duration

	// Size of the region inbound bytes are read into. If not set it will default to 4kb.
	ReadBufferSize int
	// Size of the region each outbound frame is encoded into, which also
	// caps the size of outbound frames. If not set it will default to 4kb.
	WriteBufferSize int

	// subProtocols defines the list of supported WebSocket sub-protocols by the server.
	// During the handshake, the server will select the first matching protocol from the
	// client's Sec-WebSocket-Protocol header, based on the client's order of preference.
	// If no match is found, the behavior depends on the value of rejectRaw.
	// A Dialer offers them to the server in this order.
	SubProtocols []string
	// rejectRaw determines whether to reject clients that do not propose any matching
	// sub-protocols. If set to true, the connection will be rejected when:
	//   - The client does not include any Sec-WebSocket-Protocol header.
	//   - Or none of the client's protocols match the supported subProtocols list.
	//
	// If false, such connections will be accepted as raw WebSocket connections.
	RejectRaw bool

	// Skips the UTF-8 check of inbound text messages.
	SkipUTF8Validation bool
}

func (opt *Options) WithDefault() {
	if opt.Settings == nil {
		s := DefaultSettings()
		opt.Settings = &s
	} else {
		opt.Settings.WithDefault()
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.WriteWait == 0 {
		opt.WriteWait = defaultWriteWait
	}
	if opt.ReadWait == 0 {
		opt.ReadWait = defaultReadWait
	}
	if opt.PingEvery == 0 {
		opt.PingEvery = defaultPingEvery
	}
	if opt.ReadBufferSize <= 0 {
		opt.ReadBufferSize = DefaultReadBufferSize
	}
	if opt.WriteBufferSize <= 0 {
		opt.WriteBufferSize = DefaultWriteBufferSize
	}
	if opt.WriteBufferSize < minWriteBufferSize {
		opt.WriteBufferSize = minWriteBufferSize
	}
}

// A function representing a middleware that will be ran after validating the websocket upgrade request
// and before switching protocols.
// If an error returns the connection wont be accepted.
// It is prefered to return an error of type wsengine.MiddlewareErr.
type Middleware func(w http.ResponseWriter, r *http.Request) error

type MiddlewareErr struct {
	Code    int
	Message string
}

func AsMiddlewareErr(err error) (*MiddlewareErr, bool) {
	e, ok := err.(*MiddlewareErr)
	return e, ok
}

func (err *MiddlewareErr) Error() string {
	return err.Message
}

func NewMiddlewareErr(code int, message string) *MiddlewareErr {
	return &MiddlewareErr{Code: code, Message: message}
}
