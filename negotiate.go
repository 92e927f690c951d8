package wsengine

import (
	"strconv"
	"strings"

	"github.com/gobwas/httphead"
	"go.uber.org/multierr"
)

// ExtensionName is the Sec-WebSocket-Extensions token of RFC 7692.
const ExtensionName = "permessage-deflate"

const (
	paramServerNoContextTakeover = "server_no_context_takeover"
	paramClientNoContextTakeover = "client_no_context_takeover"
	paramServerMaxWindowBits     = "server_max_window_bits"
	paramClientMaxWindowBits     = "client_max_window_bits"
)

// Negotiated is the permessage-deflate configuration both peers agreed on.
// The zero value means the extension is not in use.
type Negotiated struct {
	Enabled                 bool
	ServerNoContextTakeover bool
	ClientNoContextTakeover bool
	ServerMaxWindowBits     int
	ClientMaxWindowBits     int
}

// String renders n as a Sec-WebSocket-Extensions value; empty when not enabled.
func (n Negotiated) String() string {
	if !n.Enabled {
		return ""
	}

	opt := httphead.Option{Name: []byte(ExtensionName)}
	if n.ServerNoContextTakeover {
		opt.Parameters.Set([]byte(paramServerNoContextTakeover), nil)
	}
	if n.ClientNoContextTakeover {
		opt.Parameters.Set([]byte(paramClientNoContextTakeover), nil)
	}
	if n.ServerMaxWindowBits > 0 && n.ServerMaxWindowBits < maxWindowBits {
		opt.Parameters.Set([]byte(paramServerMaxWindowBits), strconv.AppendInt(nil, int64(n.ServerMaxWindowBits), 10))
	}
	if n.ClientMaxWindowBits > 0 && n.ClientMaxWindowBits < maxWindowBits {
		opt.Parameters.Set([]byte(paramClientMaxWindowBits), strconv.AppendInt(nil, int64(n.ClientMaxWindowBits), 10))
	}

	return writeOptions(opt)
}

// ClientOffer returns the Sec-WebSocket-Extensions value a client sends for s.
// It is empty when compression is disabled in both directions.
func ClientOffer(s *Settings) string {
	s = s.normalized()
	if !s.CompressionEnabled() {
		return ""
	}

	opt := httphead.Option{Name: []byte(ExtensionName)}
	if s.ServerNoContextTakeover {
		opt.Parameters.Set([]byte(paramServerNoContextTakeover), nil)
	}
	if s.ClientNoContextTakeover {
		opt.Parameters.Set([]byte(paramClientNoContextTakeover), nil)
	}
	if s.ServerMaxWindowBits < maxWindowBits {
		opt.Parameters.Set([]byte(paramServerMaxWindowBits), strconv.AppendInt(nil, int64(s.ServerMaxWindowBits), 10))
	}
	// without a value it only announces support, letting the server pick
	if s.ClientMaxWindowBits < maxWindowBits {
		opt.Parameters.Set([]byte(paramClientMaxWindowBits), strconv.AppendInt(nil, int64(s.ClientMaxWindowBits), 10))
	} else {
		opt.Parameters.Set([]byte(paramClientMaxWindowBits), nil)
	}

	return writeOptions(opt)
}

// NegotiateServer picks the first usable permessage-deflate offer in header
// (the client's Sec-WebSocket-Extensions value) and returns the agreed
// configuration along with the response value to send back.
//
// Offers with unknown, duplicate or malformed parameters are dropped, never
// failing the handshake; err lists why each dropped offer was refused and is
// only informational. Other extensions are ignored.
func NegotiateServer(s *Settings, header string) (n Negotiated, response string, err error) {
	s = s.normalized()
	if !s.CompressionEnabled() || strings.TrimSpace(header) == "" {
		return Negotiated{}, "", nil
	}

	opts, ok := httphead.ParseOptions([]byte(header), nil)
	if !ok {
		return Negotiated{}, "", &NegotiationError{Err: ErrMalformedHeader}
	}

	for _, opt := range opts {
		if string(opt.Name) != ExtensionName {
			continue
		}

		accepted, offerErr := acceptOffer(s, &opt.Parameters)
		if offerErr != nil {
			err = multierr.Append(err, offerErr)
			continue
		}

		return accepted, accepted.String(), err
	}

	return Negotiated{}, "", err
}

func acceptOffer(s *Settings, params *httphead.Parameters) (Negotiated, error) {
	n := Negotiated{
		Enabled:                 true,
		ServerNoContextTakeover: s.ServerNoContextTakeover,
		ClientNoContextTakeover: s.ClientNoContextTakeover,
		ServerMaxWindowBits:     s.ServerMaxWindowBits,
		// a client that does not announce client_max_window_bits cannot be limited
		ClientMaxWindowBits: maxWindowBits,
	}

	err := forEachParam(params, func(key string, value []byte) error {
		switch key {
		case paramServerNoContextTakeover:
			n.ServerNoContextTakeover = true
		case paramClientNoContextTakeover:
			n.ClientNoContextTakeover = true
		case paramServerMaxWindowBits:
			bits, err := parseWindowBits(key, value)
			if err != nil {
				return err
			}
			n.ServerMaxWindowBits = min(bits, s.ServerMaxWindowBits)
		case paramClientMaxWindowBits:
			bits := maxWindowBits
			if len(value) != 0 {
				var err error
				if bits, err = parseWindowBits(key, value); err != nil {
					return err
				}
			}
			n.ClientMaxWindowBits = min(bits, s.ClientMaxWindowBits)
		default:
			return &NegotiationError{Param: key, Err: ErrUnknownParameter}
		}
		return nil
	})
	if err != nil {
		return Negotiated{}, err
	}

	return n, nil
}

// NegotiateClient applies the server's Sec-WebSocket-Extensions response to the
// offer built by ClientOffer(s). Unlike the server side, a response that cannot
// be honoured is an error: the client must fail the connection.
func NegotiateClient(s *Settings, header string) (Negotiated, error) {
	s = s.normalized()
	if strings.TrimSpace(header) == "" {
		return Negotiated{}, nil
	}

	opts, ok := httphead.ParseOptions([]byte(header), nil)
	if !ok {
		return Negotiated{}, &NegotiationError{Err: ErrMalformedHeader}
	}

	var n Negotiated
	for _, opt := range opts {
		if string(opt.Name) != ExtensionName || !s.CompressionEnabled() {
			return Negotiated{}, &NegotiationError{Param: string(opt.Name), Err: ErrUnsolicitedExtension}
		}
		if n.Enabled {
			return Negotiated{}, &NegotiationError{Err: ErrMultipleExtensions}
		}

		n = Negotiated{
			Enabled:                 true,
			ClientNoContextTakeover: s.ClientNoContextTakeover,
			ServerMaxWindowBits:     maxWindowBits,
			ClientMaxWindowBits:     s.ClientMaxWindowBits,
		}

		err := forEachParam(&opt.Parameters, func(key string, value []byte) error {
			switch key {
			case paramServerNoContextTakeover:
				n.ServerNoContextTakeover = true
			case paramClientNoContextTakeover:
				n.ClientNoContextTakeover = true
			case paramServerMaxWindowBits:
				bits, err := parseWindowBits(key, value)
				if err != nil {
					return err
				}
				n.ServerMaxWindowBits = bits
			case paramClientMaxWindowBits:
				bits, err := parseWindowBits(key, value)
				if err != nil {
					return err
				}
				n.ClientMaxWindowBits = min(bits, s.ClientMaxWindowBits)
			default:
				return &NegotiationError{Param: key, Err: ErrUnknownParameter}
			}
			return nil
		})
		if err != nil {
			return Negotiated{}, err
		}
	}

	return n, nil
}

// forEachParam calls fn for every parameter, rejecting repeated keys and
// values on flag parameters.
func forEachParam(params *httphead.Parameters, fn func(key string, value []byte) error) error {
	seen := make(map[string]bool, 4)

	var err error
	params.ForEach(func(k, v []byte) bool {
		key := string(k)
		if seen[key] {
			err = &NegotiationError{Param: key, Err: ErrDuplicateParameter}
			return false
		}
		seen[key] = true

		if (key == paramServerNoContextTakeover || key == paramClientNoContextTakeover) && len(v) != 0 {
			err = &NegotiationError{Param: key, Err: ErrInvalidParameter}
			return false
		}

		err = fn(key, v)
		return err == nil
	})

	return err
}

func parseWindowBits(key string, value []byte) (int, error) {
	if len(value) == 0 || len(value) > 2 {
		return 0, &NegotiationError{Param: key, Err: ErrInvalidParameter}
	}
	for _, c := range value {
		if c < '0' || c > '9' {
			return 0, &NegotiationError{Param: key, Err: ErrInvalidParameter}
		}
	}

	bits, _ := strconv.Atoi(string(value))
	if !validWindowBits(bits) {
		return 0, &NegotiationError{Param: key, Err: ErrInvalidParameter}
	}
	return bits, nil
}

func writeOptions(opts ...httphead.Option) string {
	var sb strings.Builder
	_, _ = httphead.WriteOptions(&sb, opts)
	return sb.String()
}
