package wsengine

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Role decides the masking rule: clients mask every frame they send,
// servers never do.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// Engine holds the per-connection codec state: one Decoder for inbound bytes
// and one Encoder for outbound frames, each owning its compression context.
// Decoder and Encoder are independent and may be driven from two goroutines,
// but each must only ever be used by one at a time.
type Engine struct {
	role     Role
	settings Settings
	ext      Negotiated

	dec *Decoder
	enc *Encoder

	logger *zap.Logger
}

// NewEngine builds an engine for role with the agreed extension ext.
// settings is copied; a nil settings means DefaultSettings and a nil logger
// means no logging.
func NewEngine(settings *Settings, role Role, ext Negotiated, logger *zap.Logger) (*Engine, error) {
	if settings == nil {
		s := DefaultSettings()
		settings = &s
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		role:     role,
		settings: *settings.normalized(),
		ext:      ext,
		logger:   logger.With(zap.Stringer("role", role)),
	}
	if err := e.settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	e.dec = newDecoder(decoderConfig{
		expectMasked:   role == RoleServer,
		maxFrameSize:   e.settings.MaxFrameSize,
		maxMessageSize: e.settings.MaxMessageSize,
		compression:    ext.Enabled,
		noTakeover:     e.inboundNoTakeover(),
	})

	enc, err := newEncoder(e.outboundConfig())
	if err != nil {
		return nil, err
	}
	e.enc = enc

	if ext.Enabled {
		e.logger.Debug("permessage-deflate enabled",
			zap.Int("level", e.outboundConfig().level),
			zap.Bool("server_no_context_takeover", ext.ServerNoContextTakeover),
			zap.Bool("client_no_context_takeover", ext.ClientNoContextTakeover),
			zap.Int("server_max_window_bits", ext.ServerMaxWindowBits),
			zap.Int("client_max_window_bits", ext.ClientMaxWindowBits),
		)
	}

	return e, nil
}

// NewServerEngine negotiates against the client's Sec-WebSocket-Extensions
// value and returns the engine together with the value to answer with.
// Offers that cannot be used are dropped and logged, never failing the call.
func NewServerEngine(settings *Settings, offer string, logger *zap.Logger) (*Engine, string, error) {
	if settings == nil {
		s := DefaultSettings()
		settings = &s
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ext, response, err := NegotiateServer(settings, offer)
	if err != nil {
		logger.Debug("dropped permessage-deflate offer", zap.String("offer", offer), zap.Error(err))
	}

	e, err := NewEngine(settings, RoleServer, ext, logger)
	if err != nil {
		return nil, "", err
	}
	return e, response, nil
}

// NewClientEngine applies the server's Sec-WebSocket-Extensions response to
// the offer ClientOffer(settings) produced.
func NewClientEngine(settings *Settings, response string, logger *zap.Logger) (*Engine, error) {
	if settings == nil {
		s := DefaultSettings()
		settings = &s
	}

	ext, err := NegotiateClient(settings, response)
	if err != nil {
		return nil, err
	}
	return NewEngine(settings, RoleClient, ext, logger)
}

func (e *Engine) outboundConfig() encoderConfig {
	cfg := encoderConfig{masked: e.role == RoleClient}
	if !e.ext.Enabled {
		return cfg
	}

	if e.role == RoleServer {
		cfg.level = e.settings.ServerCompressionLevel
		cfg.windowBits = e.ext.ServerMaxWindowBits
		cfg.noTakeover = e.ext.ServerNoContextTakeover
	} else {
		cfg.level = e.settings.ClientCompressionLevel
		cfg.windowBits = e.ext.ClientMaxWindowBits
		cfg.noTakeover = e.ext.ClientNoContextTakeover
	}
	if cfg.windowBits == 0 {
		cfg.windowBits = maxWindowBits
	}
	return cfg
}

func (e *Engine) inboundNoTakeover() bool {
	if e.role == RoleServer {
		return e.ext.ClientNoContextTakeover
	}
	return e.ext.ServerNoContextTakeover
}

func (e *Engine) Role() Role {
	return e.role
}

func (e *Engine) Settings() Settings {
	return e.settings
}

// Extension is the negotiated permessage-deflate configuration.
func (e *Engine) Extension() Negotiated {
	return e.ext
}

func (e *Engine) Decoder() *Decoder {
	return e.dec
}

func (e *Engine) Encoder() *Encoder {
	return e.enc
}

// Close releases both compression contexts.
func (e *Engine) Close() error {
	return multierr.Combine(e.dec.close(), e.enc.close())
}
