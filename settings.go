package wsengine

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxFrameSize   = 16 << 20 // 16MiB
	DefaultMaxMessageSize = 16 << 20 // 16MiB
	DefaultMaxWindowBits  = maxWindowBits
)

// Settings are the engine limits and permessage-deflate preferences.
// They are built once (usually from a config file) and handed to every Engine,
// which keeps its own copy; nothing mutates them afterwards.
type Settings struct {
	// Largest accepted frame payload. If not set it will default to 16MiB.
	MaxFrameSize int `yaml:"max_frame_size"`
	// Largest accepted message, summed over its fragments and measured after
	// inflating. If not set it will default to 16MiB.
	MaxMessageSize int `yaml:"max_message_size"`

	// Deflate level (1-9) the server side compresses with. 0 disables server to client compression.
	ServerCompressionLevel int `yaml:"server_compression_level"`
	// Deflate level (1-9) the client side compresses with. 0 disables client to server compression.
	ClientCompressionLevel int `yaml:"client_compression_level"`

	ServerNoContextTakeover bool `yaml:"server_no_context_takeover"`
	ClientNoContextTakeover bool `yaml:"client_no_context_takeover"`

	// LZ77 window size (8-15) for each direction. If not set it will default to 15.
	ServerMaxWindowBits int `yaml:"server_max_window_bits"`
	ClientMaxWindowBits int `yaml:"client_max_window_bits"`
}

func DefaultSettings() Settings {
	s := Settings{}
	s.WithDefault()
	return s
}

func (s *Settings) WithDefault() {
	if s.MaxFrameSize == 0 {
		s.MaxFrameSize = DefaultMaxFrameSize
	}
	if s.MaxMessageSize == 0 {
		s.MaxMessageSize = DefaultMaxMessageSize
	}
	if s.ServerMaxWindowBits == 0 {
		s.ServerMaxWindowBits = DefaultMaxWindowBits
	}
	if s.ClientMaxWindowBits == 0 {
		s.ClientMaxWindowBits = DefaultMaxWindowBits
	}
}

// normalized returns a copy of s with defaults filled in. A nil s yields DefaultSettings.
func (s *Settings) normalized() *Settings {
	var c Settings
	if s != nil {
		c = *s
	}
	c.WithDefault()
	return &c
}

func (s *Settings) Validate() error {
	var errs []error

	if s.MaxFrameSize < 0 {
		errs = append(errs, fmt.Errorf("max_frame_size must be positive, got %d", s.MaxFrameSize))
	}
	if s.MaxMessageSize < 0 {
		errs = append(errs, fmt.Errorf("max_message_size must be positive, got %d", s.MaxMessageSize))
	}
	if !validLevel(s.ServerCompressionLevel) {
		errs = append(errs, fmt.Errorf("server_compression_level must be within 0-9, got %d", s.ServerCompressionLevel))
	}
	if !validLevel(s.ClientCompressionLevel) {
		errs = append(errs, fmt.Errorf("client_compression_level must be within 0-9, got %d", s.ClientCompressionLevel))
	}
	if !validWindowBits(s.ServerMaxWindowBits) {
		errs = append(errs, fmt.Errorf("server_max_window_bits must be within 8-15, got %d", s.ServerMaxWindowBits))
	}
	if !validWindowBits(s.ClientMaxWindowBits) {
		errs = append(errs, fmt.Errorf("client_max_window_bits must be within 8-15, got %d", s.ClientMaxWindowBits))
	}

	return errors.Join(errs...)
}

// CompressionEnabled reports whether either direction wants permessage-deflate.
func (s *Settings) CompressionEnabled() bool {
	return s.ServerCompressionLevel != 0 || s.ClientCompressionLevel != 0
}

// ParseSettings decodes YAML settings, filling defaults for omitted keys.
func ParseSettings(data []byte) (Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parsing settings: %w", err)
	}
	s.WithDefault()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSettings reads YAML settings from path.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("reading settings: %w", err)
	}
	return ParseSettings(data)
}

func validLevel(l int) bool {
	return l >= 0 && l <= 9
}

func validWindowBits(b int) bool {
	return b >= minWindowBits && b <= maxWindowBits
}
