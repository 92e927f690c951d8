package wsengine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// enginePair negotiates like a handshake would and returns both ends.
func enginePair(t *testing.T, server, client *Settings) (srv, cli *Engine) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	srv, response, err := NewServerEngine(server, ClientOffer(client), logger)
	require.NoError(t, err)
	cli, err = NewClientEngine(client, response, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, srv.Close())
		assert.NoError(t, cli.Close())
	})
	return srv, cli
}

func TestEngineRoles(t *testing.T) {
	srv, cli := enginePair(t, nil, nil)

	assert.Equal(t, RoleServer, srv.Role())
	assert.Equal(t, RoleClient, cli.Role())
	assert.Equal(t, "server", srv.Role().String())
	assert.Equal(t, "client", cli.Role().String())
	assert.False(t, srv.Extension().Enabled)

	// clients mask, servers do not
	require.NoError(t, cli.Encoder().Write(OpcodeText, []byte("hi"), true))
	out := drain(t, cli.Encoder(), 64)
	assert.NotZero(t, out[1]&0x80)

	require.NoError(t, srv.Encoder().Write(OpcodeText, []byte("hi"), true))
	out = drain(t, srv.Encoder(), 64)
	assert.Zero(t, out[1]&0x80)

	// and each side insists on the rule
	_, _, err := srv.Decoder().Decode(out)
	assert.ErrorIs(t, err, ErrExpectedMaskedFrame)
}

func TestEngineBothDirections(t *testing.T) {
	tests := []struct {
		name           string
		server, client *Settings
	}{
		{"plain", nil, nil},
		{"compressed", compressing(nil), compressing(nil)},
		{
			"compressed one way",
			compressing(func(s *Settings) { s.ClientCompressionLevel = 0 }),
			compressing(func(s *Settings) { s.ClientCompressionLevel = 0 }),
		},
		{
			"small windows without takeover",
			compressing(func(s *Settings) {
				s.ServerMaxWindowBits = 9
				s.ClientMaxWindowBits = 9
				s.ServerNoContextTakeover = true
			}),
			compressing(func(s *Settings) { s.ClientNoContextTakeover = true }),
		},
	}

	messages := [][]byte{
		[]byte("ping pong ping pong"),
		bytes.Repeat([]byte("abcabcabd"), 5000),
		[]byte("ping pong ping pong"),
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, cli := enginePair(t, tt.server, tt.client)

			for _, msg := range messages {
				up := encodeAll(t, cli.Encoder(), OpcodeBinary, [][]byte{msg}, 512)
				got := reassemble(feedChunks(t, srv.Decoder(), up, 100))
				require.Len(t, got, 1)
				assert.True(t, bytes.Equal(msg, got[0]))

				down := encodeAll(t, srv.Encoder(), OpcodeBinary, [][]byte{msg}, 512)
				got = reassemble(feedChunks(t, cli.Decoder(), down, 100))
				require.Len(t, got, 1)
				assert.True(t, bytes.Equal(msg, got[0]))
			}
		})
	}
}

func TestEngineNegotiatedWindow(t *testing.T) {
	srv, cli := enginePair(t,
		compressing(func(s *Settings) { s.ClientMaxWindowBits = 11 }),
		compressing(nil),
	)

	assert.Equal(t, srv.Extension(), cli.Extension())
	assert.Equal(t, 11, cli.Extension().ClientMaxWindowBits)
	assert.Equal(t, 11, cli.outboundConfig().windowBits)
	assert.Equal(t, 15, srv.outboundConfig().windowBits)
}

func TestNewEngineValidatesSettings(t *testing.T) {
	_, err := NewEngine(&Settings{ServerCompressionLevel: 12}, RoleServer, Negotiated{}, nil)
	assert.ErrorContains(t, err, "server_compression_level")
}
