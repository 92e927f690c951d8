package wsengine

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// pipeConns connects a server and a client Conn over net.Pipe.
func pipeConns(t *testing.T, settings *Settings, ext Negotiated, serverOpts *Options) (server, client *Conn) {
	t.Helper()

	// echo goroutines may outlive the test
	logger := zaptest.NewLogger(t, zaptest.Level(zap.ErrorLevel))
	if serverOpts == nil {
		serverOpts = &Options{}
	}
	serverOpts.Settings = settings
	serverOpts.Logger = logger
	serverOpts.PingEvery = -1
	serverOpts.WithDefault()

	clientOpts := &Options{Settings: settings, Logger: logger, PingEvery: -1}
	clientOpts.WithDefault()

	srvEngine, err := NewEngine(settings, RoleServer, ext, logger)
	require.NoError(t, err)
	cliEngine, err := NewEngine(settings, RoleClient, ext, logger)
	require.NoError(t, err)

	srvRaw, cliRaw := net.Pipe()
	server = newConn(srvRaw, srvEngine, serverOpts, "")
	client = newConn(cliRaw, cliEngine, clientOpts, "")

	t.Cleanup(func() {
		server.closeWith(nil, false)
		client.closeWith(nil, false)
	})
	return server, client
}

// echo answers every message until the connection fails and reports that error.
func echo(conn *Conn) <-chan error {
	errc := make(chan error, 1)
	go func() {
		for {
			op, data, err := conn.ReadMessage()
			if errors.Is(err, ErrRateLimited) {
				continue
			}
			if err != nil {
				errc <- err
				return
			}
			if err := conn.WriteMessage(context.Background(), op, data); err != nil {
				errc <- err
				return
			}
		}
	}()
	return errc
}

func compressedExt() Negotiated {
	return Negotiated{Enabled: true, ServerMaxWindowBits: 15, ClientMaxWindowBits: 15}
}

func TestConnEcho(t *testing.T) {
	large := bytes.Repeat([]byte("0123456789abcdef"), 10000)

	tests := []struct {
		name     string
		settings *Settings
		ext      Negotiated
	}{
		{"plain", nil, Negotiated{}},
		{"compressed", compressing(nil), compressedExt()},
		{
			"compressed without context takeover",
			compressing(func(s *Settings) { s.ServerNoContextTakeover, s.ClientNoContextTakeover = true, true }),
			Negotiated{Enabled: true, ServerNoContextTakeover: true, ClientNoContextTakeover: true, ServerMaxWindowBits: 15, ClientMaxWindowBits: 15},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, client := pipeConns(t, tt.settings, tt.ext, nil)
			echo(server)
			ctx := context.Background()

			require.NoError(t, client.WriteText(ctx, "hello"))
			text, err := client.ReadText()
			require.NoError(t, err)
			assert.Equal(t, "hello", text)

			require.NoError(t, client.WriteBinary(ctx, large))
			data, err := client.ReadBinary()
			require.NoError(t, err)
			assert.True(t, bytes.Equal(large, data))

			require.NoError(t, client.WriteText(ctx, "hello"))
			_, err = client.ReadBinary()
			assert.ErrorIs(t, err, ErrMessageTypeMismatch)
			assert.False(t, IsFatalErr(err))
		})
	}
}

func TestConnWriterStreamsFragments(t *testing.T) {
	server, client := pipeConns(t, compressing(nil), compressedExt(), nil)
	echo(server)
	ctx := context.Background()

	w, err := client.NextWriter(ctx, OpcodeText)
	require.NoError(t, err)
	for _, part := range []string{"hel", "lo ", "world"} {
		_, err := w.Write([]byte(part))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrWriterClosed)

	text, err := client.ReadText()
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestConnPingPong(t *testing.T) {
	server, client := pipeConns(t, nil, Negotiated{}, nil)
	echo(server)

	require.NoError(t, client.Ping(context.Background(), []byte("are you there")))

	f, err := client.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, OpcodePong, f.Opcode)
	assert.Equal(t, []byte("are you there"), f.Payload)
}

func TestConnCloseHandshake(t *testing.T) {
	var disconnected bool
	server, client := pipeConns(t, nil, Negotiated{}, &Options{
		OnDisconnect: func(*Conn) { disconnected = true },
	})
	errc := echo(server)

	require.NoError(t, client.WriteClose(context.Background(), Status{Code: 4000, Reason: "done"}))

	// the echo of our close
	_, _, err := client.ReadMessage()
	require.True(t, IsFatalErr(err))
	var ce *CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, Status{Code: 4000, Reason: "done"}, ce.Status)

	serverErr := <-errc
	require.ErrorAs(t, serverErr, &ce)
	assert.Equal(t, uint16(4000), ce.Status.Code)
	assert.True(t, disconnected)

	_, _, err = client.ReadMessage()
	assert.ErrorIs(t, err, ErrConnClosed)
	assert.ErrorIs(t, client.WriteText(context.Background(), "x"), ErrConnClosed)
}

func TestConnRejectsInvalidUTF8(t *testing.T) {
	server, client := pipeConns(t, nil, Negotiated{}, nil)
	errc := echo(server)

	require.NoError(t, client.WriteMessage(context.Background(), OpcodeText, []byte{0xFF, 0xFE}))

	_, _, err := client.ReadMessage()
	var ce *CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CloseInvalidFramePayloadData, ce.Status.Code)

	assert.ErrorIs(t, <-errc, ErrInvalidUTF8)
}

func TestConnProtocolErrorClosesWithCode(t *testing.T) {
	server, client := pipeConns(t, nil, Negotiated{}, nil)
	errc := echo(server)

	// an unmasked frame from a client
	go func() {
		_, _ = client.raw.Write([]byte{0x81, 0x01, 'x'})
	}()

	var ce *CloseError
	_, _, err := client.ReadMessage()
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CloseProtocolError, ce.Status.Code)

	serverErr := <-errc
	assert.ErrorIs(t, serverErr, ErrExpectedMaskedFrame)
	assert.True(t, IsFatalErr(serverErr))
}

func TestConnRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1)
	var hits int
	limiter.OnRateLimitHit = func(*Conn) error {
		hits++
		return nil
	}

	server, client := pipeConns(t, nil, Negotiated{}, &Options{Limiter: limiter})
	assert.Equal(t, 1, limiter.Len())
	ctx := context.Background()

	type result struct {
		data []byte
		err  error
	}
	results := make(chan result, 2)
	go func() {
		for i := 0; i < 2; i++ {
			_, data, err := server.ReadMessage()
			results <- result{data, err}
		}
	}()

	require.NoError(t, client.WriteText(ctx, "first"))
	require.NoError(t, client.WriteText(ctx, "second"))

	first := <-results
	require.NoError(t, first.err)
	assert.Equal(t, []byte("first"), first.data)

	second := <-results
	assert.ErrorIs(t, second.err, ErrRateLimited)
	assert.False(t, IsFatalErr(second.err))
	assert.Equal(t, 1, hits)

	server.closeWith(nil, false)
	assert.Zero(t, limiter.Len())
}

func TestConnWriteAfterDeadline(t *testing.T) {
	_, client := pipeConns(t, nil, Negotiated{}, nil)

	// nobody reads the server side
	client.opts.WriteWait = 50 * time.Millisecond
	err := client.WriteText(context.Background(), "stuck")
	require.Error(t, err)
	assert.True(t, IsFatalErr(err))
}

func TestCloseReason(t *testing.T) {
	long := errors.New(string(bytes.Repeat([]byte("é"), 100)))
	reason := closeReason(long)

	assert.LessOrEqual(t, len(reason), MaxControlFramePayload-2)
	assert.True(t, len(reason) > 0)
	assert.Equal(t, "é", reason[:2])
}
