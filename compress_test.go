package wsengine

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deflateMessage compresses one message and returns its wire payload.
func deflateMessage(t *testing.T, d *deflater, msg []byte) []byte {
	t.Helper()
	require.NoError(t, d.feed(msg))
	require.NoError(t, d.flush(true))

	out := make([]byte, d.pending())
	n := d.pull(out)
	require.Equal(t, len(out), n)
	require.Zero(t, d.pending())
	return out
}

func inflateMessage(t *testing.T, f *inflater, payload []byte) []byte {
	t.Helper()
	f.feed(payload)
	require.NoError(t, f.finish())

	var out []byte
	buf := make([]byte, 512)
	for {
		n, err := f.pull(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	random := make([]byte, 10000)
	rng.Read(random)

	messages := [][]byte{
		[]byte("hello"),
		bytes.Repeat([]byte("abcdefgh"), 5000),
		random,
		{},
	}

	for _, bits := range []int{9, 12, 15} {
		d, err := newDeflater(6, bits)
		require.NoError(t, err)
		f := newInflater(true)

		for _, msg := range messages {
			payload := deflateMessage(t, d, msg)
			assert.False(t, bytes.HasSuffix(payload, syncTail) && len(msg) > 0, "sync tail was not stripped")

			got := inflateMessage(t, f, payload)
			assert.Equal(t, len(msg), len(got))
			assert.True(t, bytes.Equal(msg, got), "window bits %d: message mismatch", bits)
		}

		require.NoError(t, d.close())
		require.NoError(t, f.close())
	}
}

func TestCompressionContextTakeover(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	msg := make([]byte, 1024)
	rng.Read(msg)

	shared, err := newDeflater(9, maxWindowBits)
	require.NoError(t, err)
	first := deflateMessage(t, shared, msg)
	second := deflateMessage(t, shared, msg)

	fresh, err := newDeflater(9, maxWindowBits)
	require.NoError(t, err)
	alone := deflateMessage(t, fresh, msg)

	assert.LessOrEqual(t, len(second), len(alone))
	assert.Less(t, len(second), len(first))

	// the inflater must carry the same history to read the second message
	f := newInflater(true)
	assert.Equal(t, msg, inflateMessage(t, f, first))
	assert.Equal(t, msg, inflateMessage(t, f, second))
}

func TestCompressionNoContextTakeover(t *testing.T) {
	msg := bytes.Repeat([]byte("no context takeover "), 50)

	d, err := newDeflater(6, maxWindowBits)
	require.NoError(t, err)
	f := newInflater(false)

	for i := 0; i < 3; i++ {
		payload := deflateMessage(t, d, msg)
		assert.Equal(t, msg, inflateMessage(t, f, payload))

		d.reset()
		f.reset()
	}
}

func TestInflaterRejectsCorruptStream(t *testing.T) {
	f := newInflater(false)
	f.feed([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	require.NoError(t, f.finish())

	buf := make([]byte, 64)
	var err error
	for err == nil {
		_, err = f.pull(buf)
	}

	require.NotEqual(t, io.EOF, err)
	var ce *CompressionError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, CloseInvalidFramePayloadData, closeCodeFor(err))
}

func TestInflaterDictionaryIsBounded(t *testing.T) {
	f := newInflater(true)
	chunk := make([]byte, 10000)
	for i := 0; i < 20; i++ {
		f.remember(chunk)
	}

	assert.LessOrEqual(t, len(f.hist), 2*maxWindow)
	assert.Len(t, f.dict(), maxWindow)
}
