package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFrameRoundTrip verifies that encode-then-decode yields identical bytes
// for payloads of various sizes, including the empty payload.
func TestFrameRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 3, 4, 5, 255, 4096, DefaultMaxFrameSize}

	for _, size := range sizes {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i * 7)
		}

		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, payload))
		assert.Equal(t, LengthPrefixSize+size, buf.Len())

		got, err := ReadFrame(&buf, DefaultMaxFrameSize)
		require.NoError(t, err, "size %d", size)
		assert.True(t, bytes.Equal(payload, got), "size %d payload mismatch", size)
	}
}

// TestReadFrameToleratesPartialReads feeds the frame one byte at a time.
func TestReadFrameToleratesPartialReads(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello, group")))

	got, err := ReadFrame(iotest.OneByteReader(&buf), 0)
	require.NoError(t, err)
	assert.Equal(t, "hello, group", string(got))
}

func TestReadFrameEndOfStreamIsDisconnect(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty stream", input: nil},
		{name: "partial prefix", input: []byte{1, 0}},
		{name: "partial payload", input: func() []byte {
			var buf bytes.Buffer
			_ = WriteFrame(&buf, []byte("abcdef"))
			return buf.Bytes()[:LengthPrefixSize+2]
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.input), 0)
			require.Error(t, err)
			assert.True(t, IsDisconnect(err), "expected disconnect, got %v", err)
		})
	}
}

func TestReadFrameRejectsBadLengths(t *testing.T) {
	negative := make([]byte, LengthPrefixSize)
	ByteOrder.PutUint32(negative, uint32(0xFFFFFFFF))

	_, err := ReadFrame(bytes.NewReader(negative), 0)
	assert.ErrorIs(t, err, ErrNegativeLength)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, make([]byte, 65)))
	_, err = ReadFrame(&buf, 64)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFramePropagatesTransportErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := ReadFrame(iotest.ErrReader(boom), 0)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsDisconnect(err))
}

// shortWriter accepts at most two bytes per call without reporting an error.
type shortWriter struct {
	bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 2 {
		p = p[:2]
	}
	return w.Buffer.Write(p)
}

func TestWriteFrameRetriesShortWrites(t *testing.T) {
	var w shortWriter
	require.NoError(t, WriteFrame(&w, []byte("partial writes")))

	got, err := ReadFrame(&w.Buffer, 0)
	require.NoError(t, err)
	assert.Equal(t, "partial writes", string(got))
}

type stuckWriter struct{}

func (stuckWriter) Write([]byte) (int, error) { return 0, nil }

func TestWriteFrameStuckWriter(t *testing.T) {
	err := WriteFrame(stuckWriter{}, []byte("x"))
	assert.ErrorIs(t, err, io.ErrShortWrite)
}
