// Package protocol implements the length-prefixed binary framing and the
// integer-tagged message vocabulary shared by the chat server and client.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// LengthPrefixSize is the size of the frame length prefix in bytes.
const LengthPrefixSize = 4

// DefaultMaxFrameSize bounds a single frame payload unless configured otherwise.
const DefaultMaxFrameSize = 64 * 1024

// ByteOrder is the byte order of every integer on the wire. Frames are not
// normalized across architectures; peers must share the same native order.
var ByteOrder = binary.NativeEndian

var (
	// ErrNegativeLength is returned when a frame announces a negative size.
	ErrNegativeLength = errors.New("protocol: negative frame length")
	// ErrFrameTooLarge is returned when a frame exceeds the allowed size.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")
)

// ReadFrame reads one frame from r and returns its payload. A stream that ends
// before or during a frame yields io.EOF, which callers treat as a disconnect
// rather than a failure. maxSize <= 0 disables the size check.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, disconnectOr(err)
	}

	size := int32(ByteOrder.Uint32(prefix[:]))
	if size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeLength, size)
	}
	if maxSize > 0 && int(size) > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, maxSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, disconnectOr(err)
	}
	return payload, nil
}

// WriteFrame writes the length prefix followed by payload, retrying short
// writes until the whole frame is on the wire.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, LengthPrefixSize+len(payload))
	ByteOrder.PutUint32(buf, uint32(int32(len(payload))))
	copy(buf[LengthPrefixSize:], payload)
	return writeFull(w, buf)
}

func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		buf = buf[n:]
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// disconnectOr folds the end-of-stream variants into io.EOF.
func disconnectOr(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

// IsDisconnect reports whether err signals that the peer went away.
func IsDisconnect(err error) bool {
	return errors.Is(err, io.EOF)
}
