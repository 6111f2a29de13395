package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when a payload ends before all fields are read.
	ErrTruncated = errors.New("protocol: truncated payload")
	// ErrTrailingBytes is returned when a payload carries bytes past its last field.
	ErrTrailingBytes = errors.New("protocol: trailing bytes in payload")
	// ErrNegativeBlock is returned when a byte block announces a negative length.
	ErrNegativeBlock = errors.New("protocol: negative block length")
)

// Encoder appends payload fields to an owned buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an encoder with room for sizeHint bytes.
func NewEncoder(sizeHint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, sizeHint)}
}

// Int appends a signed 32-bit integer.
func (e *Encoder) Int(v int32) *Encoder {
	e.buf = ByteOrder.AppendUint32(e.buf, uint32(v))
	return e
}

// Block appends a length field followed by the raw bytes.
func (e *Encoder) Block(b []byte) *Encoder {
	e.Int(int32(len(b)))
	e.buf = append(e.buf, b...)
	return e
}

// Bytes returns the encoded payload. The encoder must not be reused afterwards.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Decoder consumes payload fields in order.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder returns a decoder over payload.
func NewDecoder(payload []byte) *Decoder {
	return &Decoder{buf: payload}
}

// Int consumes a signed 32-bit integer.
func (d *Decoder) Int() (int32, error) {
	if len(d.buf)-d.off < 4 {
		return 0, fmt.Errorf("%w: want 4 bytes at offset %d, have %d", ErrTruncated, d.off, len(d.buf)-d.off)
	}
	v := int32(ByteOrder.Uint32(d.buf[d.off:]))
	d.off += 4
	return v, nil
}

// Block consumes a length field and returns a copy of that many bytes.
func (d *Decoder) Block() ([]byte, error) {
	n, err := d.Int()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeBlock, n)
	}
	if len(d.buf)-d.off < int(n) {
		return nil, fmt.Errorf("%w: want %d bytes at offset %d, have %d", ErrTruncated, n, d.off, len(d.buf)-d.off)
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:])
	d.off += int(n)
	return out, nil
}

// Done returns ErrTrailingBytes if any bytes remain unread.
func (d *Decoder) Done() error {
	if rest := len(d.buf) - d.off; rest > 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, rest)
	}
	return nil
}
