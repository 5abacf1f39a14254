// Package databuf is a growable byte buffer with a read offset and fixed-width
// typed accessors. Values are encoded in a configurable byte order, network
// (big-endian) order by default.
//
// The zero value is an empty big-endian buffer ready to use. A Buffer is not
// safe for concurrent use.
package databuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortBuffer is returned when a read needs more bytes than remain.
var ErrShortBuffer = errors.New("databuf: short buffer")

type Buffer struct {
	data  []byte
	off   int
	order binary.ByteOrder
}

// New returns a buffer holding a copy of data, read from the start.
func New(data []byte) *Buffer {
	return &Buffer{data: append([]byte(nil), data...)}
}

// WithOrder sets the byte order used by typed accessors and returns b.
func (b *Buffer) WithOrder(order binary.ByteOrder) *Buffer {
	b.order = order
	return b
}

func (b *Buffer) ByteOrder() binary.ByteOrder {
	if b.order == nil {
		return binary.BigEndian
	}
	return b.order
}

// Len is the number of unread bytes.
func (b *Buffer) Len() int { return len(b.data) - b.off }

// Offset is the read position.
func (b *Buffer) Offset() int { return b.off }

// Remaining returns the unread bytes. The slice aliases the buffer.
func (b *Buffer) Remaining() []byte { return b.data[b.off:] }

// Bytes returns everything written so far, read or not.
func (b *Buffer) Bytes() []byte { return b.data }

// Write appends p. Writing nothing is a no-op.
func (b *Buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// Read copies up to len(p) unread bytes into p. It never fails; an exhausted
// buffer returns 0.
func (b *Buffer) Read(p []byte) (int, error) {
	n := copy(p, b.data[b.off:])
	b.off += n
	return n, nil
}

// Next consumes exactly n bytes.
func (b *Buffer) Next(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("databuf: negative length %d", n)
	}
	if b.Len() < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, n, b.Len())
	}
	p := b.data[b.off : b.off+n]
	b.off += n
	return p, nil
}

// Clear drops all content and rewinds.
func (b *Buffer) Clear() {
	b.data = b.data[:0]
	b.off = 0
}

// Compact discards bytes that were already read.
func (b *Buffer) Compact() {
	if b.off == 0 {
		return
	}
	n := copy(b.data, b.data[b.off:])
	b.data = b.data[:n]
	b.off = 0
}

func (b *Buffer) WriteInt8(v int8) { b.data = append(b.data, byte(v)) }

func (b *Buffer) WriteUint8(v uint8) { b.data = append(b.data, v) }

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteUint8(1)
		return
	}
	b.WriteUint8(0)
}

// WriteChar writes a single byte character.
func (b *Buffer) WriteChar(c byte) { b.WriteUint8(c) }

func (b *Buffer) WriteInt16(v int16) { b.WriteUint16(uint16(v)) }

func (b *Buffer) WriteUint16(v uint16) {
	b.data = append(b.data, make([]byte, 2)...)
	b.ByteOrder().PutUint16(b.data[len(b.data)-2:], v)
}

func (b *Buffer) WriteInt32(v int32) { b.WriteUint32(uint32(v)) }

func (b *Buffer) WriteUint32(v uint32) {
	b.data = append(b.data, make([]byte, 4)...)
	b.ByteOrder().PutUint32(b.data[len(b.data)-4:], v)
}

func (b *Buffer) WriteInt64(v int64) { b.WriteUint64(uint64(v)) }

func (b *Buffer) WriteUint64(v uint64) {
	b.data = append(b.data, make([]byte, 8)...)
	b.ByteOrder().PutUint64(b.data[len(b.data)-8:], v)
}

func (b *Buffer) WriteFloat32(v float32) { b.WriteUint32(math.Float32bits(v)) }

func (b *Buffer) WriteFloat64(v float64) { b.WriteUint64(math.Float64bits(v)) }

// WriteString writes s prefixed with its length as uint16.
func (b *Buffer) WriteString(s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("databuf: string of %d bytes exceeds %d", len(s), math.MaxUint16)
	}
	b.WriteUint16(uint16(len(s)))
	b.data = append(b.data, s...)
	return nil
}

func (b *Buffer) ReadInt8() (int8, error) {
	v, err := b.ReadUint8()
	return int8(v), err
}

func (b *Buffer) ReadUint8() (uint8, error) {
	p, err := b.Next(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// ReadBool treats any non-zero byte as true.
func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadUint8()
	return v != 0, err
}

func (b *Buffer) ReadChar() (byte, error) { return b.ReadUint8() }

func (b *Buffer) ReadInt16() (int16, error) {
	v, err := b.ReadUint16()
	return int16(v), err
}

func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.Next(2)
	if err != nil {
		return 0, err
	}
	return b.ByteOrder().Uint16(p), nil
}

func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

func (b *Buffer) ReadUint32() (uint32, error) {
	p, err := b.Next(4)
	if err != nil {
		return 0, err
	}
	return b.ByteOrder().Uint32(p), nil
}

func (b *Buffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

func (b *Buffer) ReadUint64() (uint64, error) {
	p, err := b.Next(8)
	if err != nil {
		return 0, err
	}
	return b.ByteOrder().Uint64(p), nil
}

func (b *Buffer) ReadFloat32() (float32, error) {
	v, err := b.ReadUint32()
	return math.Float32frombits(v), err
}

func (b *Buffer) ReadFloat64() (float64, error) {
	v, err := b.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadString reads a uint16 length-prefixed string. On a short payload the
// offset is left at the length prefix.
func (b *Buffer) ReadString() (string, error) {
	start := b.off
	n, err := b.ReadUint16()
	if err != nil {
		return "", err
	}
	p, err := b.Next(int(n))
	if err != nil {
		b.off = start
		return "", err
	}
	return string(p), nil
}
