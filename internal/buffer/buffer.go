// Package buffer implements a growable byte buffer used by the typed-value
// codec and the framing layer. It is intentionally light: a single backing
// slice with read/write cursors, not an io.Reader/io.Writer.
package buffer

import "encoding/binary"

// Buffer is a growable []byte with independent read and write cursors.
// The zero value is usable.
type Buffer struct {
	b   []byte
	off int // read cursor
}

// New creates a Buffer that writes starting at the end of b and reads
// starting at the beginning of b.
func New(b []byte) *Buffer {
	return &Buffer{b: b}
}

// Reset discards all buffered data and read/write cursors.
func (b *Buffer) Reset() {
	b.b = b.b[:0]
	b.off = 0
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.b) - b.off
}

// Size returns the total number of bytes written, ignoring the read cursor.
func (b *Buffer) Size() int {
	return len(b.b)
}

// Bytes returns the unread portion of the buffer. The slice aliases the
// buffer's storage and is invalidated by subsequent writes.
func (b *Buffer) Bytes() []byte {
	return b.b[b.off:]
}

// Detach returns the full underlying slice and resets the buffer to empty.
// Used when handing ownership of the bytes to a caller (e.g. a payload).
func (b *Buffer) Detach() []byte {
	out := b.b
	b.b = nil
	b.off = 0
	return out
}

// Append writes p to the end of the buffer.
func (b *Buffer) Append(p []byte) {
	b.b = append(b.b, p...)
}

// AppendByte writes a single byte to the end of the buffer.
func (b *Buffer) AppendByte(c byte) {
	b.b = append(b.b, c)
}

// AppendString writes s to the end of the buffer.
func (b *Buffer) AppendString(s string) {
	b.b = append(b.b, s...)
}

// AppendUint16 writes n in big-endian order.
func (b *Buffer) AppendUint16(n uint16) {
	b.b = append(b.b, byte(n>>8), byte(n))
}

// AppendUint32 writes n in big-endian order.
func (b *Buffer) AppendUint32(n uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], n)
	b.b = append(b.b, tmp[:]...)
}

// AppendUint64 writes n in big-endian order.
func (b *Buffer) AppendUint64(n uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], n)
	b.b = append(b.b, tmp[:]...)
}

// OverwriteUint32 patches a previously written 4-byte big-endian value at
// byte offset idx (absolute, ignoring the read cursor). Used to backpatch
// composite/array/map size prefixes once the encoded length is known.
func (b *Buffer) OverwriteUint32(idx int, n uint32) {
	binary.BigEndian.PutUint32(b.b[idx:idx+4], n)
}

// Peek returns, without consuming, the next n unread bytes. ok is false if
// fewer than n bytes are available.
func (b *Buffer) Peek(n int) (p []byte, ok bool) {
	if b.Len() < n {
		return nil, false
	}
	return b.b[b.off : b.off+n], true
}

// PeekByte returns the next unread byte without consuming it.
func (b *Buffer) PeekByte() (byte, bool) {
	if b.Len() < 1 {
		return 0, false
	}
	return b.b[b.off], true
}

// Next consumes and returns the next n unread bytes. ok is false (and
// nothing is consumed) if fewer than n bytes are available.
func (b *Buffer) Next(n int) (p []byte, ok bool) {
	if b.Len() < n {
		return nil, false
	}
	p = b.b[b.off : b.off+n]
	b.off += n
	return p, true
}

// ReadByte consumes and returns the next unread byte.
func (b *Buffer) ReadByte() (byte, bool) {
	if b.Len() < 1 {
		return 0, false
	}
	c := b.b[b.off]
	b.off++
	return c, true
}

// ReadUint16 consumes and returns the next 2 bytes as big-endian.
func (b *Buffer) ReadUint16() (uint16, bool) {
	p, ok := b.Next(2)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(p), true
}

// ReadUint32 consumes and returns the next 4 bytes as big-endian.
func (b *Buffer) ReadUint32() (uint32, bool) {
	p, ok := b.Next(4)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(p), true
}

// ReadUint64 consumes and returns the next 8 bytes as big-endian.
func (b *Buffer) ReadUint64() (uint64, bool) {
	p, ok := b.Next(8)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint64(p), true
}

// Skip discards the next n unread bytes.
func (b *Buffer) Skip(n int) {
	if n > b.Len() {
		n = b.Len()
	}
	b.off += n
}
