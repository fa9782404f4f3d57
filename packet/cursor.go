// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package packet

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// ErrBufferTooSmall is reported by a Writer whose backing buffer cannot hold
// a write.
var ErrBufferTooSmall = errors.New("packet: buffer too small")

// Writer is a write cursor over a fixed-capacity byte slice. Multi-byte
// integers are written in network byte order.
//
// Errors are sticky: once a write does not fit, every following write is
// ignored and Err and Bytes report the failure.
type Writer struct {
	b   *cryptobyte.Builder
	n   int
	max int
	err error
}

// NewWriter returns a Writer that writes into buf[:0] and never grows past
// cap(buf).
func NewWriter(buf []byte) *Writer {
	return &Writer{
		b:   cryptobyte.NewFixedBuilder(buf[:0]),
		max: cap(buf),
	}
}

func (w *Writer) reserve(n int) bool {
	if w.err != nil {
		return false
	}
	if w.n+n > w.max {
		w.err = fmt.Errorf("%w: need %d bytes, %d available", ErrBufferTooSmall, n, w.max-w.n)

		return false
	}
	w.n += n

	return true
}

// WriteUint8 writes one byte.
func (w *Writer) WriteUint8(v uint8) {
	if w.reserve(1) {
		w.b.AddUint8(v)
	}
}

// WriteUint16 writes v big-endian.
func (w *Writer) WriteUint16(v uint16) {
	if w.reserve(2) {
		w.b.AddUint16(v)
	}
}

// WriteBytes writes v verbatim.
func (w *Writer) WriteBytes(v []byte) {
	if w.reserve(len(v)) {
		w.b.AddBytes(v)
	}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.n }

// Available returns the number of bytes that can still be written.
func (w *Writer) Available() int { return w.max - w.n }

// Err returns the first write error, if any.
func (w *Writer) Err() error { return w.err }

// Bytes returns the written bytes. The slice aliases the buffer given to
// NewWriter.
func (w *Writer) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}

	return w.b.Bytes()
}

// Reader is a read cursor over a byte slice. Each read either consumes
// exactly the requested bytes or, on short input, consumes nothing and
// returns false.
type Reader struct {
	s   cryptobyte.String
	off int
}

// NewReader returns a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{s: cryptobyte.String(data)}
}

// ReadUint8 reads one byte into out.
func (r *Reader) ReadUint8(out *uint8) bool {
	if !r.s.ReadUint8(out) {
		return false
	}
	r.off++

	return true
}

// ReadUint16 reads a big-endian uint16 into out.
func (r *Reader) ReadUint16(out *uint16) bool {
	if !r.s.ReadUint16(out) {
		return false
	}
	r.off += 2

	return true
}

// ReadBytes sets out to the next n bytes. The result aliases the input.
func (r *Reader) ReadBytes(out *[]byte, n int) bool {
	if !r.s.ReadBytes(out, n) {
		return false
	}
	r.off += n

	return true
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) bool {
	if !r.s.Skip(n) {
		return false
	}
	r.off += n

	return true
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.s) }

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

// Rest returns the unread bytes without consuming them.
func (r *Reader) Rest() []byte { return r.s }
