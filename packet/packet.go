// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package packet provides the byte cursors and the packet buffer that
// protocol headers are serialized into and parsed from.
package packet

import (
	"errors"
	"fmt"
	"io"
)

var errSizeMismatch = errors.New("packet: header wrote a different size than it reported")

// Serializable is implemented by protocol headers that can be attached to
// and stripped from a Packet.
type Serializable interface {
	// SerializedSize is the exact number of bytes Serialize writes and
	// Deserialize consumes.
	SerializedSize() int
	// Serialize writes the header at the cursor position.
	Serialize(w *Writer)
	// Deserialize parses the header at the cursor position and returns the
	// number of bytes consumed. On error the header is left unchanged.
	Deserialize(r *Reader) (int, error)
	// Print writes a human readable rendering of the header.
	Print(w io.Writer) error
}

// Packet is a protocol data unit under construction or being parsed. It
// exclusively owns its bytes: headers are prepended by AddHeader and stripped
// from the front by RemoveHeader.
type Packet struct {
	data []byte
}

// New returns a Packet holding a copy of payload.
func New(payload []byte) *Packet {
	data := make([]byte, len(payload))
	copy(data, payload)

	return &Packet{data: data}
}

// FromWire returns a Packet that takes ownership of data. The caller must not
// touch data afterwards.
func FromWire(data []byte) *Packet {
	return &Packet{data: data}
}

// Size returns the current length of the packet in bytes.
func (p *Packet) Size() int { return len(p.data) }

// Bytes returns a copy of the packet contents.
func (p *Packet) Bytes() []byte {
	out := make([]byte, len(p.data))
	copy(out, p.data)

	return out
}

// Payload returns the current contents without copying. The view is only
// valid until the next AddHeader or RemoveHeader and must not be modified.
func (p *Packet) Payload() []byte { return p.data }

// Copy returns an independent copy of the packet.
func (p *Packet) Copy() *Packet {
	return New(p.data)
}

// AddHeader serializes h in front of the current contents.
func (p *Packet) AddHeader(h Serializable) error {
	size := h.SerializedSize()
	out := make([]byte, size+len(p.data))

	w := NewWriter(out[:0:size])
	h.Serialize(w)
	written, err := w.Bytes()
	if err != nil {
		return err
	}
	if len(written) != size {
		return fmt.Errorf("%w: reported %d, wrote %d", errSizeMismatch, size, len(written))
	}
	copy(out[size:], p.data)
	p.data = out

	return nil
}

// RemoveHeader parses h from the front of the packet and strips it. The
// packet is untouched if parsing fails.
func (p *Packet) RemoveHeader(h Serializable) (int, error) {
	n, err := p.PeekHeader(h)
	if err != nil {
		return 0, err
	}
	p.data = p.data[n:]

	return n, nil
}

// PeekHeader parses h from the front of the packet without stripping it.
func (p *Packet) PeekHeader(h Serializable) (int, error) {
	return h.Deserialize(NewReader(p.data))
}
