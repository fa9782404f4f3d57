// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package pdcp implements the PDCP data header used to tag data units with an
// L4S congestion flag and a sequence number.
package pdcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pion/l4s-pdcp/packet"
)

const (
	// HeaderSize is the fixed wire size of a Header in bytes.
	HeaderSize = 3

	congestionBit = 0x80
)

// ErrTruncatedHeader is returned when fewer than HeaderSize bytes are
// available to decode.
var ErrTruncatedHeader = errors.New("pdcp: truncated header")

// Header is the PDCP data header. The congestion flag takes the place of the
// D/C bit of a 3GPP PDCP data PDU.
//
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|C|  reserved   |        sequence number        |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// Reserved bits are written as zero and ignored when parsing. The zero value
// is a header with the flag cleared and sequence number 0.
type Header struct {
	congestionFlag uint8
	sequenceNumber uint16
}

// NewHeader returns a Header with the given fields.
func NewHeader(congestionFlag uint8, sequenceNumber uint16) Header {
	var h Header
	h.SetCongestionFlag(congestionFlag)
	h.SetSequenceNumber(sequenceNumber)

	return h
}

// SetCongestionFlag sets the flag if v is non-zero and clears it otherwise.
func (h *Header) SetCongestionFlag(v uint8) {
	if v != 0 {
		h.congestionFlag = 1
	} else {
		h.congestionFlag = 0
	}
}

// CongestionFlag returns 1 if the flag is set and 0 otherwise.
func (h Header) CongestionFlag() uint8 { return h.congestionFlag }

// Congested reports whether the flag is set.
func (h Header) Congested() bool { return h.congestionFlag != 0 }

// SetSequenceNumber stores v verbatim.
func (h *Header) SetSequenceNumber(v uint16) { h.sequenceNumber = v }

// SequenceNumber returns the sequence number.
func (h Header) SequenceNumber() uint16 { return h.sequenceNumber }

// SerializedSize always returns HeaderSize.
func (h Header) SerializedSize() int { return HeaderSize }

// MarshalSize returns the size of the header once marshaled.
func (h Header) MarshalSize() int { return HeaderSize }

func (h Header) firstOctet() byte {
	return h.congestionFlag << 7
}

// Serialize writes the header at the cursor position.
func (h Header) Serialize(w *packet.Writer) {
	w.WriteUint8(h.firstOctet())
	w.WriteUint16(h.sequenceNumber)
}

// Deserialize parses a header at the cursor position and returns the number
// of bytes consumed. On short input nothing is consumed and h is unchanged.
func (h *Header) Deserialize(r *packet.Reader) (int, error) {
	if r.Remaining() < HeaderSize {
		return 0, fmt.Errorf("%w: %d bytes available, need %d", ErrTruncatedHeader, r.Remaining(), HeaderSize)
	}

	var octet uint8
	var sn uint16
	r.ReadUint8(&octet)
	r.ReadUint16(&sn)

	h.congestionFlag = (octet & congestionBit) >> 7
	h.sequenceNumber = sn

	return HeaderSize, nil
}

// MarshalTo serializes the header into buf.
func (h Header) MarshalTo(buf []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, io.ErrShortBuffer
	}
	buf[0] = h.firstOctet()
	binary.BigEndian.PutUint16(buf[1:3], h.sequenceNumber)

	return HeaderSize, nil
}

// Marshal serializes the header into a new slice.
func (h Header) Marshal() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	if _, err := h.MarshalTo(buf); err != nil {
		return nil, err
	}

	return buf, nil
}

// Unmarshal parses the header from the front of buf and returns the number of
// bytes consumed.
func (h *Header) Unmarshal(buf []byte) (int, error) {
	return h.Deserialize(packet.NewReader(buf))
}

func (h Header) String() string {
	return fmt.Sprintf("PDCP ect=%d sn=%d", h.congestionFlag, h.sequenceNumber)
}

// Print writes the String form of the header to w.
func (h Header) Print(w io.Writer) error {
	_, err := io.WriteString(w, h.String())

	return err
}

var _ packet.Serializable = (*Header)(nil)
