// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package pdcp

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// LayerTypePDCP is the gopacket layer type of a PDCP data header.
var LayerTypePDCP = gopacket.RegisterLayerType(1923, gopacket.LayerTypeMetadata{
	Name:    "PDCP",
	Decoder: gopacket.DecodeFunc(decodePDCP),
})

// Layer exposes a Header to gopacket so it can take part in
// gopacket.SerializeLayers and gopacket.DecodingLayerParser pipelines.
// The header is always followed by an opaque payload.
type Layer struct {
	layers.BaseLayer
	Header
}

// LayerType returns LayerTypePDCP.
func (l *Layer) LayerType() gopacket.LayerType { return LayerTypePDCP }

// CanDecode returns LayerTypePDCP.
func (l *Layer) CanDecode() gopacket.LayerClass { return LayerTypePDCP }

// NextLayerType returns gopacket.LayerTypePayload.
func (l *Layer) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

// DecodeFromBytes parses the header from data. Contents and Payload alias
// data.
func (l *Layer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	n, err := l.Header.Unmarshal(data)
	if err != nil {
		l.BaseLayer = layers.BaseLayer{}
		df.SetTruncated()

		return err
	}
	l.BaseLayer = layers.BaseLayer{Contents: data[:n], Payload: data[n:]}

	return nil
}

// SerializeTo prepends the header to b.
func (l *Layer) SerializeTo(b gopacket.SerializeBuffer, _ gopacket.SerializeOptions) error {
	buf, err := b.PrependBytes(HeaderSize)
	if err != nil {
		return err
	}
	_, err = l.Header.MarshalTo(buf)

	return err
}

func decodePDCP(data []byte, p gopacket.PacketBuilder) error {
	l := &Layer{}
	if err := l.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(l)

	return p.NextDecoder(gopacket.LayerTypePayload)
}
