// Package packet implements the fixed-layout wire formats exchanged with the
// forwarding device: the CPU encapsulation header that carries punted and
// injected frames, and the Ethernet, ARP and IPv4 views the router needs.
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// CPUHeaderLen is the encoded size of CPUHeader.
const CPUHeaderLen = 12

// LayerTypeCPUHeader identifies the device CPU header in gopacket decoders.
var LayerTypeCPUHeader = gopacket.RegisterLayerType(
	2100,
	gopacket.LayerTypeMetadata{
		Name:    "CPUHeader",
		Decoder: gopacket.DecodeFunc(decodeCPUHeader),
	},
)

// CPUHeader prefixes every frame on the packet-in and packet-out channels.
// Layout: 8 zero bytes, reason (u16), port (u16), all big endian. On
// packet-in Port is the ingress port; on packet-out it is the egress port.
type CPUHeader struct {
	layers.BaseLayer
	Reason uint16
	Port   uint16
}

func (h *CPUHeader) LayerType() gopacket.LayerType {
	return LayerTypeCPUHeader
}

func (h *CPUHeader) CanDecode() gopacket.LayerClass {
	return LayerTypeCPUHeader
}

func (h *CPUHeader) NextLayerType() gopacket.LayerType {
	return layers.LayerTypeEthernet
}

// DecodeFromBytes implements gopacket.DecodingLayer.
func (h *CPUHeader) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < CPUHeaderLen {
		df.SetTruncated()
		return fmt.Errorf("invalid CPU header: length %d less than %d", len(data), CPUHeaderLen)
	}
	h.Reason = binary.BigEndian.Uint16(data[8:10])
	h.Port = binary.BigEndian.Uint16(data[10:12])
	h.BaseLayer = layers.BaseLayer{Contents: data[:CPUHeaderLen], Payload: data[CPUHeaderLen:]}
	return nil
}

// SerializeTo implements gopacket.SerializableLayer.
func (h *CPUHeader) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.PrependBytes(CPUHeaderLen)
	if err != nil {
		return err
	}
	clear(bytes[:8])
	binary.BigEndian.PutUint16(bytes[8:], h.Reason)
	binary.BigEndian.PutUint16(bytes[10:], h.Port)
	return nil
}

func decodeCPUHeader(data []byte, pb gopacket.PacketBuilder) error {
	h := &CPUHeader{}
	if err := h.DecodeFromBytes(data, pb); err != nil {
		return err
	}
	pb.AddLayer(h)
	return pb.NextDecoder(h.NextLayerType())
}
