package packet

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/mdlayher/arp"
	"github.com/mdlayher/ethernet"
)

// NewARPRequest builds a broadcast who-has frame for target, sent from the
// interface identified by srcMAC/srcIP.
func NewARPRequest(srcMAC net.HardwareAddr, srcIP, target netip.Addr) ([]byte, error) {
	return arpFrame(arp.OperationRequest, srcMAC, srcIP, ethernet.Broadcast, target, ethernet.Broadcast)
}

// NewARPReply builds the is-at answer to req from the interface owning
// req.TargetIP.
func NewARPReply(req ARP, ifaceMAC net.HardwareAddr) ([]byte, error) {
	return arpFrame(arp.OperationReply, ifaceMAC, req.TargetIP, req.SenderMAC, req.SenderIP, req.SenderMAC)
}

func arpFrame(op arp.Operation, srcMAC net.HardwareAddr, srcIP netip.Addr,
	dstMAC net.HardwareAddr, dstIP netip.Addr, ethDst net.HardwareAddr) ([]byte, error) {
	p, err := arp.NewPacket(op, srcMAC, srcIP, dstMAC, dstIP)
	if err != nil {
		return nil, fmt.Errorf("building arp %v: %w", op, err)
	}
	pb, err := p.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding arp %v: %w", op, err)
	}
	f := &ethernet.Frame{
		Destination: ethDst,
		Source:      srcMAC,
		EtherType:   ethernet.EtherTypeARP,
		Payload:     pb,
	}
	return f.MarshalBinary()
}

// Encap prefixes frame with a CPU header addressed to port.
func Encap(port uint16, frame []byte) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		&CPUHeader{Port: port}, gopacket.Payload(frame)); err != nil {
		return nil, fmt.Errorf("encapsulating packet-out: %w", err)
	}
	return buf.Bytes(), nil
}

// Forward rewrites a punted IPv4 frame for its next hop: source MAC becomes
// the egress interface and destination MAC the resolved neighbor. When the
// IPv4 header is well formed and its TTL is above 1, the TTL is decremented
// and the checksum recomputed; otherwise the bytes after the Ethernet header
// are re-emitted unchanged. frame is not modified.
func Forward(frame []byte, srcMAC, dstMAC net.HardwareAddr) ([]byte, error) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}
	if eth.EthernetType != layers.EthernetTypeIPv4 {
		return nil, fmt.Errorf("not an ipv4 frame: %v", eth.EthernetType)
	}
	eth.SrcMAC = srcMAC
	eth.DstMAC = dstMAC

	buf := gopacket.NewSerializeBuffer()
	var ip4 layers.IPv4
	if err := ip4.DecodeFromBytes(eth.Payload, gopacket.NilDecodeFeedback); err == nil && ip4.TTL > 1 {
		ip4.TTL--
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, &eth, &ip4, gopacket.Payload(ip4.Payload)); err != nil {
			return nil, fmt.Errorf("re-encoding forwarded frame: %w", err)
		}
		return buf.Bytes(), nil
	}

	payload := append([]byte(nil), eth.Payload...)
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, &eth, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("re-encoding forwarded frame: %w", err)
	}
	return buf.Bytes(), nil
}
