package packet

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// Kind classifies a punted frame by its EtherType.
type Kind int

const (
	KindOther Kind = iota
	KindARP
	KindIPv4
)

func (k Kind) String() string {
	switch k {
	case KindARP:
		return "arp"
	case KindIPv4:
		return "ipv4"
	default:
		return "other"
	}
}

// ARP opcodes.
const (
	ARPRequest uint16 = layers.ARPRequest
	ARPReply   uint16 = layers.ARPReply
)

// ErrUnsupportedARP marks ARP packets that are not Ethernet/IPv4.
var ErrUnsupportedARP = errors.New("unsupported ARP hardware or protocol type")

// IPv4 fields the router reads. Only the destination matters; the rest of
// the header is not inspected.
const (
	ipv4DstOffset = 16
	ipv4MinLen    = 20
)

// ARP is the Ethernet/IPv4 view of an ARP header.
type ARP struct {
	Op        uint16
	SenderMAC net.HardwareAddr
	SenderIP  netip.Addr
	TargetMAC net.HardwareAddr
	TargetIP  netip.Addr
}

// PacketIn is a decoded packet-in notification.
type PacketIn struct {
	Reason uint16
	Port   uint16
	Kind   Kind
	// Frame is the Ethernet frame following the CPU header.
	Frame []byte
	// ARP is set when Kind is KindARP.
	ARP ARP
	// Dst is set when Kind is KindIPv4.
	Dst netip.Addr
}

// Decoder parses packet-in payloads. It reuses its layer storage between
// calls and must not be shared between goroutines.
type Decoder struct {
	cpu     CPUHeader
	eth     layers.Ethernet
	arp     layers.ARP
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewDecoder returns a Decoder for CPU-header encapsulated frames.
func NewDecoder() *Decoder {
	d := &Decoder{decoded: make([]gopacket.LayerType, 0, 4)}
	d.parser = gopacket.NewDecodingLayerParser(LayerTypeCPUHeader, &d.cpu, &d.eth, &d.arp)
	d.parser.IgnoreUnsupported = true
	return d
}

// Decode parses raw as CPU header + Ethernet frame. Frames that are neither
// ARP nor IPv4 decode successfully with KindOther.
func (d *Decoder) Decode(raw []byte) (*PacketIn, error) {
	if err := d.parser.DecodeLayers(raw, &d.decoded); err != nil {
		return nil, err
	}
	if len(d.decoded) < 2 {
		return nil, fmt.Errorf("truncated packet-in: %d bytes", len(raw))
	}
	pkt := &PacketIn{
		Reason: d.cpu.Reason,
		Port:   d.cpu.Port,
		Frame:  d.cpu.Payload,
	}
	for _, lt := range d.decoded[2:] {
		if lt == layers.LayerTypeARP {
			a, err := arpView(&d.arp)
			if err != nil {
				return nil, err
			}
			pkt.Kind = KindARP
			pkt.ARP = a
		}
	}
	if d.eth.EthernetType == layers.EthernetTypeIPv4 {
		if len(d.eth.Payload) < ipv4MinLen {
			return nil, fmt.Errorf("truncated ipv4 header: %d bytes", len(d.eth.Payload))
		}
		pkt.Kind = KindIPv4
		pkt.Dst = netip.AddrFrom4([4]byte(d.eth.Payload[ipv4DstOffset:ipv4MinLen]))
	}
	return pkt, nil
}

func arpView(a *layers.ARP) (ARP, error) {
	if a.AddrType != layers.LinkTypeEthernet || a.Protocol != layers.EthernetTypeIPv4 ||
		a.HwAddressSize != 6 || a.ProtAddressSize != 4 {
		return ARP{}, ErrUnsupportedARP
	}
	sender, _ := netip.AddrFromSlice(a.SourceProtAddress)
	target, _ := netip.AddrFromSlice(a.DstProtAddress)
	return ARP{
		Op:        a.Operation,
		SenderMAC: append(net.HardwareAddr(nil), a.SourceHwAddress...),
		SenderIP:  sender,
		TargetMAC: append(net.HardwareAddr(nil), a.DstHwAddress...),
		TargetIP:  target,
	}, nil
}
