package packet

import (
	"bytes"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

var (
	ifaceMAC = net.HardwareAddr{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0x01}
	hostMAC  = net.HardwareAddr{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0x02}
	ifaceIP  = netip.MustParseAddr("10.0.0.1")
	hostIP   = netip.MustParseAddr("10.0.0.5")
)

func ipv4Frame(t *testing.T, dst netip.Addr, ttl uint8) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0x03},
		DstMAC:       ifaceMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{192, 168, 1, 10},
		DstIP:    net.IP(dst.AsSlice()),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, gopacket.Payload([]byte("hello"))); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return buf.Bytes()
}

func encap(t *testing.T, port uint16, frame []byte) []byte {
	t.Helper()
	raw, err := Encap(port, frame)
	if err != nil {
		t.Fatalf("Encap: %v", err)
	}
	return raw
}

func TestEncapLayout(t *testing.T) {
	raw := encap(t, 0x0102, []byte{0xde, 0xad})

	want := []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x02, 0xde, 0xad}
	if !bytes.Equal(raw, want) {
		t.Errorf("Encap = % x, want % x", raw, want)
	}
}

func TestDecodeIPv4(t *testing.T) {
	frame := ipv4Frame(t, hostIP, 64)
	pkt, err := NewDecoder().Decode(encap(t, 7, frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if pkt.Kind != KindIPv4 {
		t.Fatalf("Kind = %v, want ipv4", pkt.Kind)
	}
	if pkt.Port != 7 {
		t.Errorf("Port = %d, want 7", pkt.Port)
	}
	if pkt.Dst != hostIP {
		t.Errorf("Dst = %v, want %v", pkt.Dst, hostIP)
	}
	if !bytes.Equal(pkt.Frame, frame) {
		t.Error("Frame should be the bytes following the CPU header")
	}
}

func TestDecodeARPRequest(t *testing.T) {
	frame, err := NewARPRequest(hostMAC, hostIP, ifaceIP)
	if err != nil {
		t.Fatalf("NewARPRequest: %v", err)
	}
	pkt, err := NewDecoder().Decode(encap(t, 3, frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if pkt.Kind != KindARP {
		t.Fatalf("Kind = %v, want arp", pkt.Kind)
	}
	if pkt.ARP.Op != ARPRequest {
		t.Errorf("Op = %d, want request", pkt.ARP.Op)
	}
	if pkt.ARP.SenderIP != hostIP || pkt.ARP.TargetIP != ifaceIP {
		t.Errorf("sender/target = %v/%v", pkt.ARP.SenderIP, pkt.ARP.TargetIP)
	}
	if !bytes.Equal(pkt.ARP.SenderMAC, hostMAC) {
		t.Errorf("SenderMAC = %v, want %v", pkt.ARP.SenderMAC, hostMAC)
	}
	if !bytes.Equal(frame[:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}) {
		t.Errorf("request should be broadcast, dst = % x", frame[:6])
	}
}

func TestARPReplyAnswersRequest(t *testing.T) {
	req := ARP{
		Op:        ARPRequest,
		SenderMAC: hostMAC,
		SenderIP:  hostIP,
		TargetIP:  ifaceIP,
	}
	frame, err := NewARPReply(req, ifaceMAC)
	if err != nil {
		t.Fatalf("NewARPReply: %v", err)
	}
	pkt, err := NewDecoder().Decode(encap(t, 3, frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if pkt.ARP.Op != ARPReply {
		t.Errorf("Op = %d, want reply", pkt.ARP.Op)
	}
	if !bytes.Equal(pkt.ARP.SenderMAC, ifaceMAC) || pkt.ARP.SenderIP != ifaceIP {
		t.Errorf("sender = %v/%v, want %v/%v", pkt.ARP.SenderMAC, pkt.ARP.SenderIP, ifaceMAC, ifaceIP)
	}
	if !bytes.Equal(pkt.ARP.TargetMAC, hostMAC) || pkt.ARP.TargetIP != hostIP {
		t.Errorf("target = %v/%v", pkt.ARP.TargetMAC, pkt.ARP.TargetIP)
	}
	if !bytes.Equal(frame[:6], hostMAC) {
		t.Errorf("reply should be unicast to requester, dst = % x", frame[:6])
	}
}

func TestDecodeDrops(t *testing.T) {
	ipv6 := ipv4Frame(t, hostIP, 64)
	ipv6[12], ipv6[13] = 0x86, 0xdd

	badARP, err := NewARPRequest(hostMAC, hostIP, ifaceIP)
	if err != nil {
		t.Fatal(err)
	}
	badARP = append([]byte(nil), badARP...)
	badARP[14], badARP[15] = 0x00, 0x06 // IEEE 802 hardware type

	tests := []struct {
		name     string
		raw      []byte
		wantErr  bool
		wantKind Kind
	}{
		{"short cpu header", []byte{0, 0, 0}, true, KindOther},
		{"cpu header only", encap(t, 1, nil), true, KindOther},
		{"unknown ethertype", encap(t, 1, ipv6), false, KindOther},
		{"unsupported arp", encap(t, 1, badARP), true, KindOther},
		{"short ipv4 header", encap(t, 1, ipv4Frame(t, hostIP, 64)[:14+19]), true, KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt, err := NewDecoder().Decode(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && pkt.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", pkt.Kind, tt.wantKind)
			}
		})
	}

	if _, err := NewDecoder().Decode(encap(t, 1, badARP)); !errors.Is(err, ErrUnsupportedARP) {
		t.Errorf("unsupported arp error = %v, want ErrUnsupportedARP", err)
	}
}

func TestDecodeFixedOffsetDestination(t *testing.T) {
	frame := append(append(append([]byte(nil), ifaceMAC...), hostMAC...), 0x08, 0x00)
	frame = append(frame, make([]byte, 16)...)
	frame = append(frame, 10, 0, 0, 5)

	pkt, err := NewDecoder().Decode(encap(t, 4, frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pkt.Kind != KindIPv4 || pkt.Dst != hostIP {
		t.Errorf("decoded %v %v, want ipv4 %v", pkt.Kind, pkt.Dst, hostIP)
	}
}

func TestDecoderReuse(t *testing.T) {
	d := NewDecoder()
	first, err := d.Decode(encap(t, 1, ipv4Frame(t, hostIP, 64)))
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.Decode(encap(t, 2, ipv4Frame(t, ifaceIP, 64)))
	if err != nil {
		t.Fatal(err)
	}
	if first.Dst != hostIP || second.Dst != ifaceIP {
		t.Errorf("results alias decoder state: %v %v", first.Dst, second.Dst)
	}
}

func TestForward(t *testing.T) {
	frame := ipv4Frame(t, hostIP, 64)
	orig := append([]byte(nil), frame...)

	out, err := Forward(frame, ifaceMAC, hostMAC)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !bytes.Equal(frame, orig) {
		t.Error("Forward modified its input")
	}

	p := gopacket.NewPacket(out, layers.LayerTypeEthernet, gopacket.Default)
	eth, _ := p.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	ip4, _ := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if eth == nil || ip4 == nil {
		t.Fatalf("forwarded frame did not decode: %v", p.ErrorLayer())
	}
	if !bytes.Equal(eth.SrcMAC, ifaceMAC) || !bytes.Equal(eth.DstMAC, hostMAC) {
		t.Errorf("MACs = %v -> %v", eth.SrcMAC, eth.DstMAC)
	}
	if ip4.TTL != 63 {
		t.Errorf("TTL = %d, want 63", ip4.TTL)
	}
	if !ip4.DstIP.Equal(net.IP(hostIP.AsSlice())) {
		t.Errorf("DstIP = %v", ip4.DstIP)
	}
	if string(ip4.Payload) != "hello" {
		t.Errorf("payload = %q", ip4.Payload)
	}
}

func TestForwardExpiringTTL(t *testing.T) {
	frame := ipv4Frame(t, hostIP, 1)
	out, err := Forward(frame, ifaceMAC, hostMAC)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !bytes.Equal(out[:6], hostMAC) || !bytes.Equal(out[6:12], ifaceMAC) {
		t.Errorf("MACs = % x -> % x", out[6:12], out[:6])
	}
	if !bytes.Equal(out[12:len(frame)], frame[12:]) {
		t.Error("bytes after the MACs should be unchanged")
	}
}

func TestForwardOpaqueHeader(t *testing.T) {
	frame := append(append(append([]byte(nil), ifaceMAC...), hostMAC...), 0x08, 0x00)
	frame = append(frame, make([]byte, 16)...)
	frame = append(frame, hostIP.AsSlice()...)

	out, err := Forward(frame, ifaceMAC, hostMAC)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !bytes.Equal(out[:6], hostMAC) {
		t.Errorf("dst MAC = % x", out[:6])
	}
	if !bytes.Equal(out[12:len(frame)], frame[12:]) {
		t.Errorf("header rewritten: % x", out[12:len(frame)])
	}
}
