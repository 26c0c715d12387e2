package router

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/newtron-network/simplerouter/pkg/device"
	"github.com/newtron-network/simplerouter/pkg/packet"
)

type installCall struct {
	table  string
	match  device.Match
	action device.Action
}

// fakeDevice records every call. Table keys are table + fmt of the match.
type fakeDevice struct {
	mu sync.Mutex

	entries    map[string]device.Handle
	defaults   map[string]device.Action
	counters   map[string]device.Counter
	nextHandle device.Handle

	installs   []installCall
	lookups    int
	mutations  int
	packetsOut [][]byte
	pushed     [][]byte
	binds      []string

	failInstall map[string]error
	failBind    error
	failPush    error
	failSend    error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		entries:     make(map[string]device.Handle),
		defaults:    make(map[string]device.Action),
		counters:    make(map[string]device.Counter),
		failInstall: make(map[string]error),
		nextHandle:  100,
	}
}

func entryID(table string, m device.Match) string {
	return fmt.Sprintf("%s %v", table, m)
}

func (f *fakeDevice) Name() string { return "fake-sw" }

func (f *fakeDevice) Bind(_ context.Context, holder string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBind != nil {
		return f.failBind
	}
	f.binds = append(f.binds, holder)
	return nil
}

func (f *fakeDevice) InstallEntry(_ context.Context, table string, m device.Match, a device.Action) (device.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	if err := f.failInstall[table]; err != nil {
		return 0, err
	}
	id := entryID(table, m)
	if _, ok := f.entries[id]; ok {
		return 0, device.ErrEntryExists
	}
	f.nextHandle++
	f.entries[id] = f.nextHandle
	f.installs = append(f.installs, installCall{table: table, match: m, action: a})
	return f.nextHandle, nil
}

func (f *fakeDevice) LookupEntry(_ context.Context, table string, m device.Match) (device.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	h, ok := f.entries[entryID(table, m)]
	if !ok {
		return 0, device.ErrEntryNotFound
	}
	return h, nil
}

func (f *fakeDevice) SetDefaultAction(_ context.Context, table string, a device.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	if err := f.failInstall[table]; err != nil {
		return err
	}
	f.defaults[table] = a
	return nil
}

func (f *fakeDevice) ReadCounter(_ context.Context, name string, index uint32) (device.Counter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.counters[fmt.Sprintf("%s:%d", name, index)]
	if !ok {
		return device.Counter{}, device.ErrCounterNotFound
	}
	return c, nil
}

func (f *fakeDevice) PushConfig(_ context.Context, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	if f.failPush != nil {
		return f.failPush
	}
	f.pushed = append(f.pushed, buf)
	f.entries = make(map[string]device.Handle)
	f.defaults = make(map[string]device.Action)
	return nil
}

func (f *fakeDevice) SendPacketOut(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		return f.failSend
	}
	f.packetsOut = append(f.packetsOut, append([]byte(nil), payload...))
	return nil
}

func (f *fakeDevice) setFailSend(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSend = err
}

func (f *fakeDevice) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.packetsOut...)
}

func (f *fakeDevice) installCalls() []installCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]installCall(nil), f.installs...)
}

func (f *fakeDevice) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutations
}

func (f *fakeDevice) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs = nil
	f.mutations = 0
	f.lookups = 0
	f.packetsOut = nil
}

// startRouter runs a router on dev until the test ends.
func startRouter(t *testing.T, dev Device) *Router {
	t.Helper()
	r := New(dev, Options{Holder: "test-ctl"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return r
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// settle waits until every previously dispatched packet has been handled.
func settle(t *testing.T, r *Router) *State {
	t.Helper()
	s, err := r.Snapshot(testContext(t))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return s
}

var (
	routerMAC  = net.HardwareAddr{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0x01}
	routerMAC3 = net.HardwareAddr{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0x03}
	hostMAC    = net.HardwareAddr{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0x02}
	otherMAC   = net.HardwareAddr{0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0x09}
	routerIP   = netip.MustParseAddr("10.0.0.1")
	routerIP3  = netip.MustParseAddr("10.0.3.1")
	hostIP     = netip.MustParseAddr("10.0.0.5")
)

// ipv4PacketIn builds a punted IPv4 packet; id tags the payload so tests
// can tell packets apart after forwarding.
func ipv4PacketIn(t *testing.T, port uint16, dst netip.Addr, ttl uint8, id byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       otherMAC,
		DstMAC:       routerMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{192, 168, 9, 9},
		DstIP:    net.IP(dst.AsSlice()),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, gopacket.Payload([]byte{id})); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return encapIn(t, port, buf.Bytes())
}

// ethHeader returns an Ethernet header to the router with the given type.
func ethHeader(etherType uint16) []byte {
	h := append(append([]byte(nil), routerMAC...), otherMAC...)
	return append(h, byte(etherType>>8), byte(etherType))
}

func arpReplyIn(t *testing.T, port uint16, senderIP netip.Addr, senderMAC net.HardwareAddr) []byte {
	t.Helper()
	frame, err := packet.NewARPReply(packet.ARP{
		Op:        packet.ARPRequest,
		SenderMAC: routerMAC,
		SenderIP:  routerIP,
		TargetIP:  senderIP,
	}, senderMAC)
	if err != nil {
		t.Fatal(err)
	}
	return encapIn(t, port, frame)
}

func arpRequestIn(t *testing.T, port uint16, target netip.Addr) []byte {
	t.Helper()
	frame, err := packet.NewARPRequest(hostMAC, hostIP, target)
	if err != nil {
		t.Fatal(err)
	}
	return encapIn(t, port, frame)
}

func encapIn(t *testing.T, port uint16, frame []byte) []byte {
	t.Helper()
	raw, err := packet.Encap(port, frame)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

// sentPacket is a decoded packet-out.
type sentPacket struct {
	port uint16
	kind packet.Kind
	arp  packet.ARP
	eth  *layers.Ethernet
	ip4  *layers.IPv4
}

func decodeSent(t *testing.T, raw []byte) sentPacket {
	t.Helper()
	pkt, err := packet.NewDecoder().Decode(raw)
	if err != nil {
		t.Fatalf("decoding packet-out: %v", err)
	}
	sp := sentPacket{port: pkt.Port, kind: pkt.Kind, arp: pkt.ARP}
	if pkt.Kind == packet.KindIPv4 {
		p := gopacket.NewPacket(pkt.Frame, layers.LayerTypeEthernet, gopacket.Default)
		sp.eth, _ = p.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
		sp.ip4, _ = p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	}
	return sp
}
