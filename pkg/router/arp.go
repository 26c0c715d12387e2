package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/newtron-network/simplerouter/pkg/metrics"
	"github.com/newtron-network/simplerouter/pkg/packet"
	"github.com/newtron-network/simplerouter/pkg/util"
)

// resolveState tracks ARP resolution of one next hop. Resolution itself is
// recorded in Router.neighbors, at which point the queue is gone.
type resolveState int

const (
	stateNoRequest resolveState = iota
	stateRequestSent
)

func (s resolveState) String() string {
	if s == stateRequestSent {
		return "request_sent"
	}
	return "no_request"
}

type queuedPacket struct {
	dst   netip.Addr
	frame []byte
}

// pendingQueue holds packets waiting for a next hop's MAC, in arrival order.
type pendingQueue struct {
	state   resolveState
	port    uint16
	packets []queuedPacket
}

func (r *Router) drop(reason string, format string, args ...interface{}) {
	r.metrics.PacketsDropped.WithLabelValues(reason).Inc()
	util.WithDevice(r.dev.Name()).WithField("reason", reason).Debugf(format, args...)
}

func (r *Router) handlePacket(ctx context.Context, raw []byte) {
	pkt, err := r.decoder.Decode(raw)
	if errors.Is(err, packet.ErrUnsupportedARP) {
		r.drop(metrics.DropUnsupported, "dropping packet-in: %v", err)
		return
	}
	if err != nil {
		r.drop(metrics.DropMalformed, "dropping packet-in: %v", err)
		return
	}
	r.metrics.PacketsIn.WithLabelValues(pkt.Kind.String()).Inc()

	switch pkt.Kind {
	case packet.KindARP:
		r.handleARP(ctx, pkt)
	case packet.KindIPv4:
		r.handleIPv4(ctx, pkt.Dst, pkt.Frame)
	default:
		r.drop(metrics.DropUnsupported, "dropping non-ARP non-IPv4 frame from port %d", pkt.Port)
	}
}

func (r *Router) handleARP(ctx context.Context, pkt *packet.PacketIn) {
	switch pkt.ARP.Op {
	case packet.ARPRequest:
		r.answerARPRequest(ctx, pkt.Port, pkt.ARP)
	case packet.ARPReply:
		r.learnNeighbor(ctx, pkt.ARP.SenderIP, pkt.ARP.SenderMAC)
	default:
		r.drop(metrics.DropARPOpcode, "dropping arp opcode %d from port %d", pkt.ARP.Op, pkt.Port)
	}
}

// answerARPRequest replies to who-has for one of our interface addresses out
// the port the request arrived on.
func (r *Router) answerARPRequest(ctx context.Context, ingress uint16, req packet.ARP) {
	iface := r.interfaceByIP(req.TargetIP)
	if iface == nil {
		r.drop(metrics.DropNotLocal, "ignoring arp request for %s from %s", req.TargetIP, req.SenderIP)
		return
	}
	frame, err := packet.NewARPReply(req, iface.MAC)
	if err != nil {
		r.drop(metrics.DropMalformed, "building arp reply to %s: %v", req.SenderIP, err)
		return
	}
	if err := r.packetOut(ctx, ingress, frame); err != nil {
		r.drop(metrics.DropSendFailed, "sending arp reply to %s: %v", req.SenderIP, err)
		return
	}
	r.metrics.ARPRepliesSent.Inc()
	util.WithPort(r.dev.Name(), ingress).Debugf("answered arp for %s to %s", req.TargetIP, req.SenderIP)
}

// learnNeighbor handles an ARP reply: install the rewrite entry, then release
// every packet queued for ip through the ordinary IPv4 path.
func (r *Router) learnNeighbor(ctx context.Context, ip netip.Addr, mac net.HardwareAddr) {
	log := util.WithAddr(r.dev.Name(), ip)
	if _, ok := r.neighbors[ip]; ok {
		log.Debugf("ignoring arp reply, already resolved")
		return
	}

	h, err := r.installer.arpRewrite(ctx, ip, mac)
	if err != nil {
		// Let the next queued packet re-issue the request.
		if q := r.pending[ip]; q != nil {
			q.state = stateNoRequest
		}
		log.Errorf("arp reply from %s not applied: %v", mac, err)
		return
	}
	r.neighbors[ip] = &neighbor{mac: mac, handle: h}
	r.metrics.NeighborsResolved.Inc()

	q := r.pending[ip]
	delete(r.pending, ip)
	if q == nil {
		log.Infof("resolved to %s", mac)
		return
	}
	r.metrics.PendingPackets.Sub(float64(len(q.packets)))
	log.Infof("resolved to %s, releasing %d queued packets", mac, len(q.packets))
	for _, p := range q.packets {
		r.handleIPv4(ctx, p.dst, p.frame)
	}
}

// handleIPv4 forwards a punted packet if its next hop is resolved, or queues
// it and starts resolution otherwise.
func (r *Router) handleIPv4(ctx context.Context, dst netip.Addr, frame []byte) {
	nextHop, port, ok := r.lookupNextHop(dst)
	if !ok {
		r.drop(metrics.DropNoRoute, "no route to %s", dst)
		return
	}

	if n, ok := r.neighbors[nextHop]; ok {
		r.forward(ctx, dst, port, frame, n.mac)
		return
	}

	q := r.pending[nextHop]
	if q == nil {
		q = &pendingQueue{port: port}
		r.pending[nextHop] = q
	}
	q.packets = append(q.packets, queuedPacket{dst: dst, frame: frame})
	r.metrics.PendingPackets.Inc()

	if q.state == stateNoRequest {
		if err := r.sendARPRequest(ctx, nextHop, port); err != nil {
			util.WithAddr(r.dev.Name(), nextHop).Warnf("arp request not sent, %d packets waiting: %v", len(q.packets), err)
			return
		}
		q.state = stateRequestSent
	}
}

// lookupNextHop maps a destination to the next hop to resolve and its egress
// port. A destination that is itself a next hop maps to itself; otherwise the
// longest matching route decides.
func (r *Router) lookupNextHop(dst netip.Addr) (netip.Addr, uint16, bool) {
	if port, ok := r.nextHops[dst]; ok {
		return dst, port, true
	}
	var best netip.Prefix
	var found *route
	for prefix, rt := range r.routes {
		if prefix.Contains(dst) && (found == nil || prefix.Bits() > best.Bits()) {
			best, found = prefix, rt
		}
	}
	if found == nil {
		return netip.Addr{}, 0, false
	}
	return found.nextHop, found.port, true
}

func (r *Router) sendARPRequest(ctx context.Context, target netip.Addr, port uint16) error {
	iface := r.interfaces[port]
	if iface == nil {
		return fmt.Errorf("no interface on port %d", port)
	}
	frame, err := packet.NewARPRequest(iface.MAC, iface.IP, target)
	if err != nil {
		return err
	}
	if err := r.packetOut(ctx, port, frame); err != nil {
		return err
	}
	r.metrics.ARPRequestsSent.Inc()
	util.WithPort(r.dev.Name(), port).Debugf("who-has %s tell %s", target, iface.IP)
	return nil
}

// forward re-injects a packet toward a resolved next hop. This covers the
// window where the device punts traffic before the rewrite entry is active.
func (r *Router) forward(ctx context.Context, dst netip.Addr, port uint16, frame []byte, mac net.HardwareAddr) {
	iface := r.interfaces[port]
	if iface == nil {
		r.drop(metrics.DropSendFailed, "no interface on port %d for %s", port, dst)
		return
	}
	out, err := packet.Forward(frame, iface.MAC, mac)
	if err != nil {
		r.drop(metrics.DropMalformed, "rewriting packet for %s: %v", dst, err)
		return
	}
	if err := r.packetOut(ctx, port, out); err != nil {
		r.drop(metrics.DropSendFailed, "forwarding packet for %s: %v", dst, err)
		return
	}
	r.metrics.PacketsForwarded.Inc()
}

func (r *Router) packetOut(ctx context.Context, port uint16, frame []byte) error {
	payload, err := packet.Encap(port, frame)
	if err != nil {
		return err
	}
	return r.dev.SendPacketOut(ctx, payload)
}

func (r *Router) interfaceByIP(ip netip.Addr) *Interface {
	for _, iface := range r.interfaces {
		if iface.IP == ip {
			return iface
		}
	}
	return nil
}
