package router

import (
	"context"
	"net/netip"
	"sort"

	"github.com/newtron-network/simplerouter/pkg/device"
)

// State is a point-in-time copy of the engine's bookkeeping.
type State struct {
	Device     string           `json:"device"`
	Assigned   bool             `json:"assigned"`
	Interfaces []InterfaceState `json:"interfaces"`
	Routes     []RouteState     `json:"routes"`
	NextHops   []NextHopState   `json:"next_hops"`
	Neighbors  []NeighborState  `json:"neighbors"`
	Pending    []PendingState   `json:"pending"`
}

type InterfaceState struct {
	Port   uint16        `json:"port"`
	IP     netip.Addr    `json:"ip"`
	MAC    string        `json:"mac"`
	Handle device.Handle `json:"handle"`
}

type RouteState struct {
	Prefix  netip.Prefix  `json:"prefix"`
	NextHop netip.Addr    `json:"next_hop"`
	Port    uint16        `json:"port"`
	Handle  device.Handle `json:"handle"`
}

type NextHopState struct {
	IP   netip.Addr `json:"ip"`
	Port uint16     `json:"port"`
}

type NeighborState struct {
	IP     netip.Addr    `json:"ip"`
	MAC    string        `json:"mac"`
	Handle device.Handle `json:"handle"`
}

type PendingState struct {
	NextHop netip.Addr `json:"next_hop"`
	Port    uint16     `json:"port"`
	State   string     `json:"state"`
	Packets int        `json:"packets"`
}

// Snapshot returns a copy of the engine state, each list sorted.
func (r *Router) Snapshot(ctx context.Context) (*State, error) {
	var s *State
	err := r.do(ctx, func() error {
		s = r.snapshot()
		return nil
	})
	return s, err
}

func (r *Router) snapshot() *State {
	s := &State{
		Device:     r.dev.Name(),
		Assigned:   r.assigned,
		Interfaces: []InterfaceState{},
		Routes:     []RouteState{},
		NextHops:   []NextHopState{},
		Neighbors:  []NeighborState{},
		Pending:    []PendingState{},
	}
	for _, i := range r.interfaces {
		s.Interfaces = append(s.Interfaces, InterfaceState{Port: i.Port, IP: i.IP, MAC: i.MAC.String(), Handle: i.Handle})
	}
	for p, rt := range r.routes {
		s.Routes = append(s.Routes, RouteState{Prefix: p, NextHop: rt.nextHop, Port: rt.port, Handle: rt.handle})
	}
	for ip, port := range r.nextHops {
		s.NextHops = append(s.NextHops, NextHopState{IP: ip, Port: port})
	}
	for ip, n := range r.neighbors {
		s.Neighbors = append(s.Neighbors, NeighborState{IP: ip, MAC: n.mac.String(), Handle: n.handle})
	}
	for ip, q := range r.pending {
		s.Pending = append(s.Pending, PendingState{NextHop: ip, Port: q.port, State: q.state.String(), Packets: len(q.packets)})
	}

	sort.Slice(s.Interfaces, func(i, j int) bool { return s.Interfaces[i].Port < s.Interfaces[j].Port })
	sort.Slice(s.Routes, func(i, j int) bool {
		a, b := s.Routes[i].Prefix, s.Routes[j].Prefix
		if a.Addr() != b.Addr() {
			return a.Addr().Less(b.Addr())
		}
		return a.Bits() < b.Bits()
	})
	sort.Slice(s.NextHops, func(i, j int) bool { return s.NextHops[i].IP.Less(s.NextHops[j].IP) })
	sort.Slice(s.Neighbors, func(i, j int) bool { return s.Neighbors[i].IP.Less(s.Neighbors[j].IP) })
	sort.Slice(s.Pending, func(i, j int) bool { return s.Pending[i].NextHop.Less(s.Pending[j].NextHop) })
	return s
}
