// Package router is the control plane of a single programmable IPv4 router.
//
// All engine state (interfaces, next hops, neighbors, pending queues) is
// owned by the goroutine running Router.Run. Administrative calls and punted
// packets are posted to that goroutine and executed one at a time in arrival
// order, so no state is guarded by locks.
package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/newtron-network/simplerouter/pkg/device"
	"github.com/newtron-network/simplerouter/pkg/metrics"
	"github.com/newtron-network/simplerouter/pkg/packet"
	"github.com/newtron-network/simplerouter/pkg/util"
)

// Device is the control call contract of the managed device.
type Device interface {
	Name() string
	Bind(ctx context.Context, holder string, ttl time.Duration) error
	InstallEntry(ctx context.Context, table string, m device.Match, a device.Action) (device.Handle, error)
	LookupEntry(ctx context.Context, table string, m device.Match) (device.Handle, error)
	SetDefaultAction(ctx context.Context, table string, a device.Action) error
	ReadCounter(ctx context.Context, name string, index uint32) (device.Counter, error)
	PushConfig(ctx context.Context, buf []byte) error
	SendPacketOut(ctx context.Context, payload []byte) error
}

// Options tunes a Router.
type Options struct {
	// Holder names this controller in the device binding.
	Holder string
	// BindTTL expires the binding if it is not renewed; zero never expires.
	BindTTL time.Duration
}

// Interface is a router port.
type Interface struct {
	Port   uint16
	IP     netip.Addr
	MAC    net.HardwareAddr
	Handle device.Handle
}

type route struct {
	nextHop netip.Addr
	port    uint16
	handle  device.Handle
}

type neighbor struct {
	mac    net.HardwareAddr
	handle device.Handle
}

// Router is the control-plane engine for one device.
type Router struct {
	dev       Device
	opts      Options
	installer *installer
	metrics   *metrics.Registry
	decoder   *packet.Decoder
	tasks     *taskQueue
	running   atomic.Bool
	stopped   chan struct{}

	// Owned by the Run goroutine.
	assigned   bool
	interfaces map[uint16]*Interface
	nextHops   map[netip.Addr]uint16
	routes     map[netip.Prefix]*route
	neighbors  map[netip.Addr]*neighbor
	pending    map[netip.Addr]*pendingQueue
}

// New creates a Router for dev. Nothing runs until Run is called.
func New(dev Device, opts Options) *Router {
	m := metrics.Get()
	return &Router{
		dev:        dev,
		opts:       opts,
		installer:  &installer{dev: dev, metrics: m},
		metrics:    m,
		decoder:    packet.NewDecoder(),
		tasks:      newTaskQueue(),
		stopped:    make(chan struct{}),
		interfaces: make(map[uint16]*Interface),
		nextHops:   make(map[netip.Addr]uint16),
		routes:     make(map[netip.Prefix]*route),
		neighbors:  make(map[netip.Addr]*neighbor),
		pending:    make(map[netip.Addr]*pendingQueue),
	}
}

// Run executes posted work until ctx is cancelled. It may be called once.
func (r *Router) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("router already running")
	}
	defer close(r.stopped)

	util.WithDevice(r.dev.Name()).Infof("router engine started")
	for {
		for {
			t, ok := r.tasks.pop()
			if !ok {
				break
			}
			t(ctx)
			if ctx.Err() != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			util.WithDevice(r.dev.Name()).Infof("router engine stopped (%d tasks abandoned)", r.tasks.len())
			return nil
		case <-r.tasks.signal:
		}
	}
}

// do runs fn on the engine and waits for its result.
func (r *Router) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	r.tasks.push(func(context.Context) {
		if err := ctx.Err(); err != nil {
			done <- err
			return
		}
		done <- fn()
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		return util.ErrNotRunning
	}
}

// Assign binds the router to its device. It fails with ErrAlreadyAssigned
// on a second call.
func (r *Router) Assign(ctx context.Context) error {
	return r.do(ctx, func() error {
		if r.assigned {
			return util.ErrAlreadyAssigned
		}
		if err := r.dev.Bind(ctx, r.opts.Holder, r.opts.BindTTL); err != nil {
			return util.NewBindingError(r.dev.Name(), err)
		}
		r.assigned = true
		util.WithDevice(r.dev.Name()).Infof("assigned to %s", r.opts.Holder)
		return nil
	})
}

// AddInterface registers a router port and installs its self-MAC entry.
func (r *Router) AddInterface(ctx context.Context, port uint16, ip netip.Addr, mac net.HardwareAddr) error {
	return r.do(ctx, func() error {
		return r.addInterface(ctx, ControllerState, port, ip, mac)
	})
}

// AddRoute installs a static route and records that nextHop is reachable
// through port. No ARP is sent until traffic needs the next hop.
func (r *Router) AddRoute(ctx context.Context, prefix netip.Prefix, nextHop netip.Addr, port uint16) (device.Handle, error) {
	var h device.Handle
	err := r.do(ctx, func() error {
		var err error
		h, err = r.addRoute(ctx, ControllerState, prefix, nextHop, port)
		return err
	})
	return h, err
}

// SetDefaultEntries installs the catch-all actions that punt unrouted IPv4,
// unresolved next hops, and all ARP to the controller.
func (r *Router) SetDefaultEntries(ctx context.Context) error {
	return r.do(ctx, func() error {
		return r.installer.defaults(ctx)
	})
}

// QueryCounter reads a device counter.
func (r *Router) QueryCounter(ctx context.Context, name string, index uint32) (device.Counter, error) {
	var c device.Counter
	err := r.do(ctx, func() error {
		var err error
		c, err = r.dev.ReadCounter(ctx, name, index)
		if errors.Is(err, device.ErrCounterNotFound) {
			return util.NewNotFoundError("counter", fmt.Sprintf("%s[%d]", name, index))
		}
		if err != nil {
			return fmt.Errorf("reading counter %s[%d]: %w", name, index, err)
		}
		return nil
	})
	return c, err
}

// UpdateConfig pushes a new forwarding pipeline. The device drops every
// installed entry, so handles recorded before the push are stale; they are
// not cleared or reinstalled.
func (r *Router) UpdateConfig(ctx context.Context, buf []byte) error {
	return r.do(ctx, func() error {
		if err := r.dev.PushConfig(ctx, buf); err != nil {
			return util.NewConfigError(len(buf), err)
		}
		util.WithDevice(r.dev.Name()).Warnf("pipeline replaced; %d interface, %d route, %d neighbor handles are now stale",
			len(r.interfaces), len(r.routes), len(r.neighbors))
		return nil
	})
}

// DispatchPacket posts a packet-in payload to the engine. It never blocks
// and never fails; undecodable packets are dropped and counted.
func (r *Router) DispatchPacket(raw []byte) {
	r.tasks.push(func(ctx context.Context) {
		r.handlePacket(ctx, raw)
	})
}

func (r *Router) addInterface(ctx context.Context, mode UpdateMode, port uint16, ip netip.Addr, mac net.HardwareAddr) error {
	if !ip.Is4() {
		return util.NewValidationError(fmt.Sprintf("interface ip %v is not IPv4", ip))
	}
	if len(mac) != 6 {
		return util.NewValidationError(fmt.Sprintf("interface mac %v is not an Ethernet address", mac))
	}
	if _, ok := r.interfaces[port]; ok {
		return util.NewValidationError(fmt.Sprintf("interface on port %d already registered", port))
	}

	var h device.Handle
	switch mode {
	case ControllerState:
		var err error
		if h, err = r.installer.selfMAC(ctx, port, mac); err != nil {
			return err
		}
	case DeviceState:
		h = r.recoverHandle(ctx, TableSendFrame, selfMACMatch(port))
	}

	r.interfaces[port] = &Interface{Port: port, IP: ip, MAC: mac, Handle: h}
	util.WithPort(r.dev.Name(), port).Infof("interface %s %s added (%s)", ip, mac, mode)
	return nil
}

func (r *Router) addRoute(ctx context.Context, mode UpdateMode, prefix netip.Prefix, nextHop netip.Addr, port uint16) (device.Handle, error) {
	if !prefix.Addr().Is4() || !nextHop.Is4() {
		return 0, util.NewValidationError(fmt.Sprintf("route %v via %v is not IPv4", prefix, nextHop))
	}
	prefix = prefix.Masked()
	if _, ok := r.routes[prefix]; ok {
		return 0, util.NewValidationError(fmt.Sprintf("route %s already installed", prefix))
	}
	if p, ok := r.nextHops[nextHop]; ok && p != port {
		return 0, util.NewValidationError(fmt.Sprintf("next hop %s is already reachable via port %d", nextHop, p))
	}

	var h device.Handle
	switch mode {
	case ControllerState:
		var err error
		if h, err = r.installer.route(ctx, prefix, nextHop, port); err != nil {
			return 0, err
		}
	case DeviceState:
		h = r.recoverHandle(ctx, TableIPv4LPM, routeMatch(prefix))
	}

	r.routes[prefix] = &route{nextHop: nextHop, port: port, handle: h}
	r.nextHops[nextHop] = port
	util.WithAddr(r.dev.Name(), nextHop).Infof("route %s via port %d added (%s)", prefix, port, mode)
	return h, nil
}

// recoverHandle looks up the handle of an entry the device already holds.
func (r *Router) recoverHandle(ctx context.Context, table string, m device.Match) device.Handle {
	h, err := r.dev.LookupEntry(ctx, table, m)
	if err != nil {
		util.WithDevice(r.dev.Name()).Warnf("no %s entry for %v on device, handle left unset: %v", table, m, err)
		return 0
	}
	return h
}
