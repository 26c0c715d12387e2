package router

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/newtron-network/simplerouter/pkg/device"
	"github.com/newtron-network/simplerouter/pkg/metrics"
	"github.com/newtron-network/simplerouter/pkg/util"
)

// Pipeline tables.
const (
	TableIPv4LPM   = "ipv4_lpm"
	TableForward   = "forward"
	TableSendFrame = "send_frame"
	TableARP       = "arp"
	TableDecap     = "decap_cpu_header"
)

// defaultEntries are the catch-all actions installed by SetDefaultEntries.
// Unrouted IPv4 and unresolved next hops punt to the engine, as does all ARP.
var defaultEntries = []struct {
	table  string
	action device.Action
}{
	{TableIPv4LPM, device.NewAction("send_to_cpu")},
	{TableForward, device.NewAction("send_to_cpu")},
	{TableARP, device.NewAction("send_to_cpu")},
	{TableDecap, device.NewAction("do_decap")},
}

func selfMACMatch(port uint16) device.Match {
	return device.Match{device.Exact("egress_port", strconv.Itoa(int(port)))}
}

func arpRewriteMatch(ip netip.Addr) device.Match {
	return device.Match{device.Exact("nhop_ipv4", ip.String())}
}

func routeMatch(prefix netip.Prefix) device.Match {
	return device.Match{device.LPM("dstAddr", prefix)}
}

// installer translates engine intents into device table writes. It keeps no
// state and never retries.
type installer struct {
	dev     Device
	metrics *metrics.Registry
}

func (in *installer) install(ctx context.Context, table, key string, m device.Match, a device.Action) (device.Handle, error) {
	h, err := in.dev.InstallEntry(ctx, table, m, a)
	if err != nil {
		in.metrics.TableWrites.WithLabelValues(table, "error").Inc()
		return 0, util.NewInstallError(table, key, err)
	}
	in.metrics.TableWrites.WithLabelValues(table, "ok").Inc()
	util.WithDevice(in.dev.Name()).Debugf("installed %s %s -> %v (handle %v)", table, key, a, h)
	return h, nil
}

// selfMAC makes the device source frames leaving port from the interface MAC.
func (in *installer) selfMAC(ctx context.Context, port uint16, mac net.HardwareAddr) (device.Handle, error) {
	return in.install(ctx, TableSendFrame, fmt.Sprintf("port %d", port), selfMACMatch(port),
		device.NewAction("rewrite_mac", "smac", mac.String()))
}

// arpRewrite binds a resolved next hop to its MAC.
func (in *installer) arpRewrite(ctx context.Context, ip netip.Addr, mac net.HardwareAddr) (device.Handle, error) {
	return in.install(ctx, TableForward, ip.String(), arpRewriteMatch(ip),
		device.NewAction("set_dmac", "dmac", mac.String()))
}

func (in *installer) route(ctx context.Context, prefix netip.Prefix, nextHop netip.Addr, port uint16) (device.Handle, error) {
	return in.install(ctx, TableIPv4LPM, prefix.String(), routeMatch(prefix),
		device.NewAction("set_nhop", "nhop_ipv4", nextHop.String(), "port", strconv.Itoa(int(port))))
}

// defaults installs every catch-all action, stopping at the first failure.
func (in *installer) defaults(ctx context.Context) error {
	for _, d := range defaultEntries {
		if err := in.dev.SetDefaultAction(ctx, d.table, d.action); err != nil {
			in.metrics.TableWrites.WithLabelValues(d.table, "error").Inc()
			return util.NewInstallError(d.table, "default", err)
		}
		in.metrics.TableWrites.WithLabelValues(d.table, "ok").Inc()
	}
	return nil
}
