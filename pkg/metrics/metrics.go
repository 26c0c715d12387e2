// Package metrics holds the router's Prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons.
const (
	DropMalformed   = "malformed"
	DropUnsupported = "unsupported"
	DropNoRoute     = "no_route"
	DropSendFailed  = "send_failed"
	DropARPOpcode   = "arp_opcode"
	DropNotLocal    = "not_local"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all router metrics.
type Registry struct {
	// Packet path
	PacketsIn        *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec
	PacketsForwarded prometheus.Counter
	PendingPackets   prometheus.Gauge

	// ARP
	ARPRequestsSent   prometheus.Counter
	ARPRepliesSent    prometheus.Counter
	NeighborsResolved prometheus.Counter

	// Table installer
	TableWrites *prometheus.CounterVec

	// Management API
	APIRequests *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.PacketsIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simplerouter",
		Name:      "packets_in_total",
		Help:      "Packet-in notifications received, by decoded kind",
	}, []string{"kind"})

	r.PacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simplerouter",
		Name:      "packets_dropped_total",
		Help:      "Punted packets dropped by the control plane",
	}, []string{"reason"})

	r.PacketsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simplerouter",
		Name:      "packets_forwarded_total",
		Help:      "Packets re-injected toward a resolved next hop",
	})

	r.PendingPackets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "simplerouter",
		Name:      "pending_packets",
		Help:      "Packets queued awaiting ARP resolution",
	})

	r.ARPRequestsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simplerouter",
		Name:      "arp_requests_sent_total",
		Help:      "ARP requests sent for unresolved next hops",
	})

	r.ARPRepliesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simplerouter",
		Name:      "arp_replies_sent_total",
		Help:      "ARP replies sent for router interface addresses",
	})

	r.NeighborsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simplerouter",
		Name:      "neighbors_resolved_total",
		Help:      "Next hops whose MAC address was learned",
	})

	r.TableWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simplerouter",
		Name:      "table_writes_total",
		Help:      "Device table writes, by table and result",
	}, []string{"table", "result"})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simplerouter",
		Name:      "api_requests_total",
		Help:      "Management API requests",
	}, []string{"method", "route", "code"})

	return r
}
