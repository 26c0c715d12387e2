// Package device is the control-plane client for a programmable forwarding
// device whose tables, counters, and packet I/O are exposed through Redis.
//
// The layout follows SONiC's database split:
//
//	APPL_DB (0)      P4RT_TABLE:<table>:<match-json>  installed entries
//	                 P4RT_DEFAULT:<table>             default actions
//	                 P4RT_PIPELINE_CONFIG             forwarding pipeline blob
//	COUNTERS_DB (2)  COUNTERS:<name>:<index>          packet/byte counters
//	STATE_DB (6)     SIMPLEROUTER_LOCK|<device>       controller binding
//
// Packet-out and packet-in travel on the P4RT_PACKET_OUT and P4RT_PACKET_IN
// pub/sub channels, each message a CPU header followed by an Ethernet frame.
package device

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
)

// Handle identifies an installed table entry on the device.
type Handle uint64

func (h Handle) String() string {
	return strconv.FormatUint(uint64(h), 10)
}

var (
	ErrEntryExists     = errors.New("table entry already exists")
	ErrEntryNotFound   = errors.New("table entry not found")
	ErrCounterNotFound = errors.New("counter not found")
	ErrEmptyConfig     = errors.New("empty pipeline config")
)

// MatchField is one key field of a table entry.
type MatchField struct {
	Name  string
	Value string
}

// Match is the full key of a table entry.
type Match []MatchField

// Exact returns an exact-match field.
func Exact(name, value string) MatchField {
	return MatchField{Name: name, Value: value}
}

// LPM returns a longest-prefix-match field. The prefix is stored masked.
func LPM(name string, prefix netip.Prefix) MatchField {
	return MatchField{Name: name, Value: prefix.Masked().String()}
}

// Action is an action name with its parameters.
type Action struct {
	Name   string
	Params map[string]string
}

// NewAction returns an action with params given as name/value pairs.
func NewAction(name string, kv ...string) Action {
	a := Action{Name: name}
	if len(kv) > 0 {
		a.Params = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			a.Params[kv[i]] = kv[i+1]
		}
	}
	return a
}

func (a Action) String() string {
	if len(a.Params) == 0 {
		return a.Name
	}
	return fmt.Sprintf("%s%v", a.Name, a.Params)
}

// Counter is a snapshot of a device counter cell.
type Counter struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}
