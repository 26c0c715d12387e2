package device

import (
	"encoding/json"
	"fmt"
	"sort"
)

const (
	applDB     = 0 // APPL_DB
	countersDB = 2 // COUNTERS_DB
	stateDB    = 6 // STATE_DB

	tablePrefix   = "P4RT_TABLE"
	defaultPrefix = "P4RT_DEFAULT"
	handleSeqKey  = "P4RT_HANDLE_SEQ"
	pipelineKey   = "P4RT_PIPELINE_CONFIG"

	PacketOutChannel = "P4RT_PACKET_OUT"
	PacketInChannel  = "P4RT_PACKET_IN"
)

// entryKey returns the APPL_DB key of a table entry:
//
//	P4RT_TABLE:ipv4_lpm:{"match/dstAddr":"10.1.0.0/16"}
//
// encoding/json sorts map keys, so field order in m does not matter.
func entryKey(table string, m Match) (string, error) {
	if len(m) == 0 {
		return "", fmt.Errorf("table %s: empty match", table)
	}
	fields := make(map[string]string, len(m))
	for _, f := range m {
		if _, dup := fields["match/"+f.Name]; dup {
			return "", fmt.Errorf("table %s: duplicate match field %s", table, f.Name)
		}
		fields["match/"+f.Name] = f.Value
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%s", tablePrefix, table, b), nil
}

func defaultKey(table string) string {
	return fmt.Sprintf("%s:%s", defaultPrefix, table)
}

func counterKey(name string, index uint32) string {
	return fmt.Sprintf("COUNTERS:%s:%d", name, index)
}

func lockKey(device string) string {
	return fmt.Sprintf("SIMPLEROUTER_LOCK|%s", device)
}

// actionFields flattens an action into hash field/value pairs with params in
// name order.
func actionFields(a Action) []interface{} {
	out := []interface{}{"action", a.Name}
	names := make([]string, 0, len(a.Params))
	for n := range a.Params {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		out = append(out, "param/"+n, a.Params[n])
	}
	return out
}
