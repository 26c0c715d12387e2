package util

import (
	"fmt"
	"net"
	"net/netip"
)

// ParseIPv4 parses a dotted-quad IPv4 address. IPv6 and IPv4-mapped IPv6
// forms are rejected.
func ParseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IPv4 address: %s", s)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("not an IPv4 address: %s", s)
	}
	return addr, nil
}

// ParseIPv4Prefix parses an IPv4 CIDR and returns it masked to its network
// address ("10.0.0.7/24" becomes "10.0.0.0/24").
func ParseIPv4Prefix(s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid CIDR notation: %s", s)
	}
	if !p.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("not an IPv4 prefix: %s", s)
	}
	return p.Masked(), nil
}

// ParseMAC parses a 48-bit Ethernet MAC address.
func ParseMAC(s string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("invalid MAC address: %s", s)
	}
	if len(mac) != 6 {
		return nil, fmt.Errorf("not an Ethernet MAC address: %s", s)
	}
	return mac, nil
}

// IsValidIPv4 checks if a string is a valid IPv4 address
func IsValidIPv4(s string) bool {
	_, err := ParseIPv4(s)
	return err == nil
}

// IsValidIPv4CIDR checks if a string is a valid IPv4 CIDR
func IsValidIPv4CIDR(s string) bool {
	_, err := ParseIPv4Prefix(s)
	return err == nil
}

// IsValidMAC checks if a string is a valid Ethernet MAC address
func IsValidMAC(s string) bool {
	_, err := ParseMAC(s)
	return err == nil
}
