// Package config loads the router's YAML configuration file.
//
// Example:
//
//	device:
//	  name: sw1
//	  redis_addr: 127.0.0.1:6379
//	update_mode: controller
//	listen:
//	  api: 127.0.0.1:8080
//	audit_log: /var/log/simplerouter/audit.log
//	interfaces:
//	  - {port: 1, ip: 10.0.0.1, mac: "00:aa:bb:00:00:01"}
//	routes:
//	  - {prefix: 10.1.0.0/16, next_hop: 10.0.0.5, port: 1}
package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/simplerouter/pkg/util"
)

// Defaults applied to fields left empty.
const (
	DefaultRedisAddr  = "127.0.0.1:6379"
	DefaultUpdateMode = "controller"
	DefaultAPIListen  = "127.0.0.1:8080"
	DefaultLogLevel   = "info"
)

// File is the on-disk form of the configuration.
type File struct {
	Device     DeviceSection      `yaml:"device"`
	UpdateMode string             `yaml:"update_mode"`
	Listen     ListenSection      `yaml:"listen"`
	LogLevel   string             `yaml:"log_level"`
	AuditLog   string             `yaml:"audit_log"`
	Interfaces []InterfaceSection `yaml:"interfaces"`
	Routes     []RouteSection     `yaml:"routes"`
}

// DeviceSection identifies the managed device. An empty Holder is filled in
// by the caller from the host name.
type DeviceSection struct {
	Name      string      `yaml:"name"`
	RedisAddr string      `yaml:"redis_addr"`
	Holder    string      `yaml:"holder"`
	BindTTL   string      `yaml:"bind_ttl"`
	SSH       *SSHSection `yaml:"ssh,omitempty"`
}

type SSHSection struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Remote   string `yaml:"remote"`
}

// ListenSection holds listener addresses. An empty Metrics address serves
// /metrics on the API listener.
type ListenSection struct {
	API     string `yaml:"api"`
	Metrics string `yaml:"metrics"`
}

type InterfaceSection struct {
	Port uint16 `yaml:"port"`
	IP   string `yaml:"ip"`
	MAC  string `yaml:"mac"`
}

type RouteSection struct {
	Prefix  string `yaml:"prefix"`
	NextHop string `yaml:"next_hop"`
	Port    uint16 `yaml:"port"`
}

// Interface is a router port with its addresses.
type Interface struct {
	Port uint16
	IP   netip.Addr
	MAC  net.HardwareAddr
}

// Route is a static route.
type Route struct {
	Prefix  netip.Prefix
	NextHop netip.Addr
	Port    uint16
}

// Config is the validated configuration.
type Config struct {
	File
	BindTTL    time.Duration
	Interfaces []Interface
	Routes     []Route
}

// Load reads, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates configuration YAML.
func Parse(data []byte) (*Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	applyDefaults(&f)
	return build(&f)
}

func applyDefaults(f *File) {
	if f.Device.RedisAddr == "" && f.Device.SSH == nil {
		f.Device.RedisAddr = DefaultRedisAddr
	}
	if f.UpdateMode == "" {
		f.UpdateMode = DefaultUpdateMode
	}
	if f.Listen.API == "" {
		f.Listen.API = DefaultAPIListen
	}
	if f.LogLevel == "" {
		f.LogLevel = DefaultLogLevel
	}
	if f.Device.SSH != nil && f.Device.SSH.Port == 0 {
		f.Device.SSH.Port = 22
	}
}

func build(f *File) (*Config, error) {
	cfg := &Config{File: *f}
	v := &util.ValidationBuilder{}

	v.Add(f.Device.Name != "", "device.name is required")
	if f.Device.SSH != nil {
		v.Add(f.Device.SSH.Host != "", "device.ssh.host is required")
		v.Add(f.Device.SSH.User != "", "device.ssh.user is required")
	}
	if f.Device.BindTTL != "" {
		ttl, err := time.ParseDuration(f.Device.BindTTL)
		switch {
		case err != nil || ttl < 0:
			v.AddErrorf("device.bind_ttl: invalid duration %q", f.Device.BindTTL)
		case ttl > 0 && ttl < time.Second:
			v.AddErrorf("device.bind_ttl: %s is below the 1s binding granularity", ttl)
		}
		cfg.BindTTL = ttl
	}
	v.Add(f.UpdateMode == "controller" || f.UpdateMode == "device",
		fmt.Sprintf("update_mode must be controller or device, got %q", f.UpdateMode))

	ports := make(map[uint16]bool)
	ips := make(map[netip.Addr]bool)
	for i, s := range f.Interfaces {
		ip, ipErr := util.ParseIPv4(s.IP)
		mac, macErr := util.ParseMAC(s.MAC)
		if ipErr != nil {
			v.AddErrorf("interfaces[%d].ip: %v", i, ipErr)
		}
		if macErr != nil {
			v.AddErrorf("interfaces[%d].mac: %v", i, macErr)
		}
		if ports[s.Port] {
			v.AddErrorf("interfaces[%d]: duplicate port %d", i, s.Port)
		}
		if ipErr == nil && ips[ip] {
			v.AddErrorf("interfaces[%d]: duplicate ip %s", i, ip)
		}
		ports[s.Port] = true
		ips[ip] = true
		cfg.Interfaces = append(cfg.Interfaces, Interface{Port: s.Port, IP: ip, MAC: mac})
	}

	prefixes := make(map[netip.Prefix]bool)
	for i, s := range f.Routes {
		prefix, pErr := util.ParseIPv4Prefix(s.Prefix)
		nh, nhErr := util.ParseIPv4(s.NextHop)
		if pErr != nil {
			v.AddErrorf("routes[%d].prefix: %v", i, pErr)
		}
		if nhErr != nil {
			v.AddErrorf("routes[%d].next_hop: %v", i, nhErr)
		}
		if pErr == nil && prefixes[prefix] {
			v.AddErrorf("routes[%d]: duplicate prefix %s", i, prefix)
		}
		prefixes[prefix] = true
		cfg.Routes = append(cfg.Routes, Route{Prefix: prefix, NextHop: nh, Port: s.Port})
	}

	if err := v.Build(); err != nil {
		return nil, err
	}
	return cfg, nil
}
