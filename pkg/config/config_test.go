package config

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/simplerouter/pkg/util"
)

const fullConfig = `
device:
  name: sw1
  redis_addr: 192.0.2.10:6379
  bind_ttl: 30s
update_mode: device
listen:
  api: 0.0.0.0:9000
  metrics: 0.0.0.0:9100
log_level: debug
audit_log: /var/log/simplerouter/audit.log
interfaces:
  - port: 1
    ip: 10.0.0.1
    mac: "00:aa:bb:00:00:01"
  - port: 2
    ip: 10.0.1.1
    mac: "00:aa:bb:00:00:02"
routes:
  - prefix: 10.1.0.7/16
    next_hop: 10.0.0.5
    port: 1
`

func TestParseFull(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Device.Name != "sw1" || cfg.Device.RedisAddr != "192.0.2.10:6379" {
		t.Errorf("device = %+v", cfg.Device)
	}
	if cfg.BindTTL != 30*time.Second {
		t.Errorf("BindTTL = %v", cfg.BindTTL)
	}
	if cfg.UpdateMode != "device" {
		t.Errorf("UpdateMode = %q", cfg.UpdateMode)
	}
	if cfg.AuditLog != "/var/log/simplerouter/audit.log" {
		t.Errorf("AuditLog = %q", cfg.AuditLog)
	}
	if cfg.Listen.Metrics != "0.0.0.0:9100" {
		t.Errorf("Listen = %+v", cfg.Listen)
	}
	if len(cfg.Interfaces) != 2 {
		t.Fatalf("len(Interfaces) = %d", len(cfg.Interfaces))
	}
	if cfg.Interfaces[1].Port != 2 || cfg.Interfaces[1].IP != netip.MustParseAddr("10.0.1.1") {
		t.Errorf("Interfaces[1] = %+v", cfg.Interfaces[1])
	}
	if cfg.Interfaces[0].MAC.String() != "00:aa:bb:00:00:01" {
		t.Errorf("Interfaces[0].MAC = %v", cfg.Interfaces[0].MAC)
	}
	if len(cfg.Routes) != 1 {
		t.Fatalf("len(Routes) = %d", len(cfg.Routes))
	}
	r := cfg.Routes[0]
	if r.Prefix != netip.MustParsePrefix("10.1.0.0/16") || r.NextHop != netip.MustParseAddr("10.0.0.5") || r.Port != 1 {
		t.Errorf("Routes[0] = %+v", r)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("device:\n  name: sw1\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Device.RedisAddr != DefaultRedisAddr {
		t.Errorf("RedisAddr = %q", cfg.Device.RedisAddr)
	}
	if cfg.Device.Holder != "" {
		t.Errorf("Holder = %q, want unset", cfg.Device.Holder)
	}
	if cfg.UpdateMode != DefaultUpdateMode {
		t.Errorf("UpdateMode = %q", cfg.UpdateMode)
	}
	if cfg.Listen.API != DefaultAPIListen {
		t.Errorf("Listen.API = %q", cfg.Listen.API)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.BindTTL != 0 {
		t.Errorf("BindTTL = %v", cfg.BindTTL)
	}
}

func TestParseSSHDefaults(t *testing.T) {
	cfg, err := Parse([]byte("device:\n  name: sw1\n  ssh:\n    host: 192.0.2.1\n    user: admin\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Device.RedisAddr != "" {
		t.Errorf("RedisAddr should stay empty with ssh, got %q", cfg.Device.RedisAddr)
	}
	if cfg.Device.SSH.Port != 22 {
		t.Errorf("SSH.Port = %d", cfg.Device.SSH.Port)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"missing name", "update_mode: controller\n", "device.name is required"},
		{"bad mode", "device: {name: sw1}\nupdate_mode: lazy\n", "update_mode must be"},
		{"bad ttl", "device: {name: sw1, bind_ttl: soon}\n", "bind_ttl"},
		{"sub-second ttl", "device: {name: sw1, bind_ttl: 500ms}\n", "bind_ttl"},
		{"ssh without host", "device: {name: sw1, ssh: {user: admin}}\n", "device.ssh.host"},
		{"bad interface ip", "device: {name: sw1}\ninterfaces: [{port: 1, ip: 300.0.0.1, mac: '00:aa:bb:00:00:01'}]\n", "interfaces[0].ip"},
		{"ipv6 interface", "device: {name: sw1}\ninterfaces: [{port: 1, ip: '2001:db8::1', mac: '00:aa:bb:00:00:01'}]\n", "interfaces[0].ip"},
		{"bad mac", "device: {name: sw1}\ninterfaces: [{port: 1, ip: 10.0.0.1, mac: zz}]\n", "interfaces[0].mac"},
		{"duplicate port", "device: {name: sw1}\ninterfaces: [{port: 1, ip: 10.0.0.1, mac: '00:aa:bb:00:00:01'}, {port: 1, ip: 10.0.1.1, mac: '00:aa:bb:00:00:02'}]\n", "duplicate port 1"},
		{"bad prefix", "device: {name: sw1}\nroutes: [{prefix: 10.1.0.0/40, next_hop: 10.0.0.5, port: 1}]\n", "routes[0].prefix"},
		{"duplicate prefix", "device: {name: sw1}\nroutes: [{prefix: 10.1.0.0/16, next_hop: 10.0.0.5, port: 1}, {prefix: 10.1.9.9/16, next_hop: 10.0.0.6, port: 2}]\n", "duplicate prefix 10.1.0.0/16"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, util.ErrValidationFailed) {
				t.Errorf("error %v should wrap ErrValidationFailed", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestParseMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("device: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yaml")
	if err := os.WriteFile(path, []byte(fullConfig), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.Name != "sw1" {
		t.Errorf("Device.Name = %q", cfg.Device.Name)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file should fail")
	}
}
