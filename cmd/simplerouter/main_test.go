package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/newtron-network/simplerouter/pkg/audit"
	"github.com/newtron-network/simplerouter/pkg/util"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "router.yaml")
	data := `device:
  name: sw1
  holder: ctl-test
interfaces:
  - {port: 1, ip: 10.0.0.1, mac: "00:aa:bb:00:00:01"}
routes:
  - {prefix: 10.1.0.0/16, next_hop: 10.0.0.5, port: 1}
` + extra
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestShowConfig(t *testing.T) {
	out, err := execute(t, "-c", writeConfig(t, ""), "show-config")
	if err != nil {
		t.Fatalf("show-config: %v", err)
	}
	for _, want := range []string{"sw1", "ctl-test", "controller", "10.0.0.1", "00:aa:bb:00:00:01", "10.1.0.0/16", "10.0.0.5"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestShowConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("update_mode: sideways\n"), 0644)
	if _, err := execute(t, "-c", path, "show-config"); err == nil {
		t.Error("expected validation error")
	}
}

func TestAuditCommand(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	l, err := audit.NewFileLogger(logPath, audit.RotationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	l.Log(audit.NewEvent("sw1", audit.OpAddRoute).WithTarget("10.2.0.0/16").Finish(nil))
	l.Log(audit.NewEvent("sw2", audit.OpAddRoute).WithTarget("10.3.0.0/16").Finish(nil))
	l.Close()

	out, err := execute(t, "-c", writeConfig(t, "audit_log: "+logPath+"\n"), "audit")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !strings.Contains(out, "10.2.0.0/16") {
		t.Errorf("missing sw1 event:\n%s", out)
	}
	if strings.Contains(out, "10.3.0.0/16") {
		t.Errorf("other device's event listed:\n%s", out)
	}
}

func TestAuditCommandUnset(t *testing.T) {
	if _, err := execute(t, "-c", writeConfig(t, ""), "audit"); err == nil {
		t.Error("expected error without audit_log")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil || !strings.Contains(out, "simplerouter") {
		t.Errorf("version = %q, %v", out, err)
	}
}

func TestStateCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/state" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"device":"sw1","assigned":true,
			"interfaces":[{"port":1,"ip":"10.0.0.1","mac":"00:aa:bb:00:00:01","handle":4}],
			"routes":[{"prefix":"10.1.0.0/16","next_hop":"10.0.0.5","port":1,"handle":0}],
			"next_hops":[],"neighbors":[],
			"pending":[{"next_hop":"10.0.0.5","port":1,"state":"request_sent","packets":2}]}`))
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	out, err := execute(t, "-c", writeConfig(t, "listen:\n  api: "+addr+"\n"), "state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	for _, want := range []string{"10.0.0.1", "10.1.0.0/16", "request_sent", "(none)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

type fakeHolder struct {
	owner string
	err   error
}

func (f fakeHolder) BoundHolder(context.Context) (string, error) { return f.owner, f.err }

func TestCheckBinding(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		dev     fakeHolder
		force   bool
		wantErr error
	}{
		{"unbound", fakeHolder{}, false, nil},
		{"bound to self", fakeHolder{owner: "ctl-test"}, false, nil},
		{"bound to other", fakeHolder{owner: "ctl-other"}, false, util.ErrDeviceLocked},
		{"forced", fakeHolder{owner: "ctl-other"}, true, nil},
		{"read failure", fakeHolder{err: errors.New("conn reset")}, true, errors.New("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkBinding(ctx, tt.dev, "sw1", "ctl-test", tt.force)
			switch {
			case tt.wantErr == nil && err != nil:
				t.Errorf("checkBinding = %v, want nil", err)
			case tt.wantErr != nil && err == nil:
				t.Error("checkBinding = nil, want error")
			case errors.Is(tt.wantErr, util.ErrDeviceLocked) && !errors.Is(err, util.ErrDeviceLocked):
				t.Errorf("checkBinding = %v, want ErrDeviceLocked", err)
			}
		})
	}
}
