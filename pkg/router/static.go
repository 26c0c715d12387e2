package router

import (
	"context"
	"fmt"

	"github.com/newtron-network/simplerouter/pkg/config"
	"github.com/newtron-network/simplerouter/pkg/util"
)

// UpdateMode selects whether static configuration is written to the device
// or only rebuilt locally from what the device already holds.
type UpdateMode int

const (
	// ControllerState pushes every interface and route to the device.
	ControllerState UpdateMode = iota
	// DeviceState issues no device writes; handles are read back instead.
	DeviceState
)

func (m UpdateMode) String() string {
	switch m {
	case ControllerState:
		return "controller"
	case DeviceState:
		return "device"
	default:
		return fmt.Sprintf("UpdateMode(%d)", int(m))
	}
}

// ParseUpdateMode accepts "controller" or "device".
func ParseUpdateMode(s string) (UpdateMode, error) {
	switch s {
	case "controller":
		return ControllerState, nil
	case "device":
		return DeviceState, nil
	}
	return 0, util.NewValidationError(fmt.Sprintf("unknown update mode %q", s))
}

// StaticConfig replays interfaces, then routes. It is best-effort: every
// item is attempted and the first failure is returned. Nothing is rolled
// back. The device's actual contents are not checked against mode.
func (r *Router) StaticConfig(ctx context.Context, mode UpdateMode, ifaces []config.Interface, routes []config.Route) error {
	return r.do(ctx, func() error {
		var first error
		failed := 0
		note := func(err error) {
			if err == nil {
				return
			}
			failed++
			util.WithDevice(r.dev.Name()).Errorf("static config: %v", err)
			if first == nil {
				first = err
			}
		}

		for _, i := range ifaces {
			note(r.addInterface(ctx, mode, i.Port, i.IP, i.MAC))
		}
		for _, rt := range routes {
			_, err := r.addRoute(ctx, mode, rt.Prefix, rt.NextHop, rt.Port)
			note(err)
		}

		util.WithDevice(r.dev.Name()).Infof("static config (%s): %d interfaces, %d routes, %d failed",
			mode, len(ifaces), len(routes), failed)
		return first
	})
}
