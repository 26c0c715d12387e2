// Package health runs liveness checks against the controller and its device.
package health

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/newtron-network/simplerouter/pkg/router"
	"github.com/newtron-network/simplerouter/pkg/util"
)

// Status is the outcome of a check.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

func (s Status) rank() int {
	switch s {
	case StatusOK:
		return 1
	case StatusWarning:
		return 2
	case StatusCritical:
		return 3
	default:
		return 0
	}
}

// Result is the outcome of one check.
type Result struct {
	Check     string        `json:"check"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	Details   interface{}   `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Report collects the results of every check.
type Report struct {
	Device    string        `json:"device"`
	Timestamp time.Time     `json:"timestamp"`
	Overall   Status        `json:"overall"`
	Results   []Result      `json:"results"`
	Duration  time.Duration `json:"duration"`
}

// DeviceProbe is the part of the device client the checks use.
type DeviceProbe interface {
	Connect(ctx context.Context) error
	BoundHolder(ctx context.Context) (string, error)
}

// EngineProbe is the part of the router engine the checks use.
type EngineProbe interface {
	Snapshot(ctx context.Context) (*router.State, error)
}

// Target is what the checks inspect. Checks whose input is nil report
// StatusUnknown.
type Target struct {
	Name   string
	Holder string
	Device DeviceProbe
	Engine EngineProbe
}

// Check is a single health check.
type Check interface {
	Name() string
	Run(ctx context.Context, t Target) Result
}

// Checker runs a set of checks.
type Checker struct {
	checks []Check
}

// NewChecker creates a checker with the default checks.
func NewChecker() *Checker {
	return &Checker{
		checks: []Check{
			&DeviceCheck{},
			&BindingCheck{},
			&EngineCheck{},
			&ResolutionCheck{},
		},
	}
}

// AddCheck adds a custom check.
func (c *Checker) AddCheck(check Check) {
	c.checks = append(c.checks, check)
}

// ListChecks returns the names of all checks.
func (c *Checker) ListChecks() []string {
	names := make([]string, len(c.checks))
	for i, check := range c.checks {
		names[i] = check.Name()
	}
	return names
}

// Run runs every check. Overall is the worst known status; it is unknown
// only when no check could run.
func (c *Checker) Run(ctx context.Context, t Target) *Report {
	start := time.Now()
	report := &Report{
		Device:    t.Name,
		Timestamp: start,
		Overall:   StatusUnknown,
	}
	for _, check := range c.checks {
		result := runTimed(ctx, check, t)
		report.Results = append(report.Results, result)
		if result.Status.rank() > report.Overall.rank() {
			report.Overall = result.Status
		}
	}
	report.Duration = time.Since(start)
	return report
}

// RunCheck runs the named check.
func (c *Checker) RunCheck(ctx context.Context, t Target, name string) (*Result, error) {
	for _, check := range c.checks {
		if check.Name() == name {
			result := runTimed(ctx, check, t)
			return &result, nil
		}
	}
	return nil, util.NewNotFoundError("health check", name)
}

func runTimed(ctx context.Context, check Check, t Target) Result {
	start := time.Now()
	result := check.Run(ctx, t)
	result.Check = check.Name()
	result.Timestamp = start
	result.Duration = time.Since(start)
	return result
}

func unknown(what string) Result {
	return Result{Status: StatusUnknown, Message: "no " + what + " to check"}
}

// DeviceCheck verifies every device database answers.
type DeviceCheck struct{}

func (c *DeviceCheck) Name() string { return "device" }

func (c *DeviceCheck) Run(ctx context.Context, t Target) Result {
	if t.Device == nil {
		return unknown("device")
	}
	if err := t.Device.Connect(ctx); err != nil {
		return Result{Status: StatusCritical, Message: err.Error()}
	}
	return Result{Status: StatusOK, Message: "Device reachable"}
}

// BindingCheck verifies the device binding belongs to the expected holder.
type BindingCheck struct{}

func (c *BindingCheck) Name() string { return "binding" }

func (c *BindingCheck) Run(ctx context.Context, t Target) Result {
	if t.Device == nil {
		return unknown("device")
	}
	holder, err := t.Device.BoundHolder(ctx)
	switch {
	case err != nil:
		return Result{Status: StatusCritical, Message: err.Error()}
	case holder == "":
		return Result{Status: StatusCritical, Message: "Device is not bound"}
	case t.Holder != "" && holder != t.Holder:
		return Result{Status: StatusCritical, Message: fmt.Sprintf("Device bound to %s", holder)}
	}
	return Result{Status: StatusOK, Message: "Bound to " + holder}
}

// EngineCheck verifies the router engine is running and assigned.
type EngineCheck struct{}

func (c *EngineCheck) Name() string { return "engine" }

func (c *EngineCheck) Run(ctx context.Context, t Target) Result {
	if t.Engine == nil {
		return unknown("engine")
	}
	st, err := t.Engine.Snapshot(ctx)
	if err != nil {
		return Result{Status: StatusCritical, Message: err.Error()}
	}
	details := map[string]int{
		"interfaces": len(st.Interfaces),
		"routes":     len(st.Routes),
		"neighbors":  len(st.Neighbors),
	}
	if !st.Assigned {
		return Result{Status: StatusWarning, Message: "Engine running but not assigned", Details: details}
	}
	return Result{Status: StatusOK, Message: "Engine running", Details: details}
}

// ResolutionCheck warns about next hops with packets waiting on ARP.
type ResolutionCheck struct{}

func (c *ResolutionCheck) Name() string { return "arp" }

func (c *ResolutionCheck) Run(ctx context.Context, t Target) Result {
	if t.Engine == nil {
		return unknown("engine")
	}
	st, err := t.Engine.Snapshot(ctx)
	if err != nil {
		return Result{Status: StatusCritical, Message: err.Error()}
	}
	waiting := make(map[string]int)
	for _, p := range st.Pending {
		if p.Packets > 0 {
			waiting[p.NextHop.String()] = p.Packets
		}
	}
	if len(waiting) == 0 {
		return Result{Status: StatusOK, Message: "No packets awaiting resolution"}
	}
	hops := make([]string, 0, len(waiting))
	for h := range waiting {
		hops = append(hops, h)
	}
	sort.Strings(hops)
	return Result{
		Status:  StatusWarning,
		Message: fmt.Sprintf("%d next hop(s) unresolved: %v", len(hops), hops),
		Details: waiting,
	}
}
