// Package audit records administrative changes made through the management
// API as JSON lines.
package audit

import (
	"strconv"
	"sync/atomic"
	"time"
)

var eventSeq atomic.Uint64

// Operations recorded by the management API.
const (
	OpAddInterface = "interface.add"
	OpAddRoute     = "route.add"
	OpSetDefaults  = "defaults.set"
	OpUpdateConfig = "pipeline.update"
)

// Event is one administrative change attempt.
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Device    string        `json:"device"`
	Operation string        `json:"operation"`
	Target    string        `json:"target,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	ClientIP  string        `json:"client_ip,omitempty"`
}

// Filter selects events in Query. Zero fields match everything.
type Filter struct {
	Device      string
	Operation   string
	StartTime   time.Time
	EndTime     time.Time
	FailureOnly bool
	// Limit keeps only the most recent events.
	Limit int
}

// NewEvent starts an event for operation on device.
func NewEvent(device, operation string) *Event {
	now := time.Now()
	return &Event{
		ID:        strconv.FormatInt(now.UnixNano(), 36) + "-" + strconv.FormatUint(eventSeq.Add(1), 36),
		Timestamp: now,
		Device:    device,
		Operation: operation,
	}
}

// WithTarget sets what the operation acted on (a prefix, a port).
func (e *Event) WithTarget(target string) *Event {
	e.Target = target
	return e
}

// WithClient records the remote address of the requester.
func (e *Event) WithClient(addr string) *Event {
	e.ClientIP = addr
	return e
}

// Finish records the outcome and the time since the event was created.
func (e *Event) Finish(err error) *Event {
	e.Duration = time.Since(e.Timestamp)
	e.Success = err == nil
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func (f Filter) matches(e *Event) bool {
	if f.Device != "" && e.Device != f.Device {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	if f.FailureOnly && e.Success {
		return false
	}
	return true
}
