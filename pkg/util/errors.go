// Package util provides logging helpers, address parsing, and the error
// taxonomy shared by the router packages.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrAlreadyAssigned  = errors.New("router already assigned to device")
	ErrDeviceBinding    = errors.New("device binding failed")
	ErrInstall          = errors.New("table entry install failed")
	ErrConfig           = errors.New("pipeline config rejected")
	ErrNotFound         = errors.New("resource not found")
	ErrStreamTerminated = errors.New("packet-in stream terminated")
	ErrValidationFailed = errors.New("validation failed")
	ErrDeviceLocked     = errors.New("device locked by another holder")
	ErrNotRunning       = errors.New("router engine not running")
)

// InstallError reports a device table mutation the device rejected.
type InstallError struct {
	Table string
	Key   string
	Err   error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("installing %s entry %s: %v", e.Table, e.Key, e.Err)
}

func (e *InstallError) Unwrap() []error {
	return []error{ErrInstall, e.Err}
}

// NewInstallError creates an install error
func NewInstallError(table, key string, err error) *InstallError {
	return &InstallError{Table: table, Key: key, Err: err}
}

// BindingError reports a failed attempt to bind a router to its device.
type BindingError struct {
	Device string
	Err    error
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("binding to device %s: %v", e.Device, e.Err)
}

func (e *BindingError) Unwrap() []error {
	return []error{ErrDeviceBinding, e.Err}
}

// NewBindingError creates a binding error
func NewBindingError(device string, err error) *BindingError {
	return &BindingError{Device: device, Err: err}
}

// ConfigError reports a pipeline configuration push the device rejected.
type ConfigError struct {
	Size int
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pushing pipeline config (%d bytes): %v", e.Size, e.Err)
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrConfig, e.Err}
}

// NewConfigError creates a config error
func NewConfigError(size int, err error) *ConfigError {
	return &ConfigError{Size: size, Err: err}
}

// NotFoundError reports a lookup miss on a named resource.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a not-found error
func NewNotFoundError(kind, name string) *NotFoundError {
	return &NotFoundError{Kind: kind, Name: name}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
