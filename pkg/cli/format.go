// Package cli provides terminal formatting helpers for the simplerouter CLI.
package cli

import (
	"os"
	"strconv"
)

// colorEnabled is false when NO_COLOR env var is set (per no-color.org).
var colorEnabled = os.Getenv("NO_COLOR") == ""

func wrap(code, s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Green wraps s in ANSI green.
func Green(s string) string { return wrap("32", s) }

// Yellow wraps s in ANSI yellow.
func Yellow(s string) string { return wrap("33", s) }

// Red wraps s in ANSI red.
func Red(s string) string { return wrap("31", s) }

// Bold wraps s in ANSI bold.
func Bold(s string) string { return wrap("1", s) }

// HandleString renders a table handle, showing "-" for an unset handle.
func HandleString(h uint64) string {
	if h == 0 {
		return Yellow("-")
	}
	return Green(strconv.FormatUint(h, 10))
}
