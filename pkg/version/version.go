// Package version carries build metadata set at link time:
//
//	go build -ldflags "-X github.com/newtron-network/simplerouter/pkg/version.Version=v0.3.0 \
//	  -X github.com/newtron-network/simplerouter/pkg/version.GitCommit=abc1234 \
//	  -X github.com/newtron-network/simplerouter/pkg/version.BuildDate=2026-01-01T00:00:00Z"
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns a one-line version string for display.
func Info() string {
	return fmt.Sprintf("simplerouter %s (%s) built %s, %s %s/%s",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Holder returns a default controller identity for device binding.
func Holder(host string) string {
	return fmt.Sprintf("simplerouter-%s@%s", Version, host)
}
