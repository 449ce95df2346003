// Package version exposes build metadata set via -ldflags.
package version

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X traceflow/internal/version.Version=v0.1.0 -X traceflow/internal/version.Commit=$(git rev-parse --short HEAD)"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("traceflow %s (commit %s, built %s)", Version, Commit, Date)
}
