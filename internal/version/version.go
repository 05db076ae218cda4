// Package version carries the build identity, stamped via ldflags.
package version

import "fmt"

var (
	Name    = "poolgate"
	Version = "v0.1.0"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the one-line banner logged at startup.
func String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", Name, Version, Commit, Date)
}
