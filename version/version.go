// Package version provides the version information for nvswitchd.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Package is filled at linking time
	Package = "github.com/leptonai/nvswitchd"

	// Version holds the complete version number. Filled in at linking time.
	Version = "0.0.1+unknown"

	// Revision is filled with the VCS (e.g. git) revision being used to build
	// the program at linking time.
	Revision = ""

	// BuildTimestamp is the build timestamp.
	BuildTimestamp = ""

	// GoVersion is Go tree's version.
	GoVersion = runtime.Version()
)

// String returns the version line printed by "nvswitchd --version".
func String() string {
	s := Version
	if Revision != "" {
		s += " (" + Revision + ")"
	}
	if BuildTimestamp != "" {
		s += " built " + BuildTimestamp
	}
	return fmt.Sprintf("%s %s", s, GoVersion)
}
