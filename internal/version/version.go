// Package version carries build metadata stamped in with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release version of the scanner tools.
	Version = "dev"
	// GitSHA is the commit the binaries were built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for --version output and status pages.
func String() string {
	if GitSHA == "unknown" && BuildTime == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
