// Package version carries build metadata stamped in via -ldflags.
package version

import "fmt"

var (
	// Version is the toolkit version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns a one-line description of the build.
func String() string {
	return fmt.Sprintf("trackfit %s (%s, built %s)", Version, GitSHA, BuildTime)
}
