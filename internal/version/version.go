package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build identity for logs and the run ledger.
func String() string {
	return fmt.Sprintf("%s (%s, built %s, %s)", Version, GitSHA, BuildTime, runtime.Version())
}
