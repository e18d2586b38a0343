package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String renders the build stamp for the version subcommand and startup log.
func String() string {
	return fmt.Sprintf("scan3d %s (git %s, built %s)", Version, GitSHA, BuildTime)
}
