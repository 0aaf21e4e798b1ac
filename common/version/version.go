// Package version holds build metadata injected with -ldflags -X.
package version

import "runtime"

var (
	// Version is the release tag.
	Version = "v0.0.0-dev"

	// GitCommit is the short commit hash.
	GitCommit = "unknown"

	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// Info returns a single-line description for `memlake version`.
func Info() string {
	return "memlake " + Version + " (" + GitCommit + ") built at " + BuildTime + " with " + runtime.Version()
}

// Map returns the build metadata for the health endpoint.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"build_time": BuildTime,
		"go":         runtime.Version(),
	}
}
