// Package version holds build metadata set via -ldflags at release
// build time; a dev build falls back to the zero values below.
package version

var (
	// Version is the release tag, e.g. "v1.4.0". "dev" outside a
	// release build.
	Version = "dev"

	// Commit is the short git commit hash the binary was built from.
	Commit = "unknown"

	// BuildDate is the RFC-3339 timestamp of the build, set by the
	// release pipeline.
	BuildDate = "unknown"
)

// String renders the one-line identifier the binaries report as their
// version in the HTTP surface.
func String() string {
	return Version + " (" + Commit + ", built " + BuildDate + ")"
}
