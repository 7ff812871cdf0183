// Package version carries the build identity stamped into the credparity
// binary via -ldflags.
package version

var (
	// Release is the credparity release tag, "dev" for local builds.
	Release = "dev"
	// Commit is the short git revision the binary was built from.
	Commit = "unknown"
	// BuildDate is the UTC timestamp of the build.
	BuildDate = "unknown"
)

// String renders the identity as a single line for logs and the CLI.
func String() string {
	return Release + " (" + Commit + ", built " + BuildDate + ")"
}
