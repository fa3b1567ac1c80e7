// Package buildinfo holds version metadata stamped at link time.
package buildinfo

// Set via -ldflags "-X github.com/poidh-tools/bountydeck/internal/buildinfo.Version=..."
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
