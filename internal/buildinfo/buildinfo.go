// Package buildinfo describes the running binary.
package buildinfo

import "github.com/maloquacious/semver"

var (
	version   = semver.Version{Minor: 1, PreRelease: "alpha", Build: semver.Commit()}
	buildDate = ""
)

// Version returns the semantic version of this build.
func Version() string {
	return version.String()
}

// BuildDate is set with -ldflags "-X github.com/maloquacious/noto/internal/buildinfo.buildDate=...".
func BuildDate() string {
	return buildDate
}
