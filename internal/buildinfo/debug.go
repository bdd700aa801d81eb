//go:build !release

package buildinfo

// Debug is true unless the binary is built with -tags release.
const Debug = true
