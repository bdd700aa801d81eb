//go:build release

package buildinfo

const Debug = false
