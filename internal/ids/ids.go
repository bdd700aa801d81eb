// Package ids generates and checks note identifiers.
package ids

import (
	"regexp"

	"github.com/google/uuid"
)

var v4Pattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// New returns a random, lowercase, hyphenated UUID v4.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s is shaped like a lowercase UUID v4 with the RFC 4122 variant.
func Valid(s string) bool {
	return v4Pattern.MatchString(s)
}
