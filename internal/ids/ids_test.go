package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsValid(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		assert.True(t, Valid(id), "generated id %q", id)
		assert.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"3f2b8c1e-9a4d-4e6f-8b1c-2d3e4f5a6b7c", true},
		{"3f2b8c1e-9a4d-4e6f-bb1c-2d3e4f5a6b7c", true},
		{"3F2B8C1E-9A4D-4E6F-8B1C-2D3E4F5A6B7C", false},
		{"3f2b8c1e-9a4d-1e6f-8b1c-2d3e4f5a6b7c", false},
		{"3f2b8c1e-9a4d-4e6f-cb1c-2d3e4f5a6b7c", false},
		{"3f2b8c1e9a4d4e6f8b1c2d3e4f5a6b7c", false},
		{"42", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Valid(tt.id), tt.id)
	}
}
