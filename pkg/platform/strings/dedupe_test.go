package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{
			name:     "trims and drops blanks",
			input:    []string{"  user-1 ", "", "   ", "user-2"},
			expected: []string{"user-1", "user-2"},
		},
		{
			name:     "first occurrence wins",
			input:    []string{"user-2", "user-1", " user-2", "user-1"},
			expected: []string{"user-2", "user-1"},
		},
		{
			name:     "case sensitive",
			input:    []string{"User-1", "user-1"},
			expected: []string{"User-1", "user-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "", FirstNonEmpty())
	assert.Equal(t, "", FirstNonEmpty("", "  "))
	assert.Equal(t, "b", FirstNonEmpty(" ", " b ", "c"))
}
