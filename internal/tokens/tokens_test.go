package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{
			name:     "empty string",
			input:    "",
			expected: 0,
		},
		{
			name:     "exact multiple of four",
			input:    "abcd",
			expected: 1,
		},
		{
			name:     "rounds up",
			input:    "abcde",
			expected: 2,
		},
		{
			name:     "single char",
			input:    "a",
			expected: 1,
		},
		{
			name:     "longer text",
			input:    strings.Repeat("x", 100),
			expected: 25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Estimate(tt.input))
		})
	}
}

func TestEstimateChars(t *testing.T) {
	assert.Equal(t, 0, EstimateChars(0))
	assert.Equal(t, 0, EstimateChars(-5))
	assert.Equal(t, 1, EstimateChars(4))
	assert.Equal(t, 2, EstimateChars(5))

	// Ceiling of a sum differs from a sum of ceilings; the digest
	// depends on the former.
	assert.Equal(t, 3, EstimateChars(5+5))
	assert.Equal(t, 4, Estimate("abcde")+Estimate("abcde"))
}

func TestCount(t *testing.T) {
	assert.Equal(t, 0, Count(""))
	assert.Greater(t, Count("hello world"), 0)

	// A real tokenizer beats chars/4 on ordinary prose
	text := "The quick brown fox jumps over the lazy dog."
	assert.LessOrEqual(t, Count(text), Estimate(text)+5)
}
