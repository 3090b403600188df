package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAsInt16(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		expected int16
	}{
		{
			name:     "zero value",
			input:    0,
			expected: 0,
		},
		{
			name:     "http status code",
			input:    303,
			expected: 303,
		},
		{
			name:     "max int16 value",
			input:    math.MaxInt16,
			expected: math.MaxInt16,
		},
		{
			name:     "value above max int16",
			input:    math.MaxInt16 + 1,
			expected: math.MaxInt16,
		},
		{
			name:     "value below min int16",
			input:    math.MinInt16 - 1,
			expected: math.MinInt16,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, AsInt16(tt.input))
		})
	}
}
