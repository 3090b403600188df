package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseIdempotencyKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "empty key is rejected", input: "", wantErr: true},
		{name: "single character", input: "a"},
		{name: "uuid", input: "0199f0a4-6ad4-7b52-9a3e-1f2f4c8b2d11"},
		{name: "exactly max length", input: strings.Repeat("k", MaxIdempotencyKeyLength)},
		{name: "one over max length", input: strings.Repeat("k", MaxIdempotencyKeyLength+1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseIdempotencyKey(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidIdempotencyKey)
				require.Empty(t, key)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.input, key.String())
		})
	}
}
