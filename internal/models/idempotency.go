package models

import (
	"errors"
	"fmt"
)

// MaxIdempotencyKeyLength is the longest idempotency key a client may supply, in bytes.
const MaxIdempotencyKeyLength = 50

// ErrInvalidIdempotencyKey is returned when a client supplied key fails the syntactic check.
var ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")

// IdempotencyKey is a client supplied opaque string which has passed ParseIdempotencyKey.
// Together with a principal ID it identifies at most one command execution.
type IdempotencyKey string

// ParseIdempotencyKey checks that s is non-empty and at most MaxIdempotencyKeyLength bytes.
func ParseIdempotencyKey(s string) (IdempotencyKey, error) {
	if s == "" {
		return "", fmt.Errorf("%w: key cannot be empty", ErrInvalidIdempotencyKey)
	}

	if len(s) > MaxIdempotencyKeyLength {
		return "", fmt.Errorf("%w: key must be at most %d characters, got %d",
			ErrInvalidIdempotencyKey, MaxIdempotencyKeyLength, len(s))
	}

	return IdempotencyKey(s), nil
}

func (k IdempotencyKey) String() string {
	return string(k)
}
