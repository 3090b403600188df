package util

import "math"

// AsInt16 converts an int to int16, clamping at the int16 bounds. Used for
// HTTP status codes stored in SMALLINT columns.
func AsInt16(i int) int16 {
	if i > math.MaxInt16 {
		return math.MaxInt16
	}
	if i < math.MinInt16 {
		return math.MinInt16
	}
	// #nosec G115 - bounded by explicit check
	return int16(i)
}
