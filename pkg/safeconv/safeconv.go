// Package safeconv converts between integer widths without silent
// wrap-around.
package safeconv

import "math"

// Int64 converts v, saturating at math.MaxInt64. Counters handed to APIs that
// only take signed values go through here.
func Int64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(v)
}

// MustUint8 converts a channel index known to lie in [0, 255]. It panics
// otherwise.
func MustUint8(v int) uint8 {
	if v < 0 || v > math.MaxUint8 {
		panic("safeconv: int to uint8 out of bounds")
	}

	return uint8(v)
}
