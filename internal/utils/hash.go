package utils

import "unicode/utf16"

// RollingHash folds s into a signed 32-bit polynomial hash:
// acc = acc*31 + c for every UTF-16 code unit c, wrapping on overflow.
func RollingHash(s string) int32 {
	var acc int32
	for _, c := range utf16.Encode([]rune(s)) {
		acc = acc*31 + int32(c)
	}
	return acc
}

// SeedIndex reduces the hash of seed to an index in [0, n).
// The absolute value is taken in 64 bits so math.MinInt32 stays positive.
func SeedIndex(seed string, n int) int {
	if n <= 0 {
		return 0
	}
	h := int64(RollingHash(seed))
	if h < 0 {
		h = -h
	}
	return int(h % int64(n))
}
