// Package utils holds tiny helpers shared across layers. Nothing in here
// knows about posts, artists, or HTTP.
package utils

import "strconv"

// AtoiDefault parses s as an int, falling back to def when s is empty or
// not a number. Query-string parsing never needs to surface the parse
// error, so it is swallowed here.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// ClampInt bounds v to the inclusive range [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
