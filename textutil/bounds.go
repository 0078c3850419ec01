package textutil

import "strconv"

// BoundedInt parses s as an integer and returns fallback unless the value
// is an integer inside [minVal, maxVal]. Out-of-range values fall back
// rather than clamping so a typo in configuration cannot silently pick an
// extreme limit.
func BoundedInt(s string, fallback, minVal, maxVal int) int {
	parsed, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	if parsed < minVal || parsed > maxVal {
		return fallback
	}
	return parsed
}

// ClampInt forces v into [minVal, maxVal].
func ClampInt(v, minVal, maxVal int) int {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
