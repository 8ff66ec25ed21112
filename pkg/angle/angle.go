// Package angle implements the dome-position arithmetic shared across the
// encoder daemon, motor service, and tracking engine: normalization to the
// dome's [0,360) convention and shortest-path deltas in (-180,+180].
package angle

import "math"

// Normalize360 reduces a in degrees to the dome position convention [0, 360).
func Normalize360(a float64) float64 {
	a = math.Mod(a, 360.0)
	if a < 0 {
		a += 360.0
	}
	return a
}

// Normalize180 reduces a in degrees to the signed-delta convention (-180, +180].
func Normalize180(a float64) float64 {
	a = math.Mod(a, 360.0)
	if a <= -180.0 {
		a += 360.0
	} else if a > 180.0 {
		a -= 360.0
	}
	return a
}

// ShortestDelta returns the signed delta d in (-180, +180] such that
// (a + d) mod 360 == b, for a, b in any range.
func ShortestDelta(a, b float64) float64 {
	return Normalize180(b - a)
}

// WithinTolerance reports whether the shortest delta between a and b does
// not exceed tolerance in absolute value.
func WithinTolerance(a, b, tolerance float64) bool {
	return math.Abs(ShortestDelta(a, b)) <= tolerance
}
