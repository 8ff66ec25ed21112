package tracking

import (
	"math"
)

// LimitEvent describes a tracking-limit condition the Adaptive Tracking
// Engine must react to (adapted from an equatorial-mount meridian-event
// check: a dome has no pier side, so only the altitude and cable-wrap
// cases survive; HorizonCrossing and ZenithCrossing keep their names
// since they're still the right description of what's happening).
type LimitEvent int

const (
	// NoLimitEvent means tracking can continue normally.
	NoLimitEvent LimitEvent = iota

	// ZenithCrossing means the target is above MaxAltitude, where
	// azimuth changes fastest and the dome can't keep the slit aligned.
	ZenithCrossing

	// HorizonCrossing means the target is below MinAltitude; tracking
	// must stop.
	HorizonCrossing

	// CableWrapLimit means continuing to follow the target the short
	// way would exceed the dome's physical rotation limit.
	CableWrapLimit
)

// TrackingLimits defines the safe tracking envelope for the dome (§4.6).
type TrackingLimits struct {
	// MinAltitude is the minimum altitude in degrees below which
	// tracking stops (horizon obstruction, atmospheric extinction).
	MinAltitude float64

	// MaxAltitude is the maximum altitude in degrees above which
	// tracking stops (azimuth becomes ill-defined near zenith).
	MaxAltitude float64

	// AzimuthWrapLimit is the dome's total rotation limit in degrees
	// from its cable-wrap home position. 0 means no limit (continuous
	// 360° rotation, e.g. via slip rings).
	AzimuthWrapLimit float64
}

// DefaultTrackingLimits returns conservative tracking limits suitable
// for most dome installations.
func DefaultTrackingLimits() TrackingLimits {
	return TrackingLimits{
		MinAltitude:      10.0,
		MaxAltitude:      88.0,
		AzimuthWrapLimit: 0.0,
	}
}

// TrackingLimitsFromConfig builds TrackingLimits with the given minimum
// and maximum tracking altitudes and the default azimuth wrap limit.
func TrackingLimitsFromConfig(minAlt, maxAlt float64) TrackingLimits {
	limits := DefaultTrackingLimits()
	limits.MinAltitude = minAlt
	limits.MaxAltitude = maxAlt
	return limits
}

// CheckLimitEvent reports whether targetAltDeg/targetAzDeg is outside
// the tracking envelope, or would require more cable wrap than the dome
// allows to reach from currentAzDeg.
func CheckLimitEvent(currentAzDeg, targetAltDeg, targetAzDeg float64, limits TrackingLimits) (LimitEvent, string) {
	if targetAltDeg < limits.MinAltitude {
		return HorizonCrossing, "target below minimum altitude - tracking not possible"
	}
	if targetAltDeg > limits.MaxAltitude {
		return ZenithCrossing, "target near zenith - azimuth changes too fast to track"
	}
	if limits.AzimuthWrapLimit > 0 && isAzimuthWrap(currentAzDeg, targetAzDeg, limits.AzimuthWrapLimit) {
		return CableWrapLimit, "azimuth wrap limit reached - target unreachable without unwrapping"
	}
	return NoLimitEvent, "tracking OK"
}

// azimuthDifference calculates the smallest angle between two azimuths.
// Handles wrap-around (e.g. 359° to 1° is 2°, not 358°).
func azimuthDifference(az1, az2 float64) float64 {
	diff := math.Abs(az2 - az1)
	if diff > 180.0 {
		diff = 360.0 - diff
	}
	return diff
}

// isAzimuthWrap reports whether moving from current to target azimuth
// would exceed the dome's wrap limit.
func isAzimuthWrap(currentAz, targetAz, wrapLimit float64) bool {
	if wrapLimit <= 0 {
		return false
	}
	return azimuthDifference(currentAz, targetAz) > wrapLimit
}

// RecommendTrackingStrategy provides a human-readable recommendation for
// a given limit event.
func RecommendTrackingStrategy(event LimitEvent, currentAlt float64) string {
	switch event {
	case NoLimitEvent:
		return "continue tracking normally"
	case ZenithCrossing:
		if currentAlt > 85.0 {
			return "target passing through zenith; pause tracking until it descends"
		}
		return "target approaching zenith - prepare to pause tracking"
	case HorizonCrossing:
		return "target below horizon - wait for it to rise above minimum altitude"
	case CableWrapLimit:
		return "stop tracking and unwrap the dome before resuming"
	default:
		return "unknown tracking condition"
	}
}

// ShouldAbortTracking is a safety check to prevent the dome from chasing
// a target outside its safe envelope.
func ShouldAbortTracking(altitudeDeg float64, limits TrackingLimits) bool {
	return altitudeDeg < limits.MinAltitude || altitudeDeg > limits.MaxAltitude
}
