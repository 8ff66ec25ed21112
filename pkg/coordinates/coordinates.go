package coordinates

import (
	"math"
)

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi
)

// Geographic represents a position on Earth's surface.
// Uses the WGS84 coordinate system (same as GPS).
type Geographic struct {
	// Latitude in decimal degrees (-90 to +90)
	// Positive = North, Negative = South
	Latitude float64

	// Longitude in decimal degrees (-180 to +180)
	// Positive = East, Negative = West
	Longitude float64

	// Altitude in meters above mean sea level (MSL)
	Altitude float64
}

// HorizontalCoordinates represents a position in the local horizontal coordinate system.
// Also known as Alt/Az (Altitude-Azimuth) coordinates — the dome's native frame.
type HorizontalCoordinates struct {
	// Altitude (elevation) in degrees above the horizon (0-90)
	// 0 = horizon, 90 = zenith (straight up)
	// Negative values are below the horizon
	Altitude float64

	// Azimuth in degrees from north (0-360)
	// 0/360 = North, 90 = East, 180 = South, 270 = West
	Azimuth float64
}

// EquatorialCoordinates represents a position in the equatorial coordinate system,
// the catalog frame objects are resolved in before conversion to Alt/Az.
type EquatorialCoordinates struct {
	// RightAscension (RA) in decimal hours (0-24)
	// The celestial equivalent of longitude
	// Increases eastward along the celestial equator
	RightAscension float64

	// Declination (Dec) in decimal degrees (-90 to +90)
	// The celestial equivalent of latitude
	// 0 = celestial equator, +90 = north celestial pole, -90 = south celestial pole
	Declination float64
}

// Observer represents the geographic location of the observatory site.
// Required for every coordinate transformation, since they all depend
// on the observer's position on Earth.
type Observer struct {
	// Location is the site's position on Earth
	Location Geographic

	// Timezone is the IANA timezone name (e.g., "Europe/Paris")
	// Used for time conversions, though all internal calculations use UTC
	Timezone string
}

// ToRadians converts the Geographic coordinates to radians.
// Returns (latRad, lonRad, altMeters).
func (g Geographic) ToRadians() (float64, float64, float64) {
	return g.Latitude * DegreesToRadians,
		g.Longitude * DegreesToRadians,
		g.Altitude
}

// ToRadians converts HorizontalCoordinates to radians.
// Returns (altRad, azRad).
func (h HorizontalCoordinates) ToRadians() (float64, float64) {
	return h.Altitude * DegreesToRadians,
		h.Azimuth * DegreesToRadians
}

// ToHorizontalDegrees converts radians to HorizontalCoordinates in degrees.
func ToHorizontalDegrees(altRad, azRad float64) HorizontalCoordinates {
	return HorizontalCoordinates{
		Altitude: altRad * RadiansToDegrees,
		Azimuth:  azRad * RadiansToDegrees,
	}
}

// ToRadians converts EquatorialCoordinates to radians.
// Returns (raRad, decRad).
// Note: RA is converted from hours to radians (1 hour = 15 degrees = π/12 radians)
func (e EquatorialCoordinates) ToRadians() (float64, float64) {
	raRad := e.RightAscension * 15.0 * DegreesToRadians // Convert hours to degrees to radians
	decRad := e.Declination * DegreesToRadians
	return raRad, decRad
}

// ToEquatorialDegrees converts radians to EquatorialCoordinates.
// raRad is in radians, decRad is in radians.
// Returns RA in hours and Dec in degrees.
func ToEquatorialDegrees(raRad, decRad float64) EquatorialCoordinates {
	raHours := (raRad * RadiansToDegrees) / 15.0 // Convert radians to degrees to hours
	decDegrees := decRad * RadiansToDegrees
	return EquatorialCoordinates{
		RightAscension: raHours,
		Declination:    decDegrees,
	}
}

// NormalizeAzimuth ensures azimuth is in the range [0, 360).
func NormalizeAzimuth(azimuth float64) float64 {
	az := math.Mod(azimuth, 360.0)
	if az < 0 {
		az += 360.0
	}
	return az
}

// NormalizeRA ensures right ascension is in the range [0, 24).
func NormalizeRA(ra float64) float64 {
	raHours := math.Mod(ra, 24.0)
	if raHours < 0 {
		raHours += 24.0
	}
	return raHours
}
