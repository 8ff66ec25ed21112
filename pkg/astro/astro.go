// Package astro defines the narrow interface the Adaptive Tracking Engine
// consumes from the astronomy provider (§6): catalog resolution and
// RA/Dec -> Alt/Az conversion. The real catalog/SIMBAD/ephemeris lookups
// are an out-of-scope external collaborator; this package only pins the
// boundary and ships a deterministic stub good enough to drive the engine
// and its tests without a network dependency.
package astro

import (
	"fmt"
	"time"

	"github.com/unklstewy/domecore/pkg/coordinates"
)

// Object is a resolved catalog entry: a star's fixed J2000 coordinates, or
// a planet whose coordinates must be recomputed at every correction step.
type Object struct {
	Name     string
	RADeg    float64
	DecDeg   float64
	IsPlanet bool
}

// ErrNotFound is returned by Provider.Resolve when the name has no catalog entry.
var ErrNotFound = fmt.Errorf("object not found")

// Provider is the external collaborator boundary (§6): pure functions that
// turn a catalog name and a wall-clock time into horizontal coordinates.
// Production wiring wraps a real astronomy library or SIMBAD client;
// nothing in this module depends on what's behind the interface.
type Provider interface {
	// Resolve looks up an object by name, returning ErrNotFound if unknown.
	Resolve(name string) (Object, error)

	// Horizontal computes (azimuth, altitude) in degrees for obj at t, as
	// seen from site. Planets are expected to recompute RA/Dec internally
	// on every call; stars use the fixed coordinates already in Object.
	Horizontal(obj Object, site coordinates.Observer, t time.Time) (azDeg, altDeg float64, err error)
}

// StubProvider is a tiny fixed catalog backed by the module's own
// RA/Dec -> Alt/Az transform (pkg/coordinates). It exists so the tracking
// engine and its tests can run without a real astronomy library wired in;
// production deployments should supply a Provider backed by one.
type StubProvider struct {
	catalog map[string]Object
}

// NewStubProvider builds a StubProvider seeded with a handful of bright
// fixed stars, keyed by name (case-sensitive, as cataloged).
func NewStubProvider() *StubProvider {
	return &StubProvider{
		catalog: map[string]Object{
			"Polaris": {Name: "Polaris", RADeg: 37.95, DecDeg: 89.26, IsPlanet: false},
			"Vega":    {Name: "Vega", RADeg: 279.23, DecDeg: 38.78, IsPlanet: false},
			"Altair":  {Name: "Altair", RADeg: 297.70, DecDeg: 8.87, IsPlanet: false},
			"M13":     {Name: "M13", RADeg: 250.42, DecDeg: 36.46, IsPlanet: false},
		},
	}
}

func (p *StubProvider) Resolve(name string) (Object, error) {
	obj, ok := p.catalog[name]
	if !ok {
		return Object{}, ErrNotFound
	}
	return obj, nil
}

func (p *StubProvider) Horizontal(obj Object, site coordinates.Observer, t time.Time) (float64, float64, error) {
	eq := coordinates.EquatorialCoordinates{
		RightAscension: obj.RADeg / 15.0,
		Declination:    obj.DecDeg,
	}
	horiz := coordinates.EquatorialToHorizontal(eq, site, t)
	return horiz.Azimuth, horiz.Altitude, nil
}
