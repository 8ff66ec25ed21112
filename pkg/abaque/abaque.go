// Package abaque implements the parallax lookup table (§4.7): a sparse
// measured grid of (altitude, azimut_object, azimut_dome) triples, queried
// by bilinear interpolation with edge-clamping outside the measured
// envelope. The table is immutable once built.
package abaque

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Sample is one measured grid point.
type Sample struct {
	AltitudeDeg    float64
	AzimuthObjDeg  float64
	AzimuthDomeDeg float64
}

// slice is all samples sharing (approximately) one altitude, sorted by azimuth.
type slice struct {
	altitude float64
	samples  []Sample
}

// Table is the immutable, built parallax lookup table.
type Table struct {
	slices []slice

	mu    sync.Mutex
	cache map[cacheKey]float64
}

type cacheKey struct {
	alt100 int64
	az100  int64
}

// Build groups raw measured samples into altitude slices (sorted by
// azimuth within each slice) and returns the immutable Table. Samples
// whose altitude is within altitudeEpsilon of an existing slice are
// grouped into it, so mildly noisy measurement altitudes still collapse
// into one slice rather than each becoming a singleton.
func Build(samples []Sample) (*Table, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("abaque: no samples to build table from")
	}

	const altitudeEpsilon = 0.25

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AltitudeDeg < sorted[j].AltitudeDeg })

	var slices []slice
	for _, s := range sorted {
		if n := len(slices); n > 0 && math.Abs(slices[n-1].altitude-s.AltitudeDeg) <= altitudeEpsilon {
			slices[n-1].samples = append(slices[n-1].samples, s)
			continue
		}
		slices = append(slices, slice{altitude: s.AltitudeDeg, samples: []Sample{s}})
	}

	for i := range slices {
		sort.Slice(slices[i].samples, func(a, b int) bool {
			return slices[i].samples[a].AzimuthObjDeg < slices[i].samples[b].AzimuthObjDeg
		})
	}

	return &Table{slices: slices, cache: make(map[cacheKey]float64)}, nil
}

// Query returns azimut_dome for the given (altitude, azimut_object) via
// bilinear interpolation within the measured convex hull, and nearest-slice
// edge-clamping outside it (§4.7). Results for identical (alt, az) rounded
// to 0.01 degree are cached.
func (t *Table) Query(altitudeDeg, azimuthObjDeg float64) (float64, bool) {
	key := cacheKey{
		alt100: int64(math.Round(altitudeDeg * 100)),
		az100:  int64(math.Round(azimuthObjDeg * 100)),
	}

	t.mu.Lock()
	if v, ok := t.cache[key]; ok {
		t.mu.Unlock()
		return v, true
	}
	t.mu.Unlock()

	clamped := false
	loIdx, hiIdx, loFrac := t.bracketSlices(altitudeDeg)
	if altitudeDeg < t.slices[0].altitude || altitudeDeg > t.slices[len(t.slices)-1].altitude {
		clamped = true
	}

	loVal, loClamped := interpolateSlice(t.slices[loIdx], azimuthObjDeg)
	hiVal, hiClamped := interpolateSlice(t.slices[hiIdx], azimuthObjDeg)
	clamped = clamped || loClamped || hiClamped

	var result float64
	if loIdx == hiIdx {
		result = loVal
	} else {
		result = loVal + (hiVal-loVal)*loFrac
	}

	t.mu.Lock()
	t.cache[key] = result
	t.mu.Unlock()

	return result, !clamped
}

// bracketSlices finds the two altitude slices bracketing alt, and the
// fraction of the way from lo to hi. If alt is outside the table's
// altitude range, both indices point at the nearest boundary slice.
func (t *Table) bracketSlices(alt float64) (loIdx, hiIdx int, frac float64) {
	n := len(t.slices)
	if alt <= t.slices[0].altitude {
		return 0, 0, 0
	}
	if alt >= t.slices[n-1].altitude {
		return n - 1, n - 1, 0
	}
	for i := 0; i < n-1; i++ {
		if alt >= t.slices[i].altitude && alt <= t.slices[i+1].altitude {
			span := t.slices[i+1].altitude - t.slices[i].altitude
			if span == 0 {
				return i, i + 1, 0
			}
			return i, i + 1, (alt - t.slices[i].altitude) / span
		}
	}
	return n - 1, n - 1, 0
}

// interpolateSlice linearly interpolates azimut_dome by az within one
// altitude slice, clamping to the nearest sample outside its azimuth range.
func interpolateSlice(s slice, az float64) (value float64, clamped bool) {
	n := len(s.samples)
	if n == 1 {
		return s.samples[0].AzimuthDomeDeg, az != s.samples[0].AzimuthObjDeg
	}

	if az <= s.samples[0].AzimuthObjDeg {
		return s.samples[0].AzimuthDomeDeg, az < s.samples[0].AzimuthObjDeg
	}
	if az >= s.samples[n-1].AzimuthObjDeg {
		return s.samples[n-1].AzimuthDomeDeg, az > s.samples[n-1].AzimuthObjDeg
	}

	for i := 0; i < n-1; i++ {
		a, b := s.samples[i], s.samples[i+1]
		if az >= a.AzimuthObjDeg && az <= b.AzimuthObjDeg {
			span := b.AzimuthObjDeg - a.AzimuthObjDeg
			if span == 0 {
				return a.AzimuthDomeDeg, false
			}
			frac := (az - a.AzimuthObjDeg) / span
			return a.AzimuthDomeDeg + (b.AzimuthDomeDeg-a.AzimuthDomeDeg)*frac, false
		}
	}

	return s.samples[n-1].AzimuthDomeDeg, true
}
