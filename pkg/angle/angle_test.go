package angle

import (
	"math"
	"testing"
)

func TestNormalize360(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"already normalized", 45.0, 45.0},
		{"negative wraps", -10.0, 350.0},
		{"exactly 360 wraps to 0", 360.0, 0.0},
		{"large multiple", 725.0, 5.0},
		{"large negative multiple", -725.0, 355.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize360(tt.in)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Normalize360(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if got < 0 || got >= 360 {
				t.Errorf("Normalize360(%v) = %v out of [0,360)", tt.in, got)
			}
		})
	}
}

func TestNormalize180(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"zero", 0.0, 0.0},
		{"exactly 180 stays", 180.0, 180.0},
		{"just over 180 wraps negative", 181.0, -179.0},
		{"exactly -180 wraps to 180", -180.0, 180.0},
		{"negative within range", -90.0, -90.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize180(tt.in)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Normalize180(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if got <= -180 || got > 180 {
				t.Errorf("Normalize180(%v) = %v out of (-180,180]", tt.in, got)
			}
		})
	}
}

// TestShortestDeltaRoundTrip verifies the round-trip law from spec §8:
// shortest_delta(a, normalize_360(a+d)) == d for every d in (-180,180].
func TestShortestDeltaRoundTrip(t *testing.T) {
	as := []float64{0, 10, 90, 179.9, 270, 359.9}
	ds := []float64{-179.9, -90, -0.1, 0.1, 90, 180}

	for _, a := range as {
		for _, d := range ds {
			b := Normalize360(a + d)
			got := ShortestDelta(a, b)
			if math.Abs(got-d) > 1e-6 {
				t.Errorf("ShortestDelta(%v, normalize360(%v+%v)=%v) = %v, want %v", a, a, d, b, got, d)
			}
		}
	}
}

func TestShortestDeltaBounded(t *testing.T) {
	for a := 0.0; a < 360; a += 17 {
		for b := 0.0; b < 360; b += 23 {
			d := ShortestDelta(a, b)
			if d <= -180 || d > 180 {
				t.Fatalf("ShortestDelta(%v,%v) = %v out of (-180,180]", a, b, d)
			}
			recombined := Normalize360(a + d)
			if math.Abs(recombined-Normalize360(b)) > 1e-6 {
				t.Errorf("ShortestDelta(%v,%v)=%v does not recombine: got %v want %v", a, b, d, recombined, Normalize360(b))
			}
		}
	}
}

func TestWithinTolerance(t *testing.T) {
	if !WithinTolerance(10, 10.3, 0.5) {
		t.Error("expected within tolerance")
	}
	if WithinTolerance(10, 11, 0.5) {
		t.Error("expected outside tolerance")
	}
	if !WithinTolerance(359, 1, 3) {
		t.Error("expected wraparound within tolerance")
	}
}
