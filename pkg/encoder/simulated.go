package encoder

import (
	"context"
	"math"
	"sync"
)

// Simulated is an in-memory Bus for hardware-less operation and tests
// (§4.3 simulation mode, generalized here to the encoder side so the
// Motor Driver's simulated position and the encoder it feeds can share
// one consistent model). It is instance-scoped, never a package-level
// global (§9).
type Simulated struct {
	mu               sync.Mutex
	rawCounts        uint16
	calibrationAngle float64
	calibrationFactor float64
	switchWidthDeg   float64
}

// NewSimulated creates a Simulated bus starting at startAngleDeg.
func NewSimulated(startAngleDeg, calibrationAngleDeg, calibrationFactor float64) *Simulated {
	counts := uint16(math.Mod(startAngleDeg/calibrationFactor*CounterRange/360.0, CounterRange))
	return &Simulated{
		rawCounts:         counts,
		calibrationAngle:  calibrationAngleDeg,
		calibrationFactor: calibrationFactor,
		switchWidthDeg:    1.0,
	}
}

// ReadRaw returns the current simulated counter value.
func (s *Simulated) ReadRaw(ctx context.Context) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rawCounts, nil
}

// SwitchEngaged reports true when the simulated position is within
// switchWidthDeg of the calibration angle, synthesizing the reference
// switch's engagement the way the motor driver's simulation mode is
// required to (§4.3).
func (s *Simulated) SwitchEngaged(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	angle := float64(s.rawCounts) * s.calibrationFactor * 360.0 / CounterRange
	diff := math.Abs(mod360(angle-s.calibrationAngle+180) - 180)
	return diff <= s.switchWidthDeg, nil
}

// Advance moves the simulated encoder by deltaDeg (signed, dome-frame
// degrees), wrapping the underlying counter. Called by a Simulated motor
// driver as it emits pulses.
func (s *Simulated) Advance(deltaDeg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deltaCounts := deltaDeg / s.calibrationFactor * CounterRange / 360.0
	next := int64(s.rawCounts) + int64(math.Round(deltaCounts))
	next %= CounterRange
	if next < 0 {
		next += CounterRange
	}
	s.rawCounts = uint16(next)
}
