// Package motor implements the Motor Driver capability (§4.3): converting
// a signed angular delta into a pulse train for a step/direction stepper
// driver, with cooperative cancellation and an optional S-curve
// acceleration ramp.
package motor

import (
	"context"
	"math"
	"time"
)

// cancelCheckInterval bounds how many pulses may be emitted between
// cancellation checks (§4.3/§5: cancelable at least every 500 pulses).
const cancelCheckInterval = 500

// Direction is the sign of a commanded move.
type Direction int

const (
	Forward Direction = 1
	Reverse Direction = -1
)

// Driver is the capability boundary for the stepper hardware (§9's
// MotorDriver). Implementations: a periph.io GPIO-backed driver and a
// deterministic Simulated driver for hardware-less operation and tests.
type Driver interface {
	// Step emits one pulse in dir. It returns only an error; the caller
	// accounts for the angular increment each pulse represents, with dir
	// carrying the sign.
	Step(ctx context.Context, dir Direction) error
}

// Params bundles the mechanical constants needed to convert a commanded
// angular delta into a pulse count (§4.3).
type Params struct {
	StepsPerRevolution int
	Microsteps         int
	GearRatio          float64
	CalibrationScale   float64
	MinStepPeriod      time.Duration

	// RampStepThreshold is the smallest step count a move must have
	// before the S-curve ramp engages (§4.3: "mandatory for deltas above
	// a configured threshold"). Zero disables ramping.
	RampStepThreshold int

	// RampStartPeriod is the step period at the very start/end of a
	// ramped move, eased down to MinStepPeriod at cruise.
	RampStartPeriod time.Duration
}

// StepsForDelta computes the number of pulses needed to move deltaDeg,
// rounding to the nearest whole step (§4.3):
//
//	steps = round(|delta| * steps_per_revolution * microsteps * gear_ratio * calibration_scale / 360)
func StepsForDelta(deltaDeg float64, p Params) int {
	scale := p.CalibrationScale
	if scale == 0 {
		scale = 1.0
	}
	raw := math.Abs(deltaDeg) * float64(p.StepsPerRevolution) * float64(p.Microsteps) * p.GearRatio * scale / 360.0
	return int(math.Round(raw))
}

// Move drives driver for the number of steps implied by deltaDeg at a
// constant stepPeriod, honoring ctx cancellation at least every
// cancelCheckInterval pulses. It returns the signed angular distance
// actually covered (may be less than deltaDeg if cancelled).
func Move(ctx context.Context, driver Driver, deltaDeg float64, p Params, stepPeriod time.Duration) (float64, error) {
	if stepPeriod < p.MinStepPeriod {
		stepPeriod = p.MinStepPeriod
	}
	dir := Forward
	if deltaDeg < 0 {
		dir = Reverse
	}
	steps := StepsForDelta(deltaDeg, p)
	if steps == 0 {
		return 0, nil
	}

	degPerStep := 360.0 / (float64(p.StepsPerRevolution) * float64(p.Microsteps) * p.GearRatio)
	if p.CalibrationScale != 0 {
		degPerStep /= p.CalibrationScale
	}

	useRamp := p.RampStepThreshold > 0 && steps >= p.RampStepThreshold && p.RampStartPeriod > stepPeriod

	covered := 0.0
	for i := 0; i < steps; i++ {
		if i%cancelCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return covered, ctx.Err()
			default:
			}
		}
		if err := driver.Step(ctx, dir); err != nil {
			return covered, err
		}
		covered += float64(dir) * degPerStep

		period := stepPeriod
		if useRamp {
			period = RampedStepPeriod(i, steps, stepPeriod, p.RampStartPeriod)
		}
		select {
		case <-time.After(period):
		case <-ctx.Done():
			return covered, ctx.Err()
		}
	}
	return covered, nil
}

// RampedStepPeriod computes an S-curve-paced step period for step i of n
// total steps, easing in/out between minPeriod (cruise speed) and
// maxPeriod (starting/stopping speed). Optional: callers driving a fixed
// cadence may ignore this and pass a constant period to Move.
func RampedStepPeriod(i, n int, minPeriod, maxPeriod time.Duration) time.Duration {
	if n <= 1 {
		return minPeriod
	}
	// Smoothstep over the fraction of the move completed, mirrored
	// around the midpoint so the ramp eases in and back out.
	frac := float64(i) / float64(n-1)
	if frac > 0.5 {
		frac = 1 - frac
	}
	frac *= 2
	ease := frac * frac * (3 - 2*frac)
	span := float64(maxPeriod - minPeriod)
	return maxPeriod - time.Duration(ease*span)
}
