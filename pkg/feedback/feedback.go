// Package feedback implements the Feedback Controller's converge loop
// (§4.4): iterative closed-loop correction toward a target angle, with
// stagnation detection, a protection cutoff for unexpectedly large
// corrections, and a wall-clock timeout.
package feedback

import (
	"context"
	"time"

	"github.com/unklstewy/domecore/internal/errs"
	"github.com/unklstewy/domecore/pkg/angle"
)

const (
	// stableSampleCount and stableSampleInterval implement the K=3
	// stable-read window spread over 30ms before trusting a position.
	stableSampleCount    = 3
	stableSampleInterval = 15 * time.Millisecond

	// settleInterval is the pause after each correction before the next
	// stable read, letting the dome's motion catch up to the encoder.
	settleInterval = 50 * time.Millisecond

	// protectionThresholdDeg aborts convergence if a single correction
	// would need to be implausibly large, which usually means the
	// encoder and commanded target have lost agreement.
	protectionThresholdDeg = 20.0

	// maxStagnantCorrections is how many consecutive corrections may
	// fail to make real progress before convergence gives up.
	maxStagnantCorrections = 3

	// minMovementThresholdDeg is the smallest reduction in the remaining
	// error that counts as "making progress" between corrections.
	minMovementThresholdDeg = 0.1

	// stableSpreadThresholdDeg is the largest disagreement allowed across
	// the stableSampleCount window before the reading is declared
	// unstable rather than trusted.
	stableSpreadThresholdDeg = 0.2
)

// PositionReader is the narrow read side of the encoder the controller
// needs: the current absolute dome angle.
type PositionReader interface {
	CurrentAngle(ctx context.Context) (float64, error)
}

// Mover is the narrow write side of the motor service: command a signed
// angular correction and block until it has been applied.
type Mover interface {
	Correct(ctx context.Context, deltaDeg float64) error
}

// Outcome reports how a convergence attempt ended.
type Outcome struct {
	FinalAngle float64
	Iterations int
}

// Converge drives mover toward targetAngleDeg using reader's feedback
// until the remaining error is within toleranceDeg, or one of the escape
// conditions in §4.4 fires: the context is cancelled, maxDuration
// elapses, a correction implies a protection-threshold-sized error, or
// maxStagnantCorrections consecutive corrections fail to make progress.
func Converge(ctx context.Context, reader PositionReader, mover Mover, targetAngleDeg, toleranceDeg float64, maxDuration time.Duration) (Outcome, error) {
	start := time.Now()
	stagnant := 0
	prevAbsError := -1.0
	iterations := 0

	for {
		select {
		case <-ctx.Done():
			return Outcome{Iterations: iterations}, errs.ErrCancelled
		default:
		}
		if time.Since(start) > maxDuration {
			return Outcome{Iterations: iterations}, errs.ErrTimeout
		}

		current, err := readStable(ctx, reader)
		if err != nil {
			return Outcome{Iterations: iterations}, errs.NewEncoderFault("converge", "stable read failed", err)
		}

		delta := angle.ShortestDelta(current, targetAngleDeg)
		absError := absFloat(delta)

		if absError <= toleranceDeg {
			return Outcome{FinalAngle: current, Iterations: iterations}, nil
		}
		if absError > protectionThresholdDeg {
			return Outcome{FinalAngle: current, Iterations: iterations}, errs.ErrProtectionTripped
		}

		if prevAbsError >= 0 && prevAbsError-absError < minMovementThresholdDeg {
			stagnant++
			if stagnant >= maxStagnantCorrections {
				return Outcome{FinalAngle: current, Iterations: iterations}, errs.ErrStagnated
			}
		} else {
			stagnant = 0
		}
		prevAbsError = absError

		if err := mover.Correct(ctx, delta); err != nil {
			return Outcome{FinalAngle: current, Iterations: iterations}, err
		}
		iterations++

		select {
		case <-time.After(settleInterval):
		case <-ctx.Done():
			return Outcome{Iterations: iterations}, errs.ErrCancelled
		}
	}
}

// readStable takes stableSampleCount samples spread over
// stableSampleInterval, having given the dome time to settle since the
// previous correction. Any read error aborts immediately rather than
// trusting a partial window; if the samples disagree by more than
// stableSpreadThresholdDeg, the reading is declared unstable and
// ErrEncoderUnavailable is returned rather than trusting any of them.
func readStable(ctx context.Context, reader PositionReader) (float64, error) {
	samples := make([]float64, 0, stableSampleCount)
	for i := 0; i < stableSampleCount; i++ {
		a, err := reader.CurrentAngle(ctx)
		if err != nil {
			return 0, err
		}
		samples = append(samples, a)
		if i < stableSampleCount-1 {
			select {
			case <-time.After(stableSampleInterval):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
	}
	last := samples[len(samples)-1]
	for _, s := range samples {
		if absFloat(angle.ShortestDelta(s, last)) > stableSpreadThresholdDeg {
			return 0, errs.ErrEncoderUnavailable
		}
	}
	return last, nil
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
