package feedback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unklstewy/domecore/internal/errs"
	"github.com/unklstewy/domecore/pkg/angle"
)

// fakeDome is a PositionReader+Mover pair simulating an ideal or
// misbehaving dome for exercising Converge's escape conditions.
type fakeDome struct {
	angleDeg   float64
	gain       float64 // fraction of the commanded delta actually applied
	readErr    error
	correctErr error
}

func (f *fakeDome) CurrentAngle(ctx context.Context) (float64, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.angleDeg, nil
}

func (f *fakeDome) Correct(ctx context.Context, deltaDeg float64) error {
	if f.correctErr != nil {
		return f.correctErr
	}
	f.angleDeg = angle.Normalize360(f.angleDeg + deltaDeg*f.gain)
	return nil
}

func TestConvergeReachesTarget(t *testing.T) {
	dome := &fakeDome{angleDeg: 10.0, gain: 1.0}

	out, err := Converge(context.Background(), dome, dome, 15.0, 0.5, time.Second)
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}
	if !angle.WithinTolerance(out.FinalAngle, 15.0, 0.5) {
		t.Errorf("final angle %v not within tolerance of 15.0", out.FinalAngle)
	}
}

func TestConvergeAlreadyWithinTolerance(t *testing.T) {
	dome := &fakeDome{angleDeg: 15.1, gain: 1.0}

	out, err := Converge(context.Background(), dome, dome, 15.0, 0.5, time.Second)
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}
	if out.Iterations != 0 {
		t.Errorf("expected zero corrections when already within tolerance, got %d", out.Iterations)
	}
}

func TestConvergeProtectionTripped(t *testing.T) {
	dome := &fakeDome{angleDeg: 0.0, gain: 1.0}

	_, err := Converge(context.Background(), dome, dome, 150.0, 0.5, time.Second)
	if !errors.Is(err, errs.ErrProtectionTripped) {
		t.Fatalf("expected ErrProtectionTripped, got %v", err)
	}
}

func TestConvergeStagnates(t *testing.T) {
	// gain of 0 means corrections never make any progress.
	dome := &fakeDome{angleDeg: 0.0, gain: 0.0}

	_, err := Converge(context.Background(), dome, dome, 10.0, 0.5, time.Second)
	if !errors.Is(err, errs.ErrStagnated) {
		t.Fatalf("expected ErrStagnated, got %v", err)
	}
}

func TestConvergeTimeout(t *testing.T) {
	dome := &fakeDome{angleDeg: 0.0, gain: 0.01}

	_, err := Converge(context.Background(), dome, dome, 10.0, 0.01, 100*time.Millisecond)
	if !errors.Is(err, errs.ErrTimeout) && !errors.Is(err, errs.ErrStagnated) {
		t.Fatalf("expected ErrTimeout or ErrStagnated for a slow-converging dome, got %v", err)
	}
}

func TestConvergeCancelled(t *testing.T) {
	dome := &fakeDome{angleDeg: 0.0, gain: 1.0}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Converge(ctx, dome, dome, 10.0, 0.5, time.Second)
	if !errors.Is(err, errs.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

// driftingDome returns a different angle on each CurrentAngle call,
// simulating a misbehaving encoder whose readings never settle.
type driftingDome struct {
	calls int
}

func (d *driftingDome) CurrentAngle(ctx context.Context) (float64, error) {
	d.calls++
	return float64(d.calls) * 5.0, nil
}

func (d *driftingDome) Correct(ctx context.Context, deltaDeg float64) error {
	return nil
}

func TestConvergeEncoderUnavailableOnUnstableSpread(t *testing.T) {
	dome := &driftingDome{}

	_, err := Converge(context.Background(), dome, dome, 10.0, 0.5, time.Second)
	if !errors.Is(err, errs.ErrEncoderUnavailable) {
		t.Fatalf("expected ErrEncoderUnavailable for an unstable reading, got %v", err)
	}
}

func TestConvergeEncoderUnavailable(t *testing.T) {
	dome := &fakeDome{angleDeg: 0.0, readErr: errors.New("spi down")}

	_, err := Converge(context.Background(), dome, dome, 10.0, 0.5, time.Second)
	var ef *errs.EncoderFault
	if !errors.As(err, &ef) {
		t.Fatalf("expected EncoderFault, got %v", err)
	}
}
