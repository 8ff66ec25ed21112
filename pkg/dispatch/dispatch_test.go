package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unklstewy/domecore/internal/errs"
	"github.com/unklstewy/domecore/pkg/angle"
)

type fakeDome struct {
	angleDeg float64
	gain     float64
	err      error
}

func (f *fakeDome) CurrentAngle(ctx context.Context) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.angleDeg, nil
}

func (f *fakeDome) Correct(ctx context.Context, deltaDeg float64) error {
	if f.err != nil {
		return f.err
	}
	f.angleDeg += deltaDeg * f.gain
	return nil
}

func newTestDispatcher(dome *fakeDome) *Dispatcher {
	d := New(dome, dome, 0.5, time.Second)
	d.SetCalibrated(true)
	return d
}

func TestGotoRejectedWhenNotCalibrated(t *testing.T) {
	dome := &fakeDome{angleDeg: 0, gain: 1.0}
	d := New(dome, dome, 0.5, time.Second)

	res := d.Dispatch(context.Background(), Command{Kind: CmdGoto, TargetDeg: 90})
	if res.Err == nil || !errors.Is(res.Err, errs.ErrNotCalibrated) {
		t.Fatalf("expected ErrNotCalibrated, got %v", res.Err)
	}
	if d.State() != StateIdle {
		t.Errorf("expected state to remain IDLE, got %v", d.State())
	}
}

func TestGotoSucceedsAndReturnsToIdle(t *testing.T) {
	dome := &fakeDome{angleDeg: 0, gain: 1.0}
	d := newTestDispatcher(dome)

	res := d.Dispatch(context.Background(), Command{Kind: CmdGoto, TargetDeg: 45})
	if res.Err != nil {
		t.Fatalf("GOTO failed: %v", res.Err)
	}
	if d.State() != StateIdle {
		t.Errorf("expected IDLE after GOTO completes, got %v", d.State())
	}
}

func TestGotoRejectedWhileBusy(t *testing.T) {
	dome := &fakeDome{angleDeg: 0, gain: 1.0}
	d := newTestDispatcher(dome)
	d.mu.Lock()
	d.state = StateMoving
	d.mu.Unlock()

	res := d.Dispatch(context.Background(), Command{Kind: CmdGoto, TargetDeg: 45})
	if res.Err == nil {
		t.Fatal("expected rejection while busy")
	}
}

func TestStartTrackRequiresCalibration(t *testing.T) {
	dome := &fakeDome{angleDeg: 0, gain: 1.0}
	d := New(dome, dome, 0.5, time.Second)

	res := d.Dispatch(context.Background(), Command{Kind: CmdStartTrack})
	if !errors.Is(res.Err, errs.ErrNotCalibrated) {
		t.Fatalf("expected ErrNotCalibrated, got %v", res.Err)
	}
}

func TestStartTrackAndStopTrack(t *testing.T) {
	dome := &fakeDome{angleDeg: 0, gain: 1.0}
	d := newTestDispatcher(dome)

	res := d.Dispatch(context.Background(), Command{Kind: CmdStartTrack})
	if res.Err != nil {
		t.Fatalf("START_TRACK failed: %v", res.Err)
	}
	if d.State() != StateTracking {
		t.Fatalf("expected TRACKING, got %v", d.State())
	}

	res = d.Dispatch(context.Background(), Command{Kind: CmdStopTrack})
	if res.Err != nil {
		t.Fatalf("STOP_TRACK failed: %v", res.Err)
	}
	if d.State() != StateIdle {
		t.Fatalf("expected IDLE after STOP_TRACK, got %v", d.State())
	}
}

func TestStopTrackRejectedUnlessTracking(t *testing.T) {
	dome := &fakeDome{angleDeg: 0, gain: 1.0}
	d := newTestDispatcher(dome)

	res := d.Dispatch(context.Background(), Command{Kind: CmdStopTrack})
	if res.Err == nil {
		t.Fatal("expected rejection when not tracking")
	}
}

func TestReloadOnlyFromIdle(t *testing.T) {
	dome := &fakeDome{angleDeg: 0, gain: 1.0}
	d := newTestDispatcher(dome)

	res := d.Dispatch(context.Background(), Command{Kind: CmdReload})
	if res.Err != nil {
		t.Fatalf("RELOAD from IDLE should succeed, got %v", res.Err)
	}

	d.mu.Lock()
	d.state = StateTracking
	d.mu.Unlock()
	res = d.Dispatch(context.Background(), Command{Kind: CmdReload})
	if res.Err == nil {
		t.Fatal("expected RELOAD rejection outside IDLE")
	}
}

func TestCommandIDMemoization(t *testing.T) {
	dome := &fakeDome{angleDeg: 0, gain: 1.0}
	d := newTestDispatcher(dome)

	cmd := Command{ID: "abc123", Kind: CmdGoto, TargetDeg: 10}
	res1 := d.Dispatch(context.Background(), cmd)
	if res1.Err != nil {
		t.Fatalf("first GOTO failed: %v", res1.Err)
	}
	angleAfterFirst := dome.angleDeg

	res2 := d.Dispatch(context.Background(), cmd)
	if !res2.Accepted {
		t.Fatal("expected memoized command to be silently accepted")
	}
	if dome.angleDeg != angleAfterFirst {
		t.Errorf("expected no-op on repeat command ID, angle changed from %v to %v", angleAfterFirst, dome.angleDeg)
	}
}

func TestFaultTransitionsToErrorAndAutoRecovers(t *testing.T) {
	dome := &fakeDome{angleDeg: 0, gain: 1.0, err: errors.New("bus fault")}
	d := newTestDispatcher(dome)

	res := d.Dispatch(context.Background(), Command{Kind: CmdGoto, TargetDeg: 10})
	if res.Err == nil {
		t.Fatal("expected GOTO to fail")
	}
	if d.State() != StateError {
		t.Fatalf("expected ERROR state after fault, got %v", d.State())
	}

	d.mu.Lock()
	d.errorEnteredAt = time.Now().Add(-31 * time.Second)
	d.mu.Unlock()
	d.Tick()
	if d.State() != StateIdle {
		t.Fatalf("expected auto-recovery to IDLE after 30s, got %v", d.State())
	}
}

// blockingDome blocks Correct until its context is cancelled, simulating
// an in-flight move that only a cancellation (not natural completion)
// can end.
type blockingDome struct {
	angleDeg float64
	started  chan struct{}
}

func (f *blockingDome) CurrentAngle(ctx context.Context) (float64, error) {
	return f.angleDeg, nil
}

func (f *blockingDome) Correct(ctx context.Context, deltaDeg float64) error {
	close(f.started)
	<-ctx.Done()
	return errs.ErrCancelled
}

func TestStopCancelsInFlightMove(t *testing.T) {
	dome := &blockingDome{started: make(chan struct{})}
	d := New(dome, dome, 0.5, time.Second)
	d.SetCalibrated(true)

	done := make(chan Result, 1)
	go func() {
		done <- d.Dispatch(context.Background(), Command{Kind: CmdJog, TargetDeg: 10})
	}()

	<-dome.started
	stopRes := d.Dispatch(context.Background(), Command{Kind: CmdStop})
	if !stopRes.Accepted {
		t.Fatal("expected STOP to always be accepted")
	}

	select {
	case res := <-done:
		if res.Err != nil {
			t.Fatalf("expected the cancelled JOG to report success, got %v", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("STOP did not cancel the in-flight JOG in time")
	}
	if d.State() != StateIdle {
		t.Errorf("expected IDLE after STOP interrupts a move, got %v", d.State())
	}
}

func TestContinuousStopsOnStop(t *testing.T) {
	dome := &fakeDome{angleDeg: 0, gain: 1.0}
	d := newTestDispatcher(dome)

	done := make(chan Result, 1)
	go func() {
		done <- d.Dispatch(context.Background(), Command{Kind: CmdContinuous, TargetDeg: 20})
	}()

	time.Sleep(10 * time.Millisecond)
	stopRes := d.Dispatch(context.Background(), Command{Kind: CmdStop})
	if !stopRes.Accepted {
		t.Fatal("expected STOP to always be accepted")
	}

	select {
	case res := <-done:
		if res.Err != nil {
			t.Fatalf("expected CONTINUOUS to stop cleanly, got %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("STOP did not interrupt CONTINUOUS in time")
	}
	if d.State() != StateIdle {
		t.Errorf("expected IDLE after STOP, got %v", d.State())
	}
	if dome.angleDeg == 0 {
		t.Error("expected CONTINUOUS to have rotated the dome before STOP arrived")
	}
}

func TestStartTrackSkipGotoBypassesInitialMove(t *testing.T) {
	dome := &fakeDome{angleDeg: 0, gain: 1.0}
	d := newTestDispatcher(dome)

	res := d.Dispatch(context.Background(), Command{Kind: CmdStartTrack, TargetDeg: 90, SkipGoto: true})
	if res.Err != nil {
		t.Fatalf("START_TRACK failed: %v", res.Err)
	}
	if d.State() != StateTracking {
		t.Fatalf("expected TRACKING, got %v", d.State())
	}
	if dome.angleDeg != 0 {
		t.Errorf("expected skip_goto to bypass the initial move, dome moved to %v", dome.angleDeg)
	}
}

func TestStartTrackRunsInitialGotoByDefault(t *testing.T) {
	dome := &fakeDome{angleDeg: 0, gain: 1.0}
	d := newTestDispatcher(dome)

	res := d.Dispatch(context.Background(), Command{Kind: CmdStartTrack, TargetDeg: 90})
	if res.Err != nil {
		t.Fatalf("START_TRACK failed: %v", res.Err)
	}
	if d.State() != StateTracking {
		t.Fatalf("expected TRACKING, got %v", d.State())
	}
	if !angle.WithinTolerance(dome.angleDeg, 90, 0.5) {
		t.Errorf("expected the initial GOTO to bring the dome near 90, got %v", dome.angleDeg)
	}
}

func TestStopAlwaysAccepted(t *testing.T) {
	dome := &fakeDome{angleDeg: 0, gain: 1.0}
	d := newTestDispatcher(dome)
	d.mu.Lock()
	d.state = StateTracking
	d.mu.Unlock()

	res := d.Dispatch(context.Background(), Command{Kind: CmdStop})
	if !res.Accepted {
		t.Fatal("expected STOP to always be accepted")
	}
	if d.State() != StateIdle {
		t.Errorf("expected STOP to return to IDLE, got %v", d.State())
	}
}
