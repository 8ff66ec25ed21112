// Package dispatch implements the Motor Service's command dispatcher
// (§4.5): the MotorState machine, the 20 Hz command loop, and the
// per-command handlers (GOTO, JOG, CONTINUOUS, STOP, START_TRACK,
// STOP_TRACK, RELOAD).
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/unklstewy/domecore/internal/errs"
	"github.com/unklstewy/domecore/pkg/angle"
	"github.com/unklstewy/domecore/pkg/feedback"
)

// State is the motor service's state machine (§3).
type State string

const (
	StateIdle         State = "IDLE"
	StateMoving       State = "MOVING"
	StateInitializing State = "INITIALIZING"
	StateTracking     State = "TRACKING"
	StateError        State = "ERROR"
)

// legalTransitions enumerates the state machine's allowed edges (§3).
// IDLE is the only state RELOAD may be issued from; ERROR only leaves
// via the 30s auto-recovery timer back to IDLE. INITIALIZING reaches
// TRACKING once START_TRACK's initial GOTO converges.
var legalTransitions = map[State]map[State]bool{
	StateIdle:         {StateMoving: true, StateInitializing: true, StateTracking: true, StateError: true},
	StateMoving:       {StateIdle: true, StateError: true},
	StateInitializing: {StateIdle: true, StateTracking: true, StateError: true},
	StateTracking:     {StateIdle: true, StateError: true},
	StateError:        {StateIdle: true},
}

// errorRecoveryDelay is how long the dispatcher stays in ERROR before
// automatically attempting to return to IDLE (§3).
const errorRecoveryDelay = 30 * time.Second

// continuousBurstInterval bounds how long a single CONTINUOUS correction
// burst runs before the handler re-checks for a STOP (§4.5): CONTINUOUS
// is an open-ended rotation, run as a sequence of bounded bursts rather
// than one unbounded Correct call, so it stays responsive to the cancel
// flag between bursts even when a burst itself completes instantly.
const continuousBurstInterval = 250 * time.Millisecond

// CommandKind names a dispatcher command (§4.5).
type CommandKind string

const (
	CmdGoto       CommandKind = "GOTO"
	CmdJog        CommandKind = "JOG"
	CmdContinuous CommandKind = "CONTINUOUS"
	CmdStop       CommandKind = "STOP"
	CmdStartTrack CommandKind = "START_TRACK"
	CmdStopTrack  CommandKind = "STOP_TRACK"
	CmdReload     CommandKind = "RELOAD"
)

// Command is one inbound request to the dispatcher.
type Command struct {
	ID        string // idempotency key; a repeat ID is a no-op (§4.5)
	Kind      CommandKind
	TargetDeg float64 // GOTO/START_TRACK absolute target, JOG/CONTINUOUS signed rate or delta

	// SkipGoto, when set on a GOTO, requests the direct open-loop move
	// only, without the feedback-polish pass handleGoto otherwise runs.
	// On START_TRACK it bypasses only the initial GOTO, not the
	// subsequent tracking corrections.
	SkipGoto bool
}

// Result reports a command's outcome back to the caller.
type Result struct {
	Accepted bool
	Err      error
}

// PositionReader and Mover are the narrow encoder/motor capabilities the
// dispatcher drives a correction through (shared with pkg/feedback).
type PositionReader = feedback.PositionReader
type Mover = feedback.Mover

// Dispatcher owns the MotorState machine and serializes all commands
// through a single goroutine-safe entry point (§3 ownership rule: the
// dispatcher is the sole writer of MotorState).
type Dispatcher struct {
	reader PositionReader
	mover  Mover

	toleranceDeg float64
	maxDuration  time.Duration

	mu             sync.Mutex
	state          State
	calibrated     bool
	seenCommandIDs map[string]bool
	errorEnteredAt time.Time
	trackingActive bool
	events         *EventLog

	// moveCancel cancels the context backing whichever GOTO/JOG/
	// CONTINUOUS/START_TRACK move is currently in flight, nil when idle.
	// STOP is the only thing that invokes it (§5's cancel_requested flag).
	moveCancel context.CancelFunc
}

// New constructs a Dispatcher in IDLE.
func New(reader PositionReader, mover Mover, toleranceDeg float64, maxDuration time.Duration) *Dispatcher {
	return &Dispatcher{
		reader:         reader,
		mover:          mover,
		toleranceDeg:   toleranceDeg,
		maxDuration:    maxDuration,
		state:          StateIdle,
		seenCommandIDs: make(map[string]bool),
		events:         NewEventLog(eventLogCapacity),
	}
}

// Events returns the dispatcher's bounded status log.
func (d *Dispatcher) Events() *EventLog {
	return d.events
}

// State returns the current MotorState.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetCalibrated records whether the encoder has completed its reference
// calibration; START_TRACK and GOTO both require it (§4.5).
func (d *Dispatcher) SetCalibrated(calibrated bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calibrated = calibrated
}

// Tick runs one 20 Hz dispatcher cycle: auto-recovers from ERROR once
// errorRecoveryDelay has elapsed. Call this on a 50ms ticker alongside
// Dispatch.
func (d *Dispatcher) Tick() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateError && !d.errorEnteredAt.IsZero() && time.Since(d.errorEnteredAt) >= errorRecoveryDelay {
		d.state = StateIdle
		d.errorEnteredAt = time.Time{}
		d.events.Add(EventInfo, "auto-recovered from ERROR to IDLE after %s", errorRecoveryDelay)
	}
}

// EnterError forces an immediate transition to ERROR, cancelling any
// in-flight move first. Used by callers that detect a fault outside a
// Dispatch call itself — the Adaptive Tracking Engine escalating
// repeated stagnation or encoder health loss (§4.6 step 7/8, §7) — so
// the failure goes through the same ERROR/auto-recovery path a failed
// Dispatch command does, instead of silently dropping back to IDLE.
func (d *Dispatcher) EnterError(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.moveCancel != nil {
		d.moveCancel()
	}
	d.transitionLocked(StateError)
	d.errorEnteredAt = time.Now()
	d.trackingActive = false
	d.events.Add(EventError, "EncoderHealth: %s", reason)
}

// Dispatch handles one Command, transitioning state as needed and
// running the corresponding handler. Commands are memoized by ID: a
// repeat ID that was already accepted is a silent no-op (§4.5).
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) Result {
	d.mu.Lock()
	if cmd.ID != "" && d.seenCommandIDs[cmd.ID] {
		d.mu.Unlock()
		return Result{Accepted: true}
	}

	switch cmd.Kind {
	case CmdStop:
		// STOP is legal from any state; it cancels in-flight motion by
		// invoking moveCancel (§5's cancel_requested flag) and returning
		// to IDLE (or leaving ERROR alone, for safety).
		if d.moveCancel != nil {
			d.moveCancel()
		}
		if d.state != StateError {
			d.transitionLocked(StateIdle)
		}
		if cmd.ID != "" {
			d.seenCommandIDs[cmd.ID] = true
		}
		d.mu.Unlock()
		return Result{Accepted: true}

	case CmdReload:
		if d.state != StateIdle {
			d.mu.Unlock()
			return Result{Err: errs.NewCommandRejected("RELOAD only permitted from IDLE", nil)}
		}
		if cmd.ID != "" {
			d.seenCommandIDs[cmd.ID] = true
		}
		d.mu.Unlock()
		return Result{Accepted: true}

	case CmdStartTrack:
		return d.dispatchStartTrack(ctx, cmd)

	case CmdStopTrack:
		if d.state != StateTracking {
			d.mu.Unlock()
			return Result{Err: errs.NewCommandRejected("STOP_TRACK only valid while TRACKING", nil)}
		}
		d.transitionLocked(StateIdle)
		d.trackingActive = false
		d.events.Add(EventInfo, "tracking stopped")
		if cmd.ID != "" {
			d.seenCommandIDs[cmd.ID] = true
		}
		d.mu.Unlock()
		return Result{Accepted: true}
	}

	// GOTO / JOG / CONTINUOUS all require IDLE and move the motor.
	if cmd.Kind == CmdGoto && !d.calibrated {
		d.mu.Unlock()
		return Result{Err: errs.NewCommandRejected("cannot GOTO", errs.ErrNotCalibrated)}
	}
	if d.state != StateIdle {
		d.mu.Unlock()
		return Result{Err: errs.NewCommandRejected("motor busy", nil)}
	}
	d.transitionLocked(StateMoving)
	if cmd.ID != "" {
		d.seenCommandIDs[cmd.ID] = true
	}
	d.mu.Unlock()

	var err error
	switch cmd.Kind {
	case CmdGoto:
		err = d.runCancelableMove(ctx, func(mctx context.Context) error {
			return d.handleGoto(mctx, cmd.TargetDeg, cmd.SkipGoto)
		})
	case CmdJog:
		err = d.runCancelableMove(ctx, func(mctx context.Context) error {
			return d.mover.Correct(mctx, cmd.TargetDeg)
		})
	case CmdContinuous:
		err = d.runCancelableMove(ctx, func(mctx context.Context) error {
			return d.handleContinuous(mctx, cmd.TargetDeg)
		})
	}

	d.mu.Lock()
	if err != nil && err != errs.ErrCancelled {
		d.transitionLocked(StateError)
		d.errorEnteredAt = time.Now()
		d.events.Add(EventError, "command %s failed: %v", cmd.Kind, err)
	} else if d.state == StateMoving {
		d.transitionLocked(StateIdle)
	}
	d.mu.Unlock()

	if err != nil && err != errs.ErrCancelled {
		return Result{Err: err}
	}
	return Result{Accepted: true}
}

// dispatchStartTrack runs START_TRACK's IDLE -> INITIALIZING -> TRACKING
// sequence (§4.5, §4.6 step 4, §8 scenario 1): an initial GOTO with
// feedback onto cmd.TargetDeg (the caller-computed initial dome-frame
// target azimuth), skippable via cmd.SkipGoto, followed by the
// transition into TRACKING. d.mu is held on entry and always released
// before returning.
func (d *Dispatcher) dispatchStartTrack(ctx context.Context, cmd Command) Result {
	if !d.calibrated {
		d.mu.Unlock()
		return Result{Err: errs.NewCommandRejected("cannot start tracking", errs.ErrNotCalibrated)}
	}
	if d.state != StateIdle {
		d.mu.Unlock()
		return Result{Err: errs.NewCommandRejected("START_TRACK only permitted from IDLE", nil)}
	}
	d.transitionLocked(StateInitializing)
	if cmd.ID != "" {
		d.seenCommandIDs[cmd.ID] = true
	}
	d.mu.Unlock()

	var err error
	if !cmd.SkipGoto {
		err = d.runCancelableMove(ctx, func(mctx context.Context) error {
			return d.handleGoto(mctx, cmd.TargetDeg, false)
		})
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case err != nil && err != errs.ErrCancelled:
		d.transitionLocked(StateError)
		d.errorEnteredAt = time.Now()
		d.events.Add(EventError, "START_TRACK initial GOTO failed: %v", err)
		return Result{Err: err}
	case err == errs.ErrCancelled:
		d.transitionLocked(StateIdle)
		return Result{Accepted: true}
	default:
		d.transitionLocked(StateTracking)
		d.trackingActive = true
		d.events.Add(EventInfo, "tracking started")
		return Result{Accepted: true}
	}
}

// runCancelableMove derives a child context from ctx, publishes its
// cancel func as moveCancel for the duration of fn, and tears it down
// afterward. Every handler that drives the motor for more than one
// instantaneous call runs through this so STOP's cancel flag reaches it
// (§5).
func (d *Dispatcher) runCancelableMove(ctx context.Context, fn func(context.Context) error) error {
	moveCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.moveCancel = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.moveCancel = nil
		d.mu.Unlock()
		cancel()
	}()
	return fn(moveCtx)
}

// handleGoto implements the GOTO handler's direct-move-then-feedback-
// polish strategy (§4.5): command the full delta directly, then run
// Converge to close any residual error left by open-loop stepping.
// skipPolish requests the direct move only, for a caller that wants a
// fast open-loop slew without waiting on the feedback pass.
func (d *Dispatcher) handleGoto(ctx context.Context, targetDeg float64, skipPolish bool) error {
	current, err := d.reader.CurrentAngle(ctx)
	if err != nil {
		return errs.NewEncoderFault("goto", "read failed", err)
	}
	delta := angle.ShortestDelta(current, targetDeg)
	if !angle.WithinTolerance(current, targetDeg, d.toleranceDeg) {
		if err := d.mover.Correct(ctx, delta); err != nil {
			return err
		}
	}
	if skipPolish {
		return nil
	}
	_, err = feedback.Converge(ctx, d.reader, d.mover, targetDeg, d.toleranceDeg, d.maxDuration)
	return err
}

// handleContinuous drives an open-ended rotation at speedDegPerSec,
// signed, as a sequence of bounded bursts (§4.5): each burst is a
// single mover.Correct call sized to continuousBurstInterval, and the
// cancel flag is checked before and between bursts so STOP interrupts
// it within one burst rather than running until some caller-supplied
// distance is covered.
func (d *Dispatcher) handleContinuous(ctx context.Context, speedDegPerSec float64) error {
	burstDeg := speedDegPerSec * continuousBurstInterval.Seconds()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := d.mover.Correct(ctx, burstDeg); err != nil {
			if err == errs.ErrCancelled {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(continuousBurstInterval):
		}
	}
}

// transitionLocked moves to next if legal from the current state,
// ignoring the request otherwise since an illegal transition is a
// dispatcher bug, not a runtime condition callers should see (the
// Dispatch handlers above only ever request legal edges).
func (d *Dispatcher) transitionLocked(next State) {
	if !legalTransitions[d.state][next] {
		return
	}
	d.state = next
}
