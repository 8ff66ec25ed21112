// Package errs defines the core's hierarchical error types (§7, §9).
// Each subsystem layer gets one error type that wraps an inner cause;
// callers use errors.As/errors.Is rather than matching on strings, and
// the feedback controller and dispatcher handlers return tagged-variant
// Outcome values instead of throwing exceptions for expected control flow.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel outcomes that are not really "errors" in the failure sense —
// Cancelled in particular is a normal, expected result of STOP (§7).
var (
	ErrCancelled        = errors.New("cancelled")
	ErrTimeout          = errors.New("timeout")
	ErrStagnated        = errors.New("stagnated")
	ErrProtectionTripped = errors.New("protection tripped")
	ErrEncoderUnavailable = errors.New("encoder unavailable")
	ErrNotCalibrated    = errors.New("not calibrated")
)

// Kind tags which subsystem layer raised a CoreError.
type Kind string

const (
	KindConfig   Kind = "config"
	KindEncoder  Kind = "encoder"
	KindMotor    Kind = "motor"
	KindTracking Kind = "tracking"
	KindIPC      Kind = "ipc"
	KindCommand  Kind = "command"
)

// CoreError is the thin wrapper every layer-specific fault implements.
// It carries a Kind for coarse dispatch and an optional wrapped cause.
type CoreError struct {
	Kind    Kind
	Op      string
	Reason  string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Reason)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// EncoderFault reports a fault in the Encoder Daemon (§4.1): SPI I/O errors,
// calibration problems, or health degradation (ABSENT/FROZEN transitions).
type EncoderFault struct{ *CoreError }

func NewEncoderFault(op, reason string, cause error) *EncoderFault {
	return &EncoderFault{&CoreError{Kind: KindEncoder, Op: op, Reason: reason, Cause: cause}}
}

// MotorFault reports a fault in the Motor Driver (§4.3): GPIO acquisition
// or mid-run GPIO errors.
type MotorFault struct{ *CoreError }

func NewMotorFault(op, reason string, cause error) *MotorFault {
	return &MotorFault{&CoreError{Kind: KindMotor, Op: op, Reason: reason, Cause: cause}}
}

// TrackingFault reports a fault in the Adaptive Tracking Engine (§4.6):
// repeated stagnation, encoder health loss, or a tripped tracking limit.
type TrackingFault struct{ *CoreError }

func NewTrackingFault(op, reason string, cause error) *TrackingFault {
	return &TrackingFault{&CoreError{Kind: KindTracking, Op: op, Reason: reason, Cause: cause}}
}

// IpcFault reports a fault in the snapshot transport (§4.2): lock
// acquisition, serialization, or atomic rename failures.
type IpcFault struct{ *CoreError }

func NewIpcFault(op, reason string, cause error) *IpcFault {
	return &IpcFault{&CoreError{Kind: KindIPC, Op: op, Reason: reason, Cause: cause}}
}

// CommandRejected reports a handler rejecting a command outright (§7):
// an invalid angle, an incompatible state, or NotCalibrated.
type CommandRejected struct {
	Reason string
	Cause  error
}

func (e *CommandRejected) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("command rejected: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("command rejected: %s", e.Reason)
}

func (e *CommandRejected) Unwrap() error { return e.Cause }

func NewCommandRejected(reason string, cause error) *CommandRejected {
	return &CommandRejected{Reason: reason, Cause: cause}
}
