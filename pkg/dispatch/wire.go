package dispatch

import "time"

// WireCommand is the on-disk shape of motor_command.json (§6): written by
// an external caller, id-memoized and consumed by the Dispatcher.
type WireCommand struct {
	ID       string            `json:"id"`
	Kind     CommandKind       `json:"kind"`
	Params   WireCommandParams `json:"params"`
	IssuedAt time.Time         `json:"issued_at"`
}

// WireCommandParams carries the union of parameters any CommandKind
// might need; only the fields relevant to Kind are populated.
type WireCommandParams struct {
	AngleDeg  *float64 `json:"angle,omitempty"`
	DeltaDeg  *float64 `json:"delta,omitempty"`
	Direction *int     `json:"direction,omitempty"`
	Object    *string  `json:"object,omitempty"`
	SkipGoto  *bool    `json:"skip_goto,omitempty"`
	SpeedDeg  *float64 `json:"speed,omitempty"`
}

// ToCommand translates a WireCommand into the Dispatcher's internal
// Command, resolving whichever of angle/delta/speed applies to Kind
// into the single TargetDeg field Dispatch expects.
func (w WireCommand) ToCommand() Command {
	cmd := Command{ID: w.ID, Kind: w.Kind}
	switch w.Kind {
	case CmdGoto:
		if w.Params.AngleDeg != nil {
			cmd.TargetDeg = *w.Params.AngleDeg
		}
		if w.Params.SkipGoto != nil {
			cmd.SkipGoto = *w.Params.SkipGoto
		}
	case CmdStartTrack:
		if w.Params.AngleDeg != nil {
			cmd.TargetDeg = *w.Params.AngleDeg
		}
		if w.Params.SkipGoto != nil {
			cmd.SkipGoto = *w.Params.SkipGoto
		}
	case CmdJog:
		if w.Params.DeltaDeg != nil {
			cmd.TargetDeg = *w.Params.DeltaDeg
		}
	case CmdContinuous:
		if w.Params.SpeedDeg != nil {
			cmd.TargetDeg = *w.Params.SpeedDeg
		}
		// Direction carries an explicit sign separate from SpeedDeg's
		// magnitude, for callers that report speed as an unsigned rate.
		if w.Params.Direction != nil && *w.Params.Direction < 0 {
			cmd.TargetDeg = -cmd.TargetDeg
		}
	}
	return cmd
}
