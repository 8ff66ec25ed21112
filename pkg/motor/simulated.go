package motor

import "context"

// EncoderAdvancer is the narrow slice of encoder.Simulated that the
// simulated motor driver needs: a hook to advance the simulated encoder
// position as pulses are emitted, keeping the two simulations consistent.
type EncoderAdvancer interface {
	Advance(deltaDeg float64)
}

// Simulated is a Driver with no real hardware: each Step nudges an
// EncoderAdvancer (normally an encoder.Simulated) by one step's worth of
// angle, so a simulated move is reflected in the simulated encoder the
// way a real move is reflected by the real one. Instance-scoped, never a
// package-level global (§9).
type Simulated struct {
	encoder    EncoderAdvancer
	degPerStep float64
}

// NewSimulated builds a Simulated driver that advances encoder by
// degPerStep on every Step call.
func NewSimulated(encoder EncoderAdvancer, degPerStep float64) *Simulated {
	return &Simulated{encoder: encoder, degPerStep: degPerStep}
}

// Step advances the backing encoder simulation by one step in dir.
func (s *Simulated) Step(ctx context.Context, dir Direction) error {
	s.encoder.Advance(float64(dir) * s.degPerStep)
	return nil
}
