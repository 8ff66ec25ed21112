package motor

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// pulseWidth is the HIGH duration of a step pulse, well within the
// minimum step period that Move enforces via Params.MinStepPeriod.
const pulseWidth = 2 * time.Microsecond

// GPIODriver is a Driver backed by a step/direction stepper controller
// wired to two GPIO lines, using periph.io the same way pkg/encoder does
// for the reference switch.
type GPIODriver struct {
	dirPin  gpio.PinIO
	stepPin gpio.PinIO
}

// OpenGPIODriver initializes the platform host drivers and binds dirPin
// and stepPin as outputs.
func OpenGPIODriver(dirPin, stepPin string) (*GPIODriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("motor: periph host init: %w", err)
	}

	dir := gpioreg.ByName(dirPin)
	if dir == nil {
		return nil, fmt.Errorf("motor: GPIO pin %s not found", dirPin)
	}
	if err := dir.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("motor: configure direction pin %s: %w", dirPin, err)
	}

	step := gpioreg.ByName(stepPin)
	if step == nil {
		return nil, fmt.Errorf("motor: GPIO pin %s not found", stepPin)
	}
	if err := step.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("motor: configure step pin %s: %w", stepPin, err)
	}

	return &GPIODriver{dirPin: dir, stepPin: step}, nil
}

// Step sets the direction line then emits one HIGH/LOW step pulse.
func (g *GPIODriver) Step(ctx context.Context, dir Direction) error {
	level := gpio.Low
	if dir == Forward {
		level = gpio.High
	}
	if err := g.dirPin.Out(level); err != nil {
		return fmt.Errorf("motor: set direction: %w", err)
	}
	if err := g.stepPin.Out(gpio.High); err != nil {
		return fmt.Errorf("motor: pulse high: %w", err)
	}
	time.Sleep(pulseWidth)
	if err := g.stepPin.Out(gpio.Low); err != nil {
		return fmt.Errorf("motor: pulse low: %w", err)
	}
	return nil
}
