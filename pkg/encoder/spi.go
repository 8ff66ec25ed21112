package encoder

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// SPIBus is a Bus backed by a real 10-bit SPI magnetic encoder and an
// active-low reference microswitch on a GPIO line.
type SPIBus struct {
	conn   spi.Conn
	port   spi.PortCloser
	switchLine gpio.PinIO
}

// OpenSPIBus initializes the platform host drivers and opens busName
// (e.g. "/dev/spidev0.0") at speedHz, plus switchPin as an input with a
// pull-up (the switch is active-low per §4.1).
func OpenSPIBus(busName string, speedHz int, switchPin string) (*SPIBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("encoder: periph host init: %w", err)
	}

	port, err := spireg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("encoder: open SPI bus %s: %w", busName, err)
	}

	conn, err := port.Connect(physic.Frequency(speedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("encoder: connect SPI bus %s: %w", busName, err)
	}

	line := gpioreg.ByName(switchPin)
	if line == nil {
		port.Close()
		return nil, fmt.Errorf("encoder: GPIO pin %s not found", switchPin)
	}
	if err := line.In(gpio.PullUp, gpio.NoEdge); err != nil {
		port.Close()
		return nil, fmt.Errorf("encoder: configure switch pin %s: %w", switchPin, err)
	}

	return &SPIBus{conn: conn, port: port, switchLine: line}, nil
}

// ReadRaw clocks out a 16-bit transfer and extracts the low 10 bits (the
// wire format for a typical SPI absolute magnetic encoder: six don't-care
// high bits, then a 10-bit position word).
func (s *SPIBus) ReadRaw(ctx context.Context) (uint16, error) {
	tx := make([]byte, 2)
	rx := make([]byte, 2)
	if err := s.conn.Tx(tx, rx); err != nil {
		return 0, fmt.Errorf("encoder: SPI transfer failed: %w", err)
	}
	word := uint16(rx[0])<<8 | uint16(rx[1])
	return word & (CounterRange - 1), nil
}

// SwitchEngaged reads the active-low reference microswitch.
func (s *SPIBus) SwitchEngaged(ctx context.Context) (bool, error) {
	return s.switchLine.Read() == gpio.Low, nil
}

// Close releases the SPI port.
func (s *SPIBus) Close() error {
	return s.port.Close()
}
