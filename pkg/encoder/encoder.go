// Package encoder implements the Encoder Daemon's sampling and
// incremental-to-absolute conversion (§4.1): a 50 Hz SPI read, a median
// filter over the last N samples, shortest-arc delta accumulation on the
// 10-bit wrap-around circle, and reference-switch calibration.
//
// Hardware access goes through periph.io (periph.io/x/conn/v3 for the SPI
// port and digital-in conventions, periph.io/x/host/v3 to initialize the
// platform drivers) — the library the wider example pack reaches for on
// Raspberry-Pi-class SPI/GPIO work. The teacher's own go.mod has no
// hardware dependency of its own to adapt; this is adopted from the
// ecosystem, not grounded on the teacher.
package encoder

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/unklstewy/domecore/internal/errs"
)

const (
	// CounterBits is the encoder's native resolution (10-bit, §3).
	CounterBits = 10
	// CounterRange is the number of discrete counts per revolution (1024).
	CounterRange = 1 << CounterBits
	// HalfRange is the wrap-around half-circle, used for shortest-arc deltas.
	HalfRange = CounterRange / 2
)

// Status mirrors the encoder snapshot's health enum (§3).
type Status string

const (
	StatusOK     Status = "OK"
	StatusFrozen Status = "FROZEN"
	StatusAbsent Status = "ABSENT"
)

// Snapshot is the encoder position snapshot published over IPC (§3, §6).
type Snapshot struct {
	AngleDeg          float64   `json:"angle"`
	Raw               uint16    `json:"raw"`
	TotalCounts       int64     `json:"total_counts"`
	Calibrated        bool      `json:"calibrated"`
	Frozen            bool      `json:"frozen"`
	FrozenDurationSec float64   `json:"frozen_duration_sec,omitempty"`
	Status            Status    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
}

// Bus is the capability boundary for a 10-bit SPI magnetic encoder (§9:
// a single shared EncoderSource replacing the source's two independently
// maintained readers). Implementations: a periph.io-backed SPI reader and
// a deterministic Simulated reader for tests and hardware-less operation.
type Bus interface {
	// ReadRaw returns the current 10-bit counter value.
	ReadRaw(ctx context.Context) (uint16, error)

	// SwitchEngaged reports the instantaneous state of the active-low
	// reference microswitch.
	SwitchEngaged(ctx context.Context) (bool, error)
}

// Daemon owns the SPI bus handle and total_counts (§3 ownership rule) and
// runs the 50 Hz sampling loop.
type Daemon struct {
	bus               Bus
	calibrationAngle  float64
	calibrationFactor float64
	medianWindow      int

	mu            sync.Mutex
	totalCounts   int64
	calibrated    bool
	window        []uint16
	lastGoodRead  time.Time
	lastChangedAt time.Time
	lastRawValue  uint16
	haveLastRaw   bool
	lastSwitch    bool
}

// NewDaemon constructs a Daemon around bus, with calibrationAngleDeg the
// dome angle latched at the reference switch and calibrationFactor the
// mechanical ratio between encoder wheel and dome ring (§4.1).
func NewDaemon(bus Bus, calibrationAngleDeg, calibrationFactor float64, medianWindow int) *Daemon {
	if medianWindow < 1 {
		medianWindow = 1
	}
	now := time.Now()
	return &Daemon{
		bus:               bus,
		calibrationAngle:  calibrationAngleDeg,
		calibrationFactor: calibrationFactor,
		medianWindow:      medianWindow,
		lastGoodRead:      now,
		lastChangedAt:     now,
	}
}

// Sample performs one 50 Hz tick: read the SPI bus, feed the median
// filter, fold the filtered value into total_counts via shortest-arc
// accumulation, poll the reference switch, and return the resulting
// snapshot. heartbeatActive reflects whether motor commands are
// currently active, as required by the FROZEN determination (§4.1).
func (d *Daemon) Sample(ctx context.Context, heartbeatActive bool) Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()

	raw, err := d.bus.ReadRaw(ctx)
	if err != nil {
		if time.Since(d.lastGoodRead) > time.Second {
			return d.snapshotLocked(now, StatusAbsent)
		}
		// Transient failure within the grace window: republish the last
		// good state rather than erroring the tick (§4.1 retry policy).
		return d.snapshotLocked(now, StatusOK)
	}
	d.lastGoodRead = now

	d.window = append(d.window, raw)
	if len(d.window) > d.medianWindow {
		d.window = d.window[len(d.window)-d.medianWindow:]
	}
	filtered := median(d.window)

	if d.haveLastRaw {
		delta := shortestCountDelta(d.lastRawValue, filtered)
		d.totalCounts += int64(delta)
	}
	if !d.haveLastRaw || filtered != d.lastRawValue {
		d.lastChangedAt = now
	}
	d.lastRawValue = filtered
	d.haveLastRaw = true

	engaged, swErr := d.bus.SwitchEngaged(ctx)
	if swErr == nil && engaged && !d.lastSwitch {
		// Falling edge: latch total_counts so angle == calibration angle.
		d.totalCounts = int64((d.calibrationAngle / (360.0 * d.calibrationFactor)) * CounterRange)
		d.calibrated = true
	}
	if swErr == nil {
		d.lastSwitch = engaged
	}

	status := StatusOK
	frozenDuration := time.Duration(0)
	frozen := heartbeatActive && now.Sub(d.lastChangedAt) >= 2*time.Second
	if frozen {
		status = StatusFrozen
		frozenDuration = now.Sub(d.lastChangedAt)
	}

	snap := d.snapshotLocked(now, status)
	snap.Raw = filtered
	snap.Frozen = frozen
	if frozen {
		snap.FrozenDurationSec = frozenDuration.Seconds()
	}
	return snap
}

func (d *Daemon) snapshotLocked(now time.Time, status Status) Snapshot {
	angle := angleFromCounts(d.totalCounts, d.calibrationFactor)
	return Snapshot{
		AngleDeg:    angle,
		Raw:         d.lastRawValue,
		TotalCounts: d.totalCounts,
		Calibrated:  d.calibrated,
		Status:      status,
		Timestamp:   now,
	}
}

// angleFromCounts implements the invariant from §3:
// angle == (total_counts * calibration_factor) mod 360.
func angleFromCounts(totalCounts int64, calibrationFactor float64) float64 {
	deg := float64(totalCounts) * calibrationFactor * 360.0 / CounterRange
	deg = mod360(deg)
	return deg
}

func mod360(a float64) float64 {
	for a < 0 {
		a += 360
	}
	for a >= 360 {
		a -= 360
	}
	return a
}

// shortestCountDelta returns the signed delta in [-HalfRange, +HalfRange)
// between two 10-bit wrap-around counter readings (§4.1).
func shortestCountDelta(from, to uint16) int32 {
	delta := int32(to) - int32(from)
	if delta >= HalfRange {
		delta -= CounterRange
	} else if delta < -HalfRange {
		delta += CounterRange
	}
	return delta
}

// median returns the median of a small window of uint16 samples.
func median(window []uint16) uint16 {
	if len(window) == 0 {
		return 0
	}
	sorted := make([]uint16, len(window))
	copy(sorted, window)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

// NewEncoderUnavailableFault wraps a bus error as an EncoderFault for
// callers that need the layered error type rather than a raw error.
func NewEncoderUnavailableFault(op string, cause error) *errs.EncoderFault {
	return errs.NewEncoderFault(op, "encoder unavailable", cause)
}
