// Package tracking implements the Adaptive Tracking Engine (§4.6): the
// periodic correction loop that keeps the dome slit aligned with a
// moving catalog object, adapting its cadence and precision to how fast
// the object's azimuth is changing (§3's NORMAL/CRITICAL/CONTINUOUS
// modes), plus the tracking-limit checks in meridian.go.
package tracking

import (
	"context"
	"time"

	"github.com/unklstewy/domecore/internal/errs"
	"github.com/unklstewy/domecore/internal/retry"
	"github.com/unklstewy/domecore/pkg/abaque"
	"github.com/unklstewy/domecore/pkg/angle"
	"github.com/unklstewy/domecore/pkg/astro"
	"github.com/unklstewy/domecore/pkg/config"
	"github.com/unklstewy/domecore/pkg/coordinates"
	"github.com/unklstewy/domecore/pkg/feedback"
)

// astroRetryConfig bounds how hard the engine retries a transient
// astro.Provider failure before surfacing it as a TrackingFault; a
// correction cycle can't afford the package default's multi-second tail.
var astroRetryConfig = retry.Config{
	MaxRetries:   2,
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     200 * time.Millisecond,
	Multiplier:   2.0,
}

type horizontalFix struct {
	azDeg, altDeg float64
}

// Mode names the engine's current cadence/precision regime (§3).
type Mode string

const (
	ModeNormal     Mode = "NORMAL"
	ModeCritical   Mode = "CRITICAL"
	ModeContinuous Mode = "CONTINUOUS"
)

// smoothingWindow is K for the outlier-rejection filter applied to
// successive abaque lookups (§4.6 step 3): the current lookup is
// discarded as an outlier in favor of the previous accepted value
// whenever it jumps further than outlierJumpDeg.
const smoothingWindow = 5

// outlierJumpDeg is the largest single-step change in the raw abaque
// lookup that's trusted; anything larger is treated as a transient
// outlier and the previous target azimuth is kept instead (§4.6 step 3).
const outlierJumpDeg = 5.0

// maxConsecutiveStagnations escalates to a fatal TrackingFault once
// this many corrections in a row fail to reduce the remaining error
// (§4.6 step 7/8).
const maxConsecutiveStagnations = 3

// PositionReader is the narrow encoder read side the engine needs.
type PositionReader interface {
	CurrentAngle(ctx context.Context) (float64, error)
}

// Mover commands a signed angular correction (shared shape with
// pkg/feedback and pkg/dispatch).
type Mover interface {
	Correct(ctx context.Context, deltaDeg float64) error
}

// PeriodSetter is an optional capability a Mover may implement to let
// the engine drive its step cadence per mode (§4.6 step 6: NORMAL,
// CRITICAL, and CONTINUOUS each specify their own step_period). Movers
// that don't implement it always step at their own fixed cadence.
type PeriodSetter interface {
	SetStepPeriod(period time.Duration)
}

// Report summarizes one Engine.Step invocation.
type Report struct {
	Mode         Mode
	TargetAzDeg  float64
	ObjectAzDeg  float64
	ObjectAltDeg float64
	CorrectedDeg float64
	Corrected    bool
	IntervalSec  float64
	NextCheckAt  time.Time
}

// Engine drives the dome toward a single tracked catalog object,
// re-evaluating its position and correcting the dome on each Step call.
type Engine struct {
	astroProvider astro.Provider
	abaqueTable   *abaque.Table
	reader        PositionReader
	mover         Mover
	site          coordinates.Observer
	cfg           config.AdaptiveConfig
	limits        TrackingLimits
	stagnationMinMoveDeg float64

	object astro.Object

	recentTargetAz      []float64
	haveLastTargetAz    bool
	consecutiveStagnant int
	prevAbsError        float64
	haveLastAbsError    bool
}

// NewEngine constructs an Engine tracking obj. stagnationMinMoveDeg is
// the minimum per-correction error reduction that counts as progress
// (§6 thresholds.stagnation_min_move_deg); smaller reductions count
// toward the stagnation escalation.
func NewEngine(provider astro.Provider, table *abaque.Table, reader PositionReader, mover Mover, site coordinates.Observer, cfg config.AdaptiveConfig, limits TrackingLimits, obj astro.Object, stagnationMinMoveDeg float64) *Engine {
	return &Engine{
		astroProvider:        provider,
		abaqueTable:          table,
		reader:               reader,
		mover:                mover,
		site:                 site,
		cfg:                  cfg,
		limits:               limits,
		stagnationMinMoveDeg: stagnationMinMoveDeg,
		object:               obj,
	}
}

// Step runs one correction cycle (§4.6, the engine's 8 steps):
//  1. compute the object's current horizontal position
//  2. check it against the tracking limits
//  3. look up the dome-frame target azimuth via the parallax table,
//     discarding an outlier lookup in favor of the previous value
//  4. read the current dome angle and compute the pending correction
//  5. select NORMAL/CRITICAL/CONTINUOUS mode from altitude and the
//     pending correction's magnitude
//  6. compare against the mode's correction threshold and, if needed,
//     converge the dome onto the target using the mode's step period,
//     tolerance, and a wall budget scaled off the mode's interval
//  7. track stagnation and escalate after repeated failures to progress
//  8. schedule the next check
func (e *Engine) Step(ctx context.Context, now time.Time) (Report, error) {
	fix, err := retry.WithBackoff(ctx, astroRetryConfig, func() (horizontalFix, error) {
		az, alt, err := e.astroProvider.Horizontal(e.object, e.site, now)
		return horizontalFix{azDeg: az, altDeg: alt}, err
	})
	if err != nil {
		return Report{}, errs.NewTrackingFault("step", "astro lookup failed", err)
	}
	azObj, altObj := fix.azDeg, fix.altDeg

	currentAz, err := e.reader.CurrentAngle(ctx)
	if err != nil {
		return Report{}, errs.NewEncoderFault("step", "read failed", err)
	}

	if event, reason := CheckLimitEvent(currentAz, altObj, azObj, e.limits); event != NoLimitEvent {
		return Report{}, errs.NewTrackingFault("step", reason, nil)
	}

	targetAz := e.smoothedTargetAz(altObj, azObj)

	delta := angle.ShortestDelta(currentAz, targetAz)
	absError := absFloat(delta)

	mode := selectMode(altObj, absError, e.cfg)
	params := modeParams(mode, e.cfg)

	report := Report{Mode: mode, TargetAzDeg: targetAz, ObjectAzDeg: azObj, ObjectAltDeg: altObj, IntervalSec: params.IntervalSeconds}

	if absError < params.ThresholdDeg {
		e.consecutiveStagnant = 0
		e.haveLastAbsError = false
		report.NextCheckAt = now.Add(time.Duration(params.IntervalSeconds * float64(time.Second)))
		return report, nil
	}

	if e.haveLastAbsError && e.prevAbsError-absError < e.stagnationMinMoveDeg {
		e.consecutiveStagnant++
		if e.consecutiveStagnant >= maxConsecutiveStagnations {
			return report, errs.NewTrackingFault("step", "repeated stagnation, encoder health suspect", errs.ErrStagnated)
		}
	} else {
		e.consecutiveStagnant = 0
	}
	e.prevAbsError = absError
	e.haveLastAbsError = true

	if ps, ok := e.mover.(PeriodSetter); ok {
		ps.SetStepPeriod(time.Duration(params.StepPeriodMillis * float64(time.Millisecond)))
	}
	budget := time.Duration(params.IntervalSeconds * 0.8 * float64(time.Second))
	if _, err := feedback.Converge(ctx, e.reader, e.mover, targetAz, params.ThresholdDeg, budget); err != nil {
		return report, err
	}
	report.Corrected = true
	report.CorrectedDeg = delta
	report.NextCheckAt = now.Add(time.Duration(params.IntervalSeconds * float64(time.Second)))

	return report, nil
}

// smoothedTargetAz applies §4.6 step 3's outlier rule to the raw abaque
// lookup: a lookup that jumps more than outlierJumpDeg from the last
// accepted value is discarded in favor of that previous value, rather
// than blended into a rolling median.
func (e *Engine) smoothedTargetAz(altObj, azObj float64) float64 {
	raw, _ := e.abaqueTable.Query(altObj, azObj)
	if e.haveLastTargetAz {
		last := e.recentTargetAz[len(e.recentTargetAz)-1]
		if absFloat(angle.ShortestDelta(last, raw)) > outlierJumpDeg {
			return last
		}
	}
	e.recentTargetAz = append(e.recentTargetAz, raw)
	if len(e.recentTargetAz) > smoothingWindow {
		e.recentTargetAz = e.recentTargetAz[len(e.recentTargetAz)-smoothingWindow:]
	}
	e.haveLastTargetAz = true
	return raw
}

// selectMode applies §3's mode-selection rule: CONTINUOUS when the
// object is very near zenith or the pending dome-rotation correction is
// large, CRITICAL in the altitude band below that, NORMAL otherwise.
func selectMode(altitudeDeg, absPendingDeltaDeg float64, cfg config.AdaptiveConfig) Mode {
	if altitudeDeg >= cfg.ContinuousAltitudeDeg || absPendingDeltaDeg > cfg.ContinuousDeltaDeg {
		return ModeContinuous
	}
	if altitudeDeg >= cfg.CriticalAltitudeDeg {
		return ModeCritical
	}
	return ModeNormal
}

func modeParams(mode Mode, cfg config.AdaptiveConfig) config.AdaptiveModeParams {
	switch mode {
	case ModeCritical:
		return cfg.Critical
	case ModeContinuous:
		return cfg.Continuous
	default:
		return cfg.Normal
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
