package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unklstewy/domecore/internal/errs"
	"github.com/unklstewy/domecore/pkg/abaque"
	"github.com/unklstewy/domecore/pkg/astro"
	"github.com/unklstewy/domecore/pkg/config"
	"github.com/unklstewy/domecore/pkg/coordinates"
)

// fixedProvider returns a constant (az, alt) regardless of time, so
// engine tests can control the geometry directly rather than going
// through real astronomical coordinate math.
type fixedProvider struct {
	azDeg, altDeg float64
	err           error
}

func (p *fixedProvider) Resolve(name string) (astro.Object, error) {
	return astro.Object{Name: name}, nil
}

func (p *fixedProvider) Horizontal(obj astro.Object, site coordinates.Observer, t time.Time) (float64, float64, error) {
	if p.err != nil {
		return 0, 0, p.err
	}
	return p.azDeg, p.altDeg, nil
}

type fakeDome struct {
	angleDeg float64
	gain     float64
	err      error
}

func (f *fakeDome) CurrentAngle(ctx context.Context) (float64, error) {
	return f.angleDeg, nil
}

func (f *fakeDome) Correct(ctx context.Context, deltaDeg float64) error {
	if f.err != nil {
		return f.err
	}
	f.angleDeg += deltaDeg * f.gain
	return nil
}

func testAdaptiveConfig() config.AdaptiveConfig {
	return config.AdaptiveConfig{
		Normal:                config.AdaptiveModeParams{IntervalSeconds: 60, ThresholdDeg: 0.5, StepPeriodMillis: 2.0},
		Critical:              config.AdaptiveModeParams{IntervalSeconds: 15, ThresholdDeg: 0.25, StepPeriodMillis: 1.0},
		Continuous:            config.AdaptiveModeParams{IntervalSeconds: 5, ThresholdDeg: 0.1, StepPeriodMillis: 0.15},
		ContinuousAltitudeDeg: 75,
		ContinuousDeltaDeg:    30,
		CriticalAltitudeDeg:   68,
	}
}

func flatTable(t *testing.T) *abaque.Table {
	table, err := abaque.Build([]abaque.Sample{
		{AltitudeDeg: 0, AzimuthObjDeg: 0, AzimuthDomeDeg: 0},
		{AltitudeDeg: 0, AzimuthObjDeg: 360, AzimuthDomeDeg: 360},
		{AltitudeDeg: 90, AzimuthObjDeg: 0, AzimuthDomeDeg: 0},
		{AltitudeDeg: 90, AzimuthObjDeg: 360, AzimuthDomeDeg: 360},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return table
}

func TestSelectMode(t *testing.T) {
	cfg := testAdaptiveConfig()

	if m := selectMode(40, 0, cfg); m != ModeNormal {
		t.Errorf("expected NORMAL at low altitude, got %v", m)
	}
	if m := selectMode(70, 0, cfg); m != ModeCritical {
		t.Errorf("expected CRITICAL above critical altitude, got %v", m)
	}
	if m := selectMode(80, 0, cfg); m != ModeContinuous {
		t.Errorf("expected CONTINUOUS near zenith, got %v", m)
	}
	if m := selectMode(40, 35, cfg); m != ModeContinuous {
		t.Errorf("expected CONTINUOUS on a large pending correction, got %v", m)
	}
}

func TestEngineStepCorrectsWhenBeyondThreshold(t *testing.T) {
	provider := &fixedProvider{azDeg: 100, altDeg: 40}
	dome := &fakeDome{angleDeg: 90, gain: 1.0}
	engine := NewEngine(provider, flatTable(t), dome, dome, coordinates.Observer{}, testAdaptiveConfig(), DefaultTrackingLimits(), astro.Object{Name: "Vega"}, 0.1)

	report, err := engine.Step(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if !report.Corrected {
		t.Error("expected a correction for a 10 degree error")
	}
	if report.Mode != ModeNormal {
		t.Errorf("expected NORMAL mode, got %v", report.Mode)
	}
}

func TestEngineStepSkipsWithinThreshold(t *testing.T) {
	provider := &fixedProvider{azDeg: 90.1, altDeg: 40}
	dome := &fakeDome{angleDeg: 90, gain: 1.0}
	engine := NewEngine(provider, flatTable(t), dome, dome, coordinates.Observer{}, testAdaptiveConfig(), DefaultTrackingLimits(), astro.Object{Name: "Vega"}, 0.1)

	report, err := engine.Step(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if report.Corrected {
		t.Error("expected no correction within threshold")
	}
}

func TestEngineStepRejectsBelowHorizonLimit(t *testing.T) {
	provider := &fixedProvider{azDeg: 90, altDeg: 2}
	dome := &fakeDome{angleDeg: 90, gain: 1.0}
	engine := NewEngine(provider, flatTable(t), dome, dome, coordinates.Observer{}, testAdaptiveConfig(), DefaultTrackingLimits(), astro.Object{Name: "Vega"}, 0.1)

	_, err := engine.Step(context.Background(), time.Now())
	var tf *errs.TrackingFault
	if !errors.As(err, &tf) {
		t.Fatalf("expected TrackingFault for below-horizon target, got %v", err)
	}
}

func TestEngineStepRetriesTransientAstroFailureThenFails(t *testing.T) {
	provider := &fixedProvider{err: errors.New("astro provider unreachable")}
	dome := &fakeDome{angleDeg: 90, gain: 1.0}
	engine := NewEngine(provider, flatTable(t), dome, dome, coordinates.Observer{}, testAdaptiveConfig(), DefaultTrackingLimits(), astro.Object{Name: "Vega"}, 0.1)

	_, err := engine.Step(context.Background(), time.Now())
	var tf *errs.TrackingFault
	if !errors.As(err, &tf) {
		t.Fatalf("expected TrackingFault after exhausting retries, got %v", err)
	}
}

func TestEngineStepEscalatesAfterRepeatedStagnation(t *testing.T) {
	// A 10 degree pending error stays under the feedback controller's
	// protection threshold, but gain 0.0 means every correction fails to
	// make progress: the inner Converge call should exhaust its own
	// stagnation budget and surface ErrStagnated within a single Step.
	provider := &fixedProvider{azDeg: 100, altDeg: 40}
	dome := &fakeDome{angleDeg: 90, gain: 0.0}
	engine := NewEngine(provider, flatTable(t), dome, dome, coordinates.Observer{}, testAdaptiveConfig(), DefaultTrackingLimits(), astro.Object{Name: "Vega"}, 0.1)

	_, err := engine.Step(context.Background(), time.Now())
	if !errors.Is(err, errs.ErrStagnated) {
		t.Fatalf("expected ErrStagnated after repeated stagnation, got %v", err)
	}
}
